package shellstate

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/g960059/agthud/internal/api"
	"github.com/g960059/agthud/internal/daemonclient"
	"github.com/g960059/agthud/internal/model"
)

// maxSnapshotBytes bounds how much of a snapshot file is read.
const maxSnapshotBytes = 8 << 20

// ReadSnapshot decodes a shell snapshot file in the daemon payload format.
func ReadSnapshot(path string) ([]model.ShellEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat shell snapshot: %w", err)
	}
	if st.Size() > maxSnapshotBytes {
		return nil, fmt.Errorf("shell snapshot %s exceeds %d bytes", path, maxSnapshotBytes)
	}
	var data api.ShellStateData
	if err := json.NewDecoder(f).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode shell snapshot %s: %w", path, err)
	}
	return daemonclient.ShellEntries(data), nil
}
