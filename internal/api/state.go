package api

import (
	"encoding/json"
	"strings"
)

type DaemonStateKind string

const (
	DaemonStateIdle       DaemonStateKind = "idle"
	DaemonStateReady      DaemonStateKind = "ready"
	DaemonStateWorking    DaemonStateKind = "working"
	DaemonStateWaiting    DaemonStateKind = "waiting"
	DaemonStateCompacting DaemonStateKind = "compacting"
	DaemonStateUnknown    DaemonStateKind = "unknown"
)

// DaemonState is the closed variant decoded from the daemon's state string.
// Unrecognized strings decode to DaemonStateUnknown and keep Raw for logging.
type DaemonState struct {
	Kind DaemonStateKind
	Raw  string
}

func ParseDaemonState(raw string) DaemonState {
	switch kind := DaemonStateKind(strings.ToLower(strings.TrimSpace(raw))); kind {
	case DaemonStateIdle, DaemonStateReady, DaemonStateWorking, DaemonStateWaiting, DaemonStateCompacting:
		return DaemonState{Kind: kind, Raw: raw}
	default:
		return DaemonState{Kind: DaemonStateUnknown, Raw: raw}
	}
}

func (s *DaemonState) UnmarshalJSON(b []byte) error {
	var raw *string
	if err := json.Unmarshal(b, &raw); err != nil {
		*s = DaemonState{Kind: DaemonStateUnknown, Raw: string(b)}
		return nil
	}
	if raw == nil {
		*s = DaemonState{Kind: DaemonStateUnknown}
		return nil
	}
	*s = ParseDaemonState(*raw)
	return nil
}

func (s DaemonState) MarshalJSON() ([]byte, error) {
	if s.Raw != "" {
		return json.Marshal(s.Raw)
	}
	return json.Marshal(string(s.Kind))
}
