package ipc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const DefaultMaxLine = 4 << 20 // 4 MiB

var (
	ErrLineTooLarge = errors.New("ipc: line too large")
	ErrEmptyLine    = errors.New("ipc: empty line")
	ErrInvalidFrame = errors.New("ipc: invalid frame")
)

// WriteLine encodes v as one JSON document terminated by '\n'.
func WriteLine(w io.Writer, v any, maxSize int) error {
	limit := maxSize
	if limit <= 0 {
		limit = DefaultMaxLine
	}
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if len(body) > limit {
		return ErrLineTooLarge
	}
	body = append(body, '\n')
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadLine reads one '\n'-terminated frame of at most maxSize bytes
// (excluding the terminator). A final frame without a terminator is
// accepted when the peer closes the stream; a stream closed before any byte
// arrives yields ErrEmptyLine.
func ReadLine(r *bufio.Reader, maxSize int) ([]byte, error) {
	limit := maxSize
	if limit <= 0 {
		limit = DefaultMaxLine
	}
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(buf)+len(chunk) > limit+1 {
			return nil, ErrLineTooLarge
		}
		buf = append(buf, chunk...)
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			// A peer that closes without writing sent an empty frame.
			break
		}
		return nil, fmt.Errorf("read frame: %w", err)
	}
	line := bytes.TrimSpace(buf)
	if len(line) == 0 {
		return nil, ErrEmptyLine
	}
	if len(line) > limit {
		return nil, ErrLineTooLarge
	}
	return line, nil
}

// Decode unmarshals one frame into dst.
func Decode(line []byte, dst any) error {
	if len(bytes.TrimSpace(line)) == 0 {
		return ErrEmptyLine
	}
	if err := json.Unmarshal(line, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return nil
}
