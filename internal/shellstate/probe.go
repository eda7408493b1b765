// Package shellstate loads shell snapshots and filters them to live processes.
package shellstate

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/g960059/agthud/internal/model"
)

// LivenessProbe reports whether pid still names a running process.
type LivenessProbe interface {
	Alive(pid int) bool
}

// SignalProbe sends signal 0. EPERM means the process exists but belongs to
// someone else.
type SignalProbe struct{}

func (SignalProbe) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// ProbeFunc adapts a function to LivenessProbe.
type ProbeFunc func(pid int) bool

func (f ProbeFunc) Alive(pid int) bool { return f(pid) }

// Live keeps the shells that are still running. A liveness flag reported by
// the daemon is trusted; otherwise probe decides.
func Live(shells []model.ShellEntry, probe LivenessProbe) []model.ShellEntry {
	if probe == nil {
		probe = SignalProbe{}
	}
	out := make([]model.ShellEntry, 0, len(shells))
	for _, s := range shells {
		if s.Alive != nil {
			if *s.Alive {
				out = append(out, s)
			}
			continue
		}
		if probe.Alive(s.PID) {
			out = append(out, s)
		}
	}
	return out
}
