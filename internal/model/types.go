package model

import (
	"strings"
	"time"
)

// SessionState is the canonical agent session state used by the engine.
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateReady      SessionState = "ready"
	StateWorking    SessionState = "working"
	StateWaiting    SessionState = "waiting"
	StateCompacting SessionState = "compacting"
)

// ParseSessionState maps a state string case-insensitively. Unrecognized
// values map to StateIdle with ok=false.
func ParseSessionState(raw string) (SessionState, bool) {
	switch s := SessionState(strings.ToLower(strings.TrimSpace(raw))); s {
	case StateIdle, StateReady, StateWorking, StateWaiting, StateCompacting:
		return s, true
	default:
		return StateIdle, false
	}
}

// IsActive reports whether the agent is actively processing.
func (s SessionState) IsActive() bool {
	switch s {
	case StateWorking, StateWaiting, StateCompacting:
		return true
	default:
		return false
	}
}

// PinnedProject is a project path the user explicitly tracks.
type PinnedProject struct {
	Name    string
	Path    string
	AddedAt time.Time
}

// Depth is the number of path segments, used as a specificity tie-break.
func (p PinnedProject) Depth() int {
	trimmed := strings.Trim(p.Path, "/")
	if trimmed == "" {
		return 0
	}
	return strings.Count(trimmed, "/") + 1
}

// DaemonProjectState is one daemon-reported project fact. Timestamps are
// best-effort and nil when absent or malformed.
type DaemonProjectState struct {
	ProjectPath    string
	State          SessionState
	RawState       string
	Recognized     bool
	UpdatedAt      *time.Time
	StateChangedAt *time.Time
	SessionID      string
	SessionCount   int
	ActiveCount    int
	HasSession     bool
}

// RecencyKey returns updated_at, then state_changed_at, then the zero time
// which sorts as oldest possible.
func (d DaemonProjectState) RecencyKey() time.Time {
	if d.UpdatedAt != nil {
		return *d.UpdatedAt
	}
	if d.StateChangedAt != nil {
		return *d.StateChangedAt
	}
	return time.Time{}
}

// ReconciledSessionState is the best daemon entry matched to a pinned project.
type ReconciledSessionState struct {
	ProjectPath string
	State       SessionState
	Source      DaemonProjectState
}

// SessionID returns the matched session id or "".
func (r ReconciledSessionState) SessionID() string {
	return r.Source.SessionID
}

// ShellEntry is one shell from the shell snapshot.
type ShellEntry struct {
	PID           int
	CWD           string
	TTY           string
	ParentApp     string
	TmuxSession   string
	TmuxClientTTY string
	UpdatedAt     *time.Time
	Alive         *bool
}

// RecencyKey returns updated_at or the zero time.
func (s ShellEntry) RecencyKey() time.Time {
	if s.UpdatedAt != nil {
		return *s.UpdatedAt
	}
	return time.Time{}
}

// InMultiplexer reports whether the shell runs inside a tmux session.
func (s ShellEntry) InMultiplexer() bool {
	return strings.TrimSpace(s.TmuxSession) != ""
}

type ActiveSourceKind string

const (
	ActiveSourceNone           ActiveSourceKind = "none"
	ActiveSourceManualOverride ActiveSourceKind = "manual_override"
	ActiveSourceAgentSession   ActiveSourceKind = "agent_session"
	ActiveSourceShellCWD       ActiveSourceKind = "shell_cwd"
)

// ActiveSource says why a project was chosen as active.
type ActiveSource struct {
	Kind      ActiveSourceKind
	SessionID string
	PID       int
	App       string
}

// ActiveProjectResolution is the transient result of one resolution pass.
type ActiveProjectResolution struct {
	Project *PinnedProject
	Source  ActiveSource
}

// Error codes shared by the daemon client and the CLI.
const (
	ErrDaemonUnavailable = "E_DAEMON_UNAVAILABLE"
	ErrDaemonDisabled    = "E_DAEMON_DISABLED"
	ErrProtocol          = "E_PROTOCOL"
	ErrTimeout           = "E_TIMEOUT"
	ErrProjectNotPinned  = "E_PROJECT_NOT_PINNED"
	ErrActivationFailed  = "E_ACTIVATION_FAILED"
)
