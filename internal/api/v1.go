package api

import "encoding/json"

// ProtocolVersion is the daemon protocol version this client speaks.
const ProtocolVersion = 1

const (
	MethodGetHealth        = "get_health"
	MethodGetShellState    = "get_shell_state"
	MethodGetSessions      = "get_sessions"
	MethodGetProjectStates = "get_project_states"
)

type Request struct {
	ProtocolVersion int             `json:"protocol_version"`
	Method          string          `json:"method"`
	ID              string          `json:"id"`
	Params          json.RawMessage `json:"params"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Response struct {
	OK    bool            `json:"ok"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data"`
	Error *APIError       `json:"error,omitempty"`
}

type HealthData struct {
	Status          string `json:"status"`
	PID             int    `json:"pid"`
	Version         string `json:"version"`
	ProtocolVersion int    `json:"protocol_version"`
}

type ShellRecord struct {
	CWD           string    `json:"cwd"`
	TTY           string    `json:"tty"`
	ParentApp     *string   `json:"parent_app,omitempty"`
	TmuxSession   *string   `json:"tmux_session,omitempty"`
	TmuxClientTTY *string   `json:"tmux_client_tty,omitempty"`
	UpdatedAt     Timestamp `json:"updated_at"`
	IsAlive       *bool     `json:"is_alive,omitempty"`
}

// ShellStateData is keyed by pid rendered as a decimal string.
type ShellStateData struct {
	Version int                    `json:"version"`
	Shells  map[string]ShellRecord `json:"shells"`
}

type SessionRecord struct {
	SessionID      string      `json:"session_id"`
	ProjectPath    string      `json:"project_path"`
	State          DaemonState `json:"state"`
	UpdatedAt      Timestamp   `json:"updated_at"`
	StateChangedAt Timestamp   `json:"state_changed_at"`
	PID            *int        `json:"pid,omitempty"`
}

type SessionsData struct {
	Sessions []SessionRecord `json:"sessions"`
}

type ProjectStateRecord struct {
	ProjectPath    string      `json:"project_path"`
	State          DaemonState `json:"state"`
	UpdatedAt      Timestamp   `json:"updated_at"`
	StateChangedAt Timestamp   `json:"state_changed_at"`
	SessionID      *string     `json:"session_id,omitempty"`
	SessionCount   int         `json:"session_count"`
	ActiveCount    int         `json:"active_count"`
	HasSession     bool        `json:"has_session"`
}

type ProjectStatesData struct {
	Projects []ProjectStateRecord `json:"projects"`
}
