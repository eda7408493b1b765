package daemonclient

import (
	"sort"
	"strconv"
	"strings"

	"github.com/g960059/agthud/internal/api"
	"github.com/g960059/agthud/internal/model"
)

// ProjectStates converts a get_project_states payload into engine values.
func ProjectStates(data api.ProjectStatesData) []model.DaemonProjectState {
	out := make([]model.DaemonProjectState, 0, len(data.Projects))
	for _, rec := range data.Projects {
		path := strings.TrimSpace(rec.ProjectPath)
		if path == "" {
			continue
		}
		state, recognized := model.ParseSessionState(string(rec.State.Kind))
		entry := model.DaemonProjectState{
			ProjectPath:    path,
			State:          state,
			RawState:       rec.State.Raw,
			Recognized:     recognized,
			UpdatedAt:      rec.UpdatedAt.Ptr(),
			StateChangedAt: rec.StateChangedAt.Ptr(),
			SessionCount:   rec.SessionCount,
			ActiveCount:    rec.ActiveCount,
			HasSession:     rec.HasSession,
		}
		if rec.SessionID != nil {
			entry.SessionID = strings.TrimSpace(*rec.SessionID)
		}
		out = append(out, entry)
	}
	return out
}

// SessionProjectStates folds a get_sessions payload into one entry per
// session, for daemons that do not aggregate per project.
func SessionProjectStates(data api.SessionsData) []model.DaemonProjectState {
	out := make([]model.DaemonProjectState, 0, len(data.Sessions))
	for _, rec := range data.Sessions {
		path := strings.TrimSpace(rec.ProjectPath)
		if path == "" {
			continue
		}
		state, recognized := model.ParseSessionState(string(rec.State.Kind))
		active := 0
		if state.IsActive() {
			active = 1
		}
		out = append(out, model.DaemonProjectState{
			ProjectPath:    path,
			State:          state,
			RawState:       rec.State.Raw,
			Recognized:     recognized,
			UpdatedAt:      rec.UpdatedAt.Ptr(),
			StateChangedAt: rec.StateChangedAt.Ptr(),
			SessionID:      strings.TrimSpace(rec.SessionID),
			SessionCount:   1,
			ActiveCount:    active,
			HasSession:     strings.TrimSpace(rec.SessionID) != "",
		})
	}
	return out
}

// ShellEntries converts a shell snapshot, ordered by pid. Entries with a
// non-numeric pid key are skipped.
func ShellEntries(data api.ShellStateData) []model.ShellEntry {
	out := make([]model.ShellEntry, 0, len(data.Shells))
	for key, rec := range data.Shells {
		pid, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || pid <= 0 {
			continue
		}
		out = append(out, model.ShellEntry{
			PID:           pid,
			CWD:           strings.TrimSpace(rec.CWD),
			TTY:           strings.TrimSpace(rec.TTY),
			ParentApp:     deref(rec.ParentApp),
			TmuxSession:   deref(rec.TmuxSession),
			TmuxClientTTY: deref(rec.TmuxClientTTY),
			UpdatedAt:     rec.UpdatedAt.Ptr(),
			Alive:         rec.IsAlive,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
