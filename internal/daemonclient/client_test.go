package daemonclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/g960059/agthud/internal/api"
	"github.com/g960059/agthud/internal/config"
	"github.com/g960059/agthud/internal/ipc"
)

// hangUp makes the fake daemon close the connection without writing.
const hangUp = "\x00hang-up"

// fakeDaemon serves one reply per connection. reply returns the raw line to
// write back, "" to hang until the client gives up, or hangUp.
type fakeDaemon struct {
	socket string
	calls  atomic.Int32
}

func startFakeDaemon(t *testing.T, reply func(req api.Request) string) *fakeDaemon {
	t.Helper()
	dir, err := os.MkdirTemp("", "agthud-ipc")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	socket := filepath.Join(dir, "d.sock")
	ln, err := net.Listen("unix", socket)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	fd := &fakeDaemon{socket: socket}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			fd.calls.Add(1)
			go func(conn net.Conn) {
				defer conn.Close() //nolint:errcheck
				line, err := ipc.ReadLine(bufio.NewReader(conn), 0)
				if err != nil {
					return
				}
				var req api.Request
				if err := json.Unmarshal(line, &req); err != nil {
					return
				}
				out := reply(req)
				if out == hangUp {
					return
				}
				if out == "" {
					time.Sleep(2 * time.Second)
					return
				}
				_, _ = conn.Write([]byte(out + "\n"))
			}(conn)
		}
	}()
	return fd
}

// okReply frames data as a single-line success response.
func okReply(req api.Request, data string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(data)); err == nil {
		data = buf.String()
	}
	return fmt.Sprintf(`{"ok":true,"id":%q,"data":%s}`, req.ID, data)
}

func TestHealthRoundTrip(t *testing.T) {
	var seen api.Request
	fd := startFakeDaemon(t, func(req api.Request) string {
		seen = req
		return okReply(req, `{"status":"ok","pid":4242,"version":"0.3.1","protocol_version":1}`)
	})
	client := NewWithSocket(fd.socket)

	health, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.Status != "ok" || health.PID != 4242 || health.ProtocolVersion != 1 {
		t.Fatalf("unexpected health: %+v", health)
	}
	if seen.Method != api.MethodGetHealth || seen.ProtocolVersion != api.ProtocolVersion || seen.ID == "" {
		t.Fatalf("unexpected request: %+v", seen)
	}
	if string(seen.Params) != "null" {
		t.Fatalf("expected null params, got %s", seen.Params)
	}
}

func TestProjectStatesDecodeAndConvert(t *testing.T) {
	fd := startFakeDaemon(t, func(req api.Request) string {
		return okReply(req, `{"projects":[
			{"project_path":"/repo","state":"Working","updated_at":"2026-02-13T10:00:00.123+09:00","session_id":"s1","session_count":1,"active_count":1,"has_session":true},
			{"project_path":"/other","state":"dreaming","updated_at":"garbage","state_changed_at":"2026-02-13T00:00:00Z"},
			{"project_path":"","state":"idle"}
		]}`)
	})
	client := NewWithSocket(fd.socket)
	data, err := client.ProjectStates(context.Background())
	if err != nil {
		t.Fatalf("project states: %v", err)
	}
	states := ProjectStates(data)
	if len(states) != 2 {
		t.Fatalf("expected 2 states (empty path dropped), got %d", len(states))
	}
	if states[0].State != "working" || !states[0].Recognized || states[0].SessionID != "s1" {
		t.Fatalf("unexpected first state: %+v", states[0])
	}
	if states[0].UpdatedAt == nil || states[0].UpdatedAt.Hour() != 1 {
		t.Fatalf("expected UTC-normalized timestamp, got %v", states[0].UpdatedAt)
	}
	if states[1].State != "idle" || states[1].Recognized || states[1].RawState != "dreaming" {
		t.Fatalf("unrecognized state should map to idle, got %+v", states[1])
	}
	if states[1].UpdatedAt != nil || states[1].StateChangedAt == nil {
		t.Fatalf("expected malformed updated_at dropped, got %+v", states[1])
	}
}

func TestShellStateConvert(t *testing.T) {
	fd := startFakeDaemon(t, func(req api.Request) string {
		return okReply(req, `{"version":1,"shells":{
			"200":{"cwd":"/repo","tty":"/dev/ttys002","tmux_session":"proj","updated_at":"2026-02-13T10:00:00Z"},
			"100":{"cwd":"/tmp","tty":"/dev/ttys001","parent_app":"iTerm2","updated_at":"2026-02-13T09:00:00Z","is_alive":false},
			"abc":{"cwd":"/x","tty":"/dev/ttys009"}
		}}`)
	})
	client := NewWithSocket(fd.socket)
	data, err := client.ShellState(context.Background())
	if err != nil {
		t.Fatalf("shell state: %v", err)
	}
	shells := ShellEntries(data)
	if len(shells) != 2 {
		t.Fatalf("expected 2 shells, got %d", len(shells))
	}
	if shells[0].PID != 100 || shells[0].ParentApp != "iTerm2" || shells[0].Alive == nil || *shells[0].Alive {
		t.Fatalf("unexpected first shell: %+v", shells[0])
	}
	if shells[1].TmuxSession != "proj" || !shells[1].InMultiplexer() {
		t.Fatalf("unexpected second shell: %+v", shells[1])
	}
}

func TestCallReturnsRequestError(t *testing.T) {
	fd := startFakeDaemon(t, func(req api.Request) string {
		return fmt.Sprintf(`{"ok":false,"id":%q,"data":null,"error":{"code":"busy","message":"indexing"}}`, req.ID)
	})
	client := NewWithSocket(fd.socket)
	_, err := client.Sessions(context.Background())
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.Method != api.MethodGetSessions || reqErr.Code != "busy" || !reqErr.Retryable() {
		t.Fatalf("unexpected request error: %+v", reqErr)
	}
	if IsTransport(err) {
		t.Fatalf("explicit daemon error is not a transport failure")
	}
}

func TestCallRejectsMismatchedID(t *testing.T) {
	fd := startFakeDaemon(t, func(req api.Request) string {
		return `{"ok":true,"id":"someone-else","data":{}}`
	})
	_, err := NewWithSocket(fd.socket).Health(context.Background())
	if !errors.Is(err, ErrIDMismatch) {
		t.Fatalf("expected ErrIDMismatch, got %v", err)
	}
}

func TestCallProtocolFailures(t *testing.T) {
	cases := map[string]struct {
		reply string
		want  error
	}{
		"malformed":  {reply: `{"ok":tru`, want: ErrProtocol},
		"null data":  {reply: `{"ok":true,"data":null}`, want: ErrEmptyResponse},
		"empty line": {reply: " ", want: ErrEmptyResponse},
		"hang up":    {reply: hangUp, want: ErrEmptyResponse},
		"bad shape":  {reply: `{"ok":true,"data":{"status":42}}`, want: ErrProtocol},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			fd := startFakeDaemon(t, func(api.Request) string { return tc.reply })
			_, err := NewWithSocket(fd.socket).Health(context.Background())
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if IsTransport(err) {
				t.Fatalf("protocol failure misclassified as transport: %v", err)
			}
		})
	}
}

func TestCallRespectsMaxBytes(t *testing.T) {
	fd := startFakeDaemon(t, func(req api.Request) string {
		return okReply(req, `{"status":"`+strings.Repeat("x", 4096)+`"}`)
	})
	_, err := NewWithSocket(fd.socket).WithMaxBytes(1024).Health(context.Background())
	if !errors.Is(err, ipc.ErrLineTooLarge) {
		t.Fatalf("expected ErrLineTooLarge, got %v", err)
	}
}

func TestCallTimesOut(t *testing.T) {
	fd := startFakeDaemon(t, func(api.Request) string { return "" })
	client := NewWithSocket(fd.socket).WithTimeout(100 * time.Millisecond)
	start := time.Now()
	_, err := client.Health(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not enforced, took %s", time.Since(start))
	}
	if !IsTransport(err) {
		t.Fatalf("timeout should count as transport failure")
	}
}

func TestCallCanceledContext(t *testing.T) {
	fd := startFakeDaemon(t, func(api.Request) string { return "" })
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := NewWithSocket(fd.socket).WithTimeout(time.Second).Health(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestCallUnavailableSocket(t *testing.T) {
	dir, err := os.MkdirTemp("", "agthud-ipc")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	defer os.RemoveAll(dir) //nolint:errcheck
	_, err = NewWithSocket(filepath.Join(dir, "missing.sock")).Health(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestDisabledClient(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DaemonEnabled = false
	_, err := New(cfg, nil).Health(context.Background())
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}
