// Package activation executes activation strategies against OS and
// multiplexer capabilities supplied by the caller.
package activation

import "context"

// TTYFocuser brings the terminal tab owning tty to the foreground. app
// narrows the search; empty means every tty-queryable terminal. A missing
// tab is reported as (false, nil).
type TTYFocuser interface {
	FocusTTY(ctx context.Context, app, tty string) (bool, error)
}

type AppActivator interface {
	ActivateApp(ctx context.Context, app string) error
	IsRunning(ctx context.Context, app string) (bool, error)
	WindowCount(ctx context.Context, app string) (int, error)
}

// Client is one attached multiplexer client.
type Client struct {
	TTY     string
	Session string
}

// Window is one multiplexer window with its active pane's path.
type Window struct {
	Session  string
	Index    int
	Name     string
	PanePath string
	Active   bool
}

type Multiplexer interface {
	ListWindows(ctx context.Context) ([]Window, error)
	// ListClients lists attached clients; an empty session means all.
	ListClients(ctx context.Context, session string) ([]Client, error)
	CurrentClientTTY(ctx context.Context) (string, error)
	// SwitchClient moves clientTTY to session; an empty clientTTY targets
	// the most recently active client.
	SwitchClient(ctx context.Context, clientTTY, session string) error
	HasSession(ctx context.Context, session string) (bool, error)
	NewSession(ctx context.Context, session, dir string) error
}

// RemoteFocuser focuses a window through a terminal's remote-control API.
type RemoteFocuser interface {
	FocusRemote(ctx context.Context, app string, t Target) (bool, error)
}

type IDEFocuser interface {
	FocusIDE(ctx context.Context, app, dir string) (bool, error)
}

// Launcher opens a new terminal window in dir, attached to session when it
// is non-empty.
type Launcher interface {
	Launch(ctx context.Context, app, dir, session string) error
}

// Capabilities is the set of primitives the executor may call. Any of them
// may be nil; a strategy needing a missing capability fails.
type Capabilities struct {
	TTY      TTYFocuser
	Apps     AppActivator
	Mux      Multiplexer
	Remote   RemoteFocuser
	IDE      IDEFocuser
	Launcher Launcher
}
