package activation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/g960059/agthud/internal/logging"
	"github.com/g960059/agthud/internal/model"
	"github.com/g960059/agthud/internal/strategy"
)

var (
	ErrCapabilityMissing = errors.New("activation: capability not available")
	ErrNoSession         = errors.New("activation: no multiplexer session for target")
	ErrNoApp             = errors.New("activation: no application for target")
	ErrNoClient          = errors.New("activation: no attached multiplexer client")
	ErrUnknownStrategy   = errors.New("activation: unknown strategy")
)

// step is one capability call; ok is its success predicate folded into the
// return value.
type step struct {
	name string
	run  func(ctx context.Context) (bool, error)
}

// Attempt records one step outcome.
type Attempt struct {
	Strategy model.Strategy
	Step     string
	OK       bool
	Err      error
}

// Result is the outcome of one activation.
type Result struct {
	Succeeded bool
	// Strategy is the strategy that succeeded, if any.
	Strategy model.Strategy
	Attempts []Attempt
}

type Options struct {
	TerminalPriority []string
	DefaultTerminal  string
}

type Executor struct {
	caps   Capabilities
	opts   Options
	logger *slog.Logger
}

func NewExecutor(caps Capabilities, opts Options, logger *slog.Logger) *Executor {
	if opts.DefaultTerminal == "" {
		opts.DefaultTerminal = "Terminal"
	}
	return &Executor{caps: caps, opts: opts, logger: logging.OrDiscard(logger)}
}

// Execute runs the primary strategy and, when it fails, the fallback.
// Timeouts and errors count as failure.
func (e *Executor) Execute(ctx context.Context, b model.ScenarioBehavior, t Target) Result {
	var res Result
	plan := []model.Strategy{b.Primary}
	if b.Fallback != nil {
		plan = append(plan, *b.Fallback)
	}
	for _, s := range plan {
		ok := e.runStrategy(ctx, s, t, &res)
		e.logger.Info("activation strategy", "strategy", s, "project", t.Project.Path, "succeeded", ok)
		if ok {
			res.Succeeded = true
			res.Strategy = s
			return res
		}
		if ctx.Err() != nil {
			break
		}
	}
	return res
}

func (e *Executor) runStrategy(ctx context.Context, s model.Strategy, t Target, res *Result) bool {
	if s == model.StrategyHostThenSwitch {
		return e.hostThenSwitch(ctx, t, res)
	}
	steps, err := e.steps(s, t)
	if err != nil {
		res.Attempts = append(res.Attempts, Attempt{Strategy: s, Step: string(s), Err: err})
		return false
	}
	if !firstSuccess(ctx, s, steps, res) {
		return false
	}
	// Host focus alone leaves a multiplexed shell on whatever session the
	// client last showed.
	if t.Session != "" && focusesHost(s) && e.caps.Mux != nil {
		e.record(ctx, s, res, step{name: "switch_client", run: e.switchTo("", t.Session)})
	}
	return true
}

// firstSuccess runs steps in order until one succeeds.
func firstSuccess(ctx context.Context, s model.Strategy, steps []step, res *Result) bool {
	for _, st := range steps {
		if ctx.Err() != nil {
			res.Attempts = append(res.Attempts, Attempt{Strategy: s, Step: st.name, Err: ctx.Err()})
			return false
		}
		ok, err := st.run(ctx)
		res.Attempts = append(res.Attempts, Attempt{Strategy: s, Step: st.name, OK: ok && err == nil, Err: err})
		if ok && err == nil {
			return true
		}
	}
	return false
}

func (e *Executor) record(ctx context.Context, s model.Strategy, res *Result, st step) bool {
	ok, err := st.run(ctx)
	ok = ok && err == nil
	res.Attempts = append(res.Attempts, Attempt{Strategy: s, Step: st.name, OK: ok, Err: err})
	return ok
}

func focusesHost(s model.Strategy) bool {
	switch s {
	case model.StrategyTTYLookup, model.StrategyActivateApp, model.StrategyMuxNativeFocus, model.StrategyIDEWindow, model.StrategyPriorityFallback:
		return true
	default:
		return false
	}
}

func (e *Executor) steps(s model.Strategy, t Target) ([]step, error) {
	c := e.caps
	switch s {
	case model.StrategySkip:
		return []step{{name: "skip", run: func(context.Context) (bool, error) { return true, nil }}}, nil
	case model.StrategyTTYLookup:
		if c.TTY == nil {
			return nil, ErrCapabilityMissing
		}
		if t.TTY == "" {
			return nil, fmt.Errorf("%w: tty", ErrNoApp)
		}
		return []step{{name: "focus_tty", run: func(ctx context.Context) (bool, error) {
			return c.TTY.FocusTTY(ctx, t.App, t.TTY)
		}}}, nil
	case model.StrategyActivateApp:
		if c.Apps == nil {
			return nil, ErrCapabilityMissing
		}
		if !isGUIApp(t.App) {
			return nil, ErrNoApp
		}
		return []step{{name: "activate_app", run: e.activate(t.App)}}, nil
	case model.StrategyMuxNativeFocus:
		if c.Remote == nil {
			return nil, ErrCapabilityMissing
		}
		return []step{{name: "remote_focus", run: func(ctx context.Context) (bool, error) {
			return c.Remote.FocusRemote(ctx, t.App, t)
		}}}, nil
	case model.StrategyIDEWindow:
		if c.IDE == nil {
			return nil, ErrCapabilityMissing
		}
		return []step{{name: "ide_focus", run: func(ctx context.Context) (bool, error) {
			return c.IDE.FocusIDE(ctx, t.App, t.Project.Path)
		}}}, nil
	case model.StrategySessionSwitch:
		if c.Mux == nil {
			return nil, ErrCapabilityMissing
		}
		if t.Session == "" {
			return nil, ErrNoSession
		}
		return []step{{name: "switch_client", run: e.switchAttached(t.Session)}}, nil
	case model.StrategyLaunchNew:
		if c.Launcher == nil {
			return nil, ErrCapabilityMissing
		}
		return []step{{name: "launch", run: e.launch(e.launchApp(t), t)}}, nil
	case model.StrategyPriorityFallback:
		if c.Apps == nil {
			return nil, ErrCapabilityMissing
		}
		steps := make([]step, 0, len(e.opts.TerminalPriority))
		for _, app := range e.opts.TerminalPriority {
			steps = append(steps, step{name: "priority:" + app, run: e.activateIfRunning(app)})
		}
		return steps, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

// hostThenSwitch focuses the terminal hosting the current multiplexer client
// and then switches that client to the target session.
func (e *Executor) hostThenSwitch(ctx context.Context, t Target, res *Result) bool {
	const s = model.StrategyHostThenSwitch
	fail := func(err error) bool {
		res.Attempts = append(res.Attempts, Attempt{Strategy: s, Step: string(s), Err: err})
		return false
	}
	mux := e.caps.Mux
	if mux == nil {
		return fail(ErrCapabilityMissing)
	}
	if t.Session == "" {
		return fail(ErrNoSession)
	}

	clients, err := mux.ListClients(ctx, "")
	res.Attempts = append(res.Attempts, Attempt{Strategy: s, Step: "list_clients", OK: err == nil, Err: err})
	if err != nil {
		return false
	}
	if len(clients) == 0 {
		if e.caps.Launcher == nil {
			return fail(ErrCapabilityMissing)
		}
		if !e.record(ctx, s, res, step{name: "ensure_session", run: e.ensureSession(t)}) {
			return false
		}
		return e.record(ctx, s, res, step{name: "cold_launch", run: e.launch(e.launchApp(t), t)})
	}

	clientTTY, err := mux.CurrentClientTTY(ctx)
	clientTTY = strings.TrimSpace(clientTTY)
	res.Attempts = append(res.Attempts, Attempt{Strategy: s, Step: "current_client", OK: err == nil && clientTTY != "", Err: err})
	if err != nil || clientTTY == "" {
		clientTTY = clients[0].TTY
	}

	host := hostApp(t)
	focused := false
	if e.caps.TTY != nil && clientTTY != "" {
		focused = e.record(ctx, s, res, step{name: "focus_host_tty", run: func(ctx context.Context) (bool, error) {
			return e.caps.TTY.FocusTTY(ctx, host, clientTTY)
		}})
	}
	if !focused && e.caps.Apps != nil && windowCounted(host) {
		e.record(ctx, s, res, step{name: "window_heuristic", run: e.windowHeuristic(host, t)})
	}

	return e.record(ctx, s, res, step{name: "switch_client", run: e.switchTo(clientTTY, t.Session)})
}

// windowHeuristic cold-launches when the host has no windows and otherwise
// just raises the app.
func (e *Executor) windowHeuristic(app string, t Target) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		running, err := e.caps.Apps.IsRunning(ctx, app)
		if err != nil || !running {
			return false, err
		}
		n, err := e.caps.Apps.WindowCount(ctx, app)
		if err != nil {
			return false, err
		}
		if n == 0 {
			if e.caps.Launcher == nil {
				return false, ErrCapabilityMissing
			}
			return true, e.caps.Launcher.Launch(ctx, app, t.Dir(), t.Session)
		}
		return true, e.caps.Apps.ActivateApp(ctx, app)
	}
}

func (e *Executor) ensureSession(t Target) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		ok, err := e.caps.Mux.HasSession(ctx, t.Session)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		return true, e.caps.Mux.NewSession(ctx, t.Session, t.Dir())
	}
}

func (e *Executor) switchTo(clientTTY, session string) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		return true, e.caps.Mux.SwitchClient(ctx, clientTTY, session)
	}
}

// switchAttached switches the current client, failing when none is attached.
func (e *Executor) switchAttached(session string) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		clients, err := e.caps.Mux.ListClients(ctx, "")
		if err != nil {
			return false, err
		}
		if len(clients) == 0 {
			return false, ErrNoClient
		}
		tty, err := e.caps.Mux.CurrentClientTTY(ctx)
		if err != nil || strings.TrimSpace(tty) == "" {
			tty = clients[0].TTY
		}
		return true, e.caps.Mux.SwitchClient(ctx, strings.TrimSpace(tty), session)
	}
}

func (e *Executor) activate(app string) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		return true, e.caps.Apps.ActivateApp(ctx, app)
	}
}

func (e *Executor) activateIfRunning(app string) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		running, err := e.caps.Apps.IsRunning(ctx, app)
		if err != nil || !running {
			return false, err
		}
		return true, e.caps.Apps.ActivateApp(ctx, app)
	}
}

func (e *Executor) launch(app string, t Target) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		return true, e.caps.Launcher.Launch(ctx, app, t.Dir(), t.Session)
	}
}

func (e *Executor) launchApp(t Target) string {
	if host := hostApp(t); isGUIApp(host) && strategy.Categorize(host) != model.CategoryIDE {
		return host
	}
	return e.opts.DefaultTerminal
}

func hostApp(t Target) string {
	return strings.TrimSpace(t.App)
}

// windowCounted reports whether host is a terminal without a per-window tty
// lookup, where the window count is the only signal available.
func windowCounted(host string) bool {
	switch strategy.Categorize(host) {
	case model.CategoryOtherTerminal, model.CategoryRemoteTerminal:
		return true
	default:
		return false
	}
}

func isGUIApp(app string) bool {
	app = strings.ToLower(strings.TrimSpace(app))
	return app != "" && app != "tmux"
}
