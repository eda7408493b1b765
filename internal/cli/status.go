package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/g960059/agthud/internal/activation"
	"github.com/g960059/agthud/internal/engine"
	"github.com/g960059/agthud/internal/model"
	"github.com/g960059/agthud/internal/strategy"
)

func (r *Runner) healthCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Ping the daemon",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := r.deps.Daemon(r.cfg, r.logger).Health(cmd.Context())
			if err != nil {
				return daemonError(err)
			}
			if jsonOut {
				return r.writeJSON(data)
			}
			_, _ = fmt.Fprintf(r.out, "status=%s pid=%d version=%s protocol=%d\n", data.Status, data.PID, data.Version, data.ProtocolVersion)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

type projectView struct {
	Path      string `json:"path"`
	Name      string `json:"name"`
	State     string `json:"state,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type activeView struct {
	Path      string `json:"path,omitempty"`
	Source    string `json:"source"`
	SessionID string `json:"session_id,omitempty"`
	PID       int    `json:"pid,omitempty"`
}

type statusView struct {
	GeneratedAt string        `json:"generated_at"`
	Daemon      string        `json:"daemon"`
	LastError   string        `json:"last_error,omitempty"`
	Active      activeView    `json:"active"`
	Projects    []projectView `json:"projects"`
	Shells      int           `json:"live_shells"`
}

func buildStatusView(snap *engine.Snapshot) statusView {
	v := statusView{
		GeneratedAt: snap.At.UTC().Format(time.RFC3339),
		Daemon:      string(snap.Daemon),
		LastError:   snap.LastError,
		Active: activeView{
			Source:    string(snap.Active.Source.Kind),
			SessionID: snap.Active.Source.SessionID,
			PID:       snap.Active.Source.PID,
		},
		Projects: make([]projectView, 0, len(snap.Pinned)),
		Shells:   len(snap.Shells),
	}
	if snap.Active.Project != nil {
		v.Active.Path = snap.Active.Project.Path
	}
	for _, p := range snap.Pinned {
		pv := projectView{Path: p.Path, Name: p.Name}
		if st, ok := snap.Sessions[p.Path]; ok {
			pv.State = string(st.State)
			pv.SessionID = st.SessionID()
			if ts := st.Source.RecencyKey(); !ts.IsZero() {
				pv.UpdatedAt = ts.UTC().Format(time.RFC3339Nano)
			}
		}
		v.Projects = append(v.Projects, pv)
	}
	sort.Slice(v.Projects, func(i, j int) bool { return v.Projects[i].Path < v.Projects[j].Path })
	return v
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func (r *Runner) statusCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Reconcile once and print project states and the active project",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			poller, err := r.newPoller(cmd.Context())
			if err != nil {
				return err
			}
			v := buildStatusView(poller.RefreshNow(cmd.Context()))
			if jsonOut {
				return r.writeJSON(v)
			}
			_, _ = fmt.Fprintf(r.out, "daemon\t%s\n", v.Daemon)
			_, _ = fmt.Fprintf(r.out, "active\t%s\t%s\n", dash(v.Active.Path), v.Active.Source)
			for _, p := range v.Projects {
				_, _ = fmt.Fprintf(r.out, "%s\t%s\t%s\t%s\n", p.Path, p.Name, dash(p.State), dash(p.SessionID))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func watchLine(v statusView) string {
	working := 0
	for _, p := range v.Projects {
		if model.SessionState(p.State).IsActive() {
			working++
		}
	}
	return fmt.Sprintf("daemon=%s active=%s source=%s sessions=%d working=%d", v.Daemon, dash(v.Active.Path), v.Active.Source, len(v.Projects), working)
}

func (r *Runner) watchCmd() *cobra.Command {
	var (
		interval time.Duration
		count    int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the poller and print a line whenever the reconciled view changes",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if interval > 0 {
				r.cfg.PollInterval = interval
			}
			poller, err := r.newPoller(cmd.Context())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			done := make(chan error, 1)
			go func() { done <- poller.Run(ctx) }()

			ticker := time.NewTicker(max(r.cfg.PollInterval/2, 10*time.Millisecond))
			defer ticker.Stop()
			var (
				last    string
				printed int
				seen    *engine.Snapshot
			)
			for {
				select {
				case <-ctx.Done():
					return <-done
				case <-ticker.C:
				}
				snap := poller.Snapshot()
				if snap == seen || snap.At.IsZero() {
					continue
				}
				seen = snap
				line := watchLine(buildStatusView(snap))
				if line == last {
					continue
				}
				last = line
				_, _ = fmt.Fprintf(r.out, "%s %s\n", snap.At.UTC().Format(time.RFC3339), line)
				printed++
				if count > 0 && printed >= count {
					cancel()
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval (default from config)")
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many updates")
	return cmd
}

func (r *Runner) activateCmd() *cobra.Command {
	var (
		dryRun  bool
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "activate <path>",
		Short: "Bring the terminal hosting a pinned project to the front",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			poller, err := r.newPoller(ctx)
			if err != nil {
				return err
			}
			snap := poller.RefreshNow(ctx)

			table := strategy.NewTable(r.store)
			if err := table.Load(ctx); err != nil {
				return err
			}
			caps := r.deps.Capabilities(r.cfg)
			exec := activation.NewExecutor(caps, activation.Options{
				TerminalPriority: r.cfg.TerminalPriority,
				DefaultTerminal:  r.cfg.DefaultTerminal,
			}, r.logger)
			activator := engine.NewActivator(table, exec, caps.Mux, r.store, poller.Resolver(), r.logger).WithHome(r.deps.Home)

			plan, err := activator.Plan(ctx, snap, args[0])
			if err != nil {
				if errors.Is(err, engine.ErrNotPinned) {
					return codedError{code: model.ErrProjectNotPinned, err: err}
				}
				return err
			}
			view := planView{
				Project:  plan.Project.Path,
				Scenario: plan.Scenario.ID(),
				Behavior: plan.Behavior.String(),
				Modified: plan.Modified,
				Session:  plan.Target.Session,
				App:      plan.Target.App,
				TTY:      plan.Target.TTY,
				DryRun:   dryRun,
			}
			if !dryRun {
				res := activator.Activate(ctx, plan)
				view.Succeeded = &res.Succeeded
				view.Strategy = string(res.Strategy)
				for _, a := range res.Attempts {
					av := attemptView{Strategy: string(a.Strategy), Step: a.Step, OK: a.OK}
					if a.Err != nil {
						av.Error = a.Err.Error()
					}
					view.Attempts = append(view.Attempts, av)
				}
			}
			if jsonOut {
				if err := r.writeJSON(view); err != nil {
					return err
				}
			} else {
				r.printPlan(view)
			}
			if view.Succeeded != nil && !*view.Succeeded {
				return codedError{code: model.ErrActivationFailed, err: fmt.Errorf("no strategy succeeded for %s", plan.Project.Path)}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "resolve the scenario and strategy without running it")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

type attemptView struct {
	Strategy string `json:"strategy"`
	Step     string `json:"step"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

type planView struct {
	Project   string        `json:"project"`
	Scenario  string        `json:"scenario"`
	Behavior  string        `json:"behavior"`
	Modified  bool          `json:"modified"`
	Session   string        `json:"session,omitempty"`
	App       string        `json:"app,omitempty"`
	TTY       string        `json:"tty,omitempty"`
	DryRun    bool          `json:"dry_run"`
	Succeeded *bool         `json:"succeeded,omitempty"`
	Strategy  string        `json:"strategy,omitempty"`
	Attempts  []attemptView `json:"attempts,omitempty"`
}

func (r *Runner) printPlan(v planView) {
	_, _ = fmt.Fprintf(r.out, "project\t%s\n", v.Project)
	_, _ = fmt.Fprintf(r.out, "scenario\t%s\n", v.Scenario)
	_, _ = fmt.Fprintf(r.out, "behavior\t%s\n", v.Behavior)
	_, _ = fmt.Fprintf(r.out, "session\t%s\n", dash(v.Session))
	for _, a := range v.Attempts {
		status := "ok"
		if !a.OK {
			status = "fail"
		}
		if a.Error != "" {
			status += " (" + a.Error + ")"
		}
		_, _ = fmt.Fprintf(r.out, "step\t%s\t%s\t%s\n", a.Strategy, a.Step, status)
	}
	if v.Succeeded != nil && *v.Succeeded {
		_, _ = fmt.Fprintf(r.out, "activated\t%s\n", v.Strategy)
	}
}
