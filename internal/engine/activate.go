package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/g960059/agthud/internal/activation"
	"github.com/g960059/agthud/internal/activeproject"
	"github.com/g960059/agthud/internal/db"
	"github.com/g960059/agthud/internal/logging"
	"github.com/g960059/agthud/internal/model"
	"github.com/g960059/agthud/internal/reconcile"
	"github.com/g960059/agthud/internal/strategy"
	"github.com/g960059/agthud/internal/workspace"
)

var ErrNotPinned = errors.New("path does not belong to a pinned project")

// ActivationLog is satisfied by *db.Store.
type ActivationLog interface {
	RecordActivation(ctx context.Context, rec db.ActivationRecord) (db.ActivationRecord, error)
}

// Plan is a resolved activation that has not run yet.
type Plan struct {
	Project  model.PinnedProject
	Scenario model.ActivationScenario
	Behavior model.ScenarioBehavior
	Modified bool
	Target   activation.Target
}

type Activator struct {
	table    *strategy.Table
	executor *activation.Executor
	mux      activation.Multiplexer
	history  ActivationLog
	resolver *activeproject.Resolver
	home     string
	logger   *slog.Logger
}

// NewActivator wires the strategy table to an executor. history and resolver
// may be nil.
func NewActivator(table *strategy.Table, executor *activation.Executor, mux activation.Multiplexer, history ActivationLog, resolver *activeproject.Resolver, logger *slog.Logger) *Activator {
	home, _ := os.UserHomeDir()
	return &Activator{
		table:    table,
		executor: executor,
		mux:      mux,
		history:  history,
		resolver: resolver,
		home:     home,
		logger:   logging.OrDiscard(logger),
	}
}

func (a *Activator) WithHome(home string) *Activator {
	a.home = home
	return a
}

// Plan maps path to its pinned project and picks the target shell, scenario
// and behavior from snap.
func (a *Activator) Plan(ctx context.Context, snap *Snapshot, path string) (Plan, error) {
	normalized, err := workspace.Normalize(path)
	if err != nil {
		return Plan{}, fmt.Errorf("normalize %s: %w", path, err)
	}
	matcher := reconcile.NewMatcher(snap.Pinned, workspace.NewCache(), a.home)
	project, _, ok := matcher.Match(normalized)
	if !ok {
		return Plan{}, fmt.Errorf("%s: %w", normalized, ErrNotPinned)
	}

	shells := activeproject.ShellsForProject(matcher, project, snap.Shells)
	var windows []activation.Window
	if a.mux != nil && (len(shells) == 0 || !shells[0].InMultiplexer()) {
		windows, err = a.mux.ListWindows(ctx)
		if err != nil {
			a.logger.Debug("list windows failed", "project", project.Path, "error", err)
			windows = nil
		}
	}
	t := activation.ResolveTarget(project, shells, windows)

	shell := model.ShellEntry{TmuxSession: t.Session}
	if t.Shell != nil {
		shell = *t.Shell
		shell.TmuxSession = t.Session
	}
	sc := strategy.DetectScenario(shell, strategy.CountEnvironment(shells))
	plan := Plan{
		Project:  project,
		Scenario: sc,
		Behavior: a.table.Behavior(sc),
		Modified: a.table.IsModified(sc),
		Target:   t,
	}
	// Nothing on screen belongs to the project, so the only window that can
	// show it is a new one.
	if t.Shell == nil && t.Session == "" {
		plan.Behavior = model.ScenarioBehavior{Primary: model.StrategyLaunchNew}
		plan.Modified = false
	}
	return plan, nil
}

// Activate runs plan, records the outcome and, on success, makes the project
// the manual override.
func (a *Activator) Activate(ctx context.Context, plan Plan) activation.Result {
	res := a.executor.Execute(ctx, plan.Behavior, plan.Target)
	a.logger.Info("activation finished",
		"project", plan.Project.Path,
		"scenario", plan.Scenario.ID(),
		"behavior", plan.Behavior.String(),
		"succeeded", res.Succeeded,
		"strategy", res.Strategy,
	)
	if res.Succeeded && a.resolver != nil {
		a.resolver.SetOverride(plan.Project.Path)
	}
	if a.history != nil {
		rec := db.ActivationRecord{
			ProjectPath: plan.Project.Path,
			ScenarioID:  plan.Scenario.ID(),
			Strategy:    string(res.Strategy),
			Succeeded:   res.Succeeded,
		}
		if !res.Succeeded {
			rec.ErrorCode = model.ErrActivationFailed
		}
		if _, err := a.history.RecordActivation(context.WithoutCancel(ctx), rec); err != nil {
			a.logger.Warn("record activation failed", "project", plan.Project.Path, "error", err)
		}
	}
	return res
}
