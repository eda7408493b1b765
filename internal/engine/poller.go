// Package engine runs the single logical poller that refreshes daemon and
// shell inputs off the tick path and publishes immutable snapshots.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/g960059/agthud/internal/activeproject"
	"github.com/g960059/agthud/internal/api"
	"github.com/g960059/agthud/internal/config"
	"github.com/g960059/agthud/internal/daemonclient"
	"github.com/g960059/agthud/internal/logging"
	"github.com/g960059/agthud/internal/model"
	"github.com/g960059/agthud/internal/reconcile"
	"github.com/g960059/agthud/internal/shellstate"
	"github.com/g960059/agthud/internal/workspace"
)

// DaemonSource is satisfied by *daemonclient.Client.
type DaemonSource interface {
	Enabled() bool
	ProjectStates(ctx context.Context) (api.ProjectStatesData, error)
	Sessions(ctx context.Context) (api.SessionsData, error)
	ShellState(ctx context.Context) (api.ShellStateData, error)
}

// ProjectSource is satisfied by *db.Store.
type ProjectSource interface {
	ListProjects(ctx context.Context) ([]model.PinnedProject, error)
}

type DaemonStatus string

const (
	DaemonOK          DaemonStatus = "ok"
	DaemonDisabled    DaemonStatus = "disabled"
	DaemonDegraded    DaemonStatus = "degraded"
	DaemonUnavailable DaemonStatus = "unavailable"
)

// Snapshot is one published reconciliation result. Readers must treat it as
// immutable.
type Snapshot struct {
	At           time.Time
	Pinned       []model.PinnedProject
	Sessions     map[string]model.ReconciledSessionState
	Shells       []model.ShellEntry
	Active       model.ActiveProjectResolution
	Daemon       DaemonStatus
	Availability daemonclient.Availability
	LastError    string
}

type Options struct {
	Interval          time.Duration
	StaleStateTTL     time.Duration
	ShellSnapshotPath string
	Policy            daemonclient.AvailabilityPolicy
	Probe             shellstate.LivenessProbe
	Home              string
	Now               func() time.Time
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Interval:          cfg.PollInterval,
		StaleStateTTL:     cfg.StaleStateTTL,
		ShellSnapshotPath: cfg.ShellSnapshotPath,
		Policy:            daemonclient.PolicyFromConfig(cfg),
	}
}

type cachedState struct {
	state  model.DaemonProjectState
	seenAt time.Time
}

// fetchResult is what one refresh round brought back. A nil slice means the
// source was not read or failed; the cached value is kept.
type fetchResult struct {
	round         uint64
	attempted     bool
	transportFail bool
	canceled      bool
	pinned        []model.PinnedProject
	projectStates []model.DaemonProjectState
	sessionStates []model.DaemonProjectState
	shells        []model.ShellEntry
	err           error
}

// Poller owns the daemon cache. The cache is only mutated by apply, which
// runs on the goroutine that calls Run (or RefreshNow in tests).
type Poller struct {
	daemon     DaemonSource
	projects   ProjectSource
	reconciler *reconcile.Reconciler
	resolver   *activeproject.Resolver
	opts       Options
	logger     *slog.Logger

	cache        map[string]cachedState
	pinned       []model.PinnedProject
	shells       []model.ShellEntry
	availability daemonclient.Availability
	lastErr      error

	mu       sync.Mutex
	round    uint64
	inflight map[string]context.CancelFunc

	results  chan fetchResult
	kick     chan struct{}
	snapshot atomic.Pointer[Snapshot]
}

func New(daemon DaemonSource, projects ProjectSource, resolver *activeproject.Resolver, opts Options, logger *slog.Logger) *Poller {
	logger = logging.OrDiscard(logger)
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Probe == nil {
		opts.Probe = shellstate.SignalProbe{}
	}
	if opts.Home == "" {
		opts.Home, _ = os.UserHomeDir()
	}
	if resolver == nil {
		resolver = activeproject.NewResolver(logger).WithHome(opts.Home)
	}
	p := &Poller{
		daemon:       daemon,
		projects:     projects,
		reconciler:   reconcile.NewReconciler(logger).WithHome(opts.Home),
		resolver:     resolver,
		opts:         opts,
		logger:       logger,
		cache:        map[string]cachedState{},
		availability: daemonclient.NewAvailability(opts.Now()),
		inflight:     map[string]context.CancelFunc{},
		results:      make(chan fetchResult, 4),
		kick:         make(chan struct{}, 1),
	}
	p.snapshot.Store(&Snapshot{Sessions: map[string]model.ReconciledSessionState{}, Daemon: p.daemonStatus(opts.Now())})
	return p
}

// Snapshot returns the latest committed snapshot. It is never nil.
func (p *Poller) Snapshot() *Snapshot {
	return p.snapshot.Load()
}

// Resolver exposes the active-project resolver so callers can set the
// manual override.
func (p *Poller) Resolver() *activeproject.Resolver {
	return p.resolver
}

// Kick requests a refresh before the next tick.
func (p *Poller) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Run ticks until ctx is done. Each tick publishes from the cache and starts
// an asynchronous refresh; results are applied as they arrive.
func (p *Poller) Run(ctx context.Context) error {
	if p.opts.ShellSnapshotPath != "" {
		w := shellstate.NewWatcher(p.opts.ShellSnapshotPath, p.logger)
		go func() {
			if err := w.Run(ctx, p.Kick); err != nil {
				p.logger.Warn("shell snapshot watcher stopped", "path", p.opts.ShellSnapshotPath, "error", err)
			}
		}()
	}

	p.publish()
	p.startRefresh(ctx)

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()
	defer p.cancelInflight()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.publish()
			p.startRefresh(ctx)
		case <-p.kick:
			p.startRefresh(ctx)
		case res := <-p.results:
			if p.apply(res) {
				p.publish()
			}
		}
	}
}

// RefreshNow runs one refresh round synchronously, applies it and publishes.
func (p *Poller) RefreshNow(ctx context.Context) *Snapshot {
	round := p.nextRound(ctx)
	p.apply(p.fetch(round.ctx, round.id, p.shouldUseDaemon()))
	round.cancel()
	return p.publish()
}

type roundHandle struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// nextRound cancels the superseded in-flight refresh before starting a new
// one so responses are never matched to the wrong request.
func (p *Poller) nextRound(ctx context.Context) roundHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel, ok := p.inflight[refreshKey]; ok {
		cancel()
	}
	p.round++
	rctx, cancel := context.WithCancel(ctx)
	p.inflight[refreshKey] = cancel
	return roundHandle{id: p.round, ctx: rctx, cancel: cancel}
}

const refreshKey = "daemon"

func (p *Poller) cancelInflight() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, cancel := range p.inflight {
		cancel()
		delete(p.inflight, key)
	}
}

func (p *Poller) startRefresh(ctx context.Context) {
	round := p.nextRound(ctx)
	useDaemon := p.shouldUseDaemon()
	go func() {
		defer round.cancel()
		res := p.fetch(round.ctx, round.id, useDaemon)
		select {
		case p.results <- res:
		case <-ctx.Done():
		}
	}()
}

func (p *Poller) currentRound() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.round
}

func (p *Poller) shouldUseDaemon() bool {
	return p.daemon != nil && p.daemon.Enabled() && p.availability.ShouldAttempt(p.opts.Policy, p.opts.Now())
}

// fetch performs the blocking I/O for one round. It does not touch the cache.
func (p *Poller) fetch(ctx context.Context, round uint64, useDaemon bool) fetchResult {
	res := fetchResult{round: round}

	var (
		g        errgroup.Group
		errMu    sync.Mutex
		failures []error
	)
	record := func(err error) {
		errMu.Lock()
		defer errMu.Unlock()
		failures = append(failures, err)
	}

	if p.projects != nil {
		g.Go(func() error {
			pinned, err := p.projects.ListProjects(ctx)
			if err != nil {
				return err
			}
			res.pinned = pinned
			return nil
		})
	}
	if useDaemon {
		res.attempted = true
		g.Go(func() error {
			data, err := p.daemon.ProjectStates(ctx)
			if err != nil {
				record(err)
				return nil
			}
			res.projectStates = daemonclient.ProjectStates(data)
			return nil
		})
		g.Go(func() error {
			data, err := p.daemon.Sessions(ctx)
			if err != nil {
				record(err)
				return nil
			}
			res.sessionStates = daemonclient.SessionProjectStates(data)
			return nil
		})
	}
	switch {
	case p.opts.ShellSnapshotPath != "":
		g.Go(func() error {
			shells, err := shellstate.ReadSnapshot(p.opts.ShellSnapshotPath)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					res.shells = []model.ShellEntry{}
					return nil
				}
				return err
			}
			res.shells = shells
			return nil
		})
	case useDaemon:
		g.Go(func() error {
			data, err := p.daemon.ShellState(ctx)
			if err != nil {
				record(err)
				return nil
			}
			res.shells = daemonclient.ShellEntries(data)
			return nil
		})
	}
	res.err = g.Wait()

	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		res.canceled = true
	}
	for _, err := range failures {
		if daemonclient.IsTransport(err) {
			res.transportFail = true
		}
		if res.err == nil {
			res.err = err
		}
	}
	return res
}

// apply folds a round into the cache. Results from superseded or canceled
// rounds are dropped. It reports whether anything was applied.
func (p *Poller) apply(res fetchResult) bool {
	if res.canceled || res.round != p.currentRound() {
		return false
	}
	now := p.opts.Now()
	if res.attempted {
		p.availability = daemonclient.NextAvailability(p.availability, !res.transportFail, now)
	}
	if res.err != nil {
		p.logger.Debug("refresh incomplete", "round", res.round, "error", res.err)
	}
	p.lastErr = res.err

	if res.pinned != nil {
		p.pinned = res.pinned
	}
	for _, st := range res.projectStates {
		p.cache["project\x00"+st.ProjectPath] = cachedState{state: st, seenAt: now}
	}
	for _, st := range res.sessionStates {
		key := st.SessionID
		if key == "" {
			key = st.ProjectPath
		}
		p.cache["session\x00"+key] = cachedState{state: st, seenAt: now}
	}
	if res.shells != nil {
		p.shells = res.shells
	}
	p.prune(now)
	return true
}

func (p *Poller) prune(now time.Time) {
	if p.opts.StaleStateTTL <= 0 {
		return
	}
	for key, c := range p.cache {
		if now.Sub(c.seenAt) > p.opts.StaleStateTTL {
			delete(p.cache, key)
		}
	}
}

func (p *Poller) daemonStatus(now time.Time) DaemonStatus {
	switch {
	case p.daemon == nil || !p.daemon.Enabled():
		return DaemonDisabled
	case p.availability.Unavailable(p.opts.Policy, now):
		return DaemonUnavailable
	case p.availability.ConsecutiveFailures > 0:
		return DaemonDegraded
	default:
		return DaemonOK
	}
}

// publish reconciles the cached inputs and swaps in a new snapshot. Inputs
// are copied first so the pass sees one consistent view.
func (p *Poller) publish() *Snapshot {
	now := p.opts.Now()

	keys := make([]string, 0, len(p.cache))
	for key := range p.cache {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	entries := make([]model.DaemonProjectState, 0, len(keys))
	for _, key := range keys {
		entries = append(entries, p.cache[key].state)
	}
	pinned := append([]model.PinnedProject(nil), p.pinned...)
	shells := shellstate.Live(p.shells, p.opts.Probe)

	matcher := p.reconciler.NewMatcher(pinned, workspace.NewCache())
	sessions := p.reconciler.ReconcileWith(matcher, entries)
	active := p.resolver.Resolve(activeproject.Input{
		Pinned:   pinned,
		Sessions: sessions,
		Shells:   shells,
		Matcher:  matcher,
	})

	snap := &Snapshot{
		At:           now,
		Pinned:       pinned,
		Sessions:     sessions,
		Shells:       shells,
		Active:       active,
		Daemon:       p.daemonStatus(now),
		Availability: p.availability,
	}
	if p.lastErr != nil {
		snap.LastError = p.lastErr.Error()
	}
	p.snapshot.Store(snap)
	return snap
}
