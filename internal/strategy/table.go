package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/g960059/agthud/internal/model"
)

var ErrInvalidBehavior = errors.New("strategy: invalid behavior")

// OverrideStore persists user overrides keyed by scenario id.
type OverrideStore interface {
	ListOverrides(ctx context.Context) (map[string]model.ScenarioBehavior, error)
	PutOverride(ctx context.Context, scenarioID string, b model.ScenarioBehavior) error
	DeleteOverride(ctx context.Context, scenarioID string) error
}

// Entry is one row of the effective table.
type Entry struct {
	Scenario model.ActivationScenario
	Behavior model.ScenarioBehavior
	Default  model.ScenarioBehavior
	Modified bool
}

// Table layers persisted overrides over DefaultBehavior.
type Table struct {
	store OverrideStore

	mu        sync.RWMutex
	overrides map[string]model.ScenarioBehavior
}

func NewTable(store OverrideStore) *Table {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Table{store: store, overrides: map[string]model.ScenarioBehavior{}}
}

// Load replaces the in-memory overrides with the store's contents. Stored
// rows equal to the default or with unknown keys are ignored.
func (t *Table) Load(ctx context.Context) error {
	stored, err := t.store.ListOverrides(ctx)
	if err != nil {
		return fmt.Errorf("load strategy overrides: %w", err)
	}
	next := make(map[string]model.ScenarioBehavior, len(stored))
	for id, b := range stored {
		sc, err := model.ParseScenarioID(id)
		if err != nil || validate(b) != nil || b.Equal(DefaultBehavior(sc)) {
			continue
		}
		next[sc.ID()] = b
	}
	t.mu.Lock()
	t.overrides = next
	t.mu.Unlock()
	return nil
}

// Behavior returns the override for sc if one exists, else the default.
func (t *Table) Behavior(sc model.ActivationScenario) model.ScenarioBehavior {
	t.mu.RLock()
	b, ok := t.overrides[sc.ID()]
	t.mu.RUnlock()
	if ok {
		return b
	}
	return DefaultBehavior(sc)
}

func (t *Table) IsModified(sc model.ActivationScenario) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.overrides[sc.ID()]
	return ok
}

// SetOverride stores b for sc. A value equal to the default removes any
// existing override instead.
func (t *Table) SetOverride(ctx context.Context, sc model.ActivationScenario, b model.ScenarioBehavior) error {
	if err := validate(b); err != nil {
		return err
	}
	if b.Equal(DefaultBehavior(sc)) {
		return t.ResetOverride(ctx, sc)
	}
	if err := t.store.PutOverride(ctx, sc.ID(), b); err != nil {
		return fmt.Errorf("store override %s: %w", sc.ID(), err)
	}
	t.mu.Lock()
	t.overrides[sc.ID()] = b
	t.mu.Unlock()
	return nil
}

func (t *Table) ResetOverride(ctx context.Context, sc model.ActivationScenario) error {
	if err := t.store.DeleteOverride(ctx, sc.ID()); err != nil {
		return fmt.Errorf("delete override %s: %w", sc.ID(), err)
	}
	t.mu.Lock()
	delete(t.overrides, sc.ID())
	t.mu.Unlock()
	return nil
}

// Entries lists every scenario with its effective behavior, in scenario order.
func (t *Table) Entries() []Entry {
	scenarios := model.AllScenarios()
	out := make([]Entry, 0, len(scenarios))
	for _, sc := range scenarios {
		def := DefaultBehavior(sc)
		out = append(out, Entry{Scenario: sc, Behavior: t.Behavior(sc), Default: def, Modified: t.IsModified(sc)})
	}
	return out
}

func validate(b model.ScenarioBehavior) error {
	if _, ok := model.ParseStrategy(string(b.Primary)); !ok {
		return fmt.Errorf("%w: unknown primary %q", ErrInvalidBehavior, b.Primary)
	}
	if b.Fallback != nil {
		if _, ok := model.ParseStrategy(string(*b.Fallback)); !ok {
			return fmt.Errorf("%w: unknown fallback %q", ErrInvalidBehavior, *b.Fallback)
		}
		if *b.Fallback == b.Primary {
			return fmt.Errorf("%w: fallback repeats primary %q", ErrInvalidBehavior, b.Primary)
		}
	}
	return nil
}

// MemoryStore is an in-process OverrideStore.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]model.ScenarioBehavior
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: map[string]model.ScenarioBehavior{}}
}

func (m *MemoryStore) ListOverrides(context.Context) (map[string]model.ScenarioBehavior, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]model.ScenarioBehavior, len(m.rows))
	for k, v := range m.rows {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) PutOverride(_ context.Context, id string, b model.ScenarioBehavior) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id] = b
	return nil
}

func (m *MemoryStore) DeleteOverride(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

// Keys returns the stored scenario ids, sorted.
func (m *MemoryStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.rows))
	for k := range m.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
