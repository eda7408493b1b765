package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g960059/agthud/internal/model"
)

func sc(c model.AppCategory, ctx model.ShellContext, m model.Multiplicity) model.ActivationScenario {
	return model.ActivationScenario{Category: c, Context: ctx, Multiplicity: m}
}

func TestDefaultsAreTotal(t *testing.T) {
	for _, scenario := range model.AllScenarios() {
		b := DefaultBehavior(scenario)
		_, ok := model.ParseStrategy(string(b.Primary))
		assert.True(t, ok, scenario.ID())
		assert.NoError(t, validate(b), scenario.ID())
	}
	assert.Len(t, model.AllScenarios(), 6*2*4)
}

func TestDefaultsPerCategory(t *testing.T) {
	cases := []struct {
		scenario model.ActivationScenario
		want     string
	}{
		{sc(model.CategoryTTYTerminal, model.ShellDirect, model.MultiplicitySingle), "tty_lookup -> activate_app"},
		{sc(model.CategoryTTYTerminal, model.ShellMultiplexed, model.MultiplicitySingle), "host_then_switch -> session_switch"},
		{sc(model.CategoryRemoteTerminal, model.ShellDirect, model.MultiplicitySingle), "mux_native_focus -> activate_app"},
		{sc(model.CategoryRemoteTerminal, model.ShellMultiplexed, model.MultiplicityMultipleTabs), "mux_native_focus -> session_switch"},
		{sc(model.CategoryOtherTerminal, model.ShellDirect, model.MultiplicitySingle), "activate_app -> priority_fallback"},
		{sc(model.CategoryOtherTerminal, model.ShellMultiplexed, model.MultiplicitySingle), "activate_app -> host_then_switch"},
		{sc(model.CategoryIDE, model.ShellDirect, model.MultiplicityMultipleApps), "ide_window"},
		{sc(model.CategoryIDE, model.ShellMultiplexed, model.MultiplicitySingle), "ide_window"},
		{sc(model.CategoryIDE, model.ShellMultiplexed, model.MultiplicityMultipleWindows), "ide_window -> session_switch"},
		{sc(model.CategoryIDE, model.ShellMultiplexed, model.MultiplicityMultipleApps), "ide_window -> host_then_switch"},
		{sc(model.CategoryMultiplexer, model.ShellMultiplexed, model.MultiplicitySingle), "host_then_switch -> priority_fallback"},
		{sc(model.CategoryUnknown, model.ShellDirect, model.MultiplicitySingle), "host_then_switch -> priority_fallback"},
	}
	for _, tc := range cases {
		t.Run(tc.scenario.ID(), func(t *testing.T) {
			assert.Equal(t, tc.want, DefaultBehavior(tc.scenario).String())
		})
	}
}

func TestOverrideRoundTripsToDefault(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	table := NewTable(store)
	scenario := sc(model.CategoryOtherTerminal, model.ShellDirect, model.MultiplicitySingle)
	def := table.Behavior(scenario)

	custom := behavior(model.StrategyLaunchNew)
	require.NoError(t, table.SetOverride(ctx, scenario, custom))
	assert.True(t, table.IsModified(scenario))
	assert.Equal(t, custom, table.Behavior(scenario))
	assert.Equal(t, []string{"terminal:direct:single"}, store.Keys())

	require.NoError(t, table.ResetOverride(ctx, scenario))
	assert.False(t, table.IsModified(scenario))
	assert.True(t, def.Equal(table.Behavior(scenario)))
	assert.Empty(t, store.Keys())
}

func TestOverrideEqualToDefaultIsNotStored(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	table := NewTable(store)
	scenario := sc(model.CategoryTTYTerminal, model.ShellDirect, model.MultiplicitySingle)

	require.NoError(t, table.SetOverride(ctx, scenario, behavior(model.StrategySkip)))
	require.NoError(t, table.SetOverride(ctx, scenario, DefaultBehavior(scenario)))
	assert.False(t, table.IsModified(scenario))
	assert.Empty(t, store.Keys())
}

func TestSetOverrideRejectsInvalid(t *testing.T) {
	table := NewTable(nil)
	scenario := sc(model.CategoryUnknown, model.ShellDirect, model.MultiplicitySingle)
	err := table.SetOverride(context.Background(), scenario, model.ScenarioBehavior{Primary: "teleport"})
	assert.ErrorIs(t, err, ErrInvalidBehavior)
	err = table.SetOverride(context.Background(), scenario, behavior(model.StrategySkip, model.StrategySkip))
	assert.ErrorIs(t, err, ErrInvalidBehavior)
}

func TestLoadSkipsNoopAndUnknownRows(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	scenario := sc(model.CategoryRemoteTerminal, model.ShellDirect, model.MultiplicitySingle)
	require.NoError(t, store.PutOverride(ctx, scenario.ID(), behavior(model.StrategyActivateApp)))
	require.NoError(t, store.PutOverride(ctx, "bogus:key", behavior(model.StrategySkip)))
	noop := sc(model.CategoryIDE, model.ShellDirect, model.MultiplicitySingle)
	require.NoError(t, store.PutOverride(ctx, noop.ID(), DefaultBehavior(noop)))

	table := NewTable(store)
	require.NoError(t, table.Load(ctx))
	assert.True(t, table.IsModified(scenario))
	assert.False(t, table.IsModified(noop))

	modified := 0
	for _, e := range table.Entries() {
		if e.Modified {
			modified++
		}
	}
	assert.Equal(t, 1, modified)
}

func TestDetectScenario(t *testing.T) {
	direct := model.ShellEntry{PID: 1, CWD: "/p", TTY: "/dev/ttys001", ParentApp: "iTerm.app"}
	assert.Equal(t, "tty_terminal:direct:single", DetectScenario(direct, CountEnvironment([]model.ShellEntry{direct})).ID())

	muxOnly := model.ShellEntry{PID: 2, CWD: "/p", TTY: "/dev/ttys002", TmuxSession: "proj"}
	assert.Equal(t, "multiplexer:multiplexed:single", DetectScenario(muxOnly, Environment{}).ID())

	ide := model.ShellEntry{PID: 3, CWD: "/p", TTY: "/dev/ttys003", ParentApp: "Cursor", TmuxSession: "proj", TmuxClientTTY: "/dev/ttys010"}
	other := model.ShellEntry{PID: 4, CWD: "/p", TTY: "/dev/ttys004", ParentApp: "Cursor", TmuxSession: "proj", TmuxClientTTY: "/dev/ttys011"}
	env := CountEnvironment([]model.ShellEntry{ide, other})
	assert.Equal(t, Environment{Apps: 1, Windows: 2, Tabs: 2}, env)
	assert.Equal(t, "ide:multiplexed:multiple_windows", DetectScenario(ide, env).ID())

	assert.Equal(t, model.MultiplicityMultipleApps, DetectScenario(direct, Environment{Apps: 2, Tabs: 3}).Multiplicity)
	assert.Equal(t, model.MultiplicityMultipleTabs, DetectScenario(direct, Environment{Apps: 1, Tabs: 3}).Multiplicity)
	assert.Equal(t, model.CategoryUnknown, Categorize("SomethingElse"))
	assert.Equal(t, model.CategoryRemoteTerminal, Categorize("/Applications/WezTerm.app"))
}
