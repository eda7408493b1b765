package model

import (
	"fmt"
	"strings"
)

// AppCategory groups parent applications by how their windows can be focused.
type AppCategory string

const (
	// CategoryIDE is an editor with an integrated terminal.
	CategoryIDE AppCategory = "ide"
	// CategoryTTYTerminal is a terminal whose tabs can be enumerated and matched by tty.
	CategoryTTYTerminal AppCategory = "tty_terminal"
	// CategoryRemoteTerminal is a terminal with a remote-control API able to focus a window.
	CategoryRemoteTerminal AppCategory = "remote_terminal"
	// CategoryOtherTerminal is a known terminal without per-window automation.
	CategoryOtherTerminal AppCategory = "terminal"
	// CategoryMultiplexer means the shell is only known to run inside tmux.
	CategoryMultiplexer AppCategory = "multiplexer"
	CategoryUnknown     AppCategory = "unknown"
)

var AppCategories = []AppCategory{
	CategoryIDE,
	CategoryTTYTerminal,
	CategoryRemoteTerminal,
	CategoryOtherTerminal,
	CategoryMultiplexer,
	CategoryUnknown,
}

type ShellContext string

const (
	ShellDirect      ShellContext = "direct"
	ShellMultiplexed ShellContext = "multiplexed"
)

var ShellContexts = []ShellContext{ShellDirect, ShellMultiplexed}

type Multiplicity string

const (
	MultiplicitySingle          Multiplicity = "single"
	MultiplicityMultipleTabs    Multiplicity = "multiple_tabs"
	MultiplicityMultipleWindows Multiplicity = "multiple_windows"
	MultiplicityMultipleApps    Multiplicity = "multiple_apps"
)

var Multiplicities = []Multiplicity{
	MultiplicitySingle,
	MultiplicityMultipleTabs,
	MultiplicityMultipleWindows,
	MultiplicityMultipleApps,
}

// ActivationScenario is the lookup key for the strategy table.
type ActivationScenario struct {
	Category     AppCategory
	Context      ShellContext
	Multiplicity Multiplicity
}

// ID is the colon-joined composite used as the override key.
func (s ActivationScenario) ID() string {
	return string(s.Category) + ":" + string(s.Context) + ":" + string(s.Multiplicity)
}

func (s ActivationScenario) String() string {
	return s.ID()
}

// ParseScenarioID is the inverse of ActivationScenario.ID.
func ParseScenarioID(id string) (ActivationScenario, error) {
	parts := strings.Split(strings.TrimSpace(id), ":")
	if len(parts) != 3 {
		return ActivationScenario{}, fmt.Errorf("invalid scenario id %q", id)
	}
	sc := ActivationScenario{
		Category:     AppCategory(parts[0]),
		Context:      ShellContext(parts[1]),
		Multiplicity: Multiplicity(parts[2]),
	}
	if !containsValue(AppCategories, sc.Category) || !containsValue(ShellContexts, sc.Context) || !containsValue(Multiplicities, sc.Multiplicity) {
		return ActivationScenario{}, fmt.Errorf("invalid scenario id %q", id)
	}
	return sc, nil
}

// AllScenarios enumerates the full scenario space.
func AllScenarios() []ActivationScenario {
	out := make([]ActivationScenario, 0, len(AppCategories)*len(ShellContexts)*len(Multiplicities))
	for _, c := range AppCategories {
		for _, ctx := range ShellContexts {
			for _, m := range Multiplicities {
				out = append(out, ActivationScenario{Category: c, Context: ctx, Multiplicity: m})
			}
		}
	}
	return out
}

// Strategy is one named way of bringing a terminal to the foreground.
type Strategy string

const (
	StrategyTTYLookup        Strategy = "tty_lookup"
	StrategyActivateApp      Strategy = "activate_app"
	StrategyMuxNativeFocus   Strategy = "mux_native_focus"
	StrategyIDEWindow        Strategy = "ide_window"
	StrategySessionSwitch    Strategy = "session_switch"
	StrategyHostThenSwitch   Strategy = "host_then_switch"
	StrategyLaunchNew        Strategy = "launch_new"
	StrategyPriorityFallback Strategy = "priority_fallback"
	StrategySkip             Strategy = "skip"
)

var Strategies = []Strategy{
	StrategyTTYLookup,
	StrategyActivateApp,
	StrategyMuxNativeFocus,
	StrategyIDEWindow,
	StrategySessionSwitch,
	StrategyHostThenSwitch,
	StrategyLaunchNew,
	StrategyPriorityFallback,
	StrategySkip,
}

// ParseStrategy accepts the canonical names case-insensitively.
func ParseStrategy(raw string) (Strategy, bool) {
	s := Strategy(strings.ToLower(strings.TrimSpace(raw)))
	return s, containsValue(Strategies, s)
}

// ScenarioBehavior is a primary strategy plus an optional fallback.
type ScenarioBehavior struct {
	Primary  Strategy
	Fallback *Strategy
}

func (b ScenarioBehavior) Equal(other ScenarioBehavior) bool {
	if b.Primary != other.Primary {
		return false
	}
	if b.Fallback == nil || other.Fallback == nil {
		return b.Fallback == nil && other.Fallback == nil
	}
	return *b.Fallback == *other.Fallback
}

func (b ScenarioBehavior) String() string {
	if b.Fallback == nil {
		return string(b.Primary)
	}
	return string(b.Primary) + " -> " + string(*b.Fallback)
}

func containsValue[T comparable](values []T, v T) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
