// Package strategy maps activation scenarios to the ordered plan used to
// bring a terminal to the foreground.
package strategy

import "github.com/g960059/agthud/internal/model"

func behavior(primary model.Strategy, fallback ...model.Strategy) model.ScenarioBehavior {
	b := model.ScenarioBehavior{Primary: primary}
	if len(fallback) > 0 {
		f := fallback[0]
		b.Fallback = &f
	}
	return b
}

// DefaultBehavior is the built-in table. It is defined for every scenario.
func DefaultBehavior(sc model.ActivationScenario) model.ScenarioBehavior {
	multiplexed := sc.Context == model.ShellMultiplexed
	switch sc.Category {
	case model.CategoryIDE:
		if !multiplexed {
			return behavior(model.StrategyIDEWindow)
		}
		switch sc.Multiplicity {
		case model.MultiplicityMultipleWindows:
			return behavior(model.StrategyIDEWindow, model.StrategySessionSwitch)
		case model.MultiplicityMultipleApps:
			return behavior(model.StrategyIDEWindow, model.StrategyHostThenSwitch)
		default:
			return behavior(model.StrategyIDEWindow)
		}
	case model.CategoryTTYTerminal:
		if multiplexed {
			return behavior(model.StrategyHostThenSwitch, model.StrategySessionSwitch)
		}
		return behavior(model.StrategyTTYLookup, model.StrategyActivateApp)
	case model.CategoryRemoteTerminal:
		if multiplexed {
			return behavior(model.StrategyMuxNativeFocus, model.StrategySessionSwitch)
		}
		return behavior(model.StrategyMuxNativeFocus, model.StrategyActivateApp)
	case model.CategoryOtherTerminal:
		if multiplexed {
			return behavior(model.StrategyActivateApp, model.StrategyHostThenSwitch)
		}
		return behavior(model.StrategyActivateApp, model.StrategyPriorityFallback)
	default:
		return behavior(model.StrategyHostThenSwitch, model.StrategyPriorityFallback)
	}
}
