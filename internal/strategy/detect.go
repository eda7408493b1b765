package strategy

import (
	"strings"

	"github.com/g960059/agthud/internal/model"
)

var appCategories = map[string]model.AppCategory{
	"code":               model.CategoryIDE,
	"visual studio code": model.CategoryIDE,
	"vscodium":           model.CategoryIDE,
	"cursor":             model.CategoryIDE,
	"windsurf":           model.CategoryIDE,
	"zed":                model.CategoryIDE,
	"intellij idea":      model.CategoryIDE,
	"goland":             model.CategoryIDE,
	"pycharm":            model.CategoryIDE,
	"webstorm":           model.CategoryIDE,

	"iterm2":   model.CategoryTTYTerminal,
	"iterm":    model.CategoryTTYTerminal,
	"terminal": model.CategoryTTYTerminal,

	"kitty":   model.CategoryRemoteTerminal,
	"wezterm": model.CategoryRemoteTerminal,

	"ghostty":   model.CategoryOtherTerminal,
	"alacritty": model.CategoryOtherTerminal,
	"warp":      model.CategoryOtherTerminal,
	"hyper":     model.CategoryOtherTerminal,
	"tabby":     model.CategoryOtherTerminal,

	"tmux": model.CategoryMultiplexer,
}

// CanonicalApp lowercases an application name and strips a ".app" suffix.
func CanonicalApp(app string) string {
	app = strings.ToLower(strings.TrimSpace(app))
	app = strings.TrimSuffix(app, ".app")
	if i := strings.LastIndex(app, "/"); i >= 0 {
		app = app[i+1:]
		app = strings.TrimSuffix(app, ".app")
	}
	return app
}

// Categorize classifies a parent application name.
func Categorize(app string) model.AppCategory {
	if c, ok := appCategories[CanonicalApp(app)]; ok {
		return c
	}
	return model.CategoryUnknown
}

// Environment counts what the user currently has open for one project.
type Environment struct {
	Apps    int
	Windows int
	Tabs    int
}

// CountEnvironment derives multiplicity counts from the live shells of a
// project: distinct host apps, distinct multiplexer client terminals, and
// distinct shell terminals.
func CountEnvironment(shells []model.ShellEntry) Environment {
	apps := map[string]struct{}{}
	clients := map[string]struct{}{}
	ttys := map[string]struct{}{}
	for _, s := range shells {
		if app := CanonicalApp(s.ParentApp); app != "" {
			apps[app] = struct{}{}
		}
		if s.TmuxClientTTY != "" {
			clients[s.TmuxClientTTY] = struct{}{}
		}
		if s.TTY != "" {
			ttys[s.TTY] = struct{}{}
		}
	}
	return Environment{Apps: len(apps), Windows: len(clients), Tabs: len(ttys)}
}

// DetectScenario derives the lookup key for activating shell.
func DetectScenario(shell model.ShellEntry, env Environment) model.ActivationScenario {
	sc := model.ActivationScenario{
		Category:     Categorize(shell.ParentApp),
		Context:      model.ShellDirect,
		Multiplicity: model.MultiplicitySingle,
	}
	if shell.InMultiplexer() {
		sc.Context = model.ShellMultiplexed
		if strings.TrimSpace(shell.ParentApp) == "" {
			sc.Category = model.CategoryMultiplexer
		}
	}
	switch {
	case env.Apps > 1:
		sc.Multiplicity = model.MultiplicityMultipleApps
	case env.Windows > 1:
		sc.Multiplicity = model.MultiplicityMultipleWindows
	case env.Tabs > 1:
		sc.Multiplicity = model.MultiplicityMultipleTabs
	}
	return sc
}
