package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/g960059/agthud/internal/model"
	"github.com/g960059/agthud/internal/strategy"
	"github.com/g960059/agthud/internal/workspace"
)

type identityView struct {
	ID         string `json:"id"`
	Normalized string `json:"normalized"`
	RepoRoot   string `json:"repo_root,omitempty"`
	CommonDir  string `json:"common_dir,omitempty"`
	RelPath    string `json:"rel_path,omitempty"`
}

func (r *Runner) identityCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "identity <path>",
		Short: "Print the repo-aware workspace identity of a path",
		Args:  exactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := workspace.Resolve(args[0])
			if err != nil {
				return usageError{err: err}
			}
			v := identityView{ID: id.ID, Normalized: id.Normalized}
			if id.Repo != nil {
				v.RepoRoot = id.Repo.Root
				v.CommonDir = id.Repo.CommonDir
				v.RelPath = id.Repo.RelPath
			}
			if jsonOut {
				return r.writeJSON(v)
			}
			_, _ = fmt.Fprintf(r.out, "id\t%s\npath\t%s\n", v.ID, v.Normalized)
			if id.Repo != nil {
				_, _ = fmt.Fprintf(r.out, "repo\t%s\ncommon_dir\t%s\nrel_path\t%s\n", v.RepoRoot, v.CommonDir, dash(v.RelPath))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func (r *Runner) projectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "Manage pinned projects",
	}

	var jsonOut bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List pinned projects",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := r.openStore(cmd.Context())
			if err != nil {
				return err
			}
			projects, err := store.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				views := make([]projectView, 0, len(projects))
				for _, p := range projects {
					views = append(views, projectView{Path: p.Path, Name: p.Name})
				}
				return r.writeJSON(views)
			}
			for _, p := range projects {
				_, _ = fmt.Fprintf(r.out, "%s\t%s\t%s\n", p.Path, p.Name, p.AddedAt.UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
	list.Flags().BoolVar(&jsonOut, "json", false, "output JSON")

	var name string
	add := &cobra.Command{
		Use:   "add <path>",
		Short: "Pin a project",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := workspace.Normalize(args[0])
			if err != nil {
				return usageError{err: err}
			}
			store, err := r.openStore(cmd.Context())
			if err != nil {
				return err
			}
			p, err := store.AddProject(cmd.Context(), model.PinnedProject{Path: path, Name: name})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(r.out, "pinned\t%s\t%s\n", p.Path, p.Name)
			return nil
		},
	}
	add.Flags().StringVar(&name, "name", "", "display name (default: last path element)")

	remove := &cobra.Command{
		Use:   "remove <path>",
		Short: "Unpin a project",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := workspace.Normalize(args[0])
			if err != nil {
				return usageError{err: err}
			}
			store, err := r.openStore(cmd.Context())
			if err != nil {
				return err
			}
			if err := store.RemoveProject(cmd.Context(), path); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(r.out, "unpinned\t%s\n", path)
			return nil
		},
	}

	cmd.AddCommand(list, add, remove)
	return cmd
}

type strategyView struct {
	Scenario string `json:"scenario"`
	Behavior string `json:"behavior"`
	Default  string `json:"default"`
	Modified bool   `json:"modified"`
}

func entryView(e strategy.Entry) strategyView {
	return strategyView{
		Scenario: e.Scenario.ID(),
		Behavior: e.Behavior.String(),
		Default:  e.Default.String(),
		Modified: e.Modified,
	}
}

func (r *Runner) loadTable(cmd *cobra.Command) (*strategy.Table, error) {
	store, err := r.openStore(cmd.Context())
	if err != nil {
		return nil, err
	}
	table := strategy.NewTable(store)
	if err := table.Load(cmd.Context()); err != nil {
		return nil, err
	}
	return table, nil
}

func parseScenario(raw string) (model.ActivationScenario, error) {
	sc, err := model.ParseScenarioID(raw)
	if err != nil {
		return model.ActivationScenario{}, usageError{err: err}
	}
	return sc, nil
}

func (r *Runner) strategyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strategy",
		Short: "Inspect and override the activation strategy table",
	}

	var jsonOut bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List every scenario with its effective behavior",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			table, err := r.loadTable(cmd)
			if err != nil {
				return err
			}
			entries := table.Entries()
			if jsonOut {
				views := make([]strategyView, 0, len(entries))
				for _, e := range entries {
					views = append(views, entryView(e))
				}
				return r.writeJSON(views)
			}
			for _, e := range entries {
				mark := ""
				if e.Modified {
					mark = "\t(modified)"
				}
				_, _ = fmt.Fprintf(r.out, "%s\t%s%s\n", e.Scenario.ID(), e.Behavior, mark)
			}
			return nil
		},
	}
	list.Flags().BoolVar(&jsonOut, "json", false, "output JSON")

	show := &cobra.Command{
		Use:   "show <scenario>",
		Short: "Show one scenario, e.g. tty_terminal:direct:single",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := parseScenario(args[0])
			if err != nil {
				return err
			}
			table, err := r.loadTable(cmd)
			if err != nil {
				return err
			}
			v := strategyView{
				Scenario: sc.ID(),
				Behavior: table.Behavior(sc).String(),
				Default:  strategy.DefaultBehavior(sc).String(),
				Modified: table.IsModified(sc),
			}
			_, _ = fmt.Fprintf(r.out, "scenario\t%s\nbehavior\t%s\ndefault\t%s\nmodified\t%t\n", v.Scenario, v.Behavior, v.Default, v.Modified)
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <scenario> <primary> [fallback]",
		Short: "Override the behavior of a scenario",
		Args:  rangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := parseScenario(args[0])
			if err != nil {
				return err
			}
			primary, ok := model.ParseStrategy(args[1])
			if !ok {
				return usagef("unknown strategy %q", args[1])
			}
			b := model.ScenarioBehavior{Primary: primary}
			if len(args) == 3 {
				fallback, ok := model.ParseStrategy(args[2])
				if !ok {
					return usagef("unknown strategy %q", args[2])
				}
				b.Fallback = &fallback
			}
			table, err := r.loadTable(cmd)
			if err != nil {
				return err
			}
			if err := table.SetOverride(cmd.Context(), sc, b); err != nil {
				if errors.Is(err, strategy.ErrInvalidBehavior) {
					return usageError{err: err}
				}
				return err
			}
			_, _ = fmt.Fprintf(r.out, "%s\t%s\n", sc.ID(), table.Behavior(sc))
			return nil
		},
	}

	reset := &cobra.Command{
		Use:   "reset <scenario>",
		Short: "Restore the default behavior of a scenario",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := parseScenario(args[0])
			if err != nil {
				return err
			}
			table, err := r.loadTable(cmd)
			if err != nil {
				return err
			}
			if err := table.ResetOverride(cmd.Context(), sc); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(r.out, "%s\t%s\n", sc.ID(), table.Behavior(sc))
			return nil
		},
	}

	cmd.AddCommand(list, show, set, reset)
	return cmd
}

func (r *Runner) historyCmd() *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent activations",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := r.openStore(cmd.Context())
			if err != nil {
				return err
			}
			recs, err := store.ListActivations(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOut {
				return r.writeJSON(recs)
			}
			for _, rec := range recs {
				result := "ok"
				if !rec.Succeeded {
					result = dash(rec.ErrorCode)
				}
				_, _ = fmt.Fprintf(r.out, "%s\t%s\t%s\t%s\t%s\n", rec.CreatedAt.UTC().Format(time.RFC3339), rec.ProjectPath, rec.ScenarioID, dash(rec.Strategy), result)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum records")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}
