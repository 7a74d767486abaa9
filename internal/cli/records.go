package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the collection grouped by category",
		Long: `Hydrate the collection from the active store and print it.

Categories the user has never customized show the bundled defaults.

Example:
  flocksync list
  flocksync list --category layer --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			snap := a.engine.Snapshot()
			view := stateView{
				state:   snap.State,
				customs: a.engine.Customized(),
			}
			if category != "" {
				view.category = a.cfg.Normalizer().Normalize(category)
			}
			if a.out.Format == "json" {
				return a.out.SuccessVersion(view.data(), snap.Version)
			}
			return a.out.Success(view)
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "only show this category")
	return cmd
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <category> key=value...",
		Short: "Add a record to a category",
		Long: `Add a record. Values that parse as JSON numbers, booleans or null are
stored as such; everything else is a string. An id=... pair picks the id.

Example:
  flocksync add layer name="Layer pellets" protein=16`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseFields(args[1:])
			if err != nil {
				return err
			}
			a, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.engine.Add(cmd.Context(), args[0], fields)
			if err != nil {
				return a.out.Fail(mutationExit("add", err))
			}
			if a.out.Format == "json" {
				return a.out.SuccessVersion(map[string]string{"id": id}, a.engine.Version())
			}
			return a.out.Success(fmt.Sprintf("added %s", id))
		},
	}
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update <category> <id> key=value...",
		Short: "Merge fields into an existing record",
		Example: `  flocksync update layer 0194b2c1-... protein=17
  flocksync update starter rec-1 notes=null`,
		Args:          cobra.MinimumNArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseFields(args[2:])
			if err != nil {
				return err
			}
			a, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.Update(cmd.Context(), args[0], args[1], fields); err != nil {
				return a.out.Fail(mutationExit("update", err))
			}
			if a.out.Format == "json" {
				return a.out.SuccessVersion(map[string]string{"id": args[1]}, a.engine.Version())
			}
			return a.out.Success(fmt.Sprintf("updated %s", args[1]))
		},
	}
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <category> <id>",
		Short:         "Delete a record",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.Delete(cmd.Context(), args[0], args[1]); err != nil {
				return a.out.Fail(mutationExit("delete", err))
			}
			if a.out.Format == "json" {
				return a.out.SuccessVersion(map[string]string{"id": args[1]}, a.engine.Version())
			}
			return a.out.Success(fmt.Sprintf("deleted %s", args[1]))
		},
	}
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "reset",
		Short:         "Delete every record and show the bundled defaults again",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.ResetToDefaults(cmd.Context()); err != nil {
				return a.out.Fail(mutationExit("reset", err))
			}
			if a.out.Format == "json" {
				return a.out.SuccessVersion(map[string]string{"collection": a.cfg.Collection}, a.engine.Version())
			}
			return a.out.Success(fmt.Sprintf("reset %s to defaults", a.cfg.Collection))
		},
	}
}

// parseFields turns key=value arguments into a field map.
func parseFields(args []string) (map[string]any, error) {
	fields := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid field %q: want key=value", arg))
		}
		fields[key] = parseValue(raw)
	}
	return fields, nil
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		switch v.(type) {
		case float64, bool, nil:
			return v
		}
	}
	return raw
}
