package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/harrisonrobin/taskmerge/pkg/config"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the configuration",
	}
	cmd.AddCommand(newConfigShowCommand(rootOpts))
	cmd.AddCommand(newSetCalendarCommand(rootOpts))
	return cmd
}

func newConfigShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show",
		Short:         "Print the effective configuration",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeOutput(cmd.OutOrStdout(), rootOpts.Format, rootOpts.Config, func(w io.Writer) error {
				return yaml.NewEncoder(w).Encode(rootOpts.Config)
			})
		},
	}
}

func newSetCalendarCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "set-calendar <name>",
		Short:         "Set the Google Calendar to sync with and enable the calendar source",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetCalendar(rootOpts, args[0], cmd)
		},
	}
}

func runSetCalendar(opts *RootOptions, name string, cmd *cobra.Command) error {
	cfg := opts.Config
	cfg.Sources.Calendar.Name = name
	cfg.Sources.Calendar.Enabled = true
	if err := config.SaveFile(opts.ConfigPath, cfg); err != nil {
		return WrapExitError(ExitCommandError, "error saving config", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Default calendar set to: %s\n", name)
	return nil
}
