package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/taskmerge/pkg/auth"
)

// NewAuthCommand creates the auth command.
func NewAuthCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "auth",
		Short:         "Authorize access to Google Calendar, replacing any stored token",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuth(rootOpts, cmd)
		},
	}
}

func runAuth(opts *RootOptions, cmd *cobra.Command) error {
	flow := auth.NewFlow(opts.Dir(), opts.Log)
	flow.Prompt = func(u string) {
		fmt.Fprintf(cmd.OutOrStdout(), "Please open the following URL in your browser to authorize taskmerge:\n%s\n", u)
	}
	if err := flow.Reset(); err != nil {
		return WrapExitError(ExitCommandError, "failed to remove stored token", err)
	}
	if _, err := flow.Client(cmd.Context(), auth.Scopes); err != nil {
		return WrapExitError(ExitFailure, "authentication failed", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Authentication successful! Token saved to %s\n", filepath.Join(opts.Dir(), auth.TokenFile))
	return nil
}
