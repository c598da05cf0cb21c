package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/taskmerge/pkg/taskwarrior"
)

// spawnSync starts a detached "taskmerge sync" so the hook returns before any source is contacted.
var spawnSync = func(configPath string) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("could not find self: %w", err)
	}
	c := exec.Command(self, "--config", configPath, "sync")
	c.Stdout = nil
	c.Stderr = nil
	if err := c.Start(); err != nil {
		return fmt.Errorf("could not start background sync: %w", err)
	}
	return c.Process.Release()
}

// NewHookCommand creates the hook command.
func NewHookCommand(rootOpts *RootOptions) *cobra.Command {
	var noSync bool

	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Taskwarrior on-add/on-modify hook",
		Long: `Install as a Taskwarrior on-add or on-modify hook. Reads the task JSON lines
Taskwarrior passes on stdin, echoes the final one back as the hook protocol
requires, and starts a background sync.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHook(rootOpts, noSync, cmd)
		},
	}

	cmd.Flags().BoolVar(&noSync, "no-sync", false, "only echo the task")
	return cmd
}

func runHook(opts *RootOptions, noSync bool, cmd *cobra.Command) error {
	tasks, err := taskwarrior.NewClient("").ParseTasks(cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitFailure, "error parsing tasks from stdin", err)
	}
	if len(tasks) == 0 {
		return nil
	}
	if err := json.NewEncoder(cmd.OutOrStdout()).Encode(tasks[len(tasks)-1]); err != nil {
		return err
	}
	if noSync || !opts.Config.Sources.Taskwarrior.Enabled {
		return nil
	}
	// Taskwarrior already accepted the task; a failed spawn only delays the next sync.
	if err := spawnSync(opts.ConfigPath); err != nil {
		opts.Log.WithError(err).Warn("background sync not started")
	}
	return nil
}
