package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/taskmerge/pkg/vault"
)

// ImportResult lists the notes written by import.
type ImportResult struct {
	Imported map[string]string `json:"imported"` // task id -> note key
	Failed   map[string]string `json:"failed,omitempty"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Write a vault note for every task the vault does not hold yet",
		Long: `Load every enabled source, then create a note in the vault for each task
that no note backs. The notes keep the task's identity, so the next vault
refresh merges them into the existing tasks instead of duplicating them.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(rootOpts, cmd)
		},
	}
}

func runImport(opts *RootOptions, cmd *cobra.Command) error {
	if !opts.Config.Sources.Vault.Enabled {
		return NewExitError(ExitCommandError, "the vault source is not enabled")
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	defer a.Close()

	if failures := a.orch.LoadAll(ctx); failures[vault.SourceID] != nil {
		return WrapExitError(ExitFailure, "failed to load vault", failures[vault.SourceID])
	}

	result := ImportResult{Imported: map[string]string{}, Failed: map[string]string{}}
	for _, t := range a.store.State().Tasks {
		if _, ok := t.KeyFor(vault.SourceID); ok || t.Source.Extension == vault.SourceID {
			continue
		}
		key, err := a.vault.Import(t)
		if err != nil {
			a.log.WithError(err).WithField("task", t.ID).Warn("failed to import task")
			result.Failed[t.ID] = err.Error()
			continue
		}
		result.Imported[t.ID] = key
	}

	if len(result.Imported) > 0 {
		if err := a.orch.RefreshSource(ctx, vault.SourceID); err != nil {
			return WrapExitError(ExitFailure, "failed to refresh vault", err)
		}
	}

	if err := writeOutput(cmd.OutOrStdout(), opts.Format, result, func(w io.Writer) error {
		for id, key := range result.Imported {
			fmt.Fprintf(w, "%s -> %s\n", shortID(id), key)
		}
		_, err := fmt.Fprintf(w, "imported %d task(s), %d failed\n", len(result.Imported), len(result.Failed))
		return err
	}); err != nil {
		return err
	}
	if len(result.Failed) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d task(s) could not be imported", len(result.Failed)))
	}
	return nil
}
