package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
)

// SourceResult is the outcome of loading one source.
type SourceResult struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// SyncResult summarizes one sync run.
type SyncResult struct {
	Sources []SourceResult `json:"sources"`
	Tasks   int            `json:"tasks"`
	Overdue int            `json:"overdue,omitempty"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "sync",
		Short:         "Load every enabled source once, persist the merged state and sync fields across sources",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, cmd)
		},
	}
}

func runSync(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	defer a.Close()

	result := loadAll(ctx, a)
	if err := writeOutput(cmd.OutOrStdout(), opts.Format, result, result.text); err != nil {
		return err
	}
	return result.err()
}

func loadAll(ctx context.Context, a *app) SyncResult {
	failures := a.orch.LoadAll(ctx)
	result := SyncResult{Tasks: len(a.store.State().Tasks)}
	for _, id := range a.orch.Sources() {
		r := SourceResult{ID: id, OK: true}
		if err := failures[id]; err != nil {
			r.OK = false
			r.Error = err.Error()
		}
		result.Sources = append(result.Sources, r)
	}
	sort.Slice(result.Sources, func(i, j int) bool { return result.Sources[i].ID < result.Sources[j].ID })
	result.Overdue = a.sweepOverdue(ctx)
	return result
}

func (r SyncResult) text(w io.Writer) error {
	for _, s := range r.Sources {
		if s.OK {
			fmt.Fprintf(w, "✓ %s\n", s.ID)
		} else {
			fmt.Fprintf(w, "✗ %s: %s\n", s.ID, s.Error)
		}
	}
	if r.Overdue > 0 {
		fmt.Fprintf(w, "%d event(s) marked overdue\n", r.Overdue)
	}
	_, err := fmt.Fprintf(w, "%d task(s)\n", r.Tasks)
	return err
}

func (r SyncResult) err() error {
	failed := 0
	for _, s := range r.Sources {
		if !s.OK {
			failed++
		}
	}
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d source(s) failed", failed, len(r.Sources)))
	}
	return nil
}
