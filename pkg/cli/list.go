package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/taskmerge/pkg/model"
)

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List the persisted tasks without contacting any source",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(rootOpts, all, cmd)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include completed tasks")
	return cmd
}

func runList(opts *RootOptions, all bool, cmd *cobra.Command) error {
	persister, err := openState(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open state", err)
	}
	defer persister.Close()

	snap, err := persister.Load(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load state", err)
	}

	tasks := make([]model.Task, 0, len(snap.Tasks))
	for _, t := range snap.Tasks {
		if all || !t.Done {
			tasks = append(tasks, t)
		}
	}
	return writeOutput(cmd.OutOrStdout(), opts.Format, tasks, func(w io.Writer) error {
		return listText(w, tasks)
	})
}

func listText(w io.Writer, tasks []model.Task) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tTITLE\tSOURCES")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", shortID(t.ID), statusOf(t), t.Title, strings.Join(sourcesOf(t), ","))
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func statusOf(t model.Task) string {
	switch {
	case t.Done:
		return "done"
	case t.Status != "":
		return t.Status
	default:
		return "todo"
	}
}

func sourcesOf(t model.Task) []string {
	out := make([]string, 0, len(t.Source.Keys))
	for src := range t.Source.Keys {
		out = append(out, src)
	}
	sort.Strings(out)
	return out
}
