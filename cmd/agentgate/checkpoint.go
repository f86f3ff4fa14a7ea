package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/agentgate/internal/checkpoint"
)

func newCheckpointCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "List and create working-tree checkpoints",
		Long: `Checkpoints are commits published under refs/checkpoints/<branch>/<n>.
They never move HEAD, the index or the working tree.

Restore a file from a checkpoint with plain git:
  git checkout refs/checkpoints/feature/x/3 -- path/to/file`,
	}
	cmd.AddCommand(newCheckpointListCmd(opts), newCheckpointCreateCmd(opts))
	return cmd
}

func newCheckpointListCmd(opts *globalOptions) *cobra.Command {
	var (
		branch string
		output string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List checkpoints of a branch",
		Long: `List the checkpoints of a branch in sequence order.

Examples:
  agentgate checkpoint list
  agentgate checkpoint list --branch feature/login -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, ctx, err := opts.openCmd(cmd)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			cps, err := a.svc.Checkpoints().List(ctx, a.svc.Project().WorkDir, branch)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), output, cps, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "SEQ\tREF\tCOMMIT\tTRIGGER\tFILE\tCREATED")
				for _, cp := range cps {
					fmt.Fprintf(tw, "%d\t%s\t%.12s\t%s\t%s\t%s\n",
						cp.Sequence, cp.Ref, cp.CommitHash, cp.Trigger.Reason, cp.Trigger.File,
						cp.CreatedAt.Local().Format("2006-01-02 15:04:05"))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "branch to list (default: current branch)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")
	return cmd
}

func newCheckpointCreateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Snapshot the working tree now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, ctx, err := opts.openCmd(cmd)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			cp, err := a.svc.Checkpoints().Create(ctx, a.svc.Project().WorkDir, checkpoint.Trigger{Reason: checkpoint.ReasonManual})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checkpoint %d saved as %s\n", cp.Sequence, cp.Ref)
			return nil
		},
	}
}
