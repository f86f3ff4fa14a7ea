package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newProofCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proof",
		Short: "Show or reset the proof-of-work state",
		Long: `The proof-of-work state gates release workers. Dispatching an implementer
arms it (needs_verification); a human sign-off prompt verifies it.`,
	}
	cmd.AddCommand(newProofShowCmd(opts), newProofResetCmd(opts))
	return cmd
}

func newProofShowCmd(opts *globalOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the proof-of-work state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, ctx, err := opts.openCmd(cmd)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			st, readErr := a.svc.Proof().Read()
			view := struct {
				State         string `json:"state" yaml:"state"`
				Since         string `json:"since,omitempty" yaml:"since,omitempty"`
				AllowsRelease  bool   `json:"allows_release" yaml:"allows_release"`
				Error         string `json:"error,omitempty" yaml:"error,omitempty"`
			}{State: string(st.State), AllowsRelease: st.AllowsRelease()}
			if !st.Since.IsZero() {
				view.Since = st.Since.UTC().Format("2006-01-02T15:04:05Z07:00")
			}
			if readErr != nil {
				view.Error = readErr.Error()
			}
			return render(cmd.OutOrStdout(), output, view, func(w io.Writer) error {
				fmt.Fprintln(w, view.State)
				if view.Since != "" {
					fmt.Fprintf(w, "since %s\n", view.Since)
				}
				if view.Error != "" {
					fmt.Fprintf(w, "error: %s\n", view.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")
	return cmd
}

func newProofResetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset the proof-of-work state to absent",
		Long: `Reset the proof-of-work state to absent. Use this to recover from a corrupt
status file or to abandon a pending verification.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, ctx, err := opts.openCmd(cmd)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			tr, err := a.svc.Proof().Reset(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", tr.From, tr.To)
			return nil
		},
	}
}
