package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/agentgate/internal/status"
)

func newStatusCmd(opts *globalOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show active workers, traces and proof-of-work state",
		Long: `Show the current project's active markers, active traces and
proof-of-work state.

Examples:
  agentgate status
  agentgate status -o json
  agentgate status --project ~/src/app -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, ctx, err := opts.openCmd(cmd)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			r, err := status.Collect(ctx, a.svc)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), output, r, r.WriteText)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")
	return cmd
}

// render writes v in the requested format. text uses the given writer func.
func render(w io.Writer, format string, v any, text func(io.Writer) error) error {
	switch format {
	case "", "text":
		return text(w)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
}
