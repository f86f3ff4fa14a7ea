package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/agentgate/internal/status"
	"github.com/fyrsmithlabs/agentgate/internal/trace"
)

func newTraceCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect and repair worker traces",
	}
	cmd.AddCommand(newTraceListCmd(opts), newTraceShowCmd(opts), newTraceCrashCmd(opts))
	return cmd
}

func newTraceListCmd(opts *globalOptions) *cobra.Command {
	var (
		workerType   string
		statusFilter string
		limit        int
		output       string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List traces, newest first",
		Long: `List trace records, newest first.

Examples:
  agentgate trace list
  agentgate trace list --type tester --status active
  agentgate trace list --limit 5 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := trace.Filter{WorkerType: workerType, Status: trace.Status(statusFilter), Limit: limit}
			switch f.Status {
			case "", trace.StatusActive, trace.StatusCompleted, trace.StatusCrashed:
			default:
				return fmt.Errorf("unknown status %q", statusFilter)
			}

			a, ctx, err := opts.openCmd(cmd)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			recs, err := a.svc.Traces().List(ctx, f)
			if err != nil {
				return err
			}
			now := a.svc.Clock().Now()
			rows := make([]status.TraceEntry, 0, len(recs))
			for _, rec := range recs {
				rows = append(rows, status.NewTraceEntry(rec, now))
			}
			return render(cmd.OutOrStdout(), output, rows, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "TRACE\tTYPE\tSTATUS\tAGE\tSUMMARY")
				for _, r := range rows {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.WorkerType, r.Status, r.Age, r.Summary)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&workerType, "type", "", "only this worker type")
	cmd.Flags().StringVar(&statusFilter, "status", "", "only this status: active, completed or crashed")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of traces (0 for all)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")
	return cmd
}

func newTraceShowCmd(opts *globalOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "show <trace-id>",
		Short: "Show one trace and its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := opts.openCmd(cmd)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			rec, err := a.svc.Traces().Get(ctx, args[0])
			if err != nil {
				return err
			}
			summary, err := a.svc.Traces().ReadArtifact(ctx, rec.ID, trace.ArtifactSummary)
			if err != nil && !errors.Is(err, trace.ErrMissingArtifact) {
				return err
			}

			view := traceView{
				ID:          rec.ID,
				WorkerType:  rec.WorkerType,
				Status:      string(rec.Status),
				StartedAt:   rec.StartedAt,
				FinishedAt:  rec.FinishedAt,
				Elapsed:     status.FormatAge(rec.Elapsed(a.svc.Clock().Now())),
				Repaired:    rec.Repaired,
				CrashReason: rec.CrashReason,
				SessionID:   rec.SessionID,
				Workspace:   rec.Workspace,
				Artifacts:   rec.Artifacts,
				Summary:     string(summary),
			}
			return render(cmd.OutOrStdout(), output, view, func(w io.Writer) error {
				fmt.Fprintf(w, "Trace:     %s\n", rec.ID)
				fmt.Fprintf(w, "Type:      %s\n", rec.WorkerType)
				fmt.Fprintf(w, "Status:    %s\n", rec.Status)
				if rec.Repaired {
					fmt.Fprintln(w, "Repaired:  yes")
				}
				if rec.CrashReason != "" {
					fmt.Fprintf(w, "Crash:     %s\n", rec.CrashReason)
				}
				fmt.Fprintf(w, "Started:   %s\n", rec.StartedAt.Format("2006-01-02 15:04:05 MST"))
				if rec.FinishedAt != nil {
					fmt.Fprintf(w, "Finished:  %s\n", rec.FinishedAt.Format("2006-01-02 15:04:05 MST"))
				}
				fmt.Fprintf(w, "Elapsed:   %s\n", view.Elapsed)
				if rec.Workspace != "" {
					fmt.Fprintf(w, "Workspace: %s\n", rec.Workspace)
				}
				fmt.Fprintf(w, "Artifacts: %v\n", rec.Artifacts)
				if len(summary) > 0 {
					fmt.Fprintf(w, "\n%s", summary)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")
	return cmd
}

// traceView is a trace record with its summary, for trace show.
type traceView struct {
	ID          string     `json:"id" yaml:"id"`
	WorkerType  string     `json:"worker_type" yaml:"worker_type"`
	Status      string     `json:"status" yaml:"status"`
	StartedAt   time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Elapsed     string     `json:"elapsed" yaml:"elapsed"`
	Repaired    bool       `json:"repaired,omitempty" yaml:"repaired,omitempty"`
	CrashReason string     `json:"crash_reason,omitempty" yaml:"crash_reason,omitempty"`
	SessionID   string     `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	Workspace   string     `json:"workspace,omitempty" yaml:"workspace,omitempty"`
	Artifacts   []string   `json:"artifacts" yaml:"artifacts"`
	Summary     string     `json:"summary,omitempty" yaml:"summary,omitempty"`
}

func newTraceCrashCmd(opts *globalOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "crash <trace-id>",
		Short: "Mark an active trace crashed and release its marker",
		Long: `Mark an active trace crashed. Its marker is removed so the worker no
longer counts against the concurrency limit or blocks verification.

Examples:
  agentgate trace crash implementer-20260301T120000-1a2b3c4d --reason "host killed"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := opts.openCmd(cmd)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			changed, err := a.svc.Traces().MarkCrashed(ctx, args[0], reason)
			if err != nil {
				return err
			}
			if !changed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is already final\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s marked crashed\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "marked crashed by operator", "crash reason recorded on the trace")
	return cmd
}
