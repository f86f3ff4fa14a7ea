package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentgate/internal/hooks"
	"github.com/fyrsmithlabs/agentgate/internal/logging"
)

func newHookCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Host hook entry points",
		Long: `Hook entry points for the agent host. Each reads a JSON payload on stdin
and writes a JSON response on stdout.

Internal failures never block the session: they are reported as advisory
text and the command still exits 0.`,
	}

	subs := []struct {
		hook  hooks.HookType
		short string
	}{
		{hooks.HookDispatch, "Admit or deny a worker before it is spawned"},
		{hooks.HookComplete, "Finalize a worker's trace after it exits"},
		{hooks.HookPrompt, "Record human sign-off from a prompt"},
		{hooks.HookEdit, "Checkpoint the working tree after a file mutation"},
	}
	for _, s := range subs {
		hookType := s.hook
		cmd.AddCommand(&cobra.Command{
			Use:   string(hookType),
			Short: s.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runHook(cmd, opts, hookType)
			},
		})
	}
	return cmd
}

func runHook(cmd *cobra.Command, opts *globalOptions, hookType hooks.HookType) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	in, err := hooks.ParseInput(cmd.InOrStdin())
	if err != nil {
		return hooks.Degraded(hookType, err).Write(out)
	}

	a, err := opts.open(ctx, in.Cwd, cmd.ErrOrStderr())
	if err != nil {
		return hooks.Degraded(hookType, err).Write(out)
	}
	defer a.close(ctx)

	ctx = logging.WithSessionID(ctx, in.SessionID)
	ctx = logging.WithProjectID(ctx, a.svc.Project().ID)
	a.logger.Trace(ctx, "hook payload",
		zap.String("hook", string(hookType)),
		zap.String("tool", in.ToolName),
		zap.String("worker.type", in.ResolveWorkerType()))

	mgr := hooks.NewHookManager(a.logger)
	hooks.NewHandlers(a.svc).Register(mgr)
	return mgr.Execute(ctx, hookType, in).Write(out)
}
