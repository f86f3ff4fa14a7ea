package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentgate/internal/checkpoint"
	agenthttp "github.com/fyrsmithlabs/agentgate/internal/http"
	"github.com/fyrsmithlabs/agentgate/internal/ignore"
	"github.com/fyrsmithlabs/agentgate/internal/watcher"
	"github.com/fyrsmithlabs/agentgate/pkg/git"
)

func newWatchCmd(opts *globalOptions) *cobra.Command {
	var (
		debounce time.Duration
		listen   string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Checkpoint on filesystem changes",
		Long: `Watch the working tree and feed every settled file change to the
checkpoint snapshotter, the same way the edit hook does for tool writes.
Use it when edits happen outside the agent host.

With --listen (or watch.listen in config) a local HTTP server exposes
health, status, traces, checkpoints, a secret scrub endpoint and
Prometheus metrics for as long as the watch runs.

Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, ctx, err := opts.openCmd(cmd)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			root := a.svc.Project().WorkDir
			repo, err := git.Open(root)
			if err != nil {
				return fmt.Errorf("watch needs a git working tree: %w", err)
			}
			root = repo.Root

			wc := a.cfg.Watch
			if !cmd.Flags().Changed("debounce") {
				debounce = time.Duration(wc.Debounce)
			}
			if cmd.Flags().Changed("listen") {
				wc.Listen = listen
			}

			var prom *agenthttp.PromMetrics
			if wc.Listen != "" {
				srv, err := agenthttp.NewServer(a.svc, &agenthttp.Config{
					Addr:      wc.Listen,
					RateLimit: wc.RateLimit,
					RateBurst: wc.RateBurst,
				})
				if err != nil {
					return err
				}
				prom = srv.Prom()
				go func() {
					if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error(ctx, "status server stopped", zap.Error(err))
					}
				}()
				defer func() {
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := srv.Shutdown(sctx); err != nil {
						a.logger.Warn(sctx, "status server shutdown", zap.Error(err))
					}
				}()
				fmt.Fprintf(cmd.ErrOrStderr(), "serving status on http://%s\n", wc.Listen)
			}

			matcher, err := ignore.Load(root)
			if err != nil {
				return err
			}
			w, err := watcher.New(root, watcher.Options{
				Debounce: debounce,
				Ignore:   matcher,
				Logger:   a.logger,
			})
			if err != nil {
				return err
			}
			if err := w.Start(ctx); err != nil {
				return err
			}
			defer w.Stop()

			session := fmt.Sprintf("watch-%d", os.Getpid())
			fmt.Fprintf(cmd.ErrOrStderr(), "watching %s (ctrl-c to stop)\n", root)
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev := <-w.Events():
					if prom != nil {
						prom.ObserveEvent(strings.ToLower(ev.Op.String()))
					}
					out, err := a.svc.Checkpoints().RecordWrite(ctx, session, root, ev.Path)
					outcome := agenthttp.OutcomeCounted
					switch {
					case errors.Is(err, checkpoint.ErrSkipped):
						outcome = agenthttp.OutcomeSkipped
						a.logger.Debug(ctx, "checkpoint skipped", zap.String("path", ev.Path), zap.Error(err))
					case err != nil:
						outcome = agenthttp.OutcomeFailed
						a.logger.Warn(ctx, "checkpoint failed", zap.String("path", ev.Path), zap.Error(err))
					case out.Checkpoint != nil:
						outcome = agenthttp.OutcomeCreated
						fmt.Fprintf(cmd.OutOrStdout(), "checkpoint %d saved as %s\n", out.Checkpoint.Sequence, out.Checkpoint.Ref)
					}
					if prom != nil {
						prom.ObserveWrite(outcome)
					}
				}
			}
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 250*time.Millisecond, "quiet period before a change is recorded (default from watch.debounce)")
	cmd.Flags().StringVar(&listen, "listen", "", "serve status and metrics on this address, e.g. 127.0.0.1:9464")
	return cmd
}
