// Package main implements the agentgate CLI: host hook entry points and
// operator commands over the per-project state.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentgate/internal/config"
	"github.com/fyrsmithlabs/agentgate/internal/logging"
	"github.com/fyrsmithlabs/agentgate/internal/project"
	"github.com/fyrsmithlabs/agentgate/internal/services"
	"github.com/fyrsmithlabs/agentgate/internal/telemetry"
)

// version is set at build time.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// globalOptions holds the persistent flags.
type globalOptions struct {
	configPath string
	project    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "agentgate",
		Short: "Admission control and crash recovery for coding-agent workers",
		Long: `agentgate gates worker dispatch in a multi-agent coding session, tracks
each worker's lifecycle, and checkpoints the working tree without touching it.

Hook commands read one JSON payload on stdin and write one JSON decision on
stdout. They exit 0 even when denying.

Examples:
  # Register as the pre-spawn hook
  agentgate hook dispatch < payload.json

  # Inspect the current project
  agentgate status -o yaml`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	telemetry.Version = version

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.config/agentgate/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.project, "project", "", "project directory (defaults to the hook cwd or the working directory)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")

	cmd.AddCommand(
		newHookCmd(opts),
		newStatusCmd(opts),
		newTraceCmd(opts),
		newProofCmd(opts),
		newCheckpointCmd(opts),
		newWatchCmd(opts),
	)
	return cmd
}

// app is one command's resolved configuration and project services.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	tel    *telemetry.Telemetry
	svc    services.Registry
}

// open loads configuration, builds the logger and telemetry, and resolves
// the project for dir. An empty dir falls back to --project, then the
// working directory.
func (o *globalOptions) open(ctx context.Context, dir string, errOut io.Writer) (*app, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	logger, err := o.newLogger(cfg, tel, errOut)
	if err != nil {
		return nil, err
	}
	if degraded, terr := tel.Degraded(); degraded {
		logger.Warn(ctx, "telemetry degraded to no-op", zap.Error(terr))
	}

	if o.project != "" {
		dir = o.project
	}
	if dir == "" {
		if dir, err = os.Getwd(); err != nil {
			return nil, err
		}
	}
	proj, err := project.Resolve(dir, cfg.State.Dir)
	if err != nil {
		return nil, err
	}

	svc, err := services.Build(cfg, proj, services.Options{
		Logger:    logger,
		Telemetry: tel,
	})
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, tel: tel, svc: svc}, nil
}

func (o *globalOptions) newLogger(cfg *config.Config, tel *telemetry.Telemetry, w io.Writer) (*logging.Logger, error) {
	lc := logging.NewDefaultConfig()
	lc.Format = cfg.Logging.Format
	lc.OTel = tel.LoggerProvider()

	level := cfg.Logging.Level
	if o.logLevel != "" {
		level = o.logLevel
	}
	l, err := logging.LevelFromString(level)
	if err != nil {
		return nil, err
	}
	lc.Level = l
	return logging.NewLoggerTo(lc, w)
}

// close flushes telemetry within its shutdown budget.
func (a *app) close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Telemetry.ShutdownTimeout.Duration())
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// openCmd opens the app for an operator command.
func (o *globalOptions) openCmd(cmd *cobra.Command) (*app, context.Context, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := o.open(ctx, "", cmd.ErrOrStderr())
	if err != nil {
		return nil, ctx, err
	}
	return a, logging.WithProjectID(ctx, a.svc.Project().ID), nil
}
