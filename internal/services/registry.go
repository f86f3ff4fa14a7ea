package services

import (
	"fmt"

	"github.com/benbjohnson/clock"

	"github.com/fyrsmithlabs/agentgate/internal/approval"
	"github.com/fyrsmithlabs/agentgate/internal/checkpoint"
	"github.com/fyrsmithlabs/agentgate/internal/config"
	"github.com/fyrsmithlabs/agentgate/internal/gate"
	"github.com/fyrsmithlabs/agentgate/internal/logging"
	"github.com/fyrsmithlabs/agentgate/internal/marker"
	"github.com/fyrsmithlabs/agentgate/internal/notify"
	"github.com/fyrsmithlabs/agentgate/internal/project"
	"github.com/fyrsmithlabs/agentgate/internal/proof"
	"github.com/fyrsmithlabs/agentgate/internal/telemetry"
	"github.com/fyrsmithlabs/agentgate/internal/trace"
)

// Registry provides access to the services of one project.
type Registry interface {
	Config() *config.Config
	Project() *project.Project
	Markers() *marker.Set
	Traces() *trace.Store
	Proof() *proof.Store
	Gates() *gate.Engine
	Checkpoints() *checkpoint.Snapshotter
	Classifier() *approval.Classifier
	Sink() notify.Sink
	Clock() clock.Clock
	Logger() *logging.Logger
	Telemetry() *telemetry.Telemetry
}

// Options carries the process-wide collaborators.
type Options struct {
	Clock     clock.Clock
	Logger    *logging.Logger
	Telemetry *telemetry.Telemetry
	// Sink receives notifications. Defaults to a log sink.
	Sink notify.Sink
}

// registry is the concrete implementation of Registry.
type registry struct {
	config      *config.Config
	project     *project.Project
	markers     *marker.Set
	traces      *trace.Store
	proof       *proof.Store
	gates       *gate.Engine
	checkpoints *checkpoint.Snapshotter
	classifier  *approval.Classifier
	sink        notify.Sink
	clock       clock.Clock
	logger      *logging.Logger
	telemetry   *telemetry.Telemetry
}

// Build creates the services for proj, creating its state directory.
func Build(cfg *config.Config, proj *project.Project, opts Options) (Registry, error) {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Sink == nil {
		opts.Sink = notify.NewLogSink(opts.Logger)
	}
	if err := proj.Ensure(); err != nil {
		return nil, err
	}

	classifier, err := approval.NewClassifier(cfg.Approval.Phrases)
	if err != nil {
		return nil, fmt.Errorf("approval phrases: %w", err)
	}

	layout := proj.Layout()
	logger := opts.Logger
	markers := marker.NewSet(layout.Markers(), opts.Clock)
	traces := trace.NewStore(layout, markers, trace.Options{
		StaleAfter:      cfg.Trace.StaleAfter.Duration(),
		MinSummaryBytes: cfg.Trace.MinSummaryBytes,
		Clock:           opts.Clock,
		Logger:          logger,
		Telemetry:       opts.Telemetry,
	})
	proofStore := proof.NewStore(layout.ProofStatus(), opts.Clock)

	r := &registry{
		config:     cfg,
		project:    proj,
		markers:    markers,
		traces:     traces,
		proof:      proofStore,
		classifier: classifier,
		sink:       opts.Sink,
		clock:      opts.Clock,
		logger:     logger,
		telemetry:  opts.Telemetry,
	}
	r.gates = gate.NewEngine(cfg, gate.Deps{
		ProjectID: proj.ID,
		Layout:    layout,
		Traces:    traces,
		Proof:     proofStore,
		Sink:      opts.Sink,
		Clock:     opts.Clock,
		Logger:    logger,
		Telemetry: opts.Telemetry,
	})
	r.checkpoints = checkpoint.New(layout, checkpoint.Options{
		Every:             cfg.Checkpoint.Every,
		SkipPaths:         cfg.Checkpoint.SkipPaths,
		ProtectedBranches: cfg.Git.ProtectedBranches,
		MaxFileBytes:      cfg.Checkpoint.MaxFileBytes,
		RefPrefix:         cfg.Checkpoint.RefPrefix,
		Clock:             opts.Clock,
		Logger:            logger,
		Telemetry:         opts.Telemetry,
		Sink:              opts.Sink,
		ProjectID:         proj.ID,
	})
	return r, nil
}

func (r *registry) Config() *config.Config               { return r.config }
func (r *registry) Project() *project.Project            { return r.project }
func (r *registry) Markers() *marker.Set                 { return r.markers }
func (r *registry) Traces() *trace.Store                 { return r.traces }
func (r *registry) Proof() *proof.Store                  { return r.proof }
func (r *registry) Gates() *gate.Engine                  { return r.gates }
func (r *registry) Checkpoints() *checkpoint.Snapshotter { return r.checkpoints }
func (r *registry) Classifier() *approval.Classifier     { return r.classifier }
func (r *registry) Sink() notify.Sink                    { return r.sink }
func (r *registry) Clock() clock.Clock                   { return r.clock }
func (r *registry) Logger() *logging.Logger              { return r.logger }
func (r *registry) Telemetry() *telemetry.Telemetry      { return r.telemetry }
