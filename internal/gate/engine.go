package gate

import (
	"context"
	"strings"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentgate/internal/config"
	"github.com/fyrsmithlabs/agentgate/internal/logging"
	"github.com/fyrsmithlabs/agentgate/internal/notify"
	"github.com/fyrsmithlabs/agentgate/internal/project"
	"github.com/fyrsmithlabs/agentgate/internal/proof"
	"github.com/fyrsmithlabs/agentgate/internal/telemetry"
	"github.com/fyrsmithlabs/agentgate/internal/trace"
)

const instrumentationName = "github.com/fyrsmithlabs/agentgate/internal/gate"

// Deps are the project-scoped stores the gates read and write.
type Deps struct {
	ProjectID string
	Layout    project.Layout
	Traces    *trace.Store
	Proof     *proof.Store
	Sink      notify.Sink
	Clock     clock.Clock
	Logger    *logging.Logger
	Telemetry *telemetry.Telemetry
}

// Result is an engine evaluation. Trace is set when the dispatch was
// admitted.
type Result struct {
	Decision Decision
	Trace    *trace.Record
}

// Engine evaluates the gate chain for a dispatch.
type Engine struct {
	guard *ConcurrencyGuard
	roles []Gate

	traces    *trace.Store
	sink      notify.Sink
	clock     clock.Clock
	logger    *logging.Logger
	projectID string

	tracer          oteltrace.Tracer
	admittedCounter metric.Int64Counter
	deniedCounter   metric.Int64Counter
}

// NewEngine wires the standard gate chain from cfg.
func NewEngine(cfg *config.Config, deps Deps) *Engine {
	if deps.Sink == nil {
		deps.Sink = notify.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	logger := deps.Logger.Named("gate")

	h := newHealer(deps.Traces, deps.Sink, deps.Clock, logger)
	guard := NewConcurrencyGuard(deps.Traces.Markers(), cfg.Dispatch.MaxConcurrent)
	guard.healer = h
	implementer := NewImplementerGate(cfg.Roles.Implementer, cfg.Dispatch.IsolationPolicy, cfg.Git.ProtectedBranches,
		deps.Proof, deps.Layout.ActiveWorktree(), logger)
	implementer.healer = h
	e := &Engine{
		guard: guard,
		roles: []Gate{
			NewReleaseGate(cfg.Roles.Release, cfg.Roles.Verifier, deps.Proof),
			NewVerificationGate(cfg.Roles.Verifier, cfg.Roles.Implementer, deps.Traces, deps.Sink, deps.Clock, logger),
			implementer,
		},
		traces:    deps.Traces,
		sink:      deps.Sink,
		clock:     deps.Clock,
		logger:    logger,
		projectID: deps.ProjectID,
		tracer:    deps.Telemetry.Tracer(instrumentationName),
	}
	e.initMetrics(deps.Telemetry.Meter(instrumentationName))
	return e
}

func (e *Engine) initMetrics(meter metric.Meter) {
	var err error
	e.admittedCounter, err = meter.Int64Counter(
		"agentgate.dispatch.admitted_total",
		metric.WithDescription("Worker dispatches admitted"),
		metric.WithUnit("{dispatch}"),
	)
	if err != nil {
		e.logger.Warn(context.Background(), "failed to create admitted counter", zap.Error(err))
	}
	e.deniedCounter, err = meter.Int64Counter(
		"agentgate.dispatch.denied_total",
		metric.WithDescription("Worker dispatches denied, by gate"),
		metric.WithUnit("{dispatch}"),
	)
	if err != nil {
		e.logger.Warn(context.Background(), "failed to create denied counter", zap.Error(err))
	}
}

// Evaluate runs the concurrency guard, the role gate for req.WorkerType and,
// on admission, creates the worker's trace and marker.
func (e *Engine) Evaluate(ctx context.Context, req Request) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "gate.evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.String("worker.type", req.WorkerType),
		attribute.String("project.id", e.projectID),
	)
	ctx = logging.WithWorkerType(ctx, req.WorkerType)

	chain := []Gate{e.guard}
	for _, g := range e.roles {
		if g.Applies(req) {
			chain = append(chain, g)
			break
		}
	}

	var advisories []string
	workspace := req.Cwd
	for _, g := range chain {
		d, err := g.Check(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Result{}, err
		}
		if !d.Allowed {
			e.deny(ctx, span, req, d)
			return Result{Decision: d}, nil
		}
		if d.Advisory != "" {
			advisories = append(advisories, d.Advisory)
		}
		if d.Workspace != "" {
			workspace = d.Workspace
		}
	}

	rec, err := e.traces.Init(ctx, req.WorkerType, trace.InitOptions{
		SessionID: req.SessionID,
		Workspace: workspace,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	d := Allow(strings.Join(advisories, "\n"))
	d.Workspace = workspace
	e.admittedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("worker.type", req.WorkerType)))
	span.SetAttributes(attribute.Bool("gate.allowed", true), attribute.String("trace.id", rec.ID))
	e.logger.Info(ctx, "dispatch admitted", zap.String("trace.id", rec.ID))
	return Result{Decision: d, Trace: rec}, nil
}

func (e *Engine) deny(ctx context.Context, span oteltrace.Span, req Request, d Decision) {
	e.deniedCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("gate", d.Gate),
		attribute.String("worker.type", req.WorkerType),
	))
	span.SetAttributes(
		attribute.Bool("gate.allowed", false),
		attribute.String("gate.name", d.Gate),
	)
	e.logger.Info(ctx, "dispatch denied", zap.String("gate", d.Gate), zap.String("reason", d.Reason))
	if err := e.sink.Notify(ctx, notify.Event{
		Kind:       notify.KindDenied,
		ProjectID:  e.projectID,
		WorkerType: req.WorkerType,
		Message:    d.Reason,
		At:         e.clock.Now().UTC(),
	}); err != nil {
		e.logger.Warn(ctx, "notification failed", zap.Error(err))
	}
}
