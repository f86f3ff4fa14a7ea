package trace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentgate/internal/redact"
)

// FinalizeResult reports what Finalize did.
type FinalizeResult struct {
	Record *Record
	// AlreadyFinal is set when the record was terminal before the call.
	AlreadyFinal bool
	// Synthesized is set when a diagnostic summary replaced missing output.
	Synthesized bool
	// Redactions counts quick-scrub replacements in the written summary.
	Redactions int
}

// Init creates an active record for workerType and its marker.
func (s *Store) Init(ctx context.Context, workerType string, opts InitOptions) (*Record, error) {
	ctx, span := s.tracer.Start(ctx, "trace.init")
	defer span.End()

	if strings.TrimSpace(workerType) == "" {
		err := errors.New("worker type is required")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	now := s.clock.Now().UTC()
	r := &Record{
		ID:         NewID(workerType, now),
		WorkerType: workerType,
		Status:     StatusActive,
		StartedAt:  now,
		SessionID:  opts.SessionID,
		Workspace:  opts.Workspace,
	}
	span.SetAttributes(
		attribute.String("trace.id", r.ID),
		attribute.String("worker.type", workerType),
	)

	if err := s.save(r); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("write trace %s: %w", r.ID, err)
	}

	if err := s.markers.Create(workerType, r.ID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if _, cerr := s.MarkCrashed(ctx, r.ID, "marker create failed: "+err.Error()); cerr != nil {
			s.logger.Error(ctx, "failed to mark trace crashed after marker failure",
				zap.String("trace.id", r.ID), zap.Error(cerr))
		}
		return nil, fmt.Errorf("create marker for %s: %w", r.ID, err)
	}

	s.logger.Info(ctx, "trace started", zap.String("trace.id", r.ID), zap.String("worker.type", workerType))
	return r, nil
}

// Finalize ensures a summary artifact exists, completes the record and
// removes its marker. Finalizing a terminal record is a no-op.
func (s *Store) Finalize(ctx context.Context, id, terminalText string) (FinalizeResult, error) {
	ctx, span := s.tracer.Start(ctx, "trace.finalize")
	defer span.End()
	span.SetAttributes(attribute.String("trace.id", id))

	r, err := s.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return FinalizeResult{}, err
	}
	if r.Status.Terminal() {
		span.SetAttributes(attribute.Bool("trace.already_final", true))
		return FinalizeResult{Record: r, AlreadyFinal: true}, nil
	}

	res := FinalizeResult{}
	summary, synthesized, redactions, err := s.resolveSummary(ctx, r, terminalText)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return FinalizeResult{}, err
	}
	res.Synthesized = synthesized
	res.Redactions = redactions

	// Re-read: a concurrent finalize or self-heal may have won.
	cur, err := s.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return FinalizeResult{}, err
	}
	if cur.Status.Terminal() {
		return FinalizeResult{Record: cur, AlreadyFinal: true}, nil
	}

	now := s.clock.Now().UTC()
	cur.Status = StatusCompleted
	cur.FinishedAt = &now
	cur.Summary = excerpt(summary, excerptBytes)
	if err := s.save(cur); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return FinalizeResult{}, fmt.Errorf("write trace %s: %w", id, err)
	}
	s.removeMarker(ctx, cur)

	cur.Artifacts = s.artifactNames(id)
	res.Record = cur
	s.finalCounter.Add(ctx, 1, metricAttrs(cur.WorkerType, "synthesized", synthesized))
	s.logger.Info(ctx, "trace finalized",
		zap.String("trace.id", id),
		zap.Bool("synthesized", synthesized),
		zap.Duration("elapsed", cur.Elapsed(now)))
	return res, nil
}

// resolveSummary keeps a sufficient worker-written summary, else writes the
// scrubbed terminal text, else a diagnostic one.
func (s *Store) resolveSummary(ctx context.Context, r *Record, terminalText string) (string, bool, int, error) {
	if existing, err := s.ReadArtifact(ctx, r.ID, ArtifactSummary); err == nil &&
		len(strings.TrimSpace(string(existing))) >= s.opts.MinSummaryBytes {
		return string(existing), false, 0, nil
	}

	if len(strings.TrimSpace(terminalText)) >= s.opts.MinSummaryBytes {
		q := redact.Quick(terminalText)
		if err := s.WriteArtifact(ctx, r.ID, ArtifactSummary, []byte(q.Content)); err != nil {
			return "", false, 0, fmt.Errorf("write summary: %w", err)
		}
		return q.Content, false, q.Count(), nil
	}

	diag := s.diagnosticSummary(r)
	if err := s.WriteArtifact(ctx, r.ID, ArtifactSummary, []byte(diag)); err != nil {
		return "", false, 0, fmt.Errorf("write diagnostic summary: %w", err)
	}
	return diag, true, 0, nil
}

func (s *Store) diagnosticSummary(r *Record) string {
	now := s.clock.Now().UTC()
	var b strings.Builder
	fmt.Fprintf(&b, "# Worker produced no summary\n\n")
	fmt.Fprintf(&b, "- timestamp: %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&b, "- worker type: %s\n", r.WorkerType)
	fmt.Fprintf(&b, "- trace: %s\n", r.ID)
	fmt.Fprintf(&b, "- elapsed: %s\n", r.Elapsed(now).Round(time.Second))
	fmt.Fprintf(&b, "- likely cause: forced stop\n")
	return b.String()
}

// SelfHeal completes an active record older than the stale threshold and
// removes any lingering marker. It reports whether a repair happened.
func (s *Store) SelfHeal(ctx context.Context, id string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "trace.self_heal")
	defer span.End()
	span.SetAttributes(attribute.String("trace.id", id))

	r, err := s.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	now := s.clock.Now().UTC()
	age := now.Sub(r.StartedAt)
	if r.Status != StatusActive || age <= s.opts.StaleAfter {
		return false, nil
	}

	note := ""
	if _, err := s.ReadArtifact(ctx, id, ArtifactSummary); errors.Is(err, ErrMissingArtifact) {
		note = fmt.Sprintf("# Trace repaired\n\nTrace %s (%s) was still active after %s and was closed automatically at %s.\nThe worker most likely stopped without running its completion hook.\n",
			id, r.WorkerType, age.Round(time.Second), now.Format(time.RFC3339))
		if err := s.WriteArtifact(ctx, id, ArtifactSummary, []byte(note)); err != nil {
			s.logger.Warn(ctx, "failed to write repair note", zap.String("trace.id", id), zap.Error(err))
		}
	}

	cur, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if cur.Status != StatusActive {
		return false, nil
	}
	cur.Status = StatusCompleted
	cur.FinishedAt = &now
	cur.Repaired = true
	if cur.Summary == "" && note != "" {
		cur.Summary = excerpt(note, excerptBytes)
	}
	if err := s.save(cur); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("write trace %s: %w", id, err)
	}
	if _, err := s.markers.RemoveForInstance(id); err != nil {
		s.logger.Warn(ctx, "failed to remove marker after repair", zap.String("trace.id", id), zap.Error(err))
	}

	s.healedCounter.Add(ctx, 1, metricAttrs(cur.WorkerType, "", false))
	span.SetAttributes(attribute.Bool("trace.healed", true))
	s.logger.Warn(ctx, "repaired stale trace",
		zap.String("trace.id", id),
		zap.String("worker.type", cur.WorkerType),
		zap.Duration("age", age))
	return true, nil
}

// MarkCrashed moves an active record to crashed and removes its marker.
// It reports false when the record was already terminal.
func (s *Store) MarkCrashed(ctx context.Context, id, reason string) (bool, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if r.Status.Terminal() {
		return false, nil
	}
	now := s.clock.Now().UTC()
	r.Status = StatusCrashed
	r.FinishedAt = &now
	r.CrashReason = reason
	if err := s.save(r); err != nil {
		return false, fmt.Errorf("write trace %s: %w", id, err)
	}
	s.removeMarker(ctx, r)
	s.crashedCounter.Add(ctx, 1, metricAttrs(r.WorkerType, "", false))
	s.logger.Warn(ctx, "trace marked crashed", zap.String("trace.id", id), zap.String("reason", reason))
	return true, nil
}

func (s *Store) removeMarker(ctx context.Context, r *Record) {
	if err := s.markers.Remove(r.WorkerType, r.ID); err != nil {
		s.logger.Warn(ctx, "failed to remove marker", zap.String("trace.id", r.ID), zap.Error(err))
	}
}
