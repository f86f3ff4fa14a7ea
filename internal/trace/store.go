package trace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentgate/internal/fsutil"
	"github.com/fyrsmithlabs/agentgate/internal/logging"
	"github.com/fyrsmithlabs/agentgate/internal/marker"
	"github.com/fyrsmithlabs/agentgate/internal/project"
	"github.com/fyrsmithlabs/agentgate/internal/telemetry"
)

const instrumentationName = "github.com/fyrsmithlabs/agentgate/internal/trace"

const (
	recordFile   = "trace.json"
	artifactsDir = "artifacts"
	excerptBytes = 200
)

// Options configures a Store.
type Options struct {
	// StaleAfter is how long an active record may run before SelfHeal
	// repairs it.
	StaleAfter time.Duration
	// MinSummaryBytes is the size below which a terminal summary is
	// replaced by a diagnostic one.
	MinSummaryBytes int

	Clock     clock.Clock
	Logger    *logging.Logger
	Telemetry *telemetry.Telemetry
}

// Store reads and writes the trace records of one project.
type Store struct {
	layout  project.Layout
	markers *marker.Set
	opts    Options
	clock   clock.Clock
	logger  *logging.Logger

	tracer         oteltrace.Tracer
	healedCounter  metric.Int64Counter
	finalCounter   metric.Int64Counter
	crashedCounter metric.Int64Counter
}

// InitOptions carries optional context recorded on a new trace.
type InitOptions struct {
	SessionID string
	Workspace string
}

// Filter narrows List.
type Filter struct {
	WorkerType string
	Status     Status
	// Limit keeps the newest n records when positive.
	Limit int
}

// NewStore returns a Store over layout. Markers are created and removed
// together with records.
func NewStore(layout project.Layout, markers *marker.Set, opts Options) *Store {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 300 * time.Second
	}
	if opts.MinSummaryBytes <= 0 {
		opts.MinSummaryBytes = 16
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	s := &Store{
		layout:  layout,
		markers: markers,
		opts:    opts,
		clock:   opts.Clock,
		logger:  opts.Logger.Named("trace"),
		tracer:  opts.Telemetry.Tracer(instrumentationName),
	}
	s.initMetrics(opts.Telemetry.Meter(instrumentationName))
	return s
}

func (s *Store) initMetrics(meter metric.Meter) {
	var err error
	s.healedCounter, err = meter.Int64Counter(
		"agentgate.trace.healed_total",
		metric.WithDescription("Active traces repaired after exceeding the stale threshold"),
		metric.WithUnit("{trace}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create healed counter", zap.Error(err))
	}
	s.finalCounter, err = meter.Int64Counter(
		"agentgate.trace.finalized_total",
		metric.WithDescription("Traces finalized by the completion hook"),
		metric.WithUnit("{trace}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create finalized counter", zap.Error(err))
	}
	s.crashedCounter, err = meter.Int64Counter(
		"agentgate.trace.crashed_total",
		metric.WithDescription("Traces marked crashed"),
		metric.WithUnit("{trace}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create crashed counter", zap.Error(err))
	}
}

// Markers exposes the marker set the store maintains.
func (s *Store) Markers() *marker.Set { return s.markers }

// Get reads one record.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("read trace %s: %w", id, err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, id, err)
	}
	if r.ID == "" || r.WorkerType == "" || r.Status == "" {
		return nil, fmt.Errorf("%w: %s: missing required fields", ErrCorruptRecord, id)
	}
	r.Artifacts = s.artifactNames(id)
	return &r, nil
}

// List returns records matching f, newest first. Corrupt records are
// logged and skipped.
func (s *Store) List(ctx context.Context, f Filter) ([]*Record, error) {
	entries, err := os.ReadDir(s.layout.Traces())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read traces: %w", err)
	}

	out := make([]*Record, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || ValidateID(e.Name()) != nil {
			continue
		}
		r, err := s.Get(ctx, e.Name())
		if err != nil {
			if errors.Is(err, ErrCorruptRecord) {
				s.logger.Warn(ctx, "skipping unreadable trace record", zap.String("trace.id", e.Name()), zap.Error(err))
			}
			continue
		}
		if f.WorkerType != "" && r.WorkerType != f.WorkerType {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// DetectActive returns the most recent active record of workerType, or nil.
func (s *Store) DetectActive(ctx context.Context, workerType string) (*Record, error) {
	recs, err := s.List(ctx, Filter{WorkerType: workerType, Status: StatusActive, Limit: 1})
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// Latest returns the most recent record of workerType in any status, or nil.
func (s *Store) Latest(ctx context.Context, workerType string) (*Record, error) {
	recs, err := s.List(ctx, Filter{WorkerType: workerType, Limit: 1})
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// WriteArtifact stores a named artifact of trace id, replacing any previous
// content.
func (s *Store) WriteArtifact(ctx context.Context, id, name string, data []byte) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := validateArtifactName(name); err != nil {
		return err
	}
	if _, err := os.Stat(s.recordPath(id)); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fsutil.WriteFileAtomic(s.artifactPath(id, name), data, 0o644)
}

// ReadArtifact returns a named artifact or ErrMissingArtifact.
func (s *Store) ReadArtifact(ctx context.Context, id, name string) ([]byte, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if err := validateArtifactName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.artifactPath(id, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrMissingArtifact, id, name)
		}
		return nil, err
	}
	return data, nil
}

func (s *Store) save(r *Record) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}
	return fsutil.WriteFileAtomic(s.recordPath(r.ID), append(data, '\n'), 0o644)
}

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.layout.TraceDir(id), recordFile)
}

func (s *Store) artifactPath(id, name string) string {
	return filepath.Join(s.layout.TraceDir(id), artifactsDir, name)
}

func (s *Store) artifactNames(id string) []string {
	entries, err := os.ReadDir(filepath.Join(s.layout.TraceDir(id), artifactsDir))
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && validateArtifactName(e.Name()) == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func validateArtifactName(name string) error {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." || name[0] == '.' {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	return nil
}
