package gate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fyrsmithlabs/agentgate/internal/config"
	"github.com/fyrsmithlabs/agentgate/internal/logging"
	"github.com/fyrsmithlabs/agentgate/internal/marker"
	"github.com/fyrsmithlabs/agentgate/internal/notify"
	"github.com/fyrsmithlabs/agentgate/internal/project"
	"github.com/fyrsmithlabs/agentgate/internal/proof"
	"github.com/fyrsmithlabs/agentgate/internal/telemetry"
	"github.com/fyrsmithlabs/agentgate/internal/trace"
	"github.com/fyrsmithlabs/agentgate/pkg/git/gittest"
)

type env struct {
	engine *Engine
	cfg    *config.Config
	clock  *clock.Mock
	layout project.Layout
	traces *trace.Store
	proof  *proof.Store
	sink   *notify.MemorySink
	tel    *telemetry.TestTelemetry
}

func newEnv(t *testing.T, mutate func(*config.Config)) *env {
	t.Helper()
	cfg := config.Resolved()
	if mutate != nil {
		mutate(cfg)
	}
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	layout := project.Layout{Dir: t.TempDir()}
	logger := logging.NewTestLogger().Logger
	tel := telemetry.NewTestTelemetry()

	traces := trace.NewStore(layout, marker.NewSet(layout.Markers(), clk), trace.Options{
		StaleAfter:      cfg.Trace.StaleAfter.Duration(),
		MinSummaryBytes: cfg.Trace.MinSummaryBytes,
		Clock:           clk,
		Logger:          logger,
		Telemetry:       tel.Telemetry,
	})
	ps := proof.NewStore(layout.ProofStatus(), clk)
	sink := &notify.MemorySink{}

	e := NewEngine(cfg, Deps{
		ProjectID: "abc123",
		Layout:    layout,
		Traces:    traces,
		Proof:     ps,
		Sink:      sink,
		Clock:     clk,
		Logger:    logger,
		Telemetry: tel.Telemetry,
	})
	return &env{engine: e, cfg: cfg, clock: clk, layout: layout, traces: traces, proof: ps, sink: sink, tel: tel}
}

// featureRepo returns a repository checked out on a feature branch.
func featureRepo(t *testing.T) string {
	t.Helper()
	dir := gittest.Init(t, "main")
	gittest.Checkout(t, dir, "feature/x", true)
	return dir
}

func (e *env) proofState(t *testing.T) proof.State {
	t.Helper()
	st, err := e.proof.Read()
	require.NoError(t, err)
	return st.State
}

func TestConcurrencyGuard_DeniesFourth(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	cwd := t.TempDir()

	for i := 0; i < 3; i++ {
		res, err := e.engine.Evaluate(ctx, Request{WorkerType: "explore", Cwd: cwd})
		require.NoError(t, err)
		require.True(t, res.Decision.Allowed)
		require.NotNil(t, res.Trace)
	}

	for _, wt := range []string{"explore", "implementer", "tester", "guardian", "generic"} {
		res, err := e.engine.Evaluate(ctx, Request{WorkerType: wt, Cwd: cwd})
		require.NoError(t, err)
		assert.False(t, res.Decision.Allowed, wt)
		assert.Equal(t, "concurrency", res.Decision.Gate)
		assert.Equal(t, "3 agents already active (limit 3)", res.Decision.Reason)
		assert.Nil(t, res.Trace)
	}

	n, err := e.traces.Markers().Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n, "denied dispatches create no markers")

	assert.Equal(t, int64(5), e.tel.CounterValue(t, "agentgate.dispatch.denied_total", attribute.String("gate", "concurrency")))
	assert.Equal(t, int64(3), e.tel.CounterValue(t, "agentgate.dispatch.admitted_total"))
	assert.Len(t, e.sink.OfKind(notify.KindDenied), 5)
	e.tel.AssertSpanExists(t, "gate.evaluate")
}

func TestConcurrencyGuard_CountsHandMadeMarkers(t *testing.T) {
	e := newEnv(t, nil)
	require.NoError(t, os.MkdirAll(e.layout.Markers(), 0o755))
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(fmt.Sprintf("%s/worker.%d", e.layout.Markers(), i), nil, 0o644))
	}
	res, err := e.engine.Evaluate(context.Background(), Request{WorkerType: "generic", Cwd: t.TempDir()})
	require.NoError(t, err)
	assert.False(t, res.Decision.Allowed)
	assert.Contains(t, res.Decision.Reason, "3 agents already active")
}

func TestConcurrencyGuard_ConfiguredLimit(t *testing.T) {
	e := newEnv(t, func(c *config.Config) { c.Dispatch.MaxConcurrent = 1 })
	ctx := context.Background()
	_, err := e.engine.Evaluate(ctx, Request{WorkerType: "explore", Cwd: t.TempDir()})
	require.NoError(t, err)
	res, err := e.engine.Evaluate(ctx, Request{WorkerType: "explore", Cwd: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "1 agents already active (limit 1)", res.Decision.Reason)
}

func TestReleaseGate(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		allowed bool
		state   string
	}{
		{"absent", "", true, ""},
		{"verified", "verified|2026-03-01T12:00:00Z\n", true, ""},
		{"needs verification", "needs_verification|2026-03-01T12:00:00Z\n", false, "needs_verification"},
		{"corrupt", "garbage", false, "corrupt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, nil)
			if tt.file != "" {
				require.NoError(t, os.MkdirAll(e.layout.Dir, 0o755))
				require.NoError(t, os.WriteFile(e.layout.ProofStatus(), []byte(tt.file), 0o644))
			}
			res, err := e.engine.Evaluate(context.Background(), Request{WorkerType: "guardian", Cwd: t.TempDir()})
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, res.Decision.Allowed)
			if !tt.allowed {
				assert.Equal(t, "release", res.Decision.Gate)
				assert.Contains(t, res.Decision.Reason, tt.state)
				assert.Contains(t, res.Decision.Reason, "tester")
				var denied *DeniedError
				require.True(t, errors.As(res.Decision.Err(), &denied))
				assert.ErrorIs(t, res.Decision.Err(), ErrAdmissionDenied)
			}
		})
	}
}

func TestVerificationGate_NoImplementer(t *testing.T) {
	e := newEnv(t, nil)
	res, err := e.engine.Evaluate(context.Background(), Request{WorkerType: "tester", Cwd: t.TempDir()})
	require.NoError(t, err)
	assert.True(t, res.Decision.Allowed)
}

func TestVerificationGate_ClearsLingeringMarker(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	rec, err := e.traces.Init(ctx, "implementer", trace.InitOptions{})
	require.NoError(t, err)
	_, err = e.traces.Finalize(ctx, rec.ID, "implementation complete and tested")
	require.NoError(t, err)
	// Simulate a marker that survived finalization.
	require.NoError(t, e.traces.Markers().Create("implementer", rec.ID))

	res, err := e.engine.Evaluate(ctx, Request{WorkerType: "tester", Cwd: t.TempDir()})
	require.NoError(t, err)
	assert.True(t, res.Decision.Allowed)
	assert.False(t, e.traces.Markers().Exists("implementer", rec.ID))
}

func TestVerificationGate_CrashedImplementerAdmits(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	rec, err := e.traces.Init(ctx, "implementer", trace.InitOptions{})
	require.NoError(t, err)
	_, err = e.traces.MarkCrashed(ctx, rec.ID, "killed")
	require.NoError(t, err)

	res, err := e.engine.Evaluate(ctx, Request{WorkerType: "tester", Cwd: t.TempDir()})
	require.NoError(t, err)
	assert.True(t, res.Decision.Allowed)
}

func TestImplementerGate_Policies(t *testing.T) {
	type repoKind int
	const (
		onMain repoKind = iota
		onFeature
		mainWithWorktree
		inWorktree
		detached
	)
	setup := func(t *testing.T, k repoKind) string {
		switch k {
		case onMain:
			return gittest.Init(t, "main")
		case onFeature:
			return featureRepo(t)
		case mainWithWorktree:
			dir := gittest.Init(t, "main")
			gittest.AddLinkedWorktree(t, dir, "wt", "feature/wt")
			return dir
		case inWorktree:
			dir := gittest.Init(t, "main")
			return gittest.AddLinkedWorktree(t, dir, "wt", "feature/wt")
		default:
			dir := gittest.Init(t, "main")
			gittest.Detach(t, dir)
			return dir
		}
	}

	tests := []struct {
		policy config.IsolationPolicy
		kind   repoKind
		allow  bool
	}{
		{config.IsolationBranchOrWorktree, onMain, false},
		{config.IsolationBranchOrWorktree, onFeature, true},
		{config.IsolationBranchOrWorktree, mainWithWorktree, true},
		{config.IsolationBranchOrWorktree, inWorktree, true},
		{config.IsolationBranchOrWorktree, detached, true},
		{config.IsolationBranch, onMain, false},
		{config.IsolationBranch, mainWithWorktree, false},
		{config.IsolationBranch, onFeature, true},
		{config.IsolationWorktree, onFeature, false},
		{config.IsolationWorktree, onMain, false},
		{config.IsolationWorktree, mainWithWorktree, true},
		{config.IsolationWorktree, inWorktree, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d", tt.policy, tt.kind), func(t *testing.T) {
			e := newEnv(t, func(c *config.Config) { c.Dispatch.IsolationPolicy = tt.policy })
			cwd := setup(t, tt.kind)

			res, err := e.engine.Evaluate(context.Background(), Request{WorkerType: "implementer", Cwd: cwd})
			require.NoError(t, err)
			assert.Equal(t, tt.allow, res.Decision.Allowed, res.Decision.Reason)
			if tt.allow {
				assert.Equal(t, proof.NeedsVerification, e.proofState(t))
				_, err := os.Stat(e.layout.ActiveWorktree())
				assert.NoError(t, err, "breadcrumb written on admit")
			} else {
				assert.Equal(t, "implementer", res.Decision.Gate)
				assert.Contains(t, res.Decision.Reason, "isolated worktree")
				assert.Equal(t, proof.Absent, e.proofState(t), "deny has no side effects")
				assert.NoFileExists(t, e.layout.ActiveWorktree())
			}
		})
	}
}

func TestImplementerGate_BreadcrumbNamesWorktree(t *testing.T) {
	e := newEnv(t, nil)
	dir := gittest.Init(t, "main")
	wt := gittest.AddLinkedWorktree(t, dir, "wt", "feature/wt")

	res, err := e.engine.Evaluate(context.Background(), Request{WorkerType: "implementer", Cwd: dir})
	require.NoError(t, err)
	require.True(t, res.Decision.Allowed)
	assert.Equal(t, wt, res.Decision.Workspace)
	assert.Equal(t, wt, res.Trace.Workspace)

	data, err := os.ReadFile(e.layout.ActiveWorktree())
	require.NoError(t, err)
	assert.Equal(t, wt, strings.TrimSpace(string(data)))
}

func TestImplementerGate_OutsideGit(t *testing.T) {
	e := newEnv(t, nil)
	res, err := e.engine.Evaluate(context.Background(), Request{WorkerType: "implementer", Cwd: t.TempDir()})
	require.NoError(t, err)
	assert.True(t, res.Decision.Allowed)
	assert.Contains(t, res.Decision.Advisory, "not inside a git repository")
	assert.Equal(t, proof.NeedsVerification, e.proofState(t))
}

func TestImplementerGate_VerifiedStaysVerified(t *testing.T) {
	e := newEnv(t, nil)
	require.NoError(t, os.MkdirAll(e.layout.Dir, 0o755))
	require.NoError(t, os.WriteFile(e.layout.ProofStatus(), []byte("verified|2026-03-01T11:00:00Z\n"), 0o644))

	res, err := e.engine.Evaluate(context.Background(), Request{WorkerType: "implementer", Cwd: featureRepo(t)})
	require.NoError(t, err)
	assert.True(t, res.Decision.Allowed)
	assert.Equal(t, proof.Verified, e.proofState(t))
}

func TestScenario_ImplementerThenTester(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	cwd := featureRepo(t)

	impl, err := e.engine.Evaluate(ctx, Request{WorkerType: "implementer", Cwd: cwd, SessionID: "s1"})
	require.NoError(t, err)
	require.True(t, impl.Decision.Allowed)
	assert.Equal(t, proof.NeedsVerification, e.proofState(t))

	tester, err := e.engine.Evaluate(ctx, Request{WorkerType: "tester", Cwd: cwd})
	require.NoError(t, err)
	assert.False(t, tester.Decision.Allowed)
	assert.Equal(t, "verification", tester.Decision.Gate)
	assert.Contains(t, tester.Decision.Reason, impl.Trace.ID)

	guardian, err := e.engine.Evaluate(ctx, Request{WorkerType: "guardian", Cwd: cwd})
	require.NoError(t, err)
	assert.False(t, guardian.Decision.Allowed)

	e.clock.Add(301 * time.Second)
	tester, err = e.engine.Evaluate(ctx, Request{WorkerType: "tester", Cwd: cwd})
	require.NoError(t, err)
	assert.True(t, tester.Decision.Allowed)
	assert.Contains(t, tester.Decision.Advisory, "closed automatically")

	rec, err := e.traces.Get(ctx, impl.Trace.ID)
	require.NoError(t, err)
	assert.Equal(t, trace.StatusCompleted, rec.Status)
	assert.True(t, rec.Repaired)
	assert.False(t, e.traces.Markers().Exists("implementer", impl.Trace.ID))

	assert.Len(t, e.sink.OfKind(notify.KindHealed), 1)
	assert.Equal(t, int64(1), e.tel.CounterValue(t, "agentgate.trace.healed_total"))
	assert.Equal(t, int64(1), e.tel.CounterValue(t, "agentgate.dispatch.denied_total", attribute.String("gate", "verification")))
}

func TestImplementerGate_OneActiveAtATime(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	cwd := featureRepo(t)

	first, err := e.engine.Evaluate(ctx, Request{WorkerType: "implementer", Cwd: cwd})
	require.NoError(t, err)
	require.True(t, first.Decision.Allowed)

	e.clock.Add(10 * time.Second)
	second, err := e.engine.Evaluate(ctx, Request{WorkerType: "implementer", Cwd: cwd})
	require.NoError(t, err)
	assert.False(t, second.Decision.Allowed)
	assert.Equal(t, "implementer", second.Decision.Gate)
	assert.Contains(t, second.Decision.Reason, first.Trace.ID)
	assert.Nil(t, second.Trace)

	active, err := e.traces.List(ctx, trace.Filter{WorkerType: "implementer", Status: trace.StatusActive})
	require.NoError(t, err)
	assert.Len(t, active, 1)

	e.clock.Add(291 * time.Second)
	second, err = e.engine.Evaluate(ctx, Request{WorkerType: "implementer", Cwd: cwd})
	require.NoError(t, err)
	assert.True(t, second.Decision.Allowed, second.Decision.Reason)
	assert.Contains(t, second.Decision.Advisory, first.Trace.ID+" was stale and has been closed automatically")
	assert.Len(t, e.sink.OfKind(notify.KindHealed), 1)
}

func TestVerificationGate_WaitsForEveryActiveImplementer(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	older, err := e.traces.Init(ctx, "implementer", trace.InitOptions{})
	require.NoError(t, err)
	e.clock.Add(10 * time.Second)
	newer, err := e.traces.Init(ctx, "implementer", trace.InitOptions{})
	require.NoError(t, err)
	_, err = e.traces.Finalize(ctx, newer.ID, "implementation complete and tested")
	require.NoError(t, err)

	res, err := e.engine.Evaluate(ctx, Request{WorkerType: "tester", Cwd: t.TempDir()})
	require.NoError(t, err)
	assert.False(t, res.Decision.Allowed, "older implementer is still running")
	assert.Equal(t, "verification", res.Decision.Gate)
	assert.Contains(t, res.Decision.Reason, older.ID)
	assert.True(t, e.traces.Markers().Exists("implementer", older.ID))
	assert.False(t, e.traces.Markers().Exists("implementer", newer.ID))

	e.clock.Add(291 * time.Second)
	res, err = e.engine.Evaluate(ctx, Request{WorkerType: "tester", Cwd: t.TempDir()})
	require.NoError(t, err)
	assert.True(t, res.Decision.Allowed, res.Decision.Reason)
	assert.Contains(t, res.Decision.Advisory, older.ID)

	rec, err := e.traces.Get(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, trace.StatusCompleted, rec.Status)
	assert.True(t, rec.Repaired)
	assert.False(t, e.traces.Markers().Exists("implementer", older.ID))
}

func TestConcurrencyGuard_SweepsStaleWorkers(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	cwd := t.TempDir()

	var ids []string
	for i := 0; i < 3; i++ {
		res, err := e.engine.Evaluate(ctx, Request{WorkerType: "explore", Cwd: cwd})
		require.NoError(t, err)
		require.True(t, res.Decision.Allowed)
		ids = append(ids, res.Trace.ID)
	}

	e.clock.Add(301 * time.Second)
	res, err := e.engine.Evaluate(ctx, Request{WorkerType: "explore", Cwd: cwd})
	require.NoError(t, err)
	assert.True(t, res.Decision.Allowed, res.Decision.Reason)
	assert.Contains(t, res.Decision.Advisory, "closed automatically")

	for _, id := range ids {
		rec, err := e.traces.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, trace.StatusCompleted, rec.Status, id)
		assert.True(t, rec.Repaired, id)
	}
	n, err := e.traces.Markers().Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, e.sink.OfKind(notify.KindHealed), 3)
	assert.Equal(t, int64(3), e.tel.CounterValue(t, "agentgate.trace.healed_total"))
}

func TestConcurrencyGuard_SweepsFinishedTraceMarkers(t *testing.T) {
	e := newEnv(t, func(c *config.Config) { c.Dispatch.MaxConcurrent = 1 })
	ctx := context.Background()
	rec, err := e.traces.Init(ctx, "explore", trace.InitOptions{})
	require.NoError(t, err)
	_, err = e.traces.Finalize(ctx, rec.ID, "explored the package layout and wrote it down")
	require.NoError(t, err)
	// Simulate a marker that survived finalization.
	require.NoError(t, e.traces.Markers().Create("explore", rec.ID))

	res, err := e.engine.Evaluate(ctx, Request{WorkerType: "explore", Cwd: t.TempDir()})
	require.NoError(t, err)
	assert.True(t, res.Decision.Allowed, res.Decision.Reason)
	assert.False(t, e.traces.Markers().Exists("explore", rec.ID))
	assert.Empty(t, e.sink.OfKind(notify.KindHealed))
}

func TestDecision_Err(t *testing.T) {
	assert.NoError(t, Allow("").Err())
	err := Deny("release", "nope").Err()
	assert.ErrorIs(t, err, ErrAdmissionDenied)
	assert.Equal(t, "admission denied: release gate: nope", err.Error())
}
