package gate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentgate/internal/logging"
	"github.com/fyrsmithlabs/agentgate/internal/notify"
	"github.com/fyrsmithlabs/agentgate/internal/trace"
)

// VerificationGate admits the verifier role only when no implementer is
// still running. Every active implementer trace is considered, not just the
// newest. Stale ones are repaired and markers left behind by the most recent
// finished one are cleared.
type VerificationGate struct {
	role        string
	implementer string
	traces      *trace.Store
	healer      *healer
	clock       clock.Clock
	logger      *logging.Logger
}

func NewVerificationGate(role, implementer string, traces *trace.Store, sink notify.Sink, clk clock.Clock, logger *logging.Logger) *VerificationGate {
	h := newHealer(traces, sink, clk, logger)
	return &VerificationGate{
		role:        role,
		implementer: implementer,
		traces:      traces,
		healer:      h,
		clock:       h.clock,
		logger:      h.logger,
	}
}

func (g *VerificationGate) Name() string { return "verification" }

func (g *VerificationGate) Applies(req Request) bool { return req.WorkerType == g.role }

func (g *VerificationGate) Check(ctx context.Context, req Request) (Decision, error) {
	active, advisories, err := g.healer.stillActive(ctx, g.implementer)
	if err != nil {
		return Decision{}, err
	}
	if len(active) > 0 {
		// oldest
		r := active[len(active)-1]
		age := g.clock.Now().Sub(r.StartedAt).Round(time.Second)
		return Deny(g.Name(), fmt.Sprintf(
			"%s trace %s is still active (running %s); wait for it to finish before dispatching %s",
			g.implementer, r.ID, age, g.role)), nil
	}

	latest, err := g.traces.Latest(ctx, g.implementer)
	if err != nil {
		return Decision{}, fmt.Errorf("latest %s trace: %w", g.implementer, err)
	}
	if latest != nil && latest.Status.Terminal() {
		if n, err := g.traces.Markers().RemoveForInstance(latest.ID); err != nil {
			g.logger.Warn(ctx, "failed to clear lingering marker", zap.String("trace.id", latest.ID), zap.Error(err))
		} else if n > 0 {
			g.logger.Warn(ctx, "cleared lingering marker", zap.String("trace.id", latest.ID), zap.Int("count", n))
		}
	}
	return Allow(strings.Join(advisories, "\n")), nil
}
