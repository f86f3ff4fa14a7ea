package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentgate/internal/logging"
	"github.com/fyrsmithlabs/agentgate/internal/notify"
	"github.com/fyrsmithlabs/agentgate/internal/trace"
)

// healer repairs stale traces on behalf of the gates and reports each repair.
type healer struct {
	traces *trace.Store
	sink   notify.Sink
	clock  clock.Clock
	logger *logging.Logger
}

func newHealer(traces *trace.Store, sink notify.Sink, clk clock.Clock, logger *logging.Logger) *healer {
	if sink == nil {
		sink = notify.Nop{}
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &healer{traces: traces, sink: sink, clock: clk, logger: logger}
}

// heal self-heals trace id and returns the advisory for a repair, or "".
func (h *healer) heal(ctx context.Context, id, workerType string) (string, error) {
	healed, err := h.traces.SelfHeal(ctx, id)
	if err != nil {
		return "", fmt.Errorf("self-heal %s: %w", id, err)
	}
	if !healed {
		return "", nil
	}
	msg := fmt.Sprintf("%s trace %s was stale and has been closed automatically; its summary may be incomplete",
		workerType, id)
	if err := h.sink.Notify(ctx, notify.Event{
		Kind:       notify.KindHealed,
		WorkerType: workerType,
		TraceID:    id,
		Message:    msg,
		At:         h.clock.Now().UTC(),
	}); err != nil {
		h.logger.Warn(ctx, "notification failed", zap.Error(err))
	}
	return msg, nil
}

// stillActive self-heals every active trace of workerType. It returns the
// records that remain active, newest first, and the repair advisories.
func (h *healer) stillActive(ctx context.Context, workerType string) ([]*trace.Record, []string, error) {
	recs, err := h.traces.List(ctx, trace.Filter{WorkerType: workerType, Status: trace.StatusActive})
	if err != nil {
		return nil, nil, fmt.Errorf("list active %s traces: %w", workerType, err)
	}
	var (
		active     []*trace.Record
		advisories []string
	)
	for _, r := range recs {
		msg, err := h.heal(ctx, r.ID, workerType)
		if err != nil {
			return nil, nil, err
		}
		if msg != "" {
			advisories = append(advisories, msg)
			continue
		}
		active = append(active, r)
	}
	return active, advisories, nil
}

// sweepMarkers reconciles markers with their traces: markers of finished
// traces are removed and stale active traces are healed. Markers with no
// readable trace are left alone. It returns the repair advisories.
func (h *healer) sweepMarkers(ctx context.Context) ([]string, error) {
	markers, err := h.traces.Markers().List()
	if err != nil {
		return nil, fmt.Errorf("list markers: %w", err)
	}
	var advisories []string
	for _, m := range markers {
		rec, err := h.traces.Get(ctx, m.InstanceID)
		switch {
		case errors.Is(err, trace.ErrNotFound), errors.Is(err, trace.ErrInvalidID), errors.Is(err, trace.ErrCorruptRecord):
			continue
		case err != nil:
			return nil, err
		}
		if rec.Status.Terminal() {
			if _, err := h.traces.Markers().RemoveForInstance(rec.ID); err != nil {
				h.logger.Warn(ctx, "failed to clear lingering marker", zap.String("trace.id", rec.ID), zap.Error(err))
			} else {
				h.logger.Warn(ctx, "cleared lingering marker", zap.String("trace.id", rec.ID))
			}
			continue
		}
		msg, err := h.heal(ctx, rec.ID, rec.WorkerType)
		if err != nil {
			return nil, err
		}
		if msg != "" {
			advisories = append(advisories, msg)
		}
	}
	return advisories, nil
}
