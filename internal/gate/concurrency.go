package gate

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/agentgate/internal/marker"
)

// ConcurrencyGuard denies once max markers are present. At the limit it
// first sweeps markers whose workers finished or went stale, so workers
// that never ran their completion hook do not hold slots forever.
type ConcurrencyGuard struct {
	markers *marker.Set
	max     int
	healer  *healer
}

// NewConcurrencyGuard returns a guard over markers without the sweep; the
// engine attaches one.
func NewConcurrencyGuard(markers *marker.Set, max int) *ConcurrencyGuard {
	return &ConcurrencyGuard{markers: markers, max: max}
}

func (g *ConcurrencyGuard) Name() string { return "concurrency" }

func (g *ConcurrencyGuard) Applies(Request) bool { return true }

func (g *ConcurrencyGuard) Check(ctx context.Context, req Request) (Decision, error) {
	n, err := g.markers.Count()
	if err != nil {
		return Decision{}, fmt.Errorf("count markers: %w", err)
	}
	if n < g.max {
		return Allow(""), nil
	}
	if g.healer == nil {
		return g.deny(n), nil
	}

	advisories, err := g.healer.sweepMarkers(ctx)
	if err != nil {
		return Decision{}, err
	}
	if n, err = g.markers.Count(); err != nil {
		return Decision{}, fmt.Errorf("count markers: %w", err)
	}
	if n >= g.max {
		return g.deny(n), nil
	}
	return Allow(strings.Join(advisories, "\n")), nil
}

func (g *ConcurrencyGuard) deny(n int) Decision {
	return Deny(g.Name(), fmt.Sprintf("%d agents already active (limit %d)", n, g.max))
}
