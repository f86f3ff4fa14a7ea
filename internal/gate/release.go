package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/agentgate/internal/proof"
)

// ReleaseGate admits the release role only when the proof-of-work status is
// absent or verified. An unreadable status denies.
type ReleaseGate struct {
	role     string
	verifier string
	proof    *proof.Store
}

func NewReleaseGate(role, verifier string, store *proof.Store) *ReleaseGate {
	return &ReleaseGate{role: role, verifier: verifier, proof: store}
}

func (g *ReleaseGate) Name() string { return "release" }

func (g *ReleaseGate) Applies(req Request) bool { return req.WorkerType == g.role }

func (g *ReleaseGate) Check(ctx context.Context, req Request) (Decision, error) {
	st, err := g.proof.Read()
	if err != nil && !errors.Is(err, proof.ErrUnreadableState) {
		return Decision{}, err
	}
	if st.AllowsRelease() {
		return Allow(""), nil
	}
	return Deny(g.Name(), fmt.Sprintf(
		"proof-of-work status is %s: run a %s worker on the latest implementation and get human approval before dispatching %s",
		st.State, g.verifier, g.role)), nil
}
