// Package proof persists the proof-of-work status of a project: whether the
// latest implementation still needs independent verification.
//
// Transitions:
//
//	absent             --Arm-->    needs_verification
//	needs_verification --Verify--> verified           (human Grant only)
//	any                --Reset-->  absent
//
// The file holds a single line "state|RFC3339 timestamp".
package proof

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/fyrsmithlabs/agentgate/internal/approval"
	"github.com/fyrsmithlabs/agentgate/internal/fsutil"
)

// State is a proof-of-work state.
type State string

const (
	Absent            State = "absent"
	NeedsVerification State = "needs_verification"
	Verified          State = "verified"
	// Corrupt is reported for a file that exists but cannot be parsed. It is
	// never written.
	Corrupt State = "corrupt"
)

var (
	// ErrUnreadableState is returned alongside a Corrupt status.
	ErrUnreadableState = errors.New("proof status unreadable")

	// ErrInvalidGrant is returned by Verify for a zero Grant.
	ErrInvalidGrant = errors.New("approval grant is not valid")
)

// Status is the persisted proof state.
type Status struct {
	State State     `json:"state"`
	Since time.Time `json:"since,omitempty"`
}

// AllowsRelease reports whether a release gate may run in this state.
func (s Status) AllowsRelease() bool {
	return s.State == Absent || s.State == Verified
}

// Transition describes the effect of a mutating call.
type Transition struct {
	From    State
	To      State
	Changed bool
}

// Store reads and writes one project's proof-status file.
type Store struct {
	path  string
	clock clock.Clock
}

// NewStore returns a Store for the file at path. A nil clock uses the wall
// clock.
func NewStore(path string, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{path: path, clock: clk}
}

// Read returns the current status. A missing file is Absent. An unparsable
// file is Corrupt together with an error wrapping ErrUnreadableState.
func (s *Store) Read() (Status, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Status{State: Absent}, nil
		}
		return Status{State: Corrupt}, fmt.Errorf("%w: %v", ErrUnreadableState, err)
	}
	st, err := parse(string(data))
	if err != nil {
		return Status{State: Corrupt}, fmt.Errorf("%w: %v", ErrUnreadableState, err)
	}
	return st, nil
}

// Arm moves absent to needs_verification. A corrupt file is overwritten with
// needs_verification, which keeps release gated. Other states are left alone.
func (s *Store) Arm(ctx context.Context) (Transition, error) {
	cur, _ := s.Read()
	switch cur.State {
	case Absent, Corrupt:
		return s.write(cur.State, NeedsVerification)
	default:
		return Transition{From: cur.State, To: cur.State}, nil
	}
}

// Verify moves needs_verification to verified. It is the only writer of
// verified and requires a Grant produced by the approval classifier.
func (s *Store) Verify(ctx context.Context, grant approval.Grant) (Transition, error) {
	if !grant.Valid() {
		return Transition{}, ErrInvalidGrant
	}
	cur, err := s.Read()
	if err != nil {
		return Transition{From: cur.State, To: cur.State}, err
	}
	if cur.State != NeedsVerification {
		return Transition{From: cur.State, To: cur.State}, nil
	}
	return s.write(cur.State, Verified)
}

// Reset returns the project to absent.
func (s *Store) Reset(ctx context.Context) (Transition, error) {
	cur, _ := s.Read()
	if cur.State == Absent {
		return Transition{From: Absent, To: Absent}, nil
	}
	return s.write(cur.State, Absent)
}

func (s *Store) write(from, to State) (Transition, error) {
	line := fmt.Sprintf("%s|%s\n", to, s.clock.Now().UTC().Format(time.RFC3339))
	if err := fsutil.WriteFileAtomic(s.path, []byte(line), 0o644); err != nil {
		return Transition{From: from, To: from}, fmt.Errorf("write proof status: %w", err)
	}
	return Transition{From: from, To: to, Changed: true}, nil
}

func parse(raw string) (Status, error) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return Status{}, errors.New("empty file")
	}
	stateStr, tsStr, hasTS := strings.Cut(line, "|")
	st := Status{State: State(strings.TrimSpace(stateStr))}
	switch st.State {
	case Absent, NeedsVerification, Verified:
	default:
		return Status{}, fmt.Errorf("unknown state %q", stateStr)
	}
	if hasTS && strings.TrimSpace(tsStr) != "" {
		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(tsStr))
		if err != nil {
			return Status{}, fmt.Errorf("bad timestamp %q: %w", tsStr, err)
		}
		st.Since = ts
	}
	return st, nil
}
