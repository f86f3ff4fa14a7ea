package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration for text unmarshaling (YAML, env vars).
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// IsolationPolicy selects how the implementer gate decides whether work is
// happening outside the protected primary workspace.
type IsolationPolicy string

const (
	// IsolationBranch denies only when the current branch is protected.
	IsolationBranch IsolationPolicy = "branch"

	// IsolationWorktree denies when no linked secondary worktree exists and
	// the working directory is not itself a linked worktree.
	IsolationWorktree IsolationPolicy = "worktree"

	// IsolationBranchOrWorktree denies only when on a protected branch AND no
	// linked worktree exists.
	IsolationBranchOrWorktree IsolationPolicy = "branch_or_worktree"
)

// Valid reports whether p is a known policy.
func (p IsolationPolicy) Valid() bool {
	switch p {
	case IsolationBranch, IsolationWorktree, IsolationBranchOrWorktree:
		return true
	}
	return false
}
