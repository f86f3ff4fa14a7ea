package checkpoint

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Trigger reasons.
const (
	ReasonInterval   = "interval"
	ReasonFirstTouch = "first-touch"
	ReasonManual     = "manual"
)

// ErrSkipped is wrapped by every SkippedError.
var ErrSkipped = errors.New("checkpoint skipped")

// Skip kinds.
const (
	SkipNotGit          = "not_git"
	SkipDetached        = "detached_head"
	SkipProtectedBranch = "protected_branch"
	SkipMetaWorkspace   = "skip_path"
)

// SkippedError reports why no checkpoint could be taken for a workspace.
type SkippedError struct {
	Kind   string
	Reason string
}

func (e *SkippedError) Error() string { return fmt.Sprintf("%s: %s", ErrSkipped, e.Reason) }

func (e *SkippedError) Unwrap() error { return ErrSkipped }

func skipped(kind, format string, args ...any) error {
	return &SkippedError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Trigger records what caused a checkpoint.
type Trigger struct {
	Reason     string `json:"reason" yaml:"reason"`
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	WriteCount int    `json:"write_count" yaml:"write_count"`
}

// Checkpoint is one published snapshot.
type Checkpoint struct {
	Branch     string    `json:"branch" yaml:"branch"`
	Sequence   int       `json:"sequence" yaml:"sequence"`
	Ref        string    `json:"ref" yaml:"ref"`
	TreeHash   string    `json:"tree_hash" yaml:"tree_hash"`
	CommitHash string    `json:"commit_hash" yaml:"commit_hash"`
	Parent     string    `json:"parent,omitempty" yaml:"parent,omitempty"`
	Trigger    Trigger   `json:"trigger" yaml:"trigger"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

// Outcome is the result of recording one write. Checkpoint is nil when the
// write did not trigger a snapshot.
type Outcome struct {
	WriteCount int
	FirstTouch bool
	Checkpoint *Checkpoint
}

var messagePattern = regexp.MustCompile(`^checkpoint (\S+) trigger=(\S+) file=(.*) writes=(\d+)$`)

func formatMessage(at time.Time, t Trigger) string {
	return fmt.Sprintf("checkpoint %s trigger=%s file=%s writes=%d",
		at.UTC().Format(time.RFC3339), t.Reason, t.File, t.WriteCount)
}

// parseMessage recovers the trigger and timestamp from a commit message.
func parseMessage(msg string) (time.Time, Trigger, bool) {
	m := messagePattern.FindStringSubmatch(firstLine(msg))
	if m == nil {
		return time.Time{}, Trigger{}, false
	}
	at, err := time.Parse(time.RFC3339, m[1])
	if err != nil {
		return time.Time{}, Trigger{}, false
	}
	n, _ := strconv.Atoi(m[4])
	return at, Trigger{Reason: m[2], File: m[3], WriteCount: n}, true
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
