// Package trace manages the lifecycle of worker trace records.
//
// A record is created when a dispatch is admitted and is mutated only by
// finalization, crash marking or self-heal repair; it is never deleted.
// Each record lives in its own directory with a trace.json and an
// artifacts/ directory. Writes are atomic renames and no locks are taken:
// every mutation re-reads the record and no-ops when it is already terminal.
package trace

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a record.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCrashed   Status = "crashed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCrashed
}

// Well-known artifact names.
const (
	ArtifactSummary      = "summary.md"
	ArtifactTestResult   = "test-result.txt"
	ArtifactChangedFiles = "changed-files.txt"
)

var (
	// ErrNotFound indicates no record exists for an id.
	ErrNotFound = errors.New("trace not found")

	// ErrCorruptRecord indicates a trace.json that cannot be decoded.
	ErrCorruptRecord = errors.New("trace record corrupt")

	// ErrMissingArtifact indicates a named artifact was never written.
	ErrMissingArtifact = errors.New("artifact missing")

	// ErrInvalidID rejects ids that could escape the traces directory.
	ErrInvalidID = errors.New("invalid trace id")
)

// Record is one worker execution.
type Record struct {
	ID          string     `json:"id"`
	WorkerType  string     `json:"worker_type"`
	Status      Status     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	Repaired    bool       `json:"repaired,omitempty"`
	CrashReason string     `json:"crash_reason,omitempty"`
	SessionID   string     `json:"session_id,omitempty"`
	Workspace   string     `json:"workspace,omitempty"`

	// Artifacts lists the artifact names present on disk. Filled on read.
	Artifacts []string `json:"-"`
}

// Elapsed returns the run time, up to now for an active record.
func (r *Record) Elapsed(now time.Time) time.Duration {
	end := now
	if r.FinishedAt != nil {
		end = *r.FinishedAt
	}
	return end.Sub(r.StartedAt)
}

// HasArtifact reports whether name was listed on read.
func (r *Record) HasArtifact(name string) bool {
	for _, a := range r.Artifacts {
		if a == name {
			return true
		}
	}
	return false
}

const idTimeLayout = "20060102T150405"

var (
	idPattern     = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
	typeSanitizer = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
)

// NewID builds "<worker_type>-<UTC yyyymmddThhmmss>-<8 hex>". Ids of one
// worker type sort by start time.
func NewID(workerType string, now time.Time) string {
	t := typeSanitizer.ReplaceAllString(workerType, "_")
	if t == "" {
		t = "generic"
	}
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%s-%s-%s", t, now.UTC().Format(idTimeLayout), suffix)
}

// ValidateID rejects ids that are not a single safe path element.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// excerpt is the first line of text, cut to n bytes on a rune boundary.
func excerpt(text string, n int) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	if len(text) <= n {
		return text
	}
	cut := n
	for cut > 0 && !utf8RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "…"
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
