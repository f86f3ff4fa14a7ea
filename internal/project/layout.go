package project

import (
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// Layout names every file under one project's state directory.
type Layout struct {
	Dir string
}

func (l Layout) RootFile() string       { return filepath.Join(l.Dir, "project") }
func (l Layout) ProofStatus() string    { return filepath.Join(l.Dir, "proof-status") }
func (l Layout) ActiveWorktree() string { return filepath.Join(l.Dir, "active-worktree") }
func (l Layout) Markers() string        { return filepath.Join(l.Dir, "markers") }
func (l Layout) Traces() string         { return filepath.Join(l.Dir, "traces") }
func (l Layout) Sessions() string       { return filepath.Join(l.Dir, "sessions") }
func (l Layout) Checkpoints() string    { return filepath.Join(l.Dir, "checkpoints") }

// TraceDir is the directory of one trace record.
func (l Layout) TraceDir(traceID string) string {
	return filepath.Join(l.Traces(), traceID)
}

// SessionDir is the directory of one host session.
func (l Layout) SessionDir(sessionID string) string {
	return filepath.Join(l.Sessions(), SafeName(sessionID))
}

// TouchedFlag is the first-touch flag for path within a session.
func (l Layout) TouchedFlag(sessionID, path string) string {
	sum := sha1.Sum([]byte(path))
	return filepath.Join(l.SessionDir(sessionID), "touched", hex.EncodeToString(sum[:]))
}

// CheckpointClaims is the claim directory for one branch.
func (l Layout) CheckpointClaims(branch string) string {
	return filepath.Join(l.Checkpoints(), BranchSlug(branch))
}

// BranchSlug flattens a branch name into a single path element.
func BranchSlug(branch string) string {
	return strings.NewReplacer("/", "__", "\\", "__", ":", "_").Replace(branch)
}

// SafeName keeps ids from escaping their parent directory.
func SafeName(id string) string {
	if id == "" || id == "." || id == ".." {
		return "_"
	}
	return strings.NewReplacer("/", "_", "\\", "_", "\x00", "_").Replace(id)
}
