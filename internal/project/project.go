package project

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/agentgate/internal/fsutil"
	"github.com/fyrsmithlabs/agentgate/pkg/git"
)

// Common errors.
var (
	ErrEmptyProjectPath = errors.New("project path cannot be empty")
)

// idLength is the number of hex characters kept from the path hash.
const idLength = 12

// Project is a resolved repository root and its state directory.
type Project struct {
	// ID is the stable identifier derived from Root.
	ID string `json:"id"`
	// Root is the primary working tree, or the working directory outside git.
	Root string `json:"root"`
	// WorkDir is the directory the project was resolved from.
	WorkDir string `json:"work_dir"`
	// InGit is false when WorkDir is not inside a repository.
	InGit bool `json:"in_git"`

	layout Layout
}

// Resolve maps a working directory onto its project.
func Resolve(workDir, stateDir string) (*Project, error) {
	if workDir == "" {
		return nil, ErrEmptyProjectPath
	}
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", workDir, err)
	}
	abs = filepath.Clean(abs)

	root, inGit := abs, false
	if repo, err := git.Open(abs); err == nil {
		root, inGit = repo.PrimaryRoot(), true
	}

	id := ID(root)
	return &Project{
		ID:      id,
		Root:    root,
		WorkDir: abs,
		InGit:   inGit,
		layout:  Layout{Dir: filepath.Join(stateDir, "projects", id)},
	}, nil
}

// ID derives the project identifier for an absolute root path.
func ID(root string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(root)))
	return hex.EncodeToString(sum[:])[:idLength]
}

// Layout returns the state paths of the project.
func (p *Project) Layout() Layout {
	return p.layout
}

// Ensure creates the state directory and records the root path in it.
func (p *Project) Ensure() error {
	if err := os.MkdirAll(p.layout.Dir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	existing, err := os.ReadFile(p.layout.RootFile())
	if err == nil && string(existing) == p.Root+"\n" {
		return nil
	}
	return fsutil.WriteFileAtomic(p.layout.RootFile(), []byte(p.Root+"\n"), 0o644)
}
