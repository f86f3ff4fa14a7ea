// Package git provides the repository facts agentgate gates on: the current
// branch, whether HEAD is detached or unborn, whether the working directory
// is a linked worktree, and which files changed.
//
// Everything is read through go-git; the git binary is never executed.
package git

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"
)

var (
	// ErrNotGitRepo indicates the directory is not inside a Git repository.
	ErrNotGitRepo = errors.New("not a git repository")
)

// Repo is an opened repository together with the location facts go-git
// does not expose directly.
type Repo struct {
	*gogit.Repository

	// Root is the top of the working tree that contains the opened path.
	Root string
	// GitDir is the repository directory for this working tree. For a linked
	// worktree it is <common>/worktrees/<name>.
	GitDir string
	// CommonDir is the shared repository directory. Equal to GitDir for the
	// primary working tree.
	CommonDir string
}

// FindRoot walks up from dir to the nearest directory holding a .git entry.
// A .git directory marks a primary working tree, a .git file a linked one.
func FindRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", dir, err)
	}
	for {
		info, err := os.Stat(filepath.Join(abs, ".git"))
		if err == nil && (info.IsDir() || info.Mode().IsRegular()) {
			return abs, nil
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", fmt.Errorf("%w: %s", ErrNotGitRepo, dir)
		}
		abs = parent
	}
}

// Open opens the repository containing dir. Linked worktrees share objects
// and refs with their common directory.
func Open(dir string) (*Repo, error) {
	root, err := FindRoot(dir)
	if err != nil {
		return nil, err
	}
	r, err := gogit.PlainOpenWithOptions(root, &gogit.PlainOpenOptions{
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotGitRepo, dir)
		}
		return nil, fmt.Errorf("opening repository at %s: %w", root, err)
	}

	gitDir := ResolveGitDir(root)
	if gitDir == "" {
		return nil, fmt.Errorf("%w: unreadable .git in %s", ErrNotGitRepo, root)
	}
	return &Repo{
		Repository: r,
		Root:       root,
		GitDir:     gitDir,
		CommonDir:  resolveCommonDir(gitDir),
	}, nil
}

// ResolveGitDir resolves the .git directory path for a working directory,
// following the "gitdir:" pointer of a linked worktree. Returns "" when
// workDir has no usable .git entry.
func ResolveGitDir(workDir string) string {
	gitPath := filepath.Join(workDir, ".git")
	info, err := os.Stat(gitPath)
	if err != nil {
		return ""
	}
	if info.IsDir() {
		return gitPath
	}
	if !info.Mode().IsRegular() {
		return ""
	}
	contents, err := os.ReadFile(gitPath)
	if err != nil {
		return ""
	}
	line := strings.TrimSpace(strings.SplitN(string(contents), "\n", 2)[0])
	const prefix = "gitdir:"
	if !strings.HasPrefix(line, prefix) {
		return ""
	}
	gitDir := strings.TrimSpace(strings.TrimPrefix(line, prefix))
	if gitDir == "" {
		return ""
	}
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(workDir, gitDir)
	}
	return filepath.Clean(gitDir)
}

func resolveCommonDir(gitDir string) string {
	b, err := os.ReadFile(filepath.Join(gitDir, "commondir"))
	if err != nil {
		return gitDir
	}
	p := strings.TrimSpace(string(b))
	if p == "" {
		return gitDir
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(gitDir, p)
	}
	return filepath.Clean(p)
}

// IsLinkedWorktree reports whether the opened working tree is a secondary
// worktree rather than the primary checkout.
func (r *Repo) IsLinkedWorktree() bool {
	return r.GitDir != r.CommonDir
}

// PrimaryRoot returns the working tree root of the primary checkout, so that
// every worktree of one repository maps to the same project.
func (r *Repo) PrimaryRoot() string {
	if !r.IsLinkedWorktree() {
		return r.Root
	}
	if filepath.Base(r.CommonDir) == ".git" {
		return filepath.Dir(r.CommonDir)
	}
	// bare common directory; the worktree itself is the best anchor
	return r.Root
}

// LinkedWorktrees lists the root paths of all registered secondary worktrees
// that still exist on disk.
func (r *Repo) LinkedWorktrees() ([]string, error) {
	dir := filepath.Join(r.CommonDir, "worktrees")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing worktrees: %w", err)
	}

	var roots []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name(), "gitdir"))
		if err != nil {
			continue
		}
		dotGit := strings.TrimSpace(string(b))
		if dotGit == "" {
			continue
		}
		if !filepath.IsAbs(dotGit) {
			dotGit = filepath.Join(dir, e.Name(), dotGit)
		}
		if _, err := os.Stat(dotGit); err != nil {
			// pruned worktree whose directory is gone
			continue
		}
		roots = append(roots, filepath.Dir(filepath.Clean(dotGit)))
	}
	return roots, nil
}
