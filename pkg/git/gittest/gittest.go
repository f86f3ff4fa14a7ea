// Package gittest builds throwaway repositories for tests with go-git, so
// tests do not depend on a git binary or the user's git config.
package gittest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

var signature = object.Signature{
	Name:  "Test Author",
	Email: "test@example.com",
	When:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
}

// InitEmpty creates a repository whose HEAD points at an unborn branch.
func InitEmpty(t *testing.T, branch string) string {
	t.Helper()
	dir := t.TempDir()
	_, err := gogit.PlainInitWithOptions(dir, &gogit.PlainInitOptions{
		InitOptions: gogit.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(branch)},
	})
	require.NoError(t, err)
	return dir
}

// Init creates a repository on branch with one commit containing README.md.
func Init(t *testing.T, branch string) string {
	t.Helper()
	dir := InitEmpty(t, branch)
	Commit(t, dir, "README.md", "# test\n", "initial commit")
	return dir
}

// Commit writes name with content, stages it and commits.
func Commit(t *testing.T, dir, name, content, msg string) plumbing.Hash {
	t.Helper()
	WriteFile(t, dir, name, content)

	r, err := gogit.PlainOpen(dir)
	require.NoError(t, err)
	wt, err := r.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(name)
	require.NoError(t, err)
	sig := signature
	h, err := wt.Commit(msg, &gogit.CommitOptions{Author: &sig, Committer: &sig})
	require.NoError(t, err)
	return h
}

// WriteFile writes a file under dir, creating parents.
func WriteFile(t *testing.T, dir, name, content string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

// Checkout switches to branch, creating it from HEAD when create is set.
func Checkout(t *testing.T, dir, branch string, create bool) {
	t.Helper()
	r, err := gogit.PlainOpen(dir)
	require.NoError(t, err)
	wt, err := r.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.Checkout(&gogit.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Create: create,
		Keep:   true,
	}))
}

// Detach points HEAD directly at the current commit.
func Detach(t *testing.T, dir string) {
	t.Helper()
	r, err := gogit.PlainOpen(dir)
	require.NoError(t, err)
	head, err := r.Head()
	require.NoError(t, err)
	require.NoError(t, r.Storer.SetReference(plumbing.NewHashReference(plumbing.HEAD, head.Hash())))
}

// AddLinkedWorktree registers a secondary worktree of the repository at
// mainDir checked out on a new branch, laid out the way `git worktree add`
// does it. Returns the new worktree root.
func AddLinkedWorktree(t *testing.T, mainDir, name, branch string) string {
	t.Helper()
	r, err := gogit.PlainOpen(mainDir)
	require.NoError(t, err)
	head, err := r.Head()
	require.NoError(t, err)
	require.NoError(t, r.Storer.SetReference(
		plumbing.NewHashReference(plumbing.NewBranchReferenceName(branch), head.Hash())))

	wtRoot := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.MkdirAll(wtRoot, 0o755))

	adminDir := filepath.Join(mainDir, ".git", "worktrees", name)
	require.NoError(t, os.MkdirAll(adminDir, 0o755))
	write := func(p, s string) {
		require.NoError(t, os.WriteFile(p, []byte(s), 0o644))
	}
	write(filepath.Join(adminDir, "HEAD"), "ref: refs/heads/"+branch+"\n")
	write(filepath.Join(adminDir, "commondir"), "../..\n")
	write(filepath.Join(adminDir, "gitdir"), filepath.Join(wtRoot, ".git")+"\n")
	write(filepath.Join(wtRoot, ".git"), "gitdir: "+adminDir+"\n")
	return wtRoot
}

// RefHash resolves a full reference name in the repository at dir.
func RefHash(t *testing.T, dir, name string) (plumbing.Hash, bool) {
	t.Helper()
	r, err := gogit.PlainOpen(dir)
	require.NoError(t, err)
	ref, err := r.Reference(plumbing.ReferenceName(name), false)
	if err != nil {
		return plumbing.ZeroHash, false
	}
	return ref.Hash(), true
}
