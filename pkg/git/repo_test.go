package git

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentgate/pkg/git/gittest"
)

func TestOpen_NotARepo(t *testing.T) {
	_, err := Open(t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotGitRepo)
}

func TestOpen_FromSubdirectory(t *testing.T) {
	dir := gittest.Init(t, "main")
	sub := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	r, err := Open(sub)
	require.NoError(t, err)
	assert.Equal(t, dir, r.Root)
	assert.Equal(t, filepath.Join(dir, ".git"), r.GitDir)
	assert.False(t, r.IsLinkedWorktree())
	assert.Equal(t, dir, r.PrimaryRoot())
}

func TestOpen_LinkedWorktree(t *testing.T) {
	main := gittest.Init(t, "main")
	wt := gittest.AddLinkedWorktree(t, main, "feat", "feature/x")

	r, err := Open(wt)
	require.NoError(t, err)
	assert.True(t, r.IsLinkedWorktree())
	assert.Equal(t, wt, r.Root)
	assert.Equal(t, filepath.Join(main, ".git"), r.CommonDir)
	assert.Equal(t, main, r.PrimaryRoot())

	h, err := r.Head()
	require.NoError(t, err)
	assert.Equal(t, "feature/x", h.Branch)
	assert.False(t, h.Unborn)
}

func TestLinkedWorktrees(t *testing.T) {
	main := gittest.Init(t, "main")

	r, err := Open(main)
	require.NoError(t, err)
	roots, err := r.LinkedWorktrees()
	require.NoError(t, err)
	assert.Empty(t, roots)

	wt := gittest.AddLinkedWorktree(t, main, "feat", "feature/x")
	roots, err = r.LinkedWorktrees()
	require.NoError(t, err)
	assert.Equal(t, []string{wt}, roots)

	// a pruned worktree directory no longer counts
	require.NoError(t, os.RemoveAll(wt))
	roots, err = r.LinkedWorktrees()
	require.NoError(t, err)
	assert.Empty(t, roots)
}

func TestResolveGitDir(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) (string, string)
	}{
		{
			name: "directory",
			setup: func(t *testing.T) (string, string) {
				dir := t.TempDir()
				require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
				return dir, filepath.Join(dir, ".git")
			},
		},
		{
			name: "relative gitdir file",
			setup: func(t *testing.T) (string, string) {
				dir := t.TempDir()
				require.NoError(t, os.WriteFile(filepath.Join(dir, ".git"), []byte("gitdir: ../main/.git/worktrees/wt\n"), 0o644))
				return dir, filepath.Join(filepath.Dir(dir), "main", ".git", "worktrees", "wt")
			},
		},
		{
			name: "garbage file",
			setup: func(t *testing.T) (string, string) {
				dir := t.TempDir()
				require.NoError(t, os.WriteFile(filepath.Join(dir, ".git"), []byte("nope"), 0o644))
				return dir, ""
			},
		},
		{
			name: "missing",
			setup: func(t *testing.T) (string, string) {
				return t.TempDir(), ""
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, want := tt.setup(t)
			assert.Equal(t, want, ResolveGitDir(dir))
		})
	}
}
