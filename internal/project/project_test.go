package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentgate/pkg/git/gittest"
)

func TestResolve_OutsideGit(t *testing.T) {
	work := t.TempDir()
	state := t.TempDir()

	p, err := Resolve(work, state)
	require.NoError(t, err)
	assert.False(t, p.InGit)
	assert.Equal(t, work, p.Root)
	assert.Len(t, p.ID, 12)
	assert.Equal(t, filepath.Join(state, "projects", p.ID), p.Layout().Dir)
}

func TestResolve_SubdirectoryMapsToRoot(t *testing.T) {
	repo := gittest.Init(t, "main")
	sub := filepath.Join(repo, "pkg", "x")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	a, err := Resolve(repo, t.TempDir())
	require.NoError(t, err)
	b, err := Resolve(sub, t.TempDir())
	require.NoError(t, err)

	assert.True(t, a.InGit)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, repo, b.Root)
	assert.Equal(t, sub, b.WorkDir)
}

func TestResolve_LinkedWorktreeSharesProject(t *testing.T) {
	main := gittest.Init(t, "main")
	wt := gittest.AddLinkedWorktree(t, main, "feat", "feature/a")

	a, err := Resolve(main, t.TempDir())
	require.NoError(t, err)
	b, err := Resolve(wt, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, wt, b.WorkDir)
}

func TestResolve_Empty(t *testing.T) {
	_, err := Resolve("", t.TempDir())
	assert.ErrorIs(t, err, ErrEmptyProjectPath)
}

func TestID_StableAndDistinct(t *testing.T) {
	assert.Equal(t, ID("/a/b"), ID("/a/b/"))
	assert.NotEqual(t, ID("/a/b"), ID("/a/c"))
}

func TestEnsure_WritesRootFile(t *testing.T) {
	p, err := Resolve(t.TempDir(), t.TempDir())
	require.NoError(t, err)
	require.NoError(t, p.Ensure())
	require.NoError(t, p.Ensure())

	b, err := os.ReadFile(p.Layout().RootFile())
	require.NoError(t, err)
	assert.Equal(t, p.Root+"\n", string(b))
}

func TestLayout_Paths(t *testing.T) {
	l := Layout{Dir: "/state/projects/abc"}
	assert.Equal(t, "/state/projects/abc/traces/t-1", l.TraceDir("t-1"))
	assert.Equal(t, "/state/projects/abc/checkpoints/feature__x", l.CheckpointClaims("feature/x"))
	assert.Equal(t, "/state/projects/abc/sessions/a_b", l.SessionDir("a/b"))
	assert.Equal(t, "/state/projects/abc/sessions/_", l.SessionDir(".."))

	f1 := l.TouchedFlag("s", "/x/a.go")
	f2 := l.TouchedFlag("s", "/x/b.go")
	assert.NotEqual(t, f1, f2)
	assert.Equal(t, "/state/projects/abc/sessions/s/touched", filepath.Dir(f1))
}
