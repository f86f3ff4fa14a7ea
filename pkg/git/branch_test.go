package git

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentgate/pkg/git/gittest"
)

func TestHead(t *testing.T) {
	tests := []struct {
		name         string
		setup        func(t *testing.T) string
		wantBranch   string
		wantDetached bool
		wantUnborn   bool
	}{
		{
			name:       "main branch",
			setup:      func(t *testing.T) string { return gittest.Init(t, "main") },
			wantBranch: "main",
		},
		{
			name: "feature branch",
			setup: func(t *testing.T) string {
				dir := gittest.Init(t, "main")
				gittest.Checkout(t, dir, "feature/v3-rebuild", true)
				return dir
			},
			wantBranch: "feature/v3-rebuild",
		},
		{
			name: "detached",
			setup: func(t *testing.T) string {
				dir := gittest.Init(t, "main")
				gittest.Detach(t, dir)
				return dir
			},
			wantDetached: true,
		},
		{
			name:       "unborn",
			setup:      func(t *testing.T) string { return gittest.InitEmpty(t, "trunk") },
			wantBranch: "trunk",
			wantUnborn: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Open(tt.setup(t))
			require.NoError(t, err)
			h, err := r.Head()
			require.NoError(t, err)
			assert.Equal(t, tt.wantBranch, h.Branch)
			assert.Equal(t, tt.wantDetached, h.Detached)
			assert.Equal(t, tt.wantUnborn, h.Unborn)
			assert.Equal(t, tt.wantUnborn, h.Hash.IsZero())
		})
	}
}

func TestDetectBranch(t *testing.T) {
	dir := gittest.Init(t, "master")
	b, err := DetectBranch(dir)
	require.NoError(t, err)
	assert.Equal(t, "master", b)

	_, err = DetectBranch(t.TempDir())
	assert.ErrorIs(t, err, ErrNotGitRepo)
}

func TestIsProtected(t *testing.T) {
	protected := []string{"main", "master"}
	assert.True(t, IsProtected("main", protected))
	assert.True(t, IsProtected("master", protected))
	assert.False(t, IsProtected("feature/main", protected))
	assert.False(t, IsProtected("", protected))
	assert.False(t, IsProtected("main", nil))
}

func TestChangedFiles(t *testing.T) {
	dir := gittest.Init(t, "main")
	r, err := Open(dir)
	require.NoError(t, err)

	files, err := r.ChangedFiles()
	require.NoError(t, err)
	assert.Empty(t, files)

	gittest.WriteFile(t, dir, "README.md", "# changed\n")
	gittest.WriteFile(t, dir, "src/new.go", "package src\n")

	files, err = r.ChangedFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md", "src/new.go"}, files)
}
