package git

import (
	"fmt"
	"sort"

	gogit "github.com/go-git/go-git/v5"
)

// ChangedFiles lists working tree paths that differ from HEAD or the index,
// including untracked files, sorted. Paths are slash-separated and relative
// to Root.
func (r *Repo) ChangedFiles() ([]string, error) {
	wt, err := r.Worktree()
	if err != nil {
		return nil, fmt.Errorf("opening worktree: %w", err)
	}
	st, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("worktree status: %w", err)
	}

	files := make([]string, 0, len(st))
	for path, fs := range st {
		if fs.Worktree == gogit.Unmodified && fs.Staging == gogit.Unmodified {
			continue
		}
		files = append(files, path)
	}
	sort.Strings(files)
	return files, nil
}
