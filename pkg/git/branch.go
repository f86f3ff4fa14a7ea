package git

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
)

// HeadState describes what HEAD points at.
type HeadState struct {
	// Branch is the short branch name; empty when detached.
	Branch string
	// Detached is true when HEAD holds a commit hash instead of a branch.
	Detached bool
	// Unborn is true when HEAD names a branch that has no commits yet.
	Unborn bool
	// Hash is the commit HEAD resolves to; zero when unborn.
	Hash plumbing.Hash
}

// Head resolves HEAD without failing on an unborn branch.
func (r *Repo) Head() (HeadState, error) {
	raw, err := r.Storer.Reference(plumbing.HEAD)
	if err != nil {
		return HeadState{}, fmt.Errorf("reading HEAD: %w", err)
	}

	if raw.Type() == plumbing.HashReference {
		return HeadState{Detached: true, Hash: raw.Hash()}, nil
	}

	target := raw.Target()
	state := HeadState{Branch: target.Short()}
	if !target.IsBranch() {
		state.Branch = ""
		state.Detached = true
	}

	ref, err := r.Repository.Head()
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		state.Unborn = true
	case err != nil:
		return HeadState{}, fmt.Errorf("resolving HEAD: %w", err)
	default:
		state.Hash = ref.Hash()
	}
	return state, nil
}

// DetectBranch returns the current branch name of the repository containing
// dir, or "" when HEAD is detached.
func DetectBranch(dir string) (string, error) {
	r, err := Open(dir)
	if err != nil {
		return "", err
	}
	h, err := r.Head()
	if err != nil {
		return "", err
	}
	return h.Branch, nil
}

// IsProtected reports whether branch is one of the protected names.
func IsProtected(branch string, protected []string) bool {
	for _, p := range protected {
		if branch == p {
			return true
		}
	}
	return false
}
