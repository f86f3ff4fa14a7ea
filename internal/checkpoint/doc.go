// Package checkpoint snapshots the working tree into git objects while an
// agent edits files, without touching the index, the working tree or the
// branch.
//
// Each snapshot is a commit whose parent is the branch HEAD, published as
// refs/checkpoints/<branch>/<seq>. Sequence numbers are reserved with
// exclusive-create claim files so concurrent hook processes never reuse one.
// Recovery is plain git:
//
//	git diff HEAD refs/checkpoints/feature/x/7
//	git checkout refs/checkpoints/feature/x/7 -- path/to/file
package checkpoint
