// Package project scopes agentgate state to one repository.
//
// Project Identity:
//
// A project is identified by the absolute path of its primary working tree.
// Every linked worktree of a repository resolves to the same primary root,
// so an implementer running in a worktree and a release gate dispatched from
// the main checkout share proof status and traces. Outside git the cleaned
// working directory is the root.
//
// The project ID is the first 12 hex characters of the SHA-256 of the root.
//
// State Layout:
//
//	<state.dir>/projects/<project-id>/
//	  project
//	  proof-status
//	  active-worktree
//	  markers/<worker_type>.<trace_id>
//	  traces/<trace_id>/trace.json
//	  traces/<trace_id>/artifacts/*
//	  sessions/<session_id>/writes
//	  sessions/<session_id>/touched/<sha1(path)>
//	  checkpoints/<branch-slug>/<seq>.claim
package project
