// Package hooks implements the host hook protocol: JSON in on stdin, JSON
// out on stdout, exit status 0 except for usage errors.
//
// Four hooks are handled:
//
//	dispatch  before a worker is spawned: admission through the gate engine
//	complete  after a worker exits: finalize its trace, then best-effort checks
//	prompt    on each human prompt: approval classification
//	edit      after each file mutation: checkpointing
//
// A handler never aborts the session. Internal failures are reported as
// advisory text on an allow decision.
package hooks
