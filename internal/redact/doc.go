// Package redact keeps secrets out of trace artifacts.
//
// Two tiers run at different points of the completion hook:
//
//   - Quick applies a small compiled rule set and runs before the summary is
//     first written, so no artifact ever holds a well-known token format.
//   - Deep runs the gitleaks default detector with project and user
//     allowlists. It is slower and runs in the best-effort phase.
package redact
