// Package services wires the per-project stores and engines agentgate
// commands operate on.
//
// Build resolves every path from the project's state layout, so all
// services of one registry agree on the project they serve.
package services
