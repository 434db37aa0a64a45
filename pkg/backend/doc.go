// Package backend holds the set of configured LLM backends, their health
// state and the currently active backend.
//
// The Registry is the single owner of that shared state. Request paths
// read it concurrently; health evaluation, explicit switches and failover
// are the only writers.
package backend
