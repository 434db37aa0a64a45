// Package gateway dispatches generation requests to the active LLM backend
// and fails over to the remaining healthy backends on upstream errors.
//
// Failover is an explicit loop bounded by the number of configured
// backends: each backend is attempted at most once per request, so a
// request makes at most N-1 switches before NoHealthyBackendError.
package gateway
