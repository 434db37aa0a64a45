// Package provider defines the protocol adapter layer between the gateway
// and LLM inference backends. A Dialect describes one wire protocol
// (payload shape, headers, stream framing); Client drives any Dialect over
// HTTP and exposes a uniform Complete/Stream contract. Backend protocol
// details stay invisible to the failover controller and the orchestrator.
package provider
