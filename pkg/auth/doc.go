// Package auth provides pluggable bearer authentication for the kbqa
// administrative endpoints (backend switching, cache clearing).
//
// Authentication uses a chain-of-responsibility pattern with three-outcome
// voting: each authenticator returns Yes (identity found), No (credentials
// invalid), or Abstain (can't handle). A configurable default voter decides
// when all authenticators abstain. An optional in-process limiter caps
// requests per identity and minute.
package auth
