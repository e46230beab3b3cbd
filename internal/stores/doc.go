// Package stores holds short-lived records backing the MFA login step:
// open challenges keyed by challenge token jti and the last accepted TOTP
// step per account.
//
// Redis variants persist a versioned binary record with a TTL and mutate
// it under WATCH/MULTI with retry on contention. Memory variants serve a
// single process when no Redis client is configured.
//
// The package owns persistence only. It does not issue tokens, check codes,
// or decide login outcomes.
package stores
