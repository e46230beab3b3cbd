// Package mfa implements the TOTP second factor and single-use recovery
// codes.
//
// The account record is the secret store: [Engine] reads and writes a
// [Configuration] through a [Store] and never caches it. Codes follow RFC
// 6238 via github.com/pquerna/otp. Recovery codes are stored as
// sha256(accountID || 0x00 || canonical code) and removed on use through
// [Store.ConsumeRecoveryCode], a single conditional remove. Settings and
// the code set are written separately so neither write can restore a
// consumed code.
//
// When [Config.Steps] is set, each accepted TOTP code claims its time step
// and a later code for the same or an earlier step is rejected.
//
// Disable discards the configuration entirely; recovery codes do not survive
// a disable and re-enable cycle.
package mfa
