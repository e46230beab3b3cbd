// Package session owns the revocable session record that backs every access
// and refresh token.
//
// [Store] implements create/validate/revoke semantics over a [Persistence].
// [RedisPersistence] is the primary backend: records are stored in a compact
// binary form and mutated only through single Lua scripts, so a concurrent
// revoke and refresh for the same session resolve deterministically.
//
// # Binary encoding
//
// Byte 0 is the format version and byte 1 the flag byte (revoked, MFA
// verified). Keeping the flags at a fixed offset lets the revoke script flip
// them without decoding the rest of the record.
//
// # What this package must NOT do
//
//   - Import authcore or jwt (no upward imports).
//   - Interpret tokens or make authorization decisions.
package session
