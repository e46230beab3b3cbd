// Package jwt issues and validates the three signed token kinds used by
// authcore: access, refresh and MFA challenge.
//
// Tokens are HS256-signed claim sets. A token's kind strictly determines
// which operations accept it; [Manager.Validate] rejects a token of any other
// kind with [ErrInvalidToken] rather than degrading.
//
// # What this package must NOT do
//
//   - Consult session state. Session revocation is enforced by the caller.
//   - Treat the Extract* helpers as validation. They only read claims.
package jwt
