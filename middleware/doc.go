// Package middleware adapts authcore.Engine.Authorize to HTTP handlers and
// gRPC servers.
//
//   - [Gate] authorizes bearer tokens and attaches the principal.
//   - [RequireAuthenticated] and [RequireAuthority] guard individual routes.
//   - [UnaryServerInterceptor] and [StreamServerInterceptor] apply the same
//     rules to gRPC calls.
//
// This package translates transport semantics into Engine calls. It never
// parses tokens or touches the session store itself.
package middleware
