// Package flows holds the login state machine shared by Login and VerifyMFA.
//
// The machine is a value owned by a single call. It performs no I/O and is
// not safe for concurrent use.
package flows
