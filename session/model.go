package session

import "time"

// Session is the server-held record of one logical login. It is valid iff it
// is not revoked and the current time is before ExpiresAt. The only mutation
// after creation is setting Revoked.
type Session struct {
	ID        string
	OwnerID   string
	UserAgent string
	Origin    string

	CreatedAt time.Time
	ExpiresAt time.Time

	Revoked bool
	// MFAVerified records that the session was opened through MFA
	// verification, so tokens re-issued on refresh keep the assertion.
	MFAVerified bool
}

// Valid reports whether the session may still back a token at now.
func (s *Session) Valid(now time.Time) bool {
	if s == nil {
		return false
	}
	return !s.Revoked && now.Before(s.ExpiresAt)
}
