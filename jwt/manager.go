package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for every validation failure: bad signature,
// wrong algorithm, expiry, issuer mismatch or a kind other than the one the
// caller expected.
var ErrInvalidToken = errors.New("invalid token")

// Kind identifies which operations a token may be presented to.
type Kind string

const (
	KindAccess       Kind = "access"
	KindRefresh      Kind = "refresh"
	KindMFAChallenge Kind = "mfa_challenge"
)

// Config holds signing and lifetime settings for a [Manager].
type Config struct {
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	ChallengeTTL time.Duration
	SigningKey   []byte
	Issuer       string
	Leeway       time.Duration
	// KeyID is written to the "kid" header of issued tokens. When VerifyKeys
	// is set, validation selects the key by "kid" so a new key can be rolled
	// in without changing claim shapes.
	KeyID      string
	VerifyKeys map[string][]byte
	Now        func() time.Time
}

// Claims is the claim set shared by all three token kinds. Kind-specific
// fields are omitted from the wire form when unused.
type Claims struct {
	Kind         Kind     `json:"kind"`
	SessionID    string   `json:"sessionId,omitempty"`
	Authorities  []string `json:"authorities,omitempty"`
	Refresh      bool     `json:"refresh,omitempty"`
	MFAChallenge bool     `json:"mfaChallenge,omitempty"`
	MFAVerified  bool     `json:"mfaVerified,omitempty"`
	jwt.RegisteredClaims
}

// Manager issues and validates signed tokens. It holds no mutable state and
// is safe for concurrent use.
type Manager struct {
	config Config
}

// NewManager validates cfg and returns a ready [Manager].
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 || cfg.ChallengeTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.ChallengeTTL > cfg.AccessTTL {
		return nil, errors.New("challenge TTL must not exceed access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if len(cfg.VerifyKeys) == 0 && len(cfg.SigningKey) < 32 {
		return nil, errors.New("signing key must be at least 32 bytes")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	for kid, key := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verify key map contains empty kid")
		}
		if len(key) < 32 {
			return nil, fmt.Errorf("verify key for kid %q must be at least 32 bytes", kid)
		}
	}
	if len(cfg.VerifyKeys) > 0 {
		if cfg.KeyID == "" {
			return nil, errors.New("VerifyKeys requires a KeyID for signing")
		}
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{config: cfg}, nil
}

// IssueAccess signs a short-lived access token bound to sessionID.
func (m *Manager) IssueAccess(subject, sessionID string, authorities []string, mfaVerified bool) (string, error) {
	if sessionID == "" {
		return "", errors.New("access token requires a session id")
	}
	claims := m.baseClaims(KindAccess, subject, m.config.AccessTTL)
	claims.SessionID = sessionID
	claims.Authorities = append([]string(nil), authorities...)
	claims.MFAVerified = mfaVerified
	return m.sign(claims)
}

// IssueRefresh signs a long-lived refresh token bound to sessionID.
func (m *Manager) IssueRefresh(subject, sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New("refresh token requires a session id")
	}
	claims := m.baseClaims(KindRefresh, subject, m.config.RefreshTTL)
	claims.SessionID = sessionID
	claims.Refresh = true
	return m.sign(claims)
}

// IssueMFAChallenge signs a challenge token proving the password step
// succeeded and returns it with its jti. It carries no session id because
// no session exists yet.
func (m *Manager) IssueMFAChallenge(subject string) (token, jti string, err error) {
	claims := m.baseClaims(KindMFAChallenge, subject, m.config.ChallengeTTL)
	claims.MFAChallenge = true
	token, err = m.sign(claims)
	if err != nil {
		return "", "", err
	}
	return token, claims.ID, nil
}

// Validate checks signature, algorithm, issuer, expiry and that the token is
// of the expected kind. All failures collapse to [ErrInvalidToken]; the
// underlying reason is joined for server-side logging.
func (m *Manager) Validate(tokenStr string, expected Kind) (*Claims, error) {
	if tokenStr == "" {
		return nil, ErrInvalidToken
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.config.Now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, m.keyFunc)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if err := checkKind(claims, expected); err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, errors.Join(ErrInvalidToken, errors.New("missing subject"))
	}

	return claims, nil
}

// ExtractSessionID reads the sessionId claim without verifying signature or
// expiry. Callers must have validated the token first.
func (m *Manager) ExtractSessionID(tokenStr string) (string, error) {
	claims, err := unverifiedClaims(tokenStr)
	if err != nil {
		return "", err
	}
	return claims.SessionID, nil
}

// ExtractSubject reads the sub claim without verifying signature or expiry.
// Callers must have validated the token first.
func (m *Manager) ExtractSubject(tokenStr string) (string, error) {
	claims, err := unverifiedClaims(tokenStr)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (m *Manager) baseClaims(kind Kind, subject string, ttl time.Duration) *Claims {
	now := m.config.Now()
	return &Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func (m *Manager) sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}
	return token.SignedString(m.signKey())
}

func (m *Manager) signKey() []byte {
	if m.config.KeyID != "" && len(m.config.VerifyKeys) > 0 {
		return m.config.VerifyKeys[m.config.KeyID]
	}
	return m.config.SigningKey
}

func (m *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(m.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := m.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	}

	if m.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != m.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	return m.config.SigningKey, nil
}

// checkKind requires both the kind claim and the kind-specific markers to
// agree, so a token cannot satisfy one operation by carrying another kind's
// marker.
func checkKind(c *Claims, expected Kind) error {
	if c.Kind != expected {
		return fmt.Errorf("token kind %q, expected %q", c.Kind, expected)
	}
	switch expected {
	case KindAccess:
		if c.SessionID == "" || c.Refresh || c.MFAChallenge {
			return errors.New("malformed access claims")
		}
	case KindRefresh:
		if c.SessionID == "" || !c.Refresh || c.MFAChallenge {
			return errors.New("malformed refresh claims")
		}
	case KindMFAChallenge:
		if c.SessionID != "" || !c.MFAChallenge || c.Refresh {
			return errors.New("malformed challenge claims")
		}
	default:
		return fmt.Errorf("unknown token kind %q", expected)
	}
	return nil
}

func unverifiedClaims(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	return claims, nil
}
