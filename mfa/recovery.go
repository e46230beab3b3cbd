package mfa

import (
	"crypto/rand"
	"crypto/sha256"
	"math/big"
	"strings"
)

const recoveryAlphabet = "0123456789"

func newRecoveryCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	limit := big.NewInt(int64(len(recoveryAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(recoveryAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// formatRecoveryCode splits a code in two groups for readability.
func formatRecoveryCode(code string) string {
	if len(code) < 8 {
		return code
	}
	mid := len(code) / 2
	return code[:mid] + "-" + code[mid:]
}

// CanonicalRecoveryCode strips separators and whitespace so "1234-5678",
// " 1234 5678 " and "12345678" compare equal.
func CanonicalRecoveryCode(code string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(code))
}

// HashRecoveryCode binds a canonical code to its account so equal codes of
// two accounts never share a stored hash.
func HashRecoveryCode(accountID, canonical string) [32]byte {
	data := make([]byte, 0, len(accountID)+1+len(canonical))
	data = append(data, accountID...)
	data = append(data, 0)
	data = append(data, canonical...)
	return sha256.Sum256(data)
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
