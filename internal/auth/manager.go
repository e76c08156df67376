// Package auth issues and validates the signed session tokens that identify
// the user behind each request.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTTL is used when IssueToken is called with a zero ttl.
const DefaultTTL = 24 * time.Hour

var (
	ErrMalformed = errors.New("auth: invalid token format")
	ErrSignature = errors.New("auth: signature mismatch")
	ErrExpired   = errors.New("auth: token expired")
)

// Manager signs session tokens of the form base64(user|expiry).base64(hmac).
type Manager struct {
	secret []byte
	now    func() time.Time
}

// NewManager creates a Manager with the provided secret.
func NewManager(secret string) (*Manager, error) {
	if secret == "" {
		return nil, errors.New("auth: non-empty secret required")
	}
	return &Manager{secret: []byte(secret), now: time.Now}, nil
}

// IssueToken issues a signed session token for userID.
func (m *Manager) IssueToken(userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("auth: user id required")
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	expires := m.now().Add(ttl).Unix()
	payload := fmt.Sprintf("%s|%d", userID, expires)
	sig := m.sign([]byte(payload))
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// ValidateToken validates token and returns the embedded user id.
func (m *Manager) ValidateToken(token string) (string, error) {
	encPayload, encSig, ok := strings.Cut(token, ".")
	if !ok || strings.Contains(encSig, ".") {
		return "", ErrMalformed
	}
	payloadBytes, err := base64.RawURLEncoding.DecodeString(encPayload)
	if err != nil {
		return "", ErrMalformed
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(encSig)
	if err != nil {
		return "", ErrMalformed
	}
	if !hmac.Equal(sigBytes, m.sign(payloadBytes)) {
		return "", ErrSignature
	}
	payload := string(payloadBytes)
	sep := strings.LastIndex(payload, "|")
	if sep <= 0 {
		return "", ErrMalformed
	}
	expiry, err := strconv.ParseInt(payload[sep+1:], 10, 64)
	if err != nil {
		return "", ErrMalformed
	}
	if m.now().Unix() > expiry {
		return "", ErrExpired
	}
	return payload[:sep], nil
}

func (m *Manager) sign(payload []byte) []byte {
	h := hmac.New(sha256.New, m.secret)
	h.Write(payload)
	return h.Sum(nil)
}
