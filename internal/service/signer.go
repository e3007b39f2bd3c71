package service

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSigningSecret is returned when the response signing secret is missing.
// Serving without one is a fatal configuration error, not a per-request one.
var ErrNoSigningSecret = errors.New("response signing secret is not configured")

// Signer wraps outbound check verdicts in an HMAC-signed JWT so clients can
// detect a response forged by an intercepting proxy or local patch. This is
// an integrity mechanism, not confidentiality: the payload is readable by
// anyone. The secret is independent of the operator session secret so the
// two cannot compromise each other.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer. An empty secret is rejected.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrNoSigningSecret
	}
	return &Signer{secret: []byte(secret)}, nil
}

// Sign embeds payload in a signed token.
func (s *Signer) Sign(payload map[string]interface{}) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims(payload))
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign response: %w", err)
	}
	return signed, nil
}

// Verify checks the token's signature and returns the embedded payload.
// Used by tests and client SDKs.
func (s *Signer) Verify(tokenStr string) (map[string]interface{}, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("verify response token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid response token")
	}
	return map[string]interface{}(claims), nil
}
