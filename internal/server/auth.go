package server

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every credential failure: bad signature, expiry,
// wrong algorithm, or a consultation mismatch. Handlers map it to one close
// code, so the caller learns nothing about which check failed.
var ErrInvalidToken = errors.New("server: invalid token")

// Claims is the connection credential payload. ConsultationID, when present,
// pins the token to a single consultation.
type Claims struct {
	jwt.RegisteredClaims
	ConsultationID string `json:"consultation_id,omitempty"`
}

// TokenVerifier validates HMAC-signed connection credentials.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a verifier using secret for HS256 validation.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses and validates token. When the token carries a consultation
// claim it must match consultationID.
func (v *TokenVerifier) Verify(token, consultationID string) (*Claims, error) {
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("%w: no signing secret configured", ErrInvalidToken)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.ConsultationID != "" && claims.ConsultationID != consultationID {
		return nil, fmt.Errorf("%w: token bound to another consultation", ErrInvalidToken)
	}
	return claims, nil
}
