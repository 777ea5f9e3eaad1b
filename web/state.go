package web

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// stateClaims - The OAuth state parameter, signed so the callback can trust
// the external identity claim and season hint it carries. Short-lived: an
// expired state just sends the member back to their verification link.
type stateClaims struct {
	ExternalID string `json:"ext"`
	SeasonID   string `json:"season,omitempty"`
	jwt.RegisteredClaims
}

// signState - Issue the signed state token for one authorize redirect.
func signState(secret []byte, externalID, seasonID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := stateClaims{
		ExternalID: externalID,
		SeasonID:   seasonID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// parseState - Verify and unpack a state token from the callback.
func parseState(secret []byte, token string) (*stateClaims, error) {
	var claims stateClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid state token")
	}
	return &claims, nil
}
