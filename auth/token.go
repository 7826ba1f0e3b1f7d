// Package auth implements the identity-verification collaborator on top of
// signed JWTs. Token issuance belongs to the account service; this package
// only needs to verify and extract the subject.
package auth

import (
	"fmt"
	"time"

	"roomlink/contract"
	apperrors "roomlink/errors"

	"github.com/golang-jwt/jwt/v5"
)

// Claims defines the structure of the data stored inside the JWT.
type Claims struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates handshake tokens with an HMAC secret shared with the
// account service.
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses and validates the signature and expiration of a token and
// returns the verified identity.
func (v *Verifier) Verify(token string) (contract.Identity, error) {
	if token == "" {
		return contract.Identity{}, apperrors.ErrMissingToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return v.secret, nil
		})
	if err != nil {
		return contract.Identity{}, fmt.Errorf("%w: %w", apperrors.ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return contract.Identity{}, apperrors.ErrInvalidToken
	}
	return contract.Identity{Subject: claims.UserID, DeviceID: claims.DeviceID}, nil
}

// GenerateToken creates a signed JWT for a specific user. The server itself
// never issues tokens; this exists for tooling and tests.
func GenerateToken(secret, issuer, userID, deviceID string,
	lifetime time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
