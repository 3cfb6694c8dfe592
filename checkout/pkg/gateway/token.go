package gateway

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Alturino/storefront/internal/common/constants"
)

const tokenLifetime = time.Minute

func signToken(secret []byte, audience string, requestID string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    constants.AppStorefront,
		Audience:  jwt.ClaimStrings{audience},
		ID:        requestID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
