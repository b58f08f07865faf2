// Package jwtutil parses the identity token issued by the surrounding
// platform. The engine performs no credential handling of its own; the claims
// are consumed purely as scope-filter input.
package jwtutil

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

type IdentityClaims struct {
	UserID         uint `json:"user_id"`
	OrganizationID uint `json:"organization_id"`
	jwt.RegisteredClaims
}

// ParseToken validates the HMAC signature and expiry and returns the claims.
func ParseToken(secret, tokenString string) (*IdentityClaims, error) {
	claims := &IdentityClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse identity token failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("identity token is invalid")
	}
	if claims.UserID == 0 {
		return nil, fmt.Errorf("identity token has no user id")
	}
	return claims, nil
}
