package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenClaims reads exp and sub from an access token without verifying it.
func tokenClaims(token string) (expiresAt time.Time, subject string) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, ""
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expiresAt = exp.Time
	}
	if sub, err := claims.GetSubject(); err == nil {
		subject = sub
	}
	return expiresAt, subject
}
