package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionExpiry returns the exp claim of a VRM session JWT, or the zero time
// when the token carries none. The signature is not checked: the bridge
// holds no key and uses the value only to schedule re-authentication.
func sessionExpiry(token string) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
