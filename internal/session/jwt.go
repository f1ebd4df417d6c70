package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var tokenParser = jwt.NewParser(jwt.WithPaddingAllowed())

// TokenExpired reports whether a JWT's exp claim lies in the past. The
// signature is not verified. A token that cannot be decoded counts as
// expired; a token without exp never expires.
func TokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := tokenParser.ParseUnverified(token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return true
	}
	if exp == nil || exp.Unix() == 0 {
		return false
	}
	return exp.Unix() < now.Unix()
}
