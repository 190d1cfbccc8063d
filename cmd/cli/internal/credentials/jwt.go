package credentials

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// Claims are the fields of an API token the CLI inspects.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"id,omitempty"`
	Role   string `json:"role,omitempty"`
	Email  string `json:"email,omitempty"`
}

// ParseClaims decodes a token's claims without verifying its signature. The
// CLI has no key to verify with; the server stays the authority on validity.
func ParseClaims(token string) (*Claims, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, &Claims{})
	if err != nil {
		return nil, err
	}
	return parsed.Claims.(*Claims), nil
}

// TokenExpiry returns the exp claim of token. Tokens that are not JWTs or
// carry no exp report false.
func TokenExpiry(token string) (time.Time, bool) {
	claims, err := ParseClaims(token)
	if err != nil {
		log.Debug().Err(err).Str("fingerprint", Fingerprint(token)).Msg("token is not a parseable JWT")
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}

	return exp.Time, true
}
