package wsclient

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errNoExpiry = errors.New("token carries no expiry")

// tokenTimes extracts issued-at and expiry from the credential without
// verifying the signature. The client only schedules refreshes with these;
// the server still verifies every token it is handed.
func tokenTimes(token string) (issuedAt, expiresAt time.Time, err error) {
	claims := jwt.MapClaims{}
	if _, _, err = jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, time.Time{}, err
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, time.Time{}, errNoExpiry
	}

	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		issuedAt = iat.Time
	}
	return issuedAt, exp.Time, nil
}

// needsRefresh reports whether the remaining lifetime has dropped under the
// refresh threshold: 10% of the token's total lifetime, floored at minMargin.
// Tokens without an issued-at claim use the floor alone.
func needsRefresh(token string, now time.Time, minMargin time.Duration) bool {
	issuedAt, expiresAt, err := tokenTimes(token)
	if err != nil {
		return false
	}

	threshold := minMargin
	if !issuedAt.IsZero() {
		if tenth := expiresAt.Sub(issuedAt) / 10; tenth > threshold {
			threshold = tenth
		}
	}
	return expiresAt.Sub(now) < threshold
}
