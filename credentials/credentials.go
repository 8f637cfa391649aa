package credentials

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// DefaultLifetime is the lifetime the authentication service asserts for
// access tokens. The token endpoints return no expiry metadata alongside the
// token, so this constant is assumed whenever the token itself carries no
// usable exp claim. A server-provided expiry, when present, is authoritative.
const DefaultLifetime = 15 * time.Minute

// Credential is the short-lived bearer token used to authorise data requests,
// together with its validity window. At most one Credential is current per
// session; adopting a new one supersedes the previous one for countdown and
// retry purposes.
type Credential struct {
	AccessToken string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// New builds a Credential issued at the given instant. When the access token
// is a JWT carrying an exp claim the server's expiry wins; otherwise the
// expiry falls back to issuedAt + DefaultLifetime.
func New(accessToken string, issuedAt time.Time) *Credential {
	expiresAt := issuedAt.Add(DefaultLifetime)
	if exp, ok := tokenExpiry(accessToken); ok && exp.After(issuedAt) {
		expiresAt = exp
	}
	return &Credential{
		AccessToken: accessToken,
		IssuedAt:    issuedAt,
		ExpiresAt:   expiresAt,
	}
}

// Restore rebuilds a Credential from a persisted record. The original issue
// time is not persisted, so IssuedAt is reconstructed from the expiry.
func Restore(accessToken string, expiresAt time.Time) *Credential {
	return &Credential{
		AccessToken: accessToken,
		IssuedAt:    expiresAt.Add(-DefaultLifetime),
		ExpiresAt:   expiresAt,
	}
}

// ExpiresIn returns the remaining lifetime at the given instant, floored at
// zero. Nil-safe.
func (c *Credential) ExpiresIn(now time.Time) time.Duration {
	if c == nil {
		return 0
	}
	remaining := c.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsExpired reports whether the credential has no remaining lifetime.
func (c *Credential) IsExpired(now time.Time) bool {
	return c.ExpiresIn(now) == 0
}

// tokenExpiry probes the access token for a JWT exp claim without verifying
// the signature. Verification is the server's job; the client only needs the
// timestamp, and opaque non-JWT tokens are fine.
func tokenExpiry(raw string) (time.Time, bool) {
	var claims jwtlib.RegisteredClaims
	if _, _, err := jwtlib.NewParser().ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
