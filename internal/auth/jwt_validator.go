package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// RoleClaim names the private claim carrying the till role of the holder.
const RoleClaim = "role"

// TokenValidator checks the claims of a cashier token after its signature has
// been verified. Expiry and subject are mandatory; the subject is the cashier
// id every cart session is keyed by.
type TokenValidator struct {
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	Algorithm jwa.SignatureAlgorithm
	// Roles, when set, lists the role claim values allowed to use the till.
	Roles []string
}

// Validate checks algorithm, time window, issuer, audience, subject and role.
func (v TokenValidator) Validate(tok jwt.Token, algorithm jwa.SignatureAlgorithm, now time.Time) error {
	if tok == nil {
		return errors.New("auth: token is nil")
	}
	switch {
	case algorithm == "":
		return errors.New("auth: token missing algorithm")
	case v.Algorithm != "" && algorithm != v.Algorithm:
		return fmt.Errorf("auth: unexpected token algorithm %s", algorithm)
	}

	opts := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
		jwt.WithAcceptableSkew(v.ClockSkew),
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.Audience))
	}
	if err := jwt.Validate(tok, opts...); err != nil {
		return err
	}

	if strings.TrimSpace(tok.Subject()) == "" {
		return errors.New("auth: token has no cashier subject")
	}
	if len(v.Roles) == 0 {
		return nil
	}
	role := roleOf(tok)
	if !slices.Contains(v.Roles, role) {
		return fmt.Errorf("auth: role %q may not use the till", role)
	}
	return nil
}

func roleOf(tok jwt.Token) string {
	raw, ok := tok.Get(RoleClaim)
	if !ok {
		return ""
	}
	role, _ := raw.(string)
	return strings.ToLower(strings.TrimSpace(role))
}
