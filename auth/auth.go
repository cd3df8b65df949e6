// Package auth validates inbound bearer credentials against the external
// identity provider's published verification keys and produces the identity
// context that scopes every data access to the caller.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/notegate/notegate/config"
)

// ErrorKind classifies credential failures.
type ErrorKind string

const (
	// Expired means the credential's validity window has passed.
	Expired ErrorKind = "Expired"
	// InvalidSignature means the credential was not signed by the provider.
	InvalidSignature ErrorKind = "InvalidSignature"
	// Malformed means the credential could not be parsed or is missing
	// required claims.
	Malformed ErrorKind = "Malformed"
)

// AuthError reports a rejected credential. Any AuthError aborts the whole
// operation before resolver execution begins.
type AuthError struct {
	Kind    ErrorKind
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth %s: %s", e.Kind, e.Message)
}

// IdentityContext is the authenticated caller, passed through the request
// pipeline as a value and never stored in shared state.
type IdentityContext struct {
	// SubjectID is the caller's stable identity ("sub" claim).
	SubjectID string
	// Claims holds all token claims for template access.
	Claims map[string]interface{}
}

// Verifier validates bearer tokens. Verification keys are fetched from the
// provider's JWKS endpoint and cached with a TTL.
type Verifier struct {
	issuer   string
	audience string
	keys     *keyCache
}

// NewVerifier builds a verifier from the auth configuration.
func NewVerifier(cfg config.AuthConfig) *Verifier {
	return &Verifier{
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		keys:     newKeyCache(cfg.JwksURL, cfg.CacheTTL.Std()),
	}
}

// Extract validates a raw credential and returns the caller's identity.
func (v *Verifier) Extract(ctx context.Context, rawCredential string) (*IdentityContext, error) {
	if rawCredential == "" {
		return nil, &AuthError{Kind: Malformed, Message: "missing bearer credential"}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(rawCredential, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		return v.keys.keyFor(ctx, kid)
	}, opts...)
	if err != nil {
		return nil, classifyJWT(err)
	}
	if !token.Valid {
		return nil, &AuthError{Kind: InvalidSignature, Message: "token is invalid"}
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, &AuthError{Kind: Malformed, Message: "token has no subject"}
	}
	return &IdentityContext{
		SubjectID: sub,
		Claims:    map[string]interface{}(claims),
	}, nil
}

// classifyJWT maps jwt parse errors onto the auth taxonomy.
func classifyJWT(err error) error {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr
	}
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &AuthError{Kind: Expired, Message: "token is expired"}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return &AuthError{Kind: InvalidSignature, Message: "token signature is invalid"}
	default:
		return &AuthError{Kind: Malformed, Message: err.Error()}
	}
}
