// Package auth resolves the effective RSHub token for downstream calls.
package auth

import "errors"

// minTokenLength is the minimum accepted request-token length in
// production mode.
const minTokenLength = 10

var (
	// ErrMissingToken means no usable token was supplied or configured.
	ErrMissingToken = errors.New("no rshub token provided")
	// ErrTokenTooShort means the request token fails the length check.
	ErrTokenTooShort = errors.New("rshub token must be at least 10 characters")
)

// Resolver picks the effective token per deployment mode. The token is
// opaque; it is only selected, never inspected.
type Resolver struct {
	production      bool
	configuredToken string
}

// NewResolver creates a resolver. configuredToken is the process-level
// token used in local mode.
func NewResolver(production bool, configuredToken string) *Resolver {
	return &Resolver{
		production:      production,
		configuredToken: configuredToken,
	}
}

// Resolve returns the token downstream calls must use.
//
// Production mode requires a request-supplied token of at least 10
// characters. Local mode prefers the configured token and falls back to the
// request token.
func (r *Resolver) Resolve(requestToken string) (string, error) {
	if r.production {
		if requestToken == "" {
			return "", ErrMissingToken
		}
		if len(requestToken) < minTokenLength {
			return "", ErrTokenTooShort
		}
		return requestToken, nil
	}

	if r.configuredToken != "" {
		return r.configuredToken, nil
	}
	if requestToken != "" {
		return requestToken, nil
	}
	return "", ErrMissingToken
}
