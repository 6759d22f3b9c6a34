package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	dErrors "ormatch/pkg/domain-errors"
)

// Authorizer decides whether a request may act for a system of record. It
// accepts HTTP Basic credentials checked against the credential store, or an
// HS256 bearer token whose sor claim covers the requested sor.
type Authorizer struct {
	creds    CredentialStore
	tokens   *TokenValidator
	disabled bool
	logger   *slog.Logger
}

type AuthorizerOption func(*Authorizer)

// WithTokenValidator enables bearer token authorization.
func WithTokenValidator(v *TokenValidator) AuthorizerOption {
	return func(a *Authorizer) {
		a.tokens = v
	}
}

// Disabled turns the authorizer into a pass-through for local development.
func Disabled() AuthorizerOption {
	return func(a *Authorizer) {
		a.disabled = true
	}
}

func NewAuthorizer(creds CredentialStore, logger *slog.Logger, opts ...AuthorizerOption) *Authorizer {
	a := &Authorizer{creds: creds, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authorize checks the request's credentials against the given sor. Pass
// WildcardSOR for endpoints that expose data across systems of record; only
// wildcard credentials clear those.
func (a *Authorizer) Authorize(ctx context.Context, r *http.Request, sor string) error {
	if a.disabled {
		return nil
	}

	if user, key, ok := r.BasicAuth(); ok {
		return a.authorizeAPIKey(ctx, user, key, sor)
	}

	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok && a.tokens != nil {
		return a.authorizeToken(token, sor)
	}

	return dErrors.New(dErrors.CodeUnauthorized, "credentials required")
}

func (a *Authorizer) authorizeAPIKey(ctx context.Context, apiUser, apiKey, sor string) error {
	hashes, err := a.creds.Hashes(ctx, apiUser, sor)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "credential lookup failed")
	}
	for _, h := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(apiKey)) == nil {
			return nil
		}
	}

	a.logger.Warn("api key rejected", "apiuser", apiUser, "sor", sor)
	return dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
}

func (a *Authorizer) authorizeToken(token, sor string) error {
	claims, err := a.tokens.Validate(token)
	if err != nil {
		return err
	}
	if claims.SOR != sor && claims.SOR != WildcardSOR {
		a.logger.Warn("token sor mismatch", "token_sor", claims.SOR, "sor", sor)
		return dErrors.New(dErrors.CodeUnauthorized, "token not valid for this system of record")
	}
	return nil
}
