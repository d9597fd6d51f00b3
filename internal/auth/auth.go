// Package auth resolves session credentials from pre-shared tokens.
package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/canopy/internal/config"
	"github.com/fyrsmithlabs/canopy/internal/permissions"
)

// contextKey is the type for context keys to avoid collisions.
type contextKey string

const credentialKey contextKey = "canopy_credential"

type entry struct {
	name       string
	token      config.Secret
	credential permissions.Permission
}

// Authenticator maps tokens to credentials. Unknown or empty tokens get the
// default credential.
type Authenticator struct {
	entries []entry
	def     permissions.Permission
}

// New builds an Authenticator from configuration.
func New(cfg config.AuthConfig) (*Authenticator, error) {
	def, err := cfg.DefaultPermission.Permission()
	if err != nil {
		return nil, fmt.Errorf("default permission: %w", err)
	}
	a := &Authenticator{def: def}
	for i, t := range cfg.Tokens {
		cred, err := t.Permission()
		if err != nil {
			return nil, fmt.Errorf("token %d: %w", i, err)
		}
		a.entries = append(a.entries, entry{name: t.Name, token: t.Token, credential: cred})
	}
	return a, nil
}

// Credential returns the credential for token and the name of the matching
// token entry, which is empty when the default applied.
func (a *Authenticator) Credential(token string) (permissions.Permission, string) {
	if token != "" {
		for _, e := range a.entries {
			if e.token.Equal(token) {
				return e.credential, e.name
			}
		}
	}
	return a.def, ""
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// Middleware resolves the bearer token of every request and stores the
// credential in the echo context.
func Middleware(a *Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cred, _ := a.Credential(BearerToken(c.Request().Header.Get(echo.HeaderAuthorization)))
			c.Set(string(credentialKey), cred)
			return next(c)
		}
	}
}

// CredentialFrom returns the credential stored by Middleware. Requests that
// did not pass through it get 401.
func CredentialFrom(c echo.Context) (permissions.Permission, error) {
	cred, ok := c.Get(string(credentialKey)).(permissions.Permission)
	if !ok {
		return permissions.Permission{}, echo.NewHTTPError(http.StatusUnauthorized, "no credential")
	}
	return cred, nil
}
