package receipt

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultOwner is used in single-user mode when no owner is configured
const DefaultOwner = "default"

var errUnauthorized = errors.New("unauthorized")

type ownerContextKey struct{}

// WithOwner returns a context carrying the authenticated owner
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerContextKey{}, owner)
}

// OwnerFrom returns the owner stored by WithOwner
func OwnerFrom(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerContextKey{}).(string)
	return owner, ok && owner != ""
}

// Auth configures how requests are mapped to an owner.
//
// A bearer token is checked first (HS256, owner in the "sub" claim), then
// basic auth (owner is the username). With neither configured every request
// belongs to DefaultOwner.
type Auth struct {
	Username     string
	Password     string
	JWTSecret    string
	DefaultOwner string
}

func (a Auth) enabled() bool {
	return a.Username != "" || a.Password != "" || a.JWTSecret != ""
}

// resolveOwner returns the owner a request acts for
func (a Auth) resolveOwner(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")

	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		if a.JWTSecret == "" {
			return "", fmt.Errorf("%w: bearer tokens are not accepted", errUnauthorized)
		}
		return a.ownerFromToken(token)
	}

	if username, password, ok := r.BasicAuth(); ok && (a.Username != "" || a.Password != "") {
		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.Username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.Password)) == 1
		if !userOK || !passOK {
			return "", fmt.Errorf("%w: invalid credentials", errUnauthorized)
		}
		return username, nil
	}

	if a.enabled() {
		return "", fmt.Errorf("%w: credentials required", errUnauthorized)
	}
	if a.DefaultOwner != "" {
		return a.DefaultOwner, nil
	}
	return DefaultOwner, nil
}

func (a Auth) ownerFromToken(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(a.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %w", errUnauthorized, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", errUnauthorized)
	}
	return claims.Subject, nil
}
