package server

import (
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthenticated rejects requests with a missing or invalid credential
// before any mutation.
var ErrUnauthenticated = errors.New("unauthenticated")

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// StaticVerifier accepts a single shared secret and maps it to one user.
// Suitable for single-user deployments; swap in a real identity provider
// behind the same interface for anything else.
type StaticVerifier struct {
	Secret string
	User   string
}

// Verify implements TokenVerifier.
func (v StaticVerifier) Verify(token string) (string, error) {
	if v.Secret == "" || token != v.Secret {
		return "", ErrUnauthenticated
	}
	user := v.User
	if user == "" {
		user = "local"
	}
	return user, nil
}

// bearerToken extracts the credential from the Authorization header, with
// a fallback to the token query parameter for WebSocket clients that
// cannot set headers.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
