package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"attempt-runner/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Credentials is the authenticated student on whose behalf the backend is called.
type Credentials struct {
	Token  string
	UserID domain.ID
}

// Valid reports whether the credentials can be used against the backend.
func (c Credentials) Valid() bool {
	return c.Token != "" && c.UserID != ""
}

// Fingerprint identifies the token without exposing it, for cache keys.
func (c Credentials) Fingerprint() string {
	sum := sha256.Sum256([]byte(c.Token))
	return hex.EncodeToString(sum[:12])
}

// OAuthToken exposes the bearer credential as an oauth2 token.
func (c Credentials) OAuthToken() *oauth2.Token {
	return &oauth2.Token{AccessToken: c.Token, TokenType: "Bearer"}
}

// Authorize sets the Authorization header on an outgoing request.
func (c Credentials) Authorize(req *http.Request) {
	c.OAuthToken().SetAuthHeader(req)
}

type ctxKey struct{}

// WithCredentials stores credentials on the context for the backend client.
func WithCredentials(ctx context.Context, creds Credentials) context.Context {
	return context.WithValue(ctx, ctxKey{}, creds)
}

// FromContext returns the credentials carried by ctx.
func FromContext(ctx context.Context) (Credentials, bool) {
	creds, ok := ctx.Value(ctxKey{}).(Credentials)
	return creds, ok && creds.Token != ""
}

// FromToken builds credentials from a bearer token. The user id always comes from the token's
// "user_id" or "sub" claim. The signature is not verified: the backend does that on every
// call, this only tells us who the token belongs to.
func FromToken(token string) (Credentials, error) {
	token = bearer(token)
	if token == "" {
		return Credentials{}, domain.ErrUnauthenticated
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser(jwt.WithJSONNumber()).ParseUnverified(token, claims); err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	subject := claimString(claims, "user_id")
	if subject == "" {
		subject = claimString(claims, "sub")
	}
	if subject == "" {
		return Credentials{}, fmt.Errorf("%w: token carries no user id", domain.ErrUnauthenticated)
	}
	return Credentials{Token: token, UserID: domain.ID(subject)}, nil
}

// ForUser pairs a token with an operator-supplied user id, for tooling that inspects another
// student's quota. An empty userID falls back to FromToken.
func ForUser(token, userID string) (Credentials, error) {
	if userID == "" {
		return FromToken(token)
	}
	token = bearer(token)
	if token == "" {
		return Credentials{}, domain.ErrUnauthenticated
	}
	return Credentials{Token: token, UserID: domain.ID(userID)}, nil
}

func bearer(token string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
}

// claimString keeps numeric claims as their literal digits.
func claimString(claims jwt.MapClaims, key string) string {
	switch v := claims[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	return ""
}
