package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey int

const ownerKey ctxKey = 1

var ErrNoSubject = errors.New("auth: token has no subject")

// WithOwner adds the authenticated owner id to the context
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey, owner)
}

// Owner extracts the owner id, "" when the request is unauthenticated
func Owner(ctx context.Context) string {
	v, _ := ctx.Value(ownerKey).(string)
	return v
}

// JWT verifies HS256 tokens minted by the auth service
type JWT struct{ secret []byte }

func New(secret string) *JWT { return &JWT{secret: []byte(secret)} }

// Verify checks a token and returns its sub claim
func (j *JWT) Verify(tok string) (string, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tok, claims, func(token *jwt.Token) (interface{}, error) {
		return j.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("auth: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrNoSubject
	}
	return sub, nil
}

// Sign creates a token for owner with the given TTL
func (j *JWT) Sign(owner string, ttl time.Duration) (string, error) {
	if owner == "" {
		return "", ErrNoSubject
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   owner,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// Middleware enforces a bearer token and stores its subject as the owner
func (j *JWT) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			writeUnauthorized(w, "missing bearer token")
			return
		}
		owner, err := j.Verify(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			writeUnauthorized(w, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
	})
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
