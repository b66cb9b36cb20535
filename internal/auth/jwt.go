// Package auth attaches an optional customer identity to checkout requests.
// Guests are allowed; a token that is present but invalid is not.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

var ErrInvalidToken = errors.New("invalid bearer token")

type ctxKey struct{}

// CustomerID returns the authenticated customer id, or "" for guests.
func CustomerID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func WithCustomerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses an HS256 token and returns its subject.
func (v *Verifier) Verify(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return sub, nil
}

// Sign issues a token for sub. Used by tooling and tests; this service does
// not log customers in.
func (v *Verifier) Sign(sub string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = sub
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Middleware reads an optional "Authorization: Bearer" header. With no
// verifier configured the header is ignored and every caller is a guest.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if v == nil || header == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				log.Warn().Str("remote_addr", r.RemoteAddr).Msg("auth: authorization header is not a bearer token")
				unauthorized(w)
				return
			}
			sub, err := v.Verify(strings.TrimSpace(token))
			if err != nil {
				log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("auth: rejected bearer token")
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCustomerID(r.Context(), sub)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = fmt.Fprintf(w, `{"error":%q}`, ErrInvalidToken.Error())
}
