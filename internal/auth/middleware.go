package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"clinicd/pkg/types"
)

type ctxKey struct{}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// FromContext returns the request identity, Anonymous when none was set.
func FromContext(ctx context.Context) User {
	if u, ok := ctx.Value(ctxKey{}).(User); ok {
		return u
	}
	return Anonymous
}

// TierOf returns the tier of the request identity.
func TierOf(r *http.Request) Tier { return FromContext(r.Context()).Tier }

// bearer extracts the token from an Authorization header.
func bearer(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return "", false
	}
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", true
	}
	return strings.TrimSpace(tok), true
}

// Identify attaches the caller identity to the request context. Requests
// without an Authorization header are anonymous; a header carrying an
// invalid or expired token is rejected with 401. A nil Issuer treats every
// request as anonymous.
func (i *Issuer) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if i == nil {
			next.ServeHTTP(w, r)
			return
		}
		tok, present := bearer(r)
		if !present {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := i.Verify(tok, TypeAccess)
		if err != nil {
			unauthorized(w, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), UserOf(claims))))
	})
}

// RequireUser rejects anonymous requests with 401.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()).Tier == TierAnonymous {
			unauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: http.StatusUnauthorized})
}
