package api

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey int

const credentialKey ctxKey = iota

// BearerCredential requires an Authorization: Bearer <token> header and
// stashes the token in the request context. The token is not validated
// here — it is passed through to the synthesis backend, where it doubles as
// the device identity and access token.
func BearerCredential(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			respondError(w, http.StatusUnauthorized, "Missing API key in Authorization header")
			return
		}

		credential := strings.TrimPrefix(authHeader, "Bearer ")
		ctx := context.WithValue(r.Context(), credentialKey, credential)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CredentialFrom returns the bearer token extracted by BearerCredential,
// or "" when the middleware didn't run.
func CredentialFrom(ctx context.Context) string {
	credential, _ := ctx.Value(credentialKey).(string)
	return credential
}
