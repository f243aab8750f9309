package server

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/docchat-go/internal/logging"
)

// authRealm names the protection space in WWW-Authenticate challenges.
const authRealm = "docchat"

// authMiddleware requires "Authorization: Bearer <apiKey>" on the document
// routes. An empty apiKey disables it. Failures get 401, a Bearer challenge
// and the JSON error envelope; tokens are compared in constant time and
// never logged.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		switch {
		case token == "":
			unauthorized(w, r, "missing bearer token", fmt.Sprintf(`Bearer realm=%q`, authRealm))
		case subtle.ConstantTimeCompare([]byte(token), want) != 1:
			unauthorized(w, r, "invalid bearer token", fmt.Sprintf(`Bearer realm=%q, error="invalid_token"`, authRealm))
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func unauthorized(w http.ResponseWriter, r *http.Request, reason, challenge string) {
	logging.FromContext(r.Context()).Warn("auth: rejected",
		slog.String("path", r.URL.Path),
		slog.String("reason", reason),
	)
	w.Header().Set("WWW-Authenticate", challenge)
	writeJSON(r.Context(), w, http.StatusUnauthorized, errorResponse{
		Status:  "error",
		Message: "Unauthorized",
		Detail:  reason,
	})
}

// bearerToken returns the token of a Bearer Authorization header, or "" when
// the header is absent or uses another scheme.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
