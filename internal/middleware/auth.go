package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/pillbox/internal/auth"
	"github.com/dukerupert/pillbox/internal/store"
)

// RequireAPIKey validates the bearer key and populates AuthContext. A valid
// key for a user outside the allowlist is rejected with 403.
func RequireAPIKey(keys *store.APIKeyStore, allow *auth.Allowlist, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w)
				return
			}
			userID, secret, err := auth.SplitKey(token)
			if err != nil {
				unauthorized(w)
				return
			}

			stored, err := keys.Get(userID)
			if err != nil {
				logger.Error("load api key", "user_id", userID, "error", err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			if stored == nil || !auth.VerifySecret(stored.KeyHash, secret) {
				unauthorized(w)
				return
			}

			if !allow.Contains(userID) {
				logger.Warn("unauthorized user", "user_id", userID, "remote", RealIP(r))
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			ctx := auth.WithAuth(r.Context(), auth.AuthContext{UserID: userID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken reads the Authorization header. Browsers cannot set headers on
// websocket upgrades, so those may pass the key as ?access_token= instead.
func bearerToken(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", false
		}
		token = strings.TrimSpace(token)
		return token, token != ""
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		token := r.URL.Query().Get("access_token")
		return token, token != ""
	}
	return "", false
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="pillbox"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
