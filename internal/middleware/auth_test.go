package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukerupert/pillbox/internal/auth"
	"github.com/dukerupert/pillbox/internal/database"
	"github.com/dukerupert/pillbox/internal/store"
)

func setupKeyStore(t *testing.T) *store.APIKeyStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewAPIKeyStore(db)
}

func issueKey(t *testing.T, keys *store.APIKeyStore, userID string) string {
	t.Helper()
	key, hash, err := auth.GenerateKey(userID)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if err := keys.Set(userID, hash); err != nil {
		t.Fatalf("store key: %v", err)
	}
	return key
}

func serveWithKey(handler http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/api/medications", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRequireAPIKey(t *testing.T) {
	keys := setupKeyStore(t)
	aliceKey := issueKey(t, keys, "alice")
	malloryKey := issueKey(t, keys, "mallory")

	var gotUser string
	handler := RequireAPIKey(keys, auth.NewAllowlist([]string{"alice", "bob"}), slog.New(slog.NewTextHandler(io.Discard, nil)))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotUser = auth.UserID(r.Context())
			w.WriteHeader(http.StatusOK)
		}),
	)

	rec := serveWithKey(handler, "Bearer "+aliceKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if gotUser != "alice" {
		t.Errorf("UserID = %q, want %q", gotUser, "alice")
	}

	cases := map[string]struct {
		header string
		want   int
	}{
		"missing header":   {"", http.StatusUnauthorized},
		"wrong scheme":     {"Basic " + aliceKey, http.StatusUnauthorized},
		"malformed key":    {"Bearer nodot", http.StatusUnauthorized},
		"wrong secret":     {"Bearer alice.not-the-secret", http.StatusUnauthorized},
		"no key issued":    {"Bearer bob.whatever", http.StatusUnauthorized},
		"not in allowlist": {"Bearer " + malloryKey, http.StatusForbidden},
		"lowercase bearer": {"bearer " + aliceKey, http.StatusOK},
	}
	for name, tc := range cases {
		if rec := serveWithKey(handler, tc.header); rec.Code != tc.want {
			t.Errorf("%s: status = %d, want %d", name, rec.Code, tc.want)
		}
	}

	req := httptest.NewRequest("GET", "/ws?access_token="+aliceKey, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("query key without upgrade: status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	req = httptest.NewRequest("GET", "/ws?access_token="+aliceKey, nil)
	req.Header.Set("Upgrade", "websocket")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("query key on upgrade: status = %d, want %d", rec.Code, http.StatusOK)
	}
}
