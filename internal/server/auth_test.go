package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		apiKey    string
		header    string
		wantCode  int
		wantError string
	}{
		{name: "disabled", apiKey: "", header: "", wantCode: http.StatusOK},
		{name: "correct token", apiKey: "secret", header: "Bearer secret", wantCode: http.StatusOK},
		{name: "lowercase scheme", apiKey: "secret", header: "bearer secret", wantCode: http.StatusOK},
		{name: "missing header", apiKey: "secret", header: "", wantCode: http.StatusUnauthorized},
		{name: "wrong token", apiKey: "secret", header: "Bearer wrong-token", wantCode: http.StatusUnauthorized, wantError: "invalid_token"},
		{name: "basic scheme", apiKey: "secret", header: "Basic dXNlcjpwYXNz", wantCode: http.StatusUnauthorized},
		{name: "token prefix", apiKey: "secret", header: "Bearer secre", wantCode: http.StatusUnauthorized, wantError: "invalid_token"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/query", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			authMiddleware(tc.apiKey, okHandler).ServeHTTP(w, req)

			if w.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d", tc.wantCode, w.Code)
			}
			if tc.wantCode == http.StatusOK {
				return
			}

			challenge := w.Header().Get("WWW-Authenticate")
			if !strings.HasPrefix(challenge, `Bearer realm="docchat"`) {
				t.Errorf("unexpected challenge %q", challenge)
			}
			if tc.wantError != "" && !strings.Contains(challenge, tc.wantError) {
				t.Errorf("challenge %q missing %q", challenge, tc.wantError)
			}

			var body errorResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != "error" || body.Message != "Unauthorized" {
				t.Errorf("unexpected body: %+v", body)
			}
			if strings.Contains(w.Body.String(), "secret") {
				t.Error("response leaked the configured key")
			}
		})
	}
}

// TestBearerToken verifies the bearerToken extraction helper.
func TestBearerToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		header string
		want   string
	}{
		{"Bearer mytoken", "mytoken"},
		{"BEARER mytoken", "mytoken"},
		{"Bearer  spaced ", "spaced"},
		{"Basic dXNlcjpwYXNz", ""},
		{"", ""},
		{"Bearer", ""},
		{"token only", ""},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		if got := bearerToken(req); got != tc.want {
			t.Errorf("header=%q: expected %q, got %q", tc.header, tc.want, got)
		}
	}
}
