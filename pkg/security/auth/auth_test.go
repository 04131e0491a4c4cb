package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testKeys() []Key {
	return []Key{
		{Principal: Principal{Name: "ops"}, Secret: "ops-key-0123456789", Enabled: true},
		{Principal: Principal{Name: "auditor", ReadOnly: true}, Secret: "auditor-key-012345", Enabled: true},
		{Principal: Principal{Name: "former"}, Secret: "former-key-0123456", Enabled: false},
	}
}

func TestKeyValidator_Validate(t *testing.T) {
	v := NewKeyValidator(testKeys())

	tests := []struct {
		name    string
		secret  string
		want    string
		wantErr error
	}{
		{"valid", "ops-key-0123456789", "ops", nil},
		{"read only", "auditor-key-012345", "auditor", nil},
		{"disabled", "former-key-0123456", "", ErrDisabledKey},
		{"unknown", "nope-0123456789abc", "", ErrInvalidKey},
		{"empty", "", "", ErrMissingKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := v.Validate(tt.secret)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
			if p.Name != tt.want {
				t.Errorf("principal = %q, want %q", p.Name, tt.want)
			}
		})
	}
}

func TestKeyValidator_Replace(t *testing.T) {
	v := NewKeyValidator(testKeys())
	v.Replace([]Key{{Principal: Principal{Name: "new"}, Secret: "new-key-0123456789", Enabled: true}})

	if _, err := v.Validate("ops-key-0123456789"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("old key still valid: %v", err)
	}
	if p, err := v.Validate("new-key-0123456789"); err != nil || p.Name != "new" {
		t.Errorf("new key: %+v, %v", p, err)
	}
}

func TestMiddleware_Handle(t *testing.T) {
	mw := NewMiddleware(NewKeyValidator(testKeys()), nil)

	var seen Principal
	handler := mw.Handle(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		method     string
		header     string
		value      string
		wantStatus int
		wantName   string
		wantCode   string
	}{
		{"bearer", http.MethodPost, "Authorization", "Bearer ops-key-0123456789", http.StatusNoContent, "ops", ""},
		{"bearer lowercase scheme", http.MethodGet, "Authorization", "bearer ops-key-0123456789", http.StatusNoContent, "ops", ""},
		{"x-api-key", http.MethodDelete, "X-API-Key", "ops-key-0123456789", http.StatusNoContent, "ops", ""},
		{"read only get", http.MethodGet, "X-API-Key", "auditor-key-012345", http.StatusNoContent, "auditor", ""},
		{"read only post", http.MethodPost, "X-API-Key", "auditor-key-012345", http.StatusForbidden, "", "Forbidden"},
		{"wrong scheme", http.MethodGet, "Authorization", "Basic ops-key-0123456789", http.StatusUnauthorized, "", "Unauthorized"},
		{"missing", http.MethodGet, "", "", http.StatusUnauthorized, "", "Unauthorized"},
		{"disabled", http.MethodGet, "X-API-Key", "former-key-0123456", http.StatusUnauthorized, "", "Unauthorized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = Principal{}
			req := httptest.NewRequest(tt.method, "/api/v1/copies/c1", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if seen.Name != tt.wantName {
				t.Errorf("principal = %q, want %q", seen.Name, tt.wantName)
			}
			if tt.wantCode == "" {
				return
			}
			var body struct{ Code string }
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
			if rec.Code == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("401 without WWW-Authenticate")
			}
		})
	}
}
