package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestGate(t *testing.T) *AdminGate {
	t.Helper()
	gate, err := NewAdminGate(AdminGateConfig{Password: "admin123", Issuer: newTestIssuer(t, nil)})
	if err != nil {
		t.Fatalf("unexpected gate error: %v", err)
	}
	return gate
}

func TestAdminGateLogin(t *testing.T) {
	gate := newTestGate(t)

	if _, err := gate.Login("wrong"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
	if _, err := gate.Login(""); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected empty password to be rejected, got %v", err)
	}

	session, err := gate.Login("admin123")
	if err != nil {
		t.Fatalf("expected login success: %v", err)
	}
	if session.Token == "" || session.ExpiresIn <= 0 {
		t.Fatalf("unexpected session %#v", session)
	}
	if err := gate.Authorize(session.Token); err != nil {
		t.Fatalf("expected minted token to authorize: %v", err)
	}
}

func TestAdminGateRejectsNonAdminSubject(t *testing.T) {
	gate := newTestGate(t)
	token, _, err := gate.issuer.IssueToken("visitor")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if err := gate.Authorize(token); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
}

func TestAdminGateAuthorizeRequest(t *testing.T) {
	gate := newTestGate(t)
	session, err := gate.Login("admin123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	tests := []struct {
		name          string
		prepare       func(*http.Request)
		expectedError error
	}{
		{
			name: "bearer-header",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+session.Token)
			},
		},
		{
			name: "cookie",
			prepare: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: DefaultAdminCookieName, Value: session.Token})
			},
		},
		{
			name:          "missing",
			prepare:       func(*http.Request) {},
			expectedError: ErrMissingAdminToken,
		},
		{
			name: "garbage",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer not-a-token")
			},
			expectedError: ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, "/admin/blocked-ips", nil)
			tt.prepare(request)
			err := gate.AuthorizeRequest(request)
			if tt.expectedError == nil && err != nil {
				t.Fatalf("expected success, got %v", err)
			}
			if tt.expectedError != nil && !errors.Is(err, tt.expectedError) {
				t.Fatalf("expected %v, got %v", tt.expectedError, err)
			}
		})
	}
}

func TestNewAdminGateValidation(t *testing.T) {
	if _, err := NewAdminGate(AdminGateConfig{Issuer: newTestIssuer(t, nil)}); !errors.Is(err, ErrMissingAdminPassword) {
		t.Fatalf("expected ErrMissingAdminPassword, got %v", err)
	}
	if _, err := NewAdminGate(AdminGateConfig{Password: "x"}); !errors.Is(err, ErrMissingTokenIssuer) {
		t.Fatalf("expected ErrMissingTokenIssuer, got %v", err)
	}
}
