package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/rentdesk/rentdesk/internal/shared"
)

func newTestManager(now time.Time) *TokenManager {
	m := NewTokenManager("test-secret", "rentdesk")
	m.now = func() time.Time { return now }
	return m
}

func TestIssueAndValidate(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	m := newTestManager(now)
	token, err := m.Issue("desk-7", shared.RoleFrontDesk, time.Hour)
	require.NoError(t, err)

	actor, err := m.Validate(token)
	require.NoError(t, err)
	require.Equal(t, shared.Actor{Subject: "desk-7", Role: shared.RoleFrontDesk}, actor)
}

func TestValidateRejectsExpired(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	token, err := newTestManager(now).Issue("desk-7", shared.RoleAdmin, time.Minute)
	require.NoError(t, err)

	_, err = newTestManager(now.Add(time.Hour)).Validate(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	now := time.Now()
	token, err := newTestManager(now).Issue("desk-7", shared.RoleAdmin, time.Hour)
	require.NoError(t, err)

	other := NewTokenManager("other-secret", "rentdesk")
	_, err = other.Validate(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsUnknownRole(t *testing.T) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "x",
			Issuer:    "rentdesk",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Role: "tenant",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = newTestManager(now).Validate(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssueRejectsUnknownRole(t *testing.T) {
	_, err := NewTokenManager("s", "").Issue("x", "owner", time.Hour)
	require.Error(t, err)
}

func TestAuthenticateAndRequireRole(t *testing.T) {
	m := NewTokenManager("test-secret", "rentdesk")
	admin, err := m.Issue("owner-1", shared.RoleAdmin, time.Hour)
	require.NoError(t, err)
	desk, err := m.Issue("desk-1", shared.RoleFrontDesk, time.Hour)
	require.NoError(t, err)

	var seen shared.Actor
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = shared.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := Authenticate(m, nil)(RequireRole(shared.RoleAdmin)(final))

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"malformed", "Token abc", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"wrong role", "Bearer " + desk, http.StatusForbidden},
		{"admin", "Bearer " + admin, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/sweeps", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			require.Equal(t, tc.status, rec.Code)
		})
	}
	require.Equal(t, "owner-1", seen.Subject)
}

func TestRequireRoleWithoutActor(t *testing.T) {
	handler := RequireRole(shared.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
