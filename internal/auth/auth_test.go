package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-that-is-long-enough-for-testing"

func newTestManager(expiry time.Duration) *JWTManager {
	return NewJWTManager(testSecret, "test-issuer", "test-audience", expiry)
}

func TestNewJWTManager(t *testing.T) {
	manager := newTestManager(time.Hour)

	if manager.secret != testSecret {
		t.Errorf("Expected secret %s, got %s", testSecret, manager.secret)
	}
	if manager.issuer != "test-issuer" {
		t.Errorf("Expected issuer test-issuer, got %s", manager.issuer)
	}
	if manager.audience != "test-audience" {
		t.Errorf("Expected audience test-audience, got %s", manager.audience)
	}
	if manager.expiry != time.Hour {
		t.Errorf("Expected expiry 1h, got %v", manager.expiry)
	}
}

func TestJWTManager_ValidateConfig(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		issuer   string
		audience string
		expiry   time.Duration
		wantErr  bool
	}{
		{"valid config", testSecret, "iss", "aud", time.Hour, false},
		{"empty secret", "", "iss", "aud", time.Hour, true},
		{"secret too short", "short", "iss", "aud", time.Hour, true},
		{"empty issuer", testSecret, "", "aud", time.Hour, true},
		{"empty audience", testSecret, "iss", "", time.Hour, true},
		{"negative expiry", testSecret, "iss", "aud", -time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewJWTManager(tt.secret, tt.issuer, tt.audience, tt.expiry)
			err := manager.ValidateConfig()
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestJWTManager_GenerateToken(t *testing.T) {
	manager := newTestManager(time.Hour)

	tests := []struct {
		name    string
		userID  int64
		orgID   int64
		roles   []string
		wantErr bool
	}{
		{"valid token", 1, 1, []string{RoleSalesRep}, false},
		{"invalid user ID", 0, 1, []string{RoleSalesRep}, true},
		{"invalid org ID", 1, 0, []string{RoleSalesRep}, true},
		{"empty roles", 1, 1, []string{}, true},
		{"nil roles", 1, 1, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := manager.GenerateToken(tt.userID, tt.orgID, tt.roles)
			if (err != nil) != tt.wantErr {
				t.Errorf("GenerateToken() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && token == "" {
				t.Error("GenerateToken() returned empty token")
			}
		})
	}
}

func TestJWTManager_ValidateToken(t *testing.T) {
	manager := newTestManager(time.Hour)

	validToken, err := manager.GenerateToken(7, 3, []string{RoleSupervisor})
	require.NoError(t, err)

	claims, err := manager.ValidateToken(validToken)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.Equal(t, int64(3), claims.OrgID)
	assert.Equal(t, []string{RoleSupervisor}, claims.Roles)

	otherAudience := NewJWTManager(testSecret, "test-issuer", "other-app", time.Hour)
	foreign, err := otherAudience.GenerateToken(7, 3, []string{RoleSupervisor})
	require.NoError(t, err)

	otherSecret := NewJWTManager("another-secret-key-that-is-long-enough!!", "test-issuer", "test-audience", time.Hour)
	forged, err := otherSecret.GenerateToken(7, 3, []string{RoleAdmin})
	require.NoError(t, err)

	for name, token := range map[string]string{
		"empty token":     "",
		"malformed token": "invalid.token",
		"wrong audience":  foreign,
		"wrong secret":    forged,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := manager.ValidateToken(token)
			assert.Error(t, err)
		})
	}
}

func TestClaims_HasRole(t *testing.T) {
	claims := &Claims{UserID: 1, OrgID: 1, Roles: []string{RoleSupervisor}}

	assert.True(t, claims.HasRole(RoleSupervisor))
	assert.True(t, claims.HasRole(RoleAdmin, RoleSupervisor))
	assert.False(t, claims.HasRole(RoleAdmin))
	assert.False(t, claims.HasRole())
	assert.True(t, claims.CanSeeOrg())

	rep := &Claims{UserID: 2, OrgID: 1, Roles: []string{RoleSalesRep}}
	assert.False(t, rep.CanSeeOrg())
}

func TestIsValidRole(t *testing.T) {
	for _, r := range ValidRoles {
		assert.True(t, IsValidRole(r))
	}
	assert.False(t, IsValidRole("org_admin"))
}

func TestScopeUserID(t *testing.T) {
	sup := WithClaims(context.Background(), &Claims{UserID: 1, OrgID: 1, Roles: []string{RoleSupervisor}})
	rep := WithClaims(context.Background(), &Claims{UserID: 9, OrgID: 1, Roles: []string{RoleSalesRep}})

	assert.Equal(t, int64(0), ScopeUserID(sup, 0))
	assert.Equal(t, int64(5), ScopeUserID(sup, 5))
	assert.Equal(t, int64(9), ScopeUserID(rep, 0))
	assert.Equal(t, int64(9), ScopeUserID(rep, 5))
	assert.Equal(t, int64(-1), ScopeUserID(context.Background(), 5))
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestAuthMiddleware(t *testing.T) {
	manager := newTestManager(30 * time.Minute)
	var seen *Claims
	handler := AuthMiddleware(manager)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	token, err := manager.GenerateToken(4, 2, []string{RoleSalesRep})
	require.NoError(t, err)

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantErr  string
	}{
		{"missing header", "", http.StatusUnauthorized, "MISSING_AUTH_HEADER"},
		{"basic auth", "Basic abc", http.StatusUnauthorized, "INVALID_AUTH_FORMAT"},
		{"empty bearer", "Bearer ", http.StatusUnauthorized, "MISSING_TOKEN"},
		{"not a jwt", "Bearer invalid-token", http.StatusUnauthorized, "INVALID_TOKEN_FORMAT"},
		{"garbage jwt", "Bearer a.b.c", http.StatusUnauthorized, "MALFORMED_TOKEN"},
		{"valid", "Bearer " + token, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest("GET", "/visits", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, decodeError(t, w).Code)
				assert.Nil(t, seen)
				return
			}
			require.NotNil(t, seen)
			assert.Equal(t, int64(4), seen.UserID)
			assert.NotEmpty(t, w.Header().Get("X-Token-Expires-At"))
		})
	}
}

func TestAuthMiddlewareExpiredToken(t *testing.T) {
	manager := newTestManager(-time.Minute)
	token, err := manager.GenerateToken(1, 1, []string{RoleAdmin})
	require.NoError(t, err)

	handler := AuthMiddleware(manager)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run for an expired token")
	}))
	req := httptest.NewRequest("GET", "/visits", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "TOKEN_EXPIRED", decodeError(t, w).Code)
}

func TestMustRole(t *testing.T) {
	handler := MustRole(RoleSupervisor, RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("no claims", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/reports/sales", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("sales rep", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/reports/sales", nil)
		req = req.WithContext(WithClaims(req.Context(), &Claims{UserID: 1, OrgID: 1, Roles: []string{RoleSalesRep}}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "INSUFFICIENT_PERMISSIONS", decodeError(t, w).Code)
	})

	t.Run("supervisor", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/reports/sales", nil)
		req = req.WithContext(WithClaims(req.Context(), &Claims{UserID: 1, OrgID: 1, Roles: []string{RoleSupervisor}}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}
