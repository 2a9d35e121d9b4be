package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

// ClaimsKey is the context key for JWT claims
const ClaimsKey contextKey = "claims"

// ErrorResponse is the error body returned by every endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WriteError sends an ErrorResponse with the given status.
func WriteError(w http.ResponseWriter, message, code string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: code}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// ClaimsFromContext extracts the JWT claims from the request context
func ClaimsFromContext(ctx context.Context) *Claims {
	if claims, ok := ctx.Value(ClaimsKey).(*Claims); ok {
		return claims
	}
	return nil
}

// UserIDFromContext extracts the user ID from the request context
func UserIDFromContext(ctx context.Context) int64 {
	if c := ClaimsFromContext(ctx); c != nil {
		return c.UserID
	}
	return 0
}

// OrgIDFromContext extracts the organization ID from the request context
func OrgIDFromContext(ctx context.Context) int64 {
	if c := ClaimsFromContext(ctx); c != nil {
		return c.OrgID
	}
	return 0
}

// ScopeUserID returns the user id a list query must be restricted to.
// Supervisors and admins get requested back (0 means everyone); sales reps
// always get their own id.
func ScopeUserID(ctx context.Context, requested int64) int64 {
	c := ClaimsFromContext(ctx)
	if c == nil {
		return -1
	}
	if c.CanSeeOrg() {
		return requested
	}
	return c.UserID
}

// setExpiryHeaders warns the client when the token expires within the hour
// so it can re-authenticate before a form submission fails.
func setExpiryHeaders(w http.ResponseWriter, expiresAt time.Time) {
	left := time.Until(expiresAt)
	if left <= time.Hour && left > 0 {
		w.Header().Set("X-Token-Expires-At", expiresAt.Format(time.RFC3339))
		w.Header().Set("X-Token-Expires-In", left.Round(time.Second).String())
	}
}

func bearerToken(r *http.Request) (string, string, string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", "Authorization header required", "MISSING_AUTH_HEADER"
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", "Invalid authorization header format. Expected: Bearer <token>", "INVALID_AUTH_FORMAT"
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", "Token is required", "MISSING_TOKEN"
	}
	if len(token) > 8192 || strings.Count(token, ".") != 2 {
		return "", "Invalid token format", "INVALID_TOKEN_FORMAT"
	}
	return token, "", ""
}

// AuthMiddleware validates JWT tokens and sets user context
func AuthMiddleware(jwtManager *JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, msg, code := bearerToken(r)
			if tokenString == "" {
				WriteError(w, msg, code, http.StatusUnauthorized)
				return
			}

			claims, err := jwtManager.ValidateToken(tokenString)
			if err != nil {
				switch {
				case errors.Is(err, jwt.ErrTokenExpired):
					WriteError(w, "Token has expired", "TOKEN_EXPIRED", http.StatusUnauthorized)
				case errors.Is(err, jwt.ErrTokenMalformed):
					WriteError(w, "Token is malformed", "MALFORMED_TOKEN", http.StatusUnauthorized)
				case errors.Is(err, jwt.ErrTokenSignatureInvalid):
					WriteError(w, "Invalid token signature", "INVALID_SIGNATURE", http.StatusUnauthorized)
				default:
					WriteError(w, "Invalid or expired token", "INVALID_TOKEN", http.StatusUnauthorized)
				}
				return
			}

			if claims.UserID <= 0 {
				WriteError(w, "Invalid user ID in token", "INVALID_USER_ID", http.StatusUnauthorized)
				return
			}
			if claims.OrgID <= 0 {
				WriteError(w, "Invalid organization ID in token", "INVALID_ORG_ID", http.StatusUnauthorized)
				return
			}
			if len(claims.Roles) == 0 {
				WriteError(w, "No roles assigned to user", "NO_ROLES", http.StatusUnauthorized)
				return
			}

			if claims.ExpiresAt != nil {
				setExpiryHeaders(w, claims.ExpiresAt.Time)
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// MustRole creates middleware that requires one of the given roles.
func MustRole(requiredRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				WriteError(w, "Authentication required", "AUTHENTICATION_REQUIRED", http.StatusUnauthorized)
				return
			}
			if !claims.HasRole(requiredRoles...) {
				WriteError(w, "Insufficient permissions", "INSUFFICIENT_PERMISSIONS", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
