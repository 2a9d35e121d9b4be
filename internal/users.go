package internal

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"fieldsales-api/internal/auth"
	"fieldsales-api/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const userColumns = `id, email, full_name, phone, org_id, roles, is_active,
	created_at, updated_at, last_login_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanUser reads userColumns followed by any extra destinations.
func scanUser(row rowScanner, extra ...any) (models.User, error) {
	var user models.User
	var phone sql.NullString
	var lastLoginAt sql.NullTime
	var roles pq.StringArray

	dest := []any{
		&user.ID, &user.Email, &user.FullName, &phone,
		&user.OrgID, &roles, &user.IsActive, &user.CreatedAt, &user.UpdatedAt, &lastLoginAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return user, err
	}
	if phone.Valid {
		user.Phone = &phone.String
	}
	if lastLoginAt.Valid {
		user.LastLoginAt = &lastLoginAt.Time
	}
	user.Roles = roles
	return user, nil
}

func validRoles(roles []string) bool {
	if len(roles) == 0 {
		return false
	}
	for _, r := range roles {
		if !auth.IsValidRole(r) {
			return false
		}
	}
	return true
}

// loginUser handles user authentication
func (s *Server) loginUser(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "email and password are required")
		return
	}

	// Login runs before any org is known, so it bypasses the RLS session
	var passwordHash string
	row := s.DB.QueryRowContext(r.Context(),
		`SELECT `+userColumns+`, password_hash FROM users WHERE email = $1 AND is_active = true`, req.Email)
	user, err := scanUser(row, &passwordHash)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials")
		return
	}
	if err != nil {
		s.dbError(w, r, err)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials")
		return
	}

	if _, err := s.DB.ExecContext(r.Context(), "UPDATE users SET last_login_at = now() WHERE id = $1", user.ID); err != nil {
		s.Logger.Warn("update last_login_at", zap.Int64("user_id", user.ID), zap.Error(err))
	}

	token, err := s.JWTManager.GenerateToken(user.ID, user.OrgID, user.Roles)
	if err != nil {
		s.Logger.Error("generate token", zap.Int64("user_id", user.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "TOKEN_ERROR", "failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, models.LoginResponse{
		Token:     token,
		ExpiresAt: s.now().Add(s.JWTManager.Expiry()).UTC(),
		User:      user,
	})
}

// createUser adds a user to the caller's organization.
func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req models.CreateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.FullName = strings.TrimSpace(req.FullName)
	switch {
	case req.Email == "" || !strings.Contains(req.Email, "@"):
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "a valid email is required")
		return
	case len(req.Password) < models.MinPasswordLength:
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR",
			fmt.Sprintf("password must be at least %d characters", models.MinPasswordLength))
		return
	case req.FullName == "":
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "full_name is required")
		return
	case !validRoles(req.Roles):
		writeError(w, http.StatusBadRequest, "INVALID_ROLE", "roles must be a non-empty subset of "+strings.Join(auth.ValidRoles, ", "))
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to hash password")
		return
	}

	orgID := auth.OrgIDFromContext(r.Context())
	row := dbFrom(r.Context(), s.DB).QueryRowContext(r.Context(), `
		INSERT INTO users (email, password_hash, full_name, phone, org_id, roles)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+userColumns,
		req.Email, string(hashed), req.FullName, nullIfEmpty(req.Phone), orgID, pq.Array(req.Roles))

	user, err := scanUser(row)
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// listUsers lists users of the caller's organization.
func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	params := parseListParams(r)

	var wb whereBuilder
	wb.add("org_id = $%d", auth.OrgIDFromContext(r.Context()))
	if params.q != "" {
		wb.add("(email ILIKE $%d OR full_name ILIKE $%d)", "%"+params.q+"%")
	}
	if role := strings.TrimSpace(r.URL.Query().Get("role")); role != "" {
		if !auth.IsValidRole(role) {
			writeError(w, http.StatusBadRequest, "INVALID_ROLE", "unknown role "+role)
			return
		}
		wb.add("$%d = ANY(roles)", role)
	}

	db := dbFrom(r.Context(), s.DB)
	var total int
	if err := db.QueryRowContext(r.Context(), "SELECT COUNT(*) FROM users"+wb.sql(), wb.args...).Scan(&total); err != nil {
		s.dbError(w, r, err)
		return
	}

	orderBy := buildOrderBy(params.sort, map[string]string{
		"id": "id", "email": "email", "full_name": "full_name", "created_at": "created_at",
	})
	query := fmt.Sprintf("SELECT %s FROM users%s%s LIMIT %d OFFSET %d",
		userColumns, wb.sql(), orderBy, params.limit, params.offset)

	rows, err := db.QueryContext(r.Context(), query, wb.args...)
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			s.dbError(w, r, err)
			return
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		s.dbError(w, r, err)
		return
	}

	sendListResponse(w, users, total, params)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	user, err := s.loadUser(r, id)
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) loadUser(r *http.Request, id int64) (models.User, error) {
	row := dbFrom(r.Context(), s.DB).QueryRowContext(r.Context(),
		`SELECT `+userColumns+` FROM users WHERE id = $1 AND org_id = $2`,
		id, auth.OrgIDFromContext(r.Context()))
	return scanUser(row)
}

// updateUser applies a partial update; roles and is_active are admin-only
// fields so they live here rather than on the profile endpoint.
func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req models.UpdateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Roles != nil && !validRoles(req.Roles) {
		writeError(w, http.StatusBadRequest, "INVALID_ROLE", "roles must be a non-empty subset of "+strings.Join(auth.ValidRoles, ", "))
		return
	}
	if req.FullName != nil && strings.TrimSpace(*req.FullName) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "full_name must not be empty")
		return
	}
	if id == auth.UserIDFromContext(r.Context()) && req.IsActive != nil && !*req.IsActive {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "cannot deactivate yourself")
		return
	}

	set := []string{}
	args := []interface{}{}
	add := func(col string, val interface{}) {
		args = append(args, val)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if req.FullName != nil {
		add("full_name", strings.TrimSpace(*req.FullName))
	}
	if req.Phone != nil {
		add("phone", nullIfEmpty(req.Phone))
	}
	if req.Roles != nil {
		add("roles", pq.Array(req.Roles))
	}
	if req.IsActive != nil {
		add("is_active", *req.IsActive)
	}
	if len(set) == 0 {
		writeError(w, http.StatusBadRequest, "NO_FIELDS", "no fields to update")
		return
	}

	args = append(args, id, auth.OrgIDFromContext(r.Context()))
	query := fmt.Sprintf(`UPDATE users SET %s, updated_at = now()
		WHERE id = $%d AND org_id = $%d
		RETURNING %s`, strings.Join(set, ", "), len(args)-1, len(args), userColumns)

	user, err := scanUser(dbFrom(r.Context(), s.DB).QueryRowContext(r.Context(), query, args...))
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// deleteUser deactivates a user. Visits and orders keep referencing the
// row, so it is never physically removed.
func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if id == auth.UserIDFromContext(r.Context()) {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "cannot delete yourself")
		return
	}

	orgID := auth.OrgIDFromContext(r.Context())
	db := dbFrom(r.Context(), s.DB)

	var roles pq.StringArray
	err := db.QueryRowContext(r.Context(),
		`SELECT roles FROM users WHERE id = $1 AND org_id = $2 AND is_active = true`, id, orgID).Scan(&roles)
	if err != nil {
		s.dbError(w, r, err)
		return
	}

	if contains(roles, auth.RoleAdmin) {
		var others int
		err = db.QueryRowContext(r.Context(),
			`SELECT COUNT(*) FROM users WHERE org_id = $1 AND $2 = ANY(roles) AND is_active = true AND id <> $3`,
			orgID, auth.RoleAdmin, id).Scan(&others)
		if err != nil {
			s.dbError(w, r, err)
			return
		}
		if others == 0 {
			writeError(w, http.StatusConflict, "LAST_ADMIN", "cannot delete the last admin of the organization")
			return
		}
	}

	if _, err := db.ExecContext(r.Context(),
		`UPDATE users SET is_active = false, updated_at = now() WHERE id = $1 AND org_id = $2`, id, orgID); err != nil {
		s.dbError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getUserProfile returns the caller's own user record.
func (s *Server) getUserProfile(w http.ResponseWriter, r *http.Request) {
	user, err := s.loadUser(r, auth.UserIDFromContext(r.Context()))
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) updateUserProfile(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.FullName == nil && req.Phone == nil {
		writeError(w, http.StatusBadRequest, "NO_FIELDS", "no fields to update")
		return
	}
	if req.FullName != nil && strings.TrimSpace(*req.FullName) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "full_name must not be empty")
		return
	}

	var fullName interface{}
	if req.FullName != nil {
		fullName = strings.TrimSpace(*req.FullName)
	}
	row := dbFrom(r.Context(), s.DB).QueryRowContext(r.Context(), `
		UPDATE users
		SET full_name = COALESCE($1, full_name),
		    phone = CASE WHEN $2::boolean THEN $3 ELSE phone END,
		    updated_at = now()
		WHERE id = $4
		RETURNING `+userColumns,
		fullName, req.Phone != nil, nullIfEmpty(req.Phone), auth.UserIDFromContext(r.Context()))

	user, err := scanUser(row)
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// changePassword verifies the current password before storing the new hash.
func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	var req models.ChangePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "current_password and new_password are required")
		return
	}
	if len(req.NewPassword) < models.MinPasswordLength {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR",
			fmt.Sprintf("new_password must be at least %d characters", models.MinPasswordLength))
		return
	}

	userID := auth.UserIDFromContext(r.Context())
	db := dbFrom(r.Context(), s.DB)

	var currentHash string
	if err := db.QueryRowContext(r.Context(), `SELECT password_hash FROM users WHERE id = $1`, userID).Scan(&currentHash); err != nil {
		s.dbError(w, r, err)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(currentHash), []byte(req.CurrentPassword)); err != nil {
		writeError(w, http.StatusBadRequest, "WRONG_PASSWORD", "current password is incorrect")
		return
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to hash password")
		return
	}
	if _, err := db.ExecContext(r.Context(),
		`UPDATE users SET password_hash = $1, updated_at = now() WHERE id = $2`, string(newHash), userID); err != nil {
		s.dbError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
