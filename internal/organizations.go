package internal

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"fieldsales-api/internal/auth"
	"fieldsales-api/internal/models"
)

func (s *Server) loadOrganization(ctx context.Context) (models.Organization, error) {
	var org models.Organization
	err := dbFrom(ctx, s.DB).QueryRowContext(ctx, `
		SELECT o.id, o.name, o.created_at, o.updated_at,
		       (SELECT COUNT(*) FROM users u WHERE u.org_id = o.id AND u.is_active),
		       (SELECT COUNT(*) FROM retailers rt WHERE rt.org_id = o.id),
		       (SELECT COUNT(*) FROM products p WHERE p.org_id = o.id AND p.is_active)
		FROM organizations o
		WHERE o.id = $1`, auth.OrgIDFromContext(ctx)).Scan(
		&org.ID, &org.Name, &org.CreatedAt, &org.UpdatedAt,
		&org.Users, &org.Retailers, &org.Products)
	return org, err
}

// getOrganization returns the caller's organization with headline counts.
func (s *Server) getOrganization(w http.ResponseWriter, r *http.Request) {
	org, err := s.loadOrganization(r.Context())
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "organization not found")
		return
	}
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

// updateOrganization renames the caller's organization.
func (s *Server) updateOrganization(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateOrganizationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == nil {
		writeError(w, http.StatusBadRequest, "NO_FIELDS", "no fields to update")
		return
	}
	name := strings.TrimSpace(*req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "name is required")
		return
	}

	ctx := r.Context()
	res, err := dbFrom(ctx, s.DB).ExecContext(ctx,
		`UPDATE organizations SET name = $1, updated_at = now() WHERE id = $2`,
		name, auth.OrgIDFromContext(ctx))
	if isUniqueViolation(err) {
		writeError(w, http.StatusConflict, "DUPLICATE_NAME", "an organization with this name already exists")
		return
	}
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "organization not found")
		return
	}

	s.getOrganization(w, r)
}
