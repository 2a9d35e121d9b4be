package handlers

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"fieldsales-api/internal/auth"
	"fieldsales-api/pkg/importer"
)

// ImportsHandler handles Excel import operations
type ImportsHandler struct {
	DB          *pgxpool.Pool
	MaxBytes    int64
	MappingPath string
	Logger      *zap.Logger
}

// NewImportsHandler creates a new imports handler
func NewImportsHandler(db *pgxpool.Pool, mappingPath string, logger *zap.Logger) *ImportsHandler {
	if mappingPath == "" {
		mappingPath = importer.DefaultMappingPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportsHandler{
		DB:          db,
		MaxBytes:    20 << 20, // 20 MB
		MappingPath: mappingPath,
		Logger:      logger,
	}
}

// UploadRetailers imports the retailer master list from an .xlsx upload
// into the caller's organization.
func (h *ImportsHandler) UploadRetailers(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxBytes)

	if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
		auth.WriteError(w, "content-type must be multipart/form-data", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}
	if err := r.ParseMultipartForm(h.MaxBytes); err != nil {
		auth.WriteError(w, "invalid multipart form: "+err.Error(), "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}

	dryRun := r.FormValue("dry_run") == "true"
	maxErrors := 50
	if v := r.FormValue("max_errors"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			auth.WriteError(w, "max_errors must be a positive integer", "VALIDATION_ERROR", http.StatusBadRequest)
			return
		}
		maxErrors = n
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		auth.WriteError(w, "file is required: "+err.Error(), "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !isXLSX(header) {
		auth.WriteError(w, "only .xlsx files are accepted", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}

	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		auth.WriteError(w, "authentication required", "UNAUTHORIZED", http.StatusUnauthorized)
		return
	}
	if h.DB == nil {
		auth.WriteError(w, "imports are unavailable", "SERVICE_UNAVAILABLE", http.StatusServiceUnavailable)
		return
	}

	sum, err := importer.ImportRetailers(r.Context(), h.DB, file, importer.Options{
		OrgID:       claims.OrgID,
		MappingPath: h.MappingPath,
		DryRun:      dryRun,
		MaxErrors:   maxErrors,
	})
	if err != nil {
		h.Logger.Warn("retailer import failed",
			zap.Int64("org_id", claims.OrgID),
			zap.String("file", header.Filename),
			zap.Error(err))
		code := "IMPORT_FAILED"
		if errors.Is(err, importer.ErrTooManyErrors) {
			code = "TOO_MANY_ERRORS"
		}
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": err.Error(),
			"code":  code,
			"data":  sum,
		})
		return
	}

	h.Logger.Info("retailer import",
		zap.Int64("org_id", claims.OrgID),
		zap.String("file", header.Filename),
		zap.Bool("dry_run", sum.DryRun),
		zap.Int("inserted", sum.Inserted),
		zap.Int("updated", sum.Updated),
		zap.Int("errors", sum.Errors))
	writeJSON(w, http.StatusOK, map[string]any{"data": sum})
}

// isXLSX checks if the uploaded file is an Excel .xlsx file
func isXLSX(h *multipart.FileHeader) bool {
	return strings.HasSuffix(strings.ToLower(h.Filename), ".xlsx")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
