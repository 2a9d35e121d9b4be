package internal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"fieldsales-api/internal/models"
	"fieldsales-api/internal/reconcile"

	"go.uber.org/zap"
)

// apiError carries an HTTP status and code out of a transaction callback.
type apiError struct {
	status int
	code   string
	msg    string
}

func (e *apiError) Error() string { return e.msg }

// lineItemEdit is a diff-based update target: a delivery's lines or a
// retailer's closing stock.
type lineItemEdit struct {
	kind string

	// lock takes a row lock on the parent record for the rest of the
	// transaction and fails if the parent cannot be edited.
	lock func(ctx context.Context, tx *sql.Tx) error
	// load returns the current rows the edit is diffed against.
	load func(ctx context.Context, tx *sql.Tx) ([]reconcile.LineItem, error)
	// write stores one row of the minimal update payload.
	write func(ctx context.Context, tx *sql.Tx, it reconcile.LineItem) error
}

// validateLineItems rejects malformed rows before any database work.
func validateLineItems(items []reconcile.LineItem) error {
	for _, it := range items {
		if it.ProductID <= 0 {
			return &apiError{http.StatusBadRequest, "VALIDATION_ERROR", "product_id must be a positive integer"}
		}
	}
	if err := reconcile.Validate(items); err != nil {
		return &apiError{http.StatusBadRequest, "NEGATIVE_QUANTITY", err.Error()}
	}
	return nil
}

func unknownProducts(ids []int64) error {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return &apiError{http.StatusBadRequest, "UNKNOWN_PRODUCT", "unknown product ids: " + strings.Join(parts, ", ")}
}

// applyLineItems diffs the submitted rows against the stored snapshot in one
// transaction and writes only the rows whose quantity changed.
func (s *Server) applyLineItems(w http.ResponseWriter, r *http.Request, edit lineItemEdit) {
	var req models.LineItemsUpdate
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validateLineItems(req.Items); err != nil {
		s.writeTxError(w, r, err)
		return
	}

	changes, err := s.diffAndWrite(r.Context(), edit, req.Items)
	if err != nil {
		s.writeTxError(w, r, err)
		return
	}

	s.Metrics.ObserveLineUpdates(edit.kind, len(changes))
	if len(changes) > 0 {
		s.Logger.Info("line items updated",
			zap.String("kind", edit.kind),
			zap.String("path", r.URL.Path),
			zap.Int("changed", len(changes)))
	}

	writeJSON(w, http.StatusOK, models.LineItemsResult{
		Updated: len(changes),
		Changes: reconcile.Views(changes),
	})
}

func (s *Server) diffAndWrite(ctx context.Context, edit lineItemEdit, items []reconcile.LineItem) ([]reconcile.Change, error) {
	tx, err := beginTx(ctx, s.DB)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if edit.lock != nil {
		if err := edit.lock(ctx, tx); err != nil {
			return nil, err
		}
	}

	original, err := edit.load(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", edit.kind, err)
	}
	if ids := reconcile.Unmatched(original, items); len(ids) > 0 {
		return nil, unknownProducts(ids)
	}

	changes := reconcile.Diff(original, items)
	if len(changes) == 0 {
		return changes, nil
	}
	for _, it := range reconcile.Payload(changes) {
		if err := edit.write(ctx, tx, it); err != nil {
			return nil, fmt.Errorf("write %s product %d: %w", edit.kind, it.ProductID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return changes, nil
}

// writeTxError renders an apiError as-is and sends anything else through
// dbError.
func (s *Server) writeTxError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		writeError(w, apiErr.status, apiErr.code, apiErr.msg)
		return
	}
	s.dbError(w, r, err)
}
