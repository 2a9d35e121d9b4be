// Package reconcile diffs an edited list of product line items against the
// snapshot it was loaded from, so that only changed rows are written back.
//
// A row edited down to zero is an ordinary change to zero. Removing a row
// from a delivery or a closing-stock sheet is a separate, explicit delete.
package reconcile

import (
	"errors"
	"fmt"
)

// ErrNegativeQuantity is returned by Validate for a quantity below zero.
var ErrNegativeQuantity = errors.New("quantity must not be negative")

// LineItem is one product row keyed by product id.
type LineItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// Change is a line item whose quantity differs from the original snapshot.
type Change struct {
	ProductID   int64 `json:"product_id"`
	OldQuantity int   `json:"old_quantity"`
	NewQuantity int   `json:"new_quantity"`
}

// Delta is NewQuantity minus OldQuantity.
func (c Change) Delta() int {
	return c.NewQuantity - c.OldQuantity
}

// Diff returns the edited rows whose quantity differs from original, in the
// order they appear in edited. When edited repeats a product id the last
// occurrence wins. Rows that are not in original are ignored; see Unmatched.
func Diff(original, edited []LineItem) []Change {
	before := make(map[int64]int, len(original))
	for _, it := range original {
		before[it.ProductID] = it.Quantity
	}

	last := make(map[int64]int, len(edited))
	for i, it := range edited {
		last[it.ProductID] = i
	}

	changes := []Change{}
	for i, it := range edited {
		if last[it.ProductID] != i {
			continue
		}
		old, ok := before[it.ProductID]
		if !ok || old == it.Quantity {
			continue
		}
		changes = append(changes, Change{
			ProductID:   it.ProductID,
			OldQuantity: old,
			NewQuantity: it.Quantity,
		})
	}
	return changes
}

// Unmatched returns the product ids in edited that do not exist in
// original, each reported once in first-seen order.
func Unmatched(original, edited []LineItem) []int64 {
	known := make(map[int64]struct{}, len(original))
	for _, it := range original {
		known[it.ProductID] = struct{}{}
	}
	seen := map[int64]struct{}{}
	var out []int64
	for _, it := range edited {
		if _, ok := known[it.ProductID]; ok {
			continue
		}
		if _, ok := seen[it.ProductID]; ok {
			continue
		}
		seen[it.ProductID] = struct{}{}
		out = append(out, it.ProductID)
	}
	return out
}

// Validate checks that every quantity is non-negative.
func Validate(items []LineItem) error {
	for _, it := range items {
		if it.Quantity < 0 {
			return fmt.Errorf("product %d: %w", it.ProductID, ErrNegativeQuantity)
		}
	}
	return nil
}

// Payload reduces changes to the minimal update body: product id and new quantity.
func Payload(changes []Change) []LineItem {
	out := make([]LineItem, 0, len(changes))
	for _, c := range changes {
		out = append(out, LineItem{ProductID: c.ProductID, Quantity: c.NewQuantity})
	}
	return out
}

// ChangeView is the JSON shape returned to clients, with the delta spelled out.
type ChangeView struct {
	Change
	Delta int `json:"delta"`
}

// Views annotates changes with their deltas.
func Views(changes []Change) []ChangeView {
	out := make([]ChangeView, 0, len(changes))
	for _, c := range changes {
		out = append(out, ChangeView{Change: c, Delta: c.Delta()})
	}
	return out
}
