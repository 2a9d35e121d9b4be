package reconcile

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff(t *testing.T) {
	original := []LineItem{
		{ProductID: 1, Quantity: 10},
		{ProductID: 2, Quantity: 5},
		{ProductID: 3, Quantity: 0},
	}

	tests := []struct {
		name   string
		edited []LineItem
		want   []Change
	}{
		{
			name:   "nothing edited",
			edited: original,
			want:   []Change{},
		},
		{
			name:   "empty edit list",
			edited: nil,
			want:   []Change{},
		},
		{
			name:   "single quantity change",
			edited: []LineItem{{1, 10}, {2, 7}, {3, 0}},
			want:   []Change{{ProductID: 2, OldQuantity: 5, NewQuantity: 7}},
		},
		{
			name:   "reduced to zero is a change, not a removal",
			edited: []LineItem{{1, 0}},
			want:   []Change{{ProductID: 1, OldQuantity: 10, NewQuantity: 0}},
		},
		{
			name:   "raised from zero",
			edited: []LineItem{{3, 4}},
			want:   []Change{{ProductID: 3, OldQuantity: 0, NewQuantity: 4}},
		},
		{
			name:   "order follows edited list",
			edited: []LineItem{{2, 1}, {1, 1}},
			want: []Change{
				{ProductID: 2, OldQuantity: 5, NewQuantity: 1},
				{ProductID: 1, OldQuantity: 10, NewQuantity: 1},
			},
		},
		{
			name:   "duplicate rows, last wins",
			edited: []LineItem{{1, 3}, {2, 5}, {1, 8}},
			want:   []Change{{ProductID: 1, OldQuantity: 10, NewQuantity: 8}},
		},
		{
			name:   "duplicate rows ending at the original value",
			edited: []LineItem{{1, 3}, {1, 10}},
			want:   []Change{},
		},
		{
			name:   "unknown product ignored",
			edited: []LineItem{{99, 4}, {2, 6}},
			want:   []Change{{ProductID: 2, OldQuantity: 5, NewQuantity: 6}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diff(original, tt.edited)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Diff() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUnmatched(t *testing.T) {
	original := []LineItem{{1, 1}, {2, 2}}
	got := Unmatched(original, []LineItem{{3, 1}, {1, 5}, {4, 0}, {3, 2}})
	if diff := cmp.Diff([]int64{3, 4}, got); diff != "" {
		t.Errorf("Unmatched() mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, Unmatched(original, original))
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate([]LineItem{{1, 0}, {2, 3}}))

	err := Validate([]LineItem{{1, 2}, {7, -1}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNegativeQuantity)
	assert.Contains(t, err.Error(), "product 7")
}

func TestChangeDelta(t *testing.T) {
	assert.Equal(t, -10, Change{ProductID: 1, OldQuantity: 10, NewQuantity: 0}.Delta())
	assert.Equal(t, 3, Change{ProductID: 1, OldQuantity: 2, NewQuantity: 5}.Delta())
}

func TestPayload(t *testing.T) {
	changes := []Change{{1, 10, 0}, {2, 5, 7}}
	want := []LineItem{{1, 0}, {2, 7}}
	if diff := cmp.Diff(want, Payload(changes)); diff != "" {
		t.Errorf("Payload() mismatch (-want +got):\n%s", diff)
	}
}

func TestViewsJSON(t *testing.T) {
	out, err := json.Marshal(Views([]Change{{ProductID: 4, OldQuantity: 6, NewQuantity: 2}}))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"product_id":4,"old_quantity":6,"new_quantity":2,"delta":-4}]`, string(out))
}
