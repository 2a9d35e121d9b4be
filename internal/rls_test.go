package internal

import (
	"context"
	"database/sql"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// maxInFlight runs n tasks through a query group and reports the highest
// number that were running at the same moment.
func maxInFlight(t *testing.T, ctx context.Context, n int) int32 {
	t.Helper()
	var running, peak atomic.Int32
	g, _ := newQueryGroup(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			cur := running.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	return peak.Load()
}

func TestNewQueryGroup(t *testing.T) {
	pinned := context.WithValue(context.Background(), dbConnKey, (*sql.Conn)(nil))

	t.Run("pinned connection runs one query at a time", func(t *testing.T) {
		t.Setenv("RLS_ENABLED", "true")
		assert.Equal(t, int32(1), maxInFlight(t, pinned, 5))
	})

	t.Run("pool fans out", func(t *testing.T) {
		t.Setenv("RLS_ENABLED", "true")
		assert.Greater(t, maxInFlight(t, context.Background(), 5), int32(1))
	})

	t.Run("rls off ignores a stale conn", func(t *testing.T) {
		t.Setenv("RLS_ENABLED", "")
		assert.Greater(t, maxInFlight(t, pinned, 5), int32(1))
	})
}
