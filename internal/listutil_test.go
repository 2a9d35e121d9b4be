package internal

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fieldsales-api/internal/reconcile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func httpRequest(t *testing.T, target string) *http.Request {
	t.Helper()
	return httptest.NewRequest("GET", target, nil)
}

func lineItem(productID int64, qty int) reconcile.LineItem {
	return reconcile.LineItem{ProductID: productID, Quantity: qty}
}

func TestParseListParams(t *testing.T) {
	tests := []struct {
		target string
		limit  int
		offset int
		q      string
	}{
		{"/x", 50, 0, ""},
		{"/x?limit=10&offset=20&q=+tea+", 10, 20, "tea"},
		{"/x?limit=1000", 200, 0, ""},
		{"/x?limit=-1&offset=-5", 50, 0, ""},
		{"/x?limit=abc", 50, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			p := parseListParams(httpRequest(t, tt.target))
			assert.Equal(t, tt.limit, p.limit)
			assert.Equal(t, tt.offset, p.offset)
			assert.Equal(t, tt.q, p.q)
		})
	}
}

func TestBuildOrderBy(t *testing.T) {
	allowed := map[string]string{"id": "r.id", "name": "r.name", "code": "r.code"}

	assert.Equal(t, " ORDER BY r.id ASC", buildOrderBy("", allowed))
	assert.Equal(t, " ORDER BY r.name DESC, r.code ASC", buildOrderBy("-name, code", allowed))
	assert.Equal(t, " ORDER BY r.id ASC", buildOrderBy("password_hash;DROP", allowed))
	assert.Equal(t, " ORDER BY id ASC", buildOrderBy("", map[string]string{}))
}

func TestWhereBuilder(t *testing.T) {
	var wb whereBuilder
	assert.Equal(t, "", wb.sql())

	wb.add("org_id = $%d", int64(1))
	wb.add("(name ILIKE $%d OR code ILIKE $%d)", "%tea%")
	wb.add("route = $%d", "North-1")

	assert.Equal(t, " WHERE org_id = $1 AND (name ILIKE $2 OR code ILIKE $2) AND route = $3", wb.sql())
	assert.Equal(t, []interface{}{int64(1), "%tea%", "North-1"}, wb.args)
}

func TestQueryInt64(t *testing.T) {
	v, err := queryInt64(httpRequest(t, "/x"), "user_id")
	require.NoError(t, err)
	assert.Zero(t, v)

	v, err = queryInt64(httpRequest(t, "/x?user_id=42"), "user_id")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	for _, bad := range []string{"0", "-3", "abc", "1.5"} {
		_, err := queryInt64(httpRequest(t, "/x?user_id="+bad), "user_id")
		assert.Error(t, err, bad)
	}
}

func TestDateRange(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	// 20:00 UTC on the 13th is already the 14th in IST
	now := time.Date(2024, 3, 13, 20, 0, 0, 0, time.UTC)
	day := func(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, ist) }

	t.Run("defaults end today in the location", func(t *testing.T) {
		start, end, err := dateRange(httpRequest(t, "/x"), ist, now, 7, 93)
		require.NoError(t, err)
		assert.Equal(t, day(15), end)
		assert.Equal(t, day(8), start)
	})

	t.Run("single date", func(t *testing.T) {
		start, end, err := dateRange(httpRequest(t, "/x?date=2024-03-01"), ist, now, 7, 93)
		require.NoError(t, err)
		assert.Equal(t, day(1), start)
		assert.Equal(t, day(2), end)
	})

	t.Run("to is inclusive", func(t *testing.T) {
		start, end, err := dateRange(httpRequest(t, "/x?from=2024-03-01&to=2024-03-03"), ist, now, 7, 93)
		require.NoError(t, err)
		assert.Equal(t, day(1), start)
		assert.Equal(t, day(4), end)
	})

	t.Run("to alone keeps the default width", func(t *testing.T) {
		start, end, err := dateRange(httpRequest(t, "/x?to=2024-03-10"), ist, now, 7, 93)
		require.NoError(t, err)
		assert.Equal(t, day(4), start)
		assert.Equal(t, day(11), end)
	})

	t.Run("maximum width is allowed", func(t *testing.T) {
		_, _, err := dateRange(httpRequest(t, "/x?from=2024-03-01&to=2024-03-31"), ist, now, 1, 31)
		assert.NoError(t, err)
	})

	t.Run("one day over the maximum", func(t *testing.T) {
		_, _, err := dateRange(httpRequest(t, "/x?from=2024-03-01&to=2024-04-01"), ist, now, 1, 31)
		assert.ErrorContains(t, err, "31 days")
	})

	t.Run("from after to", func(t *testing.T) {
		_, _, err := dateRange(httpRequest(t, "/x?from=2024-03-05&to=2024-03-01"), ist, now, 7, 93)
		assert.Error(t, err)
	})

	t.Run("malformed", func(t *testing.T) {
		_, _, err := dateRange(httpRequest(t, "/x?from=03/01/2024"), ist, now, 7, 93)
		assert.ErrorContains(t, err, "YYYY-MM-DD")
	})
}
