//go:build integration

package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"fieldsales-api/internal"
	"fieldsales-api/internal/auth"
	"fieldsales-api/internal/config"
	"fieldsales-api/internal/geo"
	"fieldsales-api/internal/models"
	"fieldsales-api/internal/reconcile"
	"fieldsales-api/internal/testutil"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	adminPassword = "integration-pass"
	adminID       = int64(1)
	repID         = int64(2)
)

// Seeded retailers: 1 and 2 have coordinates, 3 has none.
const (
	retailerNorth     = int64(1)
	retailerNoCoords  = int64(3)
	productTea        = int64(1)
	productBiscuits   = int64(2)
	productSoap       = int64(3)
	seedRetailerLat   = 12.9716
	seedRetailerLon   = 77.5946
	integrationSecret = "supersecretkeyforintegrationtestingonly"
)

type env struct {
	server *internal.Server
	admin  string
	rep    string
}

func setup(t *testing.T) *env {
	t.Helper()
	testutil.RequireIntegration(t)

	db := testutil.NewTestDB(t)
	testutil.ResetSchema(t, db)

	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.MinCost)
	require.NoError(t, err)
	_, err = db.Exec("UPDATE users SET password_hash = $1 WHERE email = 'admin@demo.test'", string(hash))
	require.NoError(t, err)

	pool, err := pgxpool.New(context.Background(), testutil.DSN())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	cfg := &config.Config{
		JWTSecret:        integrationSecret,
		JWTIssuer:        "fieldsales-api",
		JWTAudience:      "fieldsales-app",
		JWTExpiry:        time.Hour,
		Timezone:         "UTC",
		GeofenceRadiusKm: 0.1,
		GeofenceMethod:   geo.MethodPlanar,
		ImportMapping:    filepath.Join(testutil.RepoRoot(), "configs", "mapping", "retailers.yaml"),
	}
	s, err := internal.New(db, pool, cfg, zap.NewNop())
	require.NoError(t, err)

	admin, err := s.JWTManager.GenerateToken(adminID, 1, []string{auth.RoleAdmin})
	require.NoError(t, err)
	rep, err := s.JWTManager.GenerateToken(repID, 1, []string{auth.RoleSalesRep})
	require.NoError(t, err)
	return &env{server: s, admin: admin, rep: rep}
}

func (e *env) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.server.Router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestLogin(t *testing.T) {
	e := setup(t)

	w := e.do(t, "POST", "/auth/login", "", models.LoginRequest{Email: "admin@demo.test", Password: adminPassword})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[models.LoginResponse](t, w)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "admin@demo.test", resp.User.Email)

	w = e.do(t, "GET", "/auth/profile", resp.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, "POST", "/auth/login", "", models.LoginRequest{Email: "admin@demo.test", Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Seeded placeholder hashes never match.
	w = e.do(t, "POST", "/auth/login", "", models.LoginRequest{Email: "rep@demo.test", Password: "!"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestVisitReconciliation(t *testing.T) {
	e := setup(t)

	lat, lon := seedRetailerLat, seedRetailerLon
	farLat := seedRetailerLat + 0.01
	ref := uuid.New()

	w := e.do(t, "POST", "/visits", e.rep, models.CreateVisitRequest{
		ClientRef: ref, RetailerID: retailerNorth, Latitude: &lat, Longitude: &lon,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := decode[models.VisitLog](t, w)
	require.NotNil(t, first.WithinRange)
	assert.True(t, *first.WithinRange)
	assert.InDelta(t, 0, *first.DistanceKm, 1e-9)

	t.Run("retry returns the stored visit", func(t *testing.T) {
		w := e.do(t, "POST", "/visits", e.rep, models.CreateVisitRequest{
			ClientRef: ref, RetailerID: retailerNorth, Latitude: &farLat, Longitude: &lon,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		again := decode[models.VisitLog](t, w)
		assert.Equal(t, first.ID, again.ID)
		assert.True(t, *again.WithinRange)
	})

	t.Run("client_ref of another user", func(t *testing.T) {
		w := e.do(t, "POST", "/visits", e.admin, models.CreateVisitRequest{
			ClientRef: ref, RetailerID: retailerNorth, Latitude: &lat, Longitude: &lon,
		})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	w = e.do(t, "POST", "/visits", e.rep, models.CreateVisitRequest{
		ClientRef: uuid.New(), RetailerID: retailerNorth, Latitude: &farLat, Longitude: &lon,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	far := decode[models.VisitLog](t, w)
	assert.False(t, *far.WithinRange)
	assert.InDelta(t, 1.11, *far.DistanceKm, 1e-6)

	w = e.do(t, "POST", "/visits", e.rep, models.CreateVisitRequest{
		ClientRef: uuid.New(), RetailerID: retailerNoCoords, Latitude: &lat, Longitude: &lon,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	noCoords := decode[models.VisitLog](t, w)
	assert.Nil(t, noCoords.DistanceKm)
	assert.Nil(t, noCoords.WithinRange)

	w = e.do(t, "POST", "/visits", e.rep, models.CreateVisitRequest{
		ClientRef: uuid.New(), RetailerID: 999, Latitude: &lat, Longitude: &lon,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	t.Run("summary", func(t *testing.T) {
		w := e.do(t, "GET", "/visits/summary", e.admin, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		summary := decode[models.VisitSummary](t, w)
		assert.Equal(t, geo.Tally{Within: 1, Outside: 1, Unknown: 1}, summary.Totals)
		assert.Len(t, summary.Visits, 3)

		w = e.do(t, "GET", "/visits/summary?radius_km=2", e.admin, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		summary = decode[models.VisitSummary](t, w)
		assert.Equal(t, geo.Tally{Within: 2, Outside: 0, Unknown: 1}, summary.Totals)
	})
}

func TestDeliveryLineDiff(t *testing.T) {
	e := setup(t)

	assigned := repID
	w := e.do(t, "POST", "/deliveries", e.admin, models.CreateDeliveryRequest{
		RetailerID: retailerNorth,
		AssignedTo: &assigned,
		Lines: []reconcile.LineItem{
			{ProductID: productTea, Quantity: 5},
			{ProductID: productBiscuits, Quantity: 3},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	d := decode[models.DeliveryOrder](t, w)
	require.Len(t, d.Lines, 2)
	path := fmt.Sprintf("/deliveries/%d/products", d.ID)

	w = e.do(t, "PUT", path, e.rep, models.LineItemsUpdate{Items: []reconcile.LineItem{
		{ProductID: productTea, Quantity: 5},
		{ProductID: productBiscuits, Quantity: 0},
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[models.LineItemsResult](t, w)
	assert.Equal(t, 1, res.Updated)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, 3, res.Changes[0].OldQuantity)
	assert.Equal(t, 0, res.Changes[0].NewQuantity)

	w = e.do(t, "GET", fmt.Sprintf("/deliveries/%d", d.ID), e.rep, nil)
	require.Equal(t, http.StatusOK, w.Code)
	d = decode[models.DeliveryOrder](t, w)
	qty := map[int64]int{}
	for _, l := range d.Lines {
		qty[l.ProductID] = l.Quantity
	}
	assert.Equal(t, map[int64]int{productTea: 5, productBiscuits: 0}, qty)

	// Resubmitting the same counts writes nothing.
	w = e.do(t, "PUT", path, e.rep, models.LineItemsUpdate{Items: []reconcile.LineItem{
		{ProductID: productBiscuits, Quantity: 0},
	}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[models.LineItemsResult](t, w).Updated)

	// A product that is not on the delivery is rejected, not added.
	w = e.do(t, "PUT", path, e.rep, models.LineItemsUpdate{Items: []reconcile.LineItem{
		{ProductID: productTea, Quantity: 1},
		{ProductID: productSoap, Quantity: 4},
	}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "UNKNOWN_PRODUCT")

	w = e.do(t, "DELETE", fmt.Sprintf("%s/%d", path, productBiscuits), e.rep, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(t, "DELETE", fmt.Sprintf("%s/%d", path, productBiscuits), e.rep, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	t.Run("status transitions", func(t *testing.T) {
		statusPath := fmt.Sprintf("/deliveries/%d/status", d.ID)
		status := func(v string) models.UpdateDeliveryStatusRequest {
			return models.UpdateDeliveryStatusRequest{DeliveryStatus: &v}
		}

		w := e.do(t, "PUT", statusPath, e.rep, status(models.DeliveryDelivered))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		delivered := decode[models.DeliveryOrder](t, w)
		assert.Equal(t, models.DeliveryDelivered, delivered.DeliveryStatus)
		assert.NotNil(t, delivered.DeliveredAt)

		w = e.do(t, "PUT", statusPath, e.rep, status(models.DeliveryDispatched))
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "INVALID_TRANSITION")

		w = e.do(t, "PUT", path, e.rep, models.LineItemsUpdate{Items: []reconcile.LineItem{
			{ProductID: productTea, Quantity: 2},
		}})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "DELIVERY_CLOSED")

		w = e.do(t, "GET", fmt.Sprintf("/deliveries/%d", d.ID), e.rep, nil)
		require.Equal(t, http.StatusOK, w.Code)
		for _, l := range decode[models.DeliveryOrder](t, w).Lines {
			if l.ProductID == productTea {
				assert.Equal(t, 5, l.Quantity)
			}
		}
	})
}

func TestClosingStockDiff(t *testing.T) {
	e := setup(t)
	path := fmt.Sprintf("/retailers/%d/closing-stock", retailerNorth)

	w := e.do(t, "GET", path, e.rep, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	stock := decode[[]models.ClosingStockRow](t, w)
	require.Len(t, stock, 3)
	for _, row := range stock {
		assert.Zero(t, row.Quantity)
		assert.Nil(t, row.UpdatedAt)
	}

	w = e.do(t, "PUT", path, e.rep, models.LineItemsUpdate{Items: []reconcile.LineItem{
		{ProductID: productTea, Quantity: 0},
		{ProductID: productBiscuits, Quantity: 6},
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, decode[models.LineItemsResult](t, w).Updated)

	w = e.do(t, "PUT", path, e.rep, models.LineItemsUpdate{Items: []reconcile.LineItem{
		{ProductID: productBiscuits, Quantity: 6},
	}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[models.LineItemsResult](t, w).Updated)

	w = e.do(t, "DELETE", fmt.Sprintf("%s/%d", path, productBiscuits), e.rep, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(t, "DELETE", fmt.Sprintf("%s/%d", path, productTea), e.rep, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSalesOrderTotals(t *testing.T) {
	e := setup(t)

	w := e.do(t, "POST", "/sales-orders", e.rep, models.CreateSalesOrderRequest{
		RetailerID: retailerNorth,
		Lines: []reconcile.LineItem{
			{ProductID: productTea, Quantity: 3},
			{ProductID: productBiscuits, Quantity: 2},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := decode[models.SalesOrder](t, w)
	assert.Equal(t, "411.00", order.TotalAmount.StringFixed(2))
	assert.Equal(t, repID, order.UserID)

	w = e.do(t, "PUT", fmt.Sprintf("/sales-orders/%d/status", order.ID), e.admin,
		models.UpdateOrderStatusRequest{Status: "confirmed"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "confirmed", decode[models.SalesOrder](t, w).Status)
}

func TestClosingStockSerializesPerRetailer(t *testing.T) {
	e := setup(t)
	path := fmt.Sprintf("/retailers/%d/closing-stock", retailerNorth)
	body := models.LineItemsUpdate{Items: []reconcile.LineItem{{ProductID: productTea, Quantity: 9}}}

	tx, err := e.server.DB.Begin()
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = tx.Exec("SELECT 1 FROM retailers WHERE id = $1 FOR UPDATE", retailerNorth)
	require.NoError(t, err)

	// While another transaction holds the retailer, the update waits until
	// its deadline and writes nothing.
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest("PUT", path, &buf).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.rep)
	w := httptest.NewRecorder()
	e.server.Router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	require.NoError(t, tx.Rollback())

	w = e.do(t, "PUT", path, e.rep, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, decode[models.LineItemsResult](t, w).Updated)
}

func TestAttendance(t *testing.T) {
	e := setup(t)

	w := e.do(t, "POST", "/attendance/check-out", e.rep, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_CHECKED_IN")

	zero := 0.0
	w = e.do(t, "POST", "/attendance/check-in", e.rep, models.AttendancePunch{Latitude: &zero, Longitude: &zero})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	in := decode[models.Attendance](t, w)
	assert.Nil(t, in.CheckInLat)
	assert.Nil(t, in.CheckInLon)
	assert.Nil(t, in.CheckOutAt)

	w = e.do(t, "POST", "/attendance/check-in", e.rep, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "ALREADY_CHECKED_IN")

	lat, lon := seedRetailerLat, seedRetailerLon
	w = e.do(t, "POST", "/attendance/check-out", e.rep, models.AttendancePunch{Latitude: &lat, Longitude: &lon})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode[models.Attendance](t, w)
	assert.Equal(t, in.ID, out.ID)
	require.NotNil(t, out.CheckOutAt)
	require.NotNil(t, out.CheckOutLat)
	assert.Equal(t, lat, *out.CheckOutLat)
	assert.NotNil(t, out.HoursWorked)

	w = e.do(t, "POST", "/attendance/check-out", e.rep, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "ALREADY_CHECKED_OUT")

	t.Run("shift past midnight closes yesterday", func(t *testing.T) {
		yesterday := time.Now().UTC().AddDate(0, 0, -1)
		_, err := e.server.DB.Exec(`
			INSERT INTO attendance (org_id, user_id, work_date, check_in_at)
			VALUES (1, $1, $2::date, $3)`,
			adminID, yesterday.Format("2006-01-02"), yesterday)
		require.NoError(t, err)

		w := e.do(t, "POST", "/attendance/check-out", e.admin, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		a := decode[models.Attendance](t, w)
		assert.Equal(t, yesterday.Format("2006-01-02"), a.WorkDate)
		assert.NotNil(t, a.CheckOutAt)
	})

	w = e.do(t, "GET", "/attendance", e.rep, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct{ Data []models.Attendance }](t, w)
	require.Len(t, list.Data, 1)
	assert.Equal(t, repID, list.Data[0].UserID)
}
