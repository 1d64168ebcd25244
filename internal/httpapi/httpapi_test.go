package httpapi

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/eatsome/printerd/engine"
	"github.com/eatsome/printerd/internal/config"
	"github.com/eatsome/printerd/internal/ingest"
	"github.com/eatsome/printerd/internal/model"
	"github.com/eatsome/printerd/internal/queue"
	"github.com/eatsome/printerd/internal/router"
)

func signToken(t *testing.T, secret []byte, restaurantID string) string {
	t.Helper()
	claims := &engine.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		RestaurantID:     restaurantID,
		Scope:            "print",
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return tok
}

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	db := engine.OpenTestDB(t)
	q, err := queue.Open(context.Background(), db, "test-passphrase")
	require.NoError(t, err)

	r := router.New("kitchen")
	r.SetConfig(config.RoutingTable{
		Groups: []model.RoutingGroup{{ID: "kitchen", Name: "Kitchen"}},
		Assignments: []model.StationAssignment{
			{GroupID: "kitchen", PrinterID: "p1", Role: model.RolePrimary},
		},
	})
	ing := ingest.New(r, q)

	secret := []byte("shh")
	auth := engine.NewAuthenticator("rest-1", secret, nil)

	realtime := func() (bool, time.Duration) { return true, 2 * time.Second }

	srv := New(auth, ing, q, r, realtime)
	eng := engine.NewRouter()
	srv.AttachRoutes(eng)

	ts := httptest.NewServer(eng)
	t.Cleanup(ts.Close)
	return ts, signToken(t, secret, "rest-1")
}

func TestHTTPAPI_PrintAcceptsOrder(t *testing.T) {
	ts, token := newTestServer(t)
	e := httpexpect.Default(t, ts.URL)

	e.POST("/api/print").
		WithHeader("Authorization", "Bearer "+token).
		WithJSON(map[string]any{
			"order_id":     "order-1",
			"order_number": "100",
			"type":         "dine_in",
			"items": []map[string]any{
				{"name": "Burger", "quantity": 2},
			},
		}).
		Expect().
		Status(202).
		JSON().Object().
		Value("accepted").Array().NotEmpty()
}

func TestHTTPAPI_PrintRejectsMissingToken(t *testing.T) {
	ts, _ := newTestServer(t)
	e := httpexpect.Default(t, ts.URL)

	e.POST("/api/print").
		WithJSON(map[string]any{"order_id": "order-1", "items": []map[string]any{{"name": "x", "quantity": 1}}}).
		Expect().
		Status(401)
}

func TestHTTPAPI_PrintRejectsEmptyOrder(t *testing.T) {
	ts, token := newTestServer(t)
	e := httpexpect.Default(t, ts.URL)

	e.POST("/api/print").
		WithHeader("Authorization", "Bearer "+token).
		WithJSON(map[string]any{"order_id": "order-1", "items": []map[string]any{}}).
		Expect().
		Status(400)
}

func TestHTTPAPI_Health(t *testing.T) {
	ts, _ := newTestServer(t)
	e := httpexpect.Default(t, ts.URL)

	e.GET("/api/health").
		Expect().
		Status(200).
		JSON().Object().
		Value("connection").Object().
		HasValue("realtime", "connected")
}

func TestHTTPAPI_Version(t *testing.T) {
	ts, _ := newTestServer(t)
	e := httpexpect.Default(t, ts.URL)

	e.GET("/api/version").
		Expect().
		Status(200).
		JSON().Object().
		ContainsKey("version")
}

func TestHTTPAPI_TestPrint(t *testing.T) {
	ts, token := newTestServer(t)
	e := httpexpect.Default(t, ts.URL)

	e.POST("/api/printers/p1/test").
		WithHeader("Authorization", "Bearer "+token).
		Expect().
		Status(202).
		JSON().Object().
		ContainsKey("job_id")
}

func TestHTTPAPI_TestPrintUnknownPrinter(t *testing.T) {
	ts, token := newTestServer(t)
	e := httpexpect.Default(t, ts.URL)

	e.POST("/api/printers/missing/test").
		WithHeader("Authorization", "Bearer "+token).
		Expect().
		Status(404)
}
