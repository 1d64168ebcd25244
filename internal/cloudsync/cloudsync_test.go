package cloudsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eatsome/printerd/internal/model"
	"github.com/eatsome/printerd/internal/router"
)

func TestClient_UpsertPrinters(t *testing.T) {
	var gotBody []PrinterRecord
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/v1/printers", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := router.New("kitchen")
	printers := func() []model.Printer {
		return []model.Printer{{ID: "p1", Name: "Kitchen", Transport: model.TransportNetwork}}
	}

	c := New(srv.URL, "rest-1", "tok", r, printers)
	require.NoError(t, c.UpsertPrinters(context.Background()))
	require.Len(t, gotBody, 1)
	require.Equal(t, "p1", gotBody[0].ID)
}

func TestClient_FetchRoutingConfigReplacesRouterAtomically(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(routingConfigResponse{
			Groups: []model.RoutingGroup{{ID: "bar", Name: "Bar"}},
			Assignments: []model.StationAssignment{
				{GroupID: "bar", PrinterID: "p2", Role: model.RolePrimary},
			},
		})
	}))
	defer srv.Close()

	r := router.New("kitchen")
	c := New(srv.URL, "rest-1", "tok", r, func() []model.Printer { return nil })

	require.NoError(t, c.FetchRoutingConfig(context.Background()))
	require.Equal(t, []string{"bar"}, r.GroupsForPrinter("p2"))
}

func TestClient_HeartbeatDoesNotRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := router.New("kitchen")
	c := New(srv.URL, "rest-1", "tok", r, func() []model.Printer { return nil })

	err := c.Heartbeat(context.Background())
	require.Error(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestClient_UpsertTreats4xxAsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	r := router.New("kitchen")
	c := New(srv.URL, "rest-1", "tok", r, func() []model.Printer { return nil })

	err := c.UpsertPrinters(context.Background())
	require.Error(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}
