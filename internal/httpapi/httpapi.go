// Package httpapi implements C9: the loopback-only fallback ingress.
// It mirrors the realtime channel's accept/route/enqueue path for
// callers that can't or won't hold a persistent WebSocket (local
// integration scripts, the setup wizard, a POS terminal's offline
// print button).
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eatsome/printerd/engine"
	"github.com/eatsome/printerd/internal/ingest"
	"github.com/eatsome/printerd/internal/model"
	"github.com/eatsome/printerd/internal/queue"
	"github.com/eatsome/printerd/internal/router"
)

// Version is set by main at build time (or left as "dev" in tests).
var Version = "dev"

// RealtimeStatus reports the C8 channel's connectedness, for the
// health endpoint's "connection" block.
type RealtimeStatus func() (connected bool, lastHeartbeatAgo time.Duration)

// Server wires the C9 routes onto an engine.Router.
type Server struct {
	auth      *engine.Authenticator
	ingest    *ingest.Service
	queue     *queue.Queue
	router    *router.Router
	realtime  RealtimeStatus
	startedAt time.Time
}

func New(auth *engine.Authenticator, ing *ingest.Service, q *queue.Queue, rt *router.Router, realtime RealtimeStatus) *Server {
	return &Server{auth: auth, ingest: ing, queue: q, router: rt, realtime: realtime, startedAt: time.Now()}
}

// AttachRoutes mounts every C9 route on r, wrapping each with
// bearer-token auth except /api/health, which the setup wizard polls
// before it has a token. Matches engine.App's routableModule duck
// type; main calls it directly on the HTTP router.
func (s *Server) AttachRoutes(r *engine.Router) {
	r.HandleFunc("POST /api/print", s.authenticated(s.handlePrint))
	r.HandleFunc("GET /api/health", s.handleHealth)
	r.HandleFunc("POST /api/printers/{id}/test", s.authenticated(s.handleTestPrint))
	r.HandleFunc("GET /api/version", s.handleVersion)
}

func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok, ok := bearerToken(r)
		if !ok {
			engine.WriteError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
			return
		}
		if _, err := s.auth.Verify(tok); err != nil {
			engine.WriteError(w, http.StatusUnauthorized, "unauthenticated", "invalid token")
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimPrefix(h, prefix), true
}

type printRequest struct {
	OrderID     string            `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	Type        model.OrderType   `json:"type"`
	Table       string            `json:"table,omitempty"`
	Items       []model.OrderItem `json:"items"`
}

type printResponse struct {
	Accepted []string `json:"accepted"`
	Deduped  []string `json:"deduped"`
}

// handlePrint accepts the same order shape as the realtime channel's
// new-job event, so a caller can use either ingress path
// interchangeably.
func (s *Server) handlePrint(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		engine.WriteError(w, http.StatusBadRequest, "malformed", "could not read request body")
		return
	}
	if err := ingest.ValidateOrderPayload(body); err != nil {
		engine.WriteError(w, http.StatusBadRequest, "malformed", err.Error())
		return
	}

	var req printRequest
	if err := json.Unmarshal(body, &req); err != nil {
		engine.WriteError(w, http.StatusBadRequest, "malformed", "invalid json body")
		return
	}
	order := model.Order{
		OrderID:     req.OrderID,
		OrderNumber: req.OrderNumber,
		Type:        req.Type,
		Table:       req.Table,
		Items:       req.Items,
	}

	accepted, deduped, err := s.ingest.Accept(r.Context(), order)
	if err != nil {
		switch err.(type) {
		case *ingest.ErrEmptyOrder, *ingest.ErrTooManyItems:
			engine.WriteError(w, http.StatusBadRequest, "malformed", err.Error())
		default:
			engine.SystemError(w, "print ingest failed", "error", err, "order_id", order.OrderID)
		}
		return
	}

	engine.WriteJSON(w, http.StatusAccepted, printResponse{Accepted: accepted, Deduped: deduped})
}

type connectionStatus struct {
	Realtime           string `json:"realtime"`
	LastHeartbeatMsAgo int64  `json:"last_heartbeat_ms_ago,omitempty"`
}

type healthResponse struct {
	UptimeS    int64            `json:"uptime_s"`
	Queue      queue.Stats      `json:"queue"`
	Connection connectionStatus `json:"connection"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		engine.SystemError(w, "reading queue stats", "error", err)
		return
	}

	conn := connectionStatus{Realtime: "disconnected"}
	if s.realtime != nil {
		connected, lastHeartbeatAgo := s.realtime()
		if connected {
			conn.Realtime = "connected"
			conn.LastHeartbeatMsAgo = lastHeartbeatAgo.Milliseconds()
		}
	}

	engine.WriteJSON(w, http.StatusOK, healthResponse{
		UptimeS:    int64(time.Since(s.startedAt).Seconds()),
		Queue:      stats,
		Connection: conn,
	})
}

type versionResponse struct {
	Version string `json:"version"`
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	engine.WriteJSON(w, http.StatusOK, versionResponse{Version: Version})
}

type testPrintResponse struct {
	JobID string `json:"job_id"`
}

// handleTestPrint enqueues a synthetic self-test job addressed to the
// first routing group the named printer is assigned to (routing-table
// order, whether as primary or backup), so it goes
// through the same render/breaker/transport path as a real order
// instead of a side-channel direct write.
func (s *Server) handleTestPrint(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	groups := s.router.GroupsForPrinter(id)
	if len(groups) == 0 {
		engine.WriteError(w, http.StatusNotFound, "malformed", "printer has no routing assignment")
		return
	}

	job := model.Job{
		OrderID:     "selftest-" + uuid.NewString(),
		OrderNumber: "TEST",
		OrderType:   model.OrderTakeaway,
		GroupID:     groups[0],
		Items:       []model.OrderItem{{Name: "Self-test print", Quantity: 1}},
		Priority:    model.DefaultPriority,
		Status:      model.JobPending,
	}

	res, err := s.queue.Enqueue(r.Context(), job)
	if err != nil {
		engine.SystemError(w, "enqueueing self-test job", "error", err, "printer_id", id)
		return
	}

	engine.WriteJSON(w, http.StatusAccepted, testPrintResponse{JobID: res.JobID})
}
