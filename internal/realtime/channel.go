// Package realtime implements C8: a client of a Phoenix-style channel
// over WebSocket, carrying the cloud relay's primary ingress path for
// new print jobs.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eatsome/printerd/engine"
	"github.com/eatsome/printerd/internal/ingest"
	"github.com/eatsome/printerd/internal/model"
	"github.com/eatsome/printerd/internal/perr"
)

// connState models the connection lifecycle explicitly:
// disconnected -> connecting -> joined -> draining, with explicit
// transitions on timer, read, write, and close events rather than
// coroutine/async flow.
type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateJoined
	stateDraining
)

const (
	channelTopicFmt   = "restaurant:%s:print-job"
	heartbeatInterval = 30 * time.Second
	heartbeatMisses   = 2 // tear down and reconnect after this many missed beats
	backoffBase       = time.Second
	backoffCap        = 60 * time.Second
)

// NewJobPayload is the payload of an incoming "new-job" event.
type NewJobPayload struct {
	OrderID     string            `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	Type        model.OrderType   `json:"type"`
	Table       string            `json:"table,omitempty"`
	Items       []model.OrderItem `json:"items"`
}

// frame is the Phoenix wire envelope: {topic, event, payload, ref}.
// This client only ever joins one channel; the join frame names it,
// other frames leave topic empty.
type frame struct {
	Topic   string          `json:"topic,omitempty"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

// Handler processes one validated new-job event and returns the job
// ids accepted and deduplicated, for the ack frame.
type Handler func(ctx context.Context, order model.Order) (accepted, deduped []string, err error)

// Channel is the C8 client. Connect once via AttachWorkers; it
// reconnects on its own for the lifetime of the process.
type Channel struct {
	baseURL       string
	restaurantID  string
	authToken     string
	authenticator *engine.Authenticator
	handler       Handler
	logger        *slog.Logger

	mu            sync.RWMutex
	state         connState
	lastHeartbeat time.Time
}

func New(baseURL, restaurantID, authToken string, authenticator *engine.Authenticator, handler Handler) *Channel {
	return &Channel{
		baseURL:       baseURL,
		restaurantID:  restaurantID,
		authToken:     authToken,
		authenticator: authenticator,
		handler:       handler,
		logger:        slog.Default().With("module", "realtime"),
		state:         stateDisconnected,
	}
}

// Connected reports whether the channel is currently joined, and how
// long ago the last heartbeat ack was seen, for the health endpoint.
func (c *Channel) Connected() (joined bool, lastHeartbeatAgo time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastHeartbeat.IsZero() {
		return c.state == stateJoined, 0
	}
	return c.state == stateJoined, time.Since(c.lastHeartbeat)
}

func (c *Channel) setState(s connState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// AttachWorkers registers the reconnect-loop proc.
func (c *Channel) AttachWorkers(pm *engine.ProcMgr) {
	pm.Add(c.run)
}

func (c *Channel) run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.setState(stateConnecting)
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			c.setState(stateDisconnected)
			return ctx.Err()
		}
		c.setState(stateDisconnected)
		c.logger.Warn("realtime channel disconnected, reconnecting", "error", err, "attempt", attempt)

		wait := backoffWithJitter(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		attempt++
	}
}

func backoffWithJitter(attempt int) time.Duration {
	d := time.Duration(float64(backoffBase) * math.Pow(2, float64(attempt)))
	if d > backoffCap {
		d = backoffCap
	}
	jitter := 1 + (rand.Float64()*0.4 - 0.2)
	return time.Duration(float64(d) * jitter)
}

func (c *Channel) runOnce(ctx context.Context) error {
	u, err := buildSocketURL(c.baseURL, c.authToken)
	if err != nil {
		return perr.NewFatal(perr.KindConfig, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, u, nil)
	if err != nil {
		return perr.NewTransient(perr.KindCloud, fmt.Errorf("dialing realtime channel: %w", err))
	}
	defer conn.Close()

	// The connection itself carries the channel's authentication (the
	// token is embedded in the socket URL above); verify it locally
	// before treating the join as successful rather than trusting a
	// successful TCP handshake alone.
	if _, err := c.authenticator.Verify(c.authToken); err != nil {
		return perr.NewFatal(perr.KindAuth, fmt.Errorf("realtime channel token rejected: %w", err))
	}

	topic := fmt.Sprintf(channelTopicFmt, c.restaurantID)
	if err := writeFrame(conn, frame{Topic: topic, Event: "phx_join", Payload: json.RawMessage("{}"), Ref: "1"}); err != nil {
		return perr.NewTransient(perr.KindCloud, err)
	}

	c.setState(stateJoined)
	c.mu.Lock()
	c.lastHeartbeat = time.Now()
	c.mu.Unlock()

	done := make(chan error, 1)
	go c.readLoop(ctx, conn, done)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			c.setState(stateDraining)
			conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return ctx.Err()
		case err := <-done:
			return err
		case <-heartbeat.C:
			if c.missedHeartbeats() >= heartbeatMisses {
				return fmt.Errorf("missed %d heartbeats", heartbeatMisses)
			}
			if err := writeFrame(conn, frame{Event: "phx_heartbeat", Payload: json.RawMessage("{}")}); err != nil {
				return perr.NewTransient(perr.KindCloud, err)
			}
		}
	}
}

func (c *Channel) missedHeartbeats() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastHeartbeat.IsZero() {
		return 0
	}
	return int(time.Since(c.lastHeartbeat) / heartbeatInterval)
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn, done chan<- error) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			done <- err
			return
		}

		switch f.Event {
		case "phx_reply":
			c.mu.Lock()
			c.lastHeartbeat = time.Now()
			c.mu.Unlock()
		case "new-job":
			c.handleNewJob(ctx, conn, f)
		}
	}
}

func (c *Channel) handleNewJob(ctx context.Context, conn *websocket.Conn, f frame) {
	if err := ingest.ValidateOrderPayload(f.Payload); err != nil {
		c.logger.Error("new-job payload failed schema validation", "error", err)
		writeFrame(conn, frame{Event: "phx_reply", Payload: errorReplyPayload(err), Ref: f.Ref})
		return
	}

	var payload NewJobPayload
	if err := json.Unmarshal(f.Payload, &payload); err != nil {
		c.logger.Error("malformed new-job payload", "error", err)
		return
	}

	order := model.Order{
		OrderID:     payload.OrderID,
		OrderNumber: payload.OrderNumber,
		Type:        payload.Type,
		Table:       payload.Table,
		Items:       payload.Items,
	}
	accepted, deduped, err := c.handler(ctx, order)
	if err != nil {
		c.logger.Error("new-job handling failed", "error", err, "order_id", order.OrderID)
		return
	}

	ack, _ := json.Marshal(map[string]any{"accepted": accepted, "deduped": deduped})
	writeFrame(conn, frame{Event: "phx_reply", Payload: ack, Ref: f.Ref})
}

func errorReplyPayload(err error) json.RawMessage {
	raw, marshalErr := json.Marshal(map[string]any{"error": err.Error()})
	if marshalErr != nil {
		return json.RawMessage(`{"error":"validation failed"}`)
	}
	return raw
}

func writeFrame(conn *websocket.Conn, f frame) error {
	return conn.WriteJSON(f)
}

func buildSocketURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing realtime base url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
