// Package cloudsync implements C10: the daemon's side of the
// printers-upsert / heartbeat / routing-config-fetch conversation
// with the cloud backend.
package cloudsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/eatsome/printerd/engine"
	"github.com/eatsome/printerd/internal/config"
	"github.com/eatsome/printerd/internal/model"
	"github.com/eatsome/printerd/internal/router"
)

const (
	heartbeatInterval = 30 * time.Second
	routingInterval   = 5 * time.Minute
	requestTimeout    = 10 * time.Second
	// rate caps outbound calls at a gentle pace; heartbeat and routing
	// fetch are the only periodic traffic, upserts are event-driven and
	// rare enough not to need their own budget.
	callsPerSecond = 2
)

// HTTPError is a non-2xx response the client treats as a logic error
// (any 4xx) rather than a transient one.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("cloud returned %d: %s", e.StatusCode, e.Body)
}

// PrinterRecord is the upsert payload shape for POST /rest/v1/printers.
type PrinterRecord struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Transport    model.TransportKind `json:"transport"`
	Address      string              `json:"address"`
	Capabilities model.Capabilities  `json:"capabilities"`
	Status       model.PrinterStatus `json:"status"`
	LastSeen     time.Time           `json:"last_seen"`
}

type routingConfigResponse struct {
	Groups      []model.RoutingGroup      `json:"groups"`
	Assignments []model.StationAssignment `json:"assignments"`
}

// Client is the C10 sync client. One instance per restaurant, fed a
// snapshot of printers to upsert and wired to the router it keeps
// fresh.
type Client struct {
	baseURL      string
	restaurantID string
	http         *http.Client
	limiter      *rate.Limiter
	router       *router.Router
	printers     func() []model.Printer
	logger       *slog.Logger
}

func New(baseURL, restaurantID, authToken string, r *router.Router, printers func() []model.Printer) *Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: authToken, TokenType: "Bearer"})
	return &Client{
		baseURL:      baseURL,
		restaurantID: restaurantID,
		http:         oauth2.NewClient(context.Background(), src),
		limiter:      rate.NewLimiter(rate.Limit(callsPerSecond), callsPerSecond),
		router:       r,
		printers:     printers,
		logger:       slog.Default().With("module", "cloudsync"),
	}
}

// AttachWorkers registers the heartbeat and routing-fetch procs. Each
// runs independently; a failure in one never blocks the other.
func (c *Client) AttachWorkers(pm *engine.ProcMgr) {
	pm.Add(c.runHeartbeat)
	pm.Add(c.runRoutingFetch)
}

func (c *Client) runHeartbeat(ctx context.Context) error {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		if err := c.Heartbeat(ctx); err != nil {
			// Heartbeat failures are logged and retried on the next
			// tick; they never back off.
			c.logger.Warn("heartbeat failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) runRoutingFetch(ctx context.Context) error {
	if err := c.FetchRoutingConfig(ctx); err != nil {
		c.logger.Error("initial routing-config fetch failed", "error", err)
	}

	ticker := time.NewTicker(routingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := c.FetchRoutingConfig(ctx); err != nil {
			c.logger.Error("routing-config fetch failed", "error", err)
		}
	}
}

// UpsertPrinters pushes the current printer set, merging on conflict
// over id. Called on discovery-apply and on config change, not just
// on a timer.
func (c *Client) UpsertPrinters(ctx context.Context) error {
	records := make([]PrinterRecord, 0, len(c.printers()))
	for _, p := range c.printers() {
		records = append(records, PrinterRecord{
			ID: p.ID, Name: p.Name, Transport: p.Transport, Address: p.Address,
			Capabilities: p.Capabilities, Status: p.Status, LastSeen: p.LastSeen,
		})
	}
	return c.withRetry(ctx, func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, "/rest/v1/printers", records, nil)
	})
}

// Heartbeat marks every printer belonging to this restaurant online.
// It is not retried with backoff -- a single failed beat just waits
// for the next tick -- so it makes a single attempt.
func (c *Client) Heartbeat(ctx context.Context) error {
	body := map[string]any{"restaurant_id": c.restaurantID, "status": "online", "at": time.Now().UTC()}
	return c.doJSON(ctx, http.MethodPost, "/rest/v1/printers/heartbeat", body, nil)
}

// FetchRoutingConfig pulls the current groups/assignments and
// replaces the router's view atomically (never partially).
func (c *Client) FetchRoutingConfig(ctx context.Context) error {
	var resp routingConfigResponse
	err := c.withRetry(ctx, func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodGet, "/rest/v1/routing-config?restaurant_id="+c.restaurantID, nil, &resp)
	})
	if err != nil {
		return err
	}
	c.router.SetConfig(config.RoutingTable{Groups: resp.Groups, Assignments: resp.Assignments})
	return nil
}

// NotifyJobDead fires a best-effort, fire-and-forget event when a job
// goes dead (permanent failure or exhausted retries), so the cloud
// dashboard can surface it. It does nothing when no cloud base URL is
// configured. Errors are swallowed: a failed notification must never
// affect dispatch.
func (c *Client) NotifyJobDead(ctx context.Context, job model.Job) {
	if c.baseURL == "" {
		return
	}
	body := map[string]any{
		"job_id": job.JobID, "order_id": job.OrderID, "group_id": job.GroupID,
		"last_error": job.LastError, "attempts": job.AttemptCount,
	}
	go func() {
		reqCtx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := c.doJSON(reqCtx, http.MethodPost, "/rest/v1/print_job_events", body, nil); err != nil {
			c.logger.Debug("job-dead event not delivered", "error", err, "job_id", job.JobID)
		}
	}()
}

func (c *Client) withRetry(ctx context.Context, fn func(context.Context) error) error {
	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	return backoff.Retry(func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var httpErr *HTTPError
		if ok := isLogicError(err, &httpErr); ok {
			return backoff.Permanent(err) // 4xx: surface immediately, don't retry
		}
		return err // 5xx/timeout: transient, keep retrying
	}, policy)
}

func isLogicError(err error, target **HTTPError) bool {
	httpErr, ok := err.(*HTTPError)
	if !ok {
		return false
	}
	*target = httpErr
	return httpErr.StatusCode >= 400 && httpErr.StatusCode < 500
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cloud request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
