// Package queue implements the durable, encrypted, prioritized job
// store (C5). It owns every Job record's lifecycle; the router only
// ever produces descriptors, and the dispatcher borrows rows via
// time-bounded leases.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eatsome/printerd/internal/model"
	"github.com/eatsome/printerd/internal/perr"
)

const schema = `
CREATE TABLE IF NOT EXISTS queue_meta (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id              TEXT PRIMARY KEY,
	dedup_key       TEXT NOT NULL,
	group_id        TEXT NOT NULL,
	order_id        TEXT NOT NULL,
	order_number    TEXT NOT NULL,
	payload         BLOB NOT NULL,
	priority        INTEGER NOT NULL,
	status          TEXT NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	printer_id      TEXT NOT NULL DEFAULT '',
	next_attempt_at INTEGER NOT NULL,
	lease_deadline  INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL,
	last_error      TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS jobs_dedup_nonterminal
	ON jobs(dedup_key)
	WHERE status IN ('pending', 'in_flight');

CREATE INDEX IF NOT EXISTS jobs_lease_lookup
	ON jobs(status, group_id, next_attempt_at);
`

const (
	leaseDuration   = 60 * time.Second
	backoffBase     = 2 * time.Second
	backoffCap      = 5 * time.Minute
	defaultRetention = 7 * 24 * time.Hour
)

// Queue is the C5 job store: a single SQLite file whose payload
// column is encrypted with a key derived from the restaurant's
// passphrase.
type Queue struct {
	db  *sql.DB
	key []byte

	// notify is closed and replaced on every enqueue so dispatcher
	// workers blocked in their idle sleep (engine.PollWithWake) wake
	// immediately instead of waiting out the jitter window. notifyMu
	// guards both the close and every read of the field, since
	// multiple dispatcher workers call Notify concurrently.
	notifyMu sync.Mutex
	notify   chan struct{}
}

// payload is the encrypted portion of a job row: everything not
// needed by SQL predicates.
type payload struct {
	OrderType model.OrderType   `json:"order_type"`
	Table     string            `json:"table,omitempty"`
	Items     []model.OrderItem `json:"items"`
}

// Open prepares the queue in db, creating its schema if absent, and
// derives the payload-encryption key from passphrase. The salt is persisted
// in queue_meta on first open.
func Open(ctx context.Context, db *sql.DB, passphrase string) (*Queue, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, perr.NewFatal(perr.KindQueue, fmt.Errorf("migrating queue schema: %w", err))
	}

	salt, err := loadOrCreateSalt(ctx, db)
	if err != nil {
		return nil, perr.NewFatal(perr.KindQueue, err)
	}

	q := &Queue{db: db, key: deriveKey(passphrase, salt), notify: make(chan struct{})}
	return q, nil
}

func loadOrCreateSalt(ctx context.Context, db *sql.DB) ([]byte, error) {
	var salt []byte
	err := db.QueryRowContext(ctx, `SELECT value FROM queue_meta WHERE key = 'salt'`).Scan(&salt)
	if err == nil {
		return salt, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reading queue salt: %w", err)
	}
	salt, err = newSalt()
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO queue_meta(key, value) VALUES ('salt', ?)`, salt); err != nil {
		return nil, fmt.Errorf("persisting queue salt: %w", err)
	}
	return salt, nil
}

// EnqueueResult distinguishes a freshly inserted job from a
// duplicate of one still in flight.
type EnqueueResult struct {
	JobID       string
	Deduplicated bool
}

// Enqueue inserts job with its Status (pending unless the caller set
// one, e.g. dead for an unroutable job), or returns the existing non-terminal
// row sharing its dedup_key (spec invariant Q2). Commit fsyncs via
// SQLite's default journal durability.
func (q *Queue) Enqueue(ctx context.Context, job model.Job) (EnqueueResult, error) {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	if job.Priority == 0 {
		job.Priority = model.DefaultPriority
	}
	if job.Status == "" {
		job.Status = model.JobPending
	}
	job.DedupKey = model.DedupKey(job.OrderID, job.GroupID)

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return EnqueueResult{}, perr.NewTransient(perr.KindQueue, err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM jobs WHERE dedup_key = ? AND status IN ('pending', 'in_flight')`,
		job.DedupKey,
	).Scan(&existing)
	if err == nil {
		return EnqueueResult{JobID: existing, Deduplicated: true}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return EnqueueResult{}, perr.NewTransient(perr.KindQueue, err)
	}

	p := payload{OrderType: job.OrderType, Table: job.Table, Items: job.Items}
	raw, err := json.Marshal(p)
	if err != nil {
		return EnqueueResult{}, perr.NewPermanent(perr.KindQueue, err)
	}
	sealed, err := sealPayload(q.key, raw)
	if err != nil {
		return EnqueueResult{}, perr.NewFatal(perr.KindQueue, err)
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs(id, dedup_key, group_id, order_id, order_number, payload, priority, status, next_attempt_at, created_at, updated_at, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.JobID, job.DedupKey, job.GroupID, job.OrderID, job.OrderNumber, sealed, job.Priority, string(job.Status),
		now.Unix(), now.Unix(), now.Unix(), job.LastError,
	)
	if err != nil {
		return EnqueueResult{}, perr.NewTransient(perr.KindQueue, err)
	}
	if err := tx.Commit(); err != nil {
		return EnqueueResult{}, perr.NewTransient(perr.KindQueue, err)
	}

	q.wake()
	return EnqueueResult{JobID: job.JobID}, nil
}

// wake closes the current notify channel (releasing any Poll waiters)
// and swaps in a fresh one.
func (q *Queue) wake() {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()
	close(q.notify)
	q.notify = make(chan struct{})
}

// Notify returns a channel closed the next time a job is enqueued,
// for dispatcher workers to select on instead of purely polling.
func (q *Queue) Notify() <-chan struct{} {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()
	return q.notify
}

// JobLease is a time-bounded claim on a pending job.
type JobLease struct {
	Job      model.Job
	Deadline time.Time
}

// Lease atomically claims the highest-priority eligible pending job
// for printerID, where eligible means group_id is one of
// eligibleGroups (the groups printerID is assigned to, primary or
// backup). Ties broken by created_at ascending (FIFO).
func (q *Queue) Lease(ctx context.Context, printerID string, eligibleGroups []string, now time.Time) (*JobLease, error) {
	if len(eligibleGroups) == 0 {
		return nil, nil
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, perr.NewTransient(perr.KindQueue, err)
	}
	defer tx.Rollback()

	placeholders := make([]any, 0, len(eligibleGroups)+1)
	placeholders = append(placeholders, now.Unix())
	query := `SELECT id, dedup_key, group_id, order_id, order_number, payload, priority, attempts, created_at, last_error
		FROM jobs WHERE status = 'pending' AND next_attempt_at <= ? AND group_id IN (`
	for i, g := range eligibleGroups {
		if i > 0 {
			query += ","
		}
		query += "?"
		placeholders = append(placeholders, g)
	}
	query += ") ORDER BY priority ASC, created_at ASC LIMIT 1"

	var (
		row       model.Job
		sealed    []byte
		createdAt int64
	)
	err = tx.QueryRowContext(ctx, query, placeholders...).Scan(
		&row.JobID, &row.DedupKey, &row.GroupID, &row.OrderID, &row.OrderNumber,
		&sealed, &row.Priority, &row.AttemptCount, &createdAt, &row.LastError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, perr.NewTransient(perr.KindQueue, err)
	}

	raw, err := openPayload(q.key, sealed)
	if err != nil {
		return nil, perr.NewFatal(perr.KindQueue, fmt.Errorf("decrypting job %s: %w", row.JobID, err))
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, perr.NewFatal(perr.KindQueue, fmt.Errorf("unmarshaling job %s: %w", row.JobID, err))
	}
	row.OrderType, row.Table, row.Items = p.OrderType, p.Table, p.Items
	row.CreatedAt = time.Unix(createdAt, 0)
	row.PrinterID = printerID
	row.Status = model.JobInFlight

	deadline := now.Add(leaseDuration)
	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET status = 'in_flight', printer_id = ?, lease_deadline = ?, updated_at = ? WHERE id = ?`,
		printerID, deadline.Unix(), now.Unix(), row.JobID,
	)
	if err != nil {
		return nil, perr.NewTransient(perr.KindQueue, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, perr.NewTransient(perr.KindQueue, err)
	}

	return &JobLease{Job: row, Deadline: deadline}, nil
}

// Complete marks a leased job done.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'done', updated_at = ? WHERE id = ?`,
		time.Now().Unix(), jobID,
	)
	if err != nil {
		return perr.NewTransient(perr.KindQueue, err)
	}
	return nil
}

// FailKind tells Fail whether the error is worth retrying.
type FailKind int

const (
	FailTransient FailKind = iota
	FailPermanent
)

// Fail records a failed attempt. A permanent failure, or a transient
// one that has exhausted max_attempts, marks the job dead; otherwise
// it goes back to pending with exponential backoff plus jitter. The
// returned status reflects which of those happened, so a caller can
// tell a terminal death apart from a retry without a second query.
func (q *Queue) Fail(ctx context.Context, jobID string, kind FailKind, cause error, minBackoff time.Duration) (model.JobStatus, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return "", perr.NewTransient(perr.KindQueue, err)
	}
	defer tx.Rollback()

	var attempts int
	if err := tx.QueryRowContext(ctx, `SELECT attempts FROM jobs WHERE id = ?`, jobID).Scan(&attempts); err != nil {
		return "", perr.NewTransient(perr.KindQueue, err)
	}

	now := time.Now()
	errText := ""
	if cause != nil {
		errText = cause.Error()
	}

	status := model.JobPending
	if kind == FailPermanent || attempts+1 >= model.MaxAttempts {
		status = model.JobDead
		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET status = 'dead', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts+1, errText, now.Unix(), jobID,
		)
	} else {
		next := now.Add(backoffWithJitter(attempts+1, minBackoff))
		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET status = 'pending', attempts = ?, next_attempt_at = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts+1, next.Unix(), errText, now.Unix(), jobID,
		)
	}
	if err != nil {
		return "", perr.NewTransient(perr.KindQueue, err)
	}
	if err := tx.Commit(); err != nil {
		return "", perr.NewTransient(perr.KindQueue, err)
	}
	return status, nil
}

// backoffWithJitter computes base*2^attempts capped at backoffCap,
// plus up to ±20% jitter, floored at minBackoff (used to enforce a
// longer floor for device-reported printer faults, which need a human
// before retrying makes sense).
func backoffWithJitter(attempts int, minBackoff time.Duration) time.Duration {
	d := time.Duration(float64(backoffBase) * math.Pow(2, float64(attempts)))
	if d > backoffCap {
		d = backoffCap
	}
	jitter := 1 + (rand.Float64()*0.4 - 0.2)
	d = time.Duration(float64(d) * jitter)
	if d < minBackoff {
		d = minBackoff
	}
	return d
}

// ReapExpiredLeases reverts any in_flight job whose lease deadline has
// passed back to pending. Its attempt count and next_attempt_at are
// left unchanged, so the job is leasable at once: no attempt is
// counted and no backoff is applied. This is
// what makes an unclean restart safe (spec invariant Q3): an in_flight
// row survives the crash, its lease simply expires.
func (q *Queue) ReapExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	result, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'pending', updated_at = ? WHERE status = 'in_flight' AND lease_deadline <= ?`,
		now.Unix(), now.Unix(),
	)
	if err != nil {
		return 0, perr.NewTransient(perr.KindQueue, err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// Cleanup deletes done/dead rows older than retention (default 7d).
func (q *Queue) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = defaultRetention
	}
	cutoff := time.Now().Add(-retention).Unix()
	result, err := q.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status IN ('done', 'dead') AND updated_at < ?`,
		cutoff,
	)
	if err != nil {
		return 0, perr.NewTransient(perr.KindQueue, err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// Stats summarizes queue depth for the health endpoint.
type Stats struct {
	Pending       int            `json:"pending"`
	InFlight      int            `json:"in_flight"`
	Done          int            `json:"done"`
	FailedTerminal int           `json:"failed_terminal"`
	DepthByGroup  map[string]int `json:"depth_by_group"`
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{DepthByGroup: map[string]int{}}

	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return stats, perr.NewTransient(perr.KindQueue, err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, perr.NewTransient(perr.KindQueue, err)
		}
		switch model.JobStatus(status) {
		case model.JobPending:
			stats.Pending = count
		case model.JobInFlight:
			stats.InFlight = count
		case model.JobDone:
			stats.Done = count
		case model.JobDead:
			stats.FailedTerminal += count
		}
	}

	groupRows, err := q.db.QueryContext(ctx,
		`SELECT group_id, COUNT(*) FROM jobs WHERE status IN ('pending', 'in_flight') GROUP BY group_id`)
	if err != nil {
		return stats, perr.NewTransient(perr.KindQueue, err)
	}
	defer groupRows.Close()
	for groupRows.Next() {
		var group string
		var count int
		if err := groupRows.Scan(&group, &count); err != nil {
			return stats, perr.NewTransient(perr.KindQueue, err)
		}
		stats.DepthByGroup[group] = count
	}

	return stats, nil
}
