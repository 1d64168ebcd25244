// Package ingest holds the order-acceptance logic shared by both
// inbound paths: the realtime channel (C8) and the loopback HTTP API
// (C9). Validate, route, and enqueue are identical regardless of
// which transport the order arrived over.
package ingest

import (
	"context"
	"fmt"

	"github.com/eatsome/printerd/internal/model"
	"github.com/eatsome/printerd/internal/queue"
	"github.com/eatsome/printerd/internal/router"
)

// ErrTooManyItems is returned when an order exceeds model.MaxOrderItems.
type ErrTooManyItems struct{ Count int }

func (e *ErrTooManyItems) Error() string {
	return fmt.Sprintf("order has %d items, exceeds max of %d", e.Count, model.MaxOrderItems)
}

// ErrEmptyOrder is returned when an order has no items to route.
type ErrEmptyOrder struct{}

func (e *ErrEmptyOrder) Error() string { return "order has no items" }

// Service routes and enqueues validated orders. Both ingress packages
// hold one instance, constructed once at startup.
type Service struct {
	router *router.Router
	queue  *queue.Queue
}

func New(r *router.Router, q *queue.Queue) *Service {
	return &Service{router: r, queue: q}
}

// Accept validates order, routes it into per-station jobs, and
// enqueues each one. It returns the job ids that were freshly
// inserted and those that deduplicated against an in-flight job, in
// the order the router produced them.
func (s *Service) Accept(ctx context.Context, order model.Order) (accepted, deduped []string, err error) {
	if len(order.Items) == 0 {
		return nil, nil, &ErrEmptyOrder{}
	}
	if len(order.Items) > model.MaxOrderItems {
		return nil, nil, &ErrTooManyItems{Count: len(order.Items)}
	}

	jobs := s.router.Route(order)
	for _, job := range jobs {
		if job.Status == model.JobDead {
			// No printer assigned to this station: persist it as
			// dead immediately so it surfaces in stats, but don't
			// treat the whole order as failed.
			if _, err := s.queue.Enqueue(ctx, job); err != nil {
				return accepted, deduped, fmt.Errorf("enqueueing unroutable job: %w", err)
			}
			continue
		}

		res, err := s.queue.Enqueue(ctx, job)
		if err != nil {
			return accepted, deduped, fmt.Errorf("enqueueing job for group %s: %w", job.GroupID, err)
		}
		if res.Deduplicated {
			deduped = append(deduped, res.JobID)
		} else {
			accepted = append(accepted, res.JobID)
		}
	}
	return accepted, deduped, nil
}
