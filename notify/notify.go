// Package notify delivers leave lifecycle events to external sinks.
//
// The engine hands events to a timeoff.Notifier after commit. Dispatcher is
// the production Notifier: it encodes each event into an Envelope, queues it
// and lets a small worker pool push it to a Publisher (Kafka, Redis pub/sub,
// the log, or several of them through Multi). Delivery failures are logged
// and retried a bounded number of times; they never reach the engine.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// Envelope is the wire form shared by every publisher.
type Envelope struct {
	ID          string           `json:"id"`
	Type        string           `json:"event_type"`
	RecipientID generic.EntityID `json:"recipient_id"`
	RequestID   string           `json:"request_id"`
	OccurredAt  time.Time        `json:"occurred_at"`
	Data        json.RawMessage  `json:"data"`
}

func NewEnvelope(ev timeoff.Event, at time.Time) (Envelope, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", ev.EventType(), err)
	}
	return Envelope{
		ID:          uuid.NewString(),
		Type:        ev.EventType(),
		RecipientID: ev.RecipientID(),
		RequestID:   ev.AggregateID(),
		OccurredAt:  at.UTC(),
		Data:        data,
	}, nil
}

// Publisher hands one envelope to a sink.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

type PublisherFunc func(ctx context.Context, env Envelope) error

func (f PublisherFunc) Publish(ctx context.Context, env Envelope) error { return f(ctx, env) }

// =============================================================================
// MULTI
// =============================================================================

type multi []Publisher

// Multi publishes to every sink and joins their errors. A failing sink does
// not stop the others.
func Multi(pubs ...Publisher) Publisher {
	if len(pubs) == 1 {
		return pubs[0]
	}
	return multi(pubs)
}

func (m multi) Publish(ctx context.Context, env Envelope) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// LOG
// =============================================================================

// LogPublisher writes envelopes to a zap logger. It is the fallback sink
// when no broker is configured.
type LogPublisher struct {
	Logger *zap.Logger
}

func (p LogPublisher) Publish(_ context.Context, env Envelope) error {
	log := p.Logger
	if log == nil {
		log = zap.L()
	}
	log.Info("notification",
		zap.String("event_id", env.ID),
		zap.String("event_type", env.Type),
		zap.String("recipient_id", string(env.RecipientID)),
		zap.String("request_id", env.RequestID),
		zap.Time("occurred_at", env.OccurredAt),
	)
	return nil
}

// =============================================================================
// INLINE
// =============================================================================

// Inline publishes on the caller's goroutine. Errors are logged, never
// returned. Useful for tests and single-process demos.
type Inline struct {
	Publisher Publisher
	Logger    *zap.Logger
	Now       func() time.Time
}

func (n Inline) Notify(ctx context.Context, events ...timeoff.Event) {
	log := n.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := n.Now
	if now == nil {
		now = time.Now
	}
	for _, ev := range events {
		env, err := NewEnvelope(ev, now())
		if err != nil {
			log.Error("drop unencodable event", zap.Error(err))
			continue
		}
		if err := n.publish(ctx, env); err != nil {
			log.Warn("publish failed",
				zap.String("event_type", env.Type),
				zap.String("request_id", env.RequestID),
				zap.Error(err),
			)
		}
	}
}

// publish runs after the caller's commit, so a panicking sink is reported
// as an error instead of unwinding into the caller.
func (n Inline) publish(ctx context.Context, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publisher panic: %v", r)
		}
	}()
	return n.Publisher.Publish(ctx, env)
}

var _ timeoff.Notifier = Inline{}
