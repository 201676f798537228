package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/timeoff"
)

const (
	DefaultWorkers     = 2
	DefaultQueueSize   = 256
	DefaultMaxAttempts = 3
	DefaultBackoff     = 200 * time.Millisecond
)

type Options struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	Backoff     time.Duration // first retry delay, doubled per attempt
	Logger      *zap.Logger
	Now         func() time.Time
}

func (o *Options) setDefaults() {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Backoff < 0 {
		o.Backoff = 0
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type delivery struct {
	ctx context.Context
	env Envelope
}

// Dispatcher is an asynchronous timeoff.Notifier. Notify never blocks: when
// the queue is full the event is dropped and logged.
type Dispatcher struct {
	pub  Publisher
	opts Options
	log  *zap.Logger

	queue chan delivery
	stop  chan struct{} // closed when Close gives up waiting
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(pub Publisher, opts Options) *Dispatcher {
	opts.setDefaults()
	d := &Dispatcher{
		pub:   pub,
		opts:  opts,
		log:   opts.Logger.Named("notify.dispatcher"),
		queue: make(chan delivery, opts.QueueSize),
		stop:  make(chan struct{}),
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.log.Info("dispatcher started",
		zap.Int("workers", opts.Workers),
		zap.Int("queue_size", opts.QueueSize),
		zap.Int("max_attempts", opts.MaxAttempts),
	)
	return d
}

func (d *Dispatcher) Notify(ctx context.Context, events ...timeoff.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, ev := range events {
		if d.closed {
			d.log.Warn("dispatcher closed, dropping event",
				zap.String("event_type", ev.EventType()),
				zap.String("request_id", ev.AggregateID()))
			continue
		}
		env, err := NewEnvelope(ev, d.opts.Now())
		if err != nil {
			d.log.Error("drop unencodable event", zap.Error(err))
			continue
		}
		select {
		// The caller's request context ends as soon as it responds.
		case d.queue <- delivery{ctx: context.WithoutCancel(ctx), env: env}:
		default:
			d.log.Warn("notification queue full, dropping event",
				zap.String("event_type", env.Type),
				zap.String("request_id", env.RequestID),
				zap.String("recipient_id", string(env.RecipientID)))
		}
	}
}

// Close stops accepting events and waits for queued ones to be delivered or
// for ctx to end, whichever comes first. On timeout, workers abandon what is
// left and return without publishing again; a publish already in flight is
// not interrupted.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.log.Info("dispatcher stopped")
		return nil
	case <-ctx.Done():
		close(d.stop)
		d.log.Warn("dispatcher stop timed out", zap.Int("pending", len(d.queue)))
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.queue {
		select {
		case <-d.stop:
			return
		default:
		}
		d.deliver(job)
	}
}

func (d *Dispatcher) deliver(job delivery) {
	log := d.log.With(
		zap.String("event_id", job.env.ID),
		zap.String("event_type", job.env.Type),
		zap.String("request_id", job.env.RequestID),
	)

	delay := d.opts.Backoff
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		err := d.publish(job.ctx, job.env)
		if err == nil {
			log.Debug("event delivered", zap.Int("attempt", attempt))
			return
		}
		if attempt == d.opts.MaxAttempts {
			log.Error("event delivery failed, giving up", zap.Int("attempts", attempt), zap.Error(err))
			return
		}
		log.Warn("event delivery failed, retrying", zap.Int("attempt", attempt), zap.Duration("backoff", delay), zap.Error(err))
		select {
		case <-time.After(delay):
		case <-d.stop:
			log.Warn("dispatcher stopped, abandoning event", zap.Int("attempts", attempt))
			return
		}
		delay *= 2
	}
}

// publish turns a panicking sink into an ordinary failure.
func (d *Dispatcher) publish(ctx context.Context, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publisher panic: %v", r)
		}
	}()
	return d.pub.Publish(ctx, env)
}

var _ timeoff.Notifier = (*Dispatcher)(nil)
