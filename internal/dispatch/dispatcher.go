package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-session-scheduling/internal/appointment"
)

var (
	ErrQueueFull = errors.New("dispatch queue full")
	ErrClosed    = errors.New("dispatcher closed")
)

// Options tune the delivery pipeline.
type Options struct {
	Buffer       int
	Workers      int
	MaxRetries   uint
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// AttemptTimeout bounds a single delivery call.
	AttemptTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		Buffer:         1024,
		Workers:        4,
		MaxRetries:     5,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		AttemptTimeout: 3 * time.Second,
	}
}

type job struct {
	event  *appointment.Event
	record *appointment.AuditRecord
}

// Dispatcher decouples the core from slow notification and audit sinks.
// Send and Record only enqueue; worker goroutines deliver with bounded
// retry. When the queue is full the item is logged and dropped so callers
// never wait.
type Dispatcher struct {
	notifier appointment.Notifier
	auditor  appointment.Auditor
	opts     Options
	log      zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// New starts the workers. Either sink may be nil, in which case items of
// that kind are discarded.
func New(notifier appointment.Notifier, auditor appointment.Auditor, opts Options, log zerolog.Logger) *Dispatcher {
	def := DefaultOptions()
	if opts.Buffer < 1 {
		opts.Buffer = def.Buffer
	}
	if opts.Workers < 1 {
		opts.Workers = def.Workers
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = def.InitialDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = def.MaxDelay
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = def.AttemptTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		notifier: notifier,
		auditor:  auditor,
		opts:     opts,
		log:      log.With().Str("component", "dispatcher").Logger(),
		queue:    make(chan job, opts.Buffer),
		ctx:      ctx,
		cancel:   cancel,
	}

	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Send implements appointment.Notifier.
func (d *Dispatcher) Send(_ context.Context, ev appointment.Event) error {
	return d.enqueue(job{event: &ev})
}

// Record implements appointment.Auditor.
func (d *Dispatcher) Record(_ context.Context, rec appointment.AuditRecord) error {
	return d.enqueue(job{record: &rec})
}

func (d *Dispatcher) enqueue(j job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}

	select {
	case d.queue <- j:
		return nil
	default:
		d.dropped.Add(1)
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for j := range d.queue {
		if err := d.deliver(j); err != nil {
			d.failed.Add(1)
			ev := d.log.Error().Err(err)
			if j.event != nil {
				ev = ev.Str("event_id", j.event.ID.String()).Str("event_type", string(j.event.Type))
			} else {
				ev = ev.Str("entity_id", j.record.EntityID.String()).Str("action", j.record.Action)
			}
			ev.Msg("giving up on delivery")
			continue
		}
		d.delivered.Add(1)
	}
}

func (d *Dispatcher) deliver(j job) error {
	op := func() (struct{}, error) {
		ctx, cancel := context.WithTimeout(d.ctx, d.opts.AttemptTimeout)
		defer cancel()

		var err error
		switch {
		case j.event != nil && d.notifier != nil:
			err = d.notifier.Send(ctx, *j.event)
		case j.record != nil && d.auditor != nil:
			err = d.auditor.Record(ctx, *j.record)
		}
		return struct{}{}, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.opts.InitialDelay
	b.MaxInterval = d.opts.MaxDelay

	_, err := backoff.Retry(d.ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(d.opts.MaxRetries),
		backoff.WithNotify(func(err error, next time.Duration) {
			d.log.Warn().Err(err).Dur("retry_in", next).Msg("delivery failed, retrying")
		}),
	)
	if err != nil {
		return fmt.Errorf("deliver after %d attempts: %w", d.opts.MaxRetries, err)
	}
	return nil
}

// Close stops intake and waits for queued items to drain. If ctx expires
// first, in-flight retries are abandoned.
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
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return fmt.Errorf("dispatcher drain: %w", ctx.Err())
	}
}

// Stats is a snapshot of delivery counters.
type Stats struct {
	Delivered int64
	Failed    int64
	Dropped   int64
	Queued    int
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
		Queued:    len(d.queue),
	}
}
