package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-session-scheduling/internal/appointment"
)

// flakySink fails the first failures calls, then records.
type flakySink struct {
	mu       sync.Mutex
	failures int
	calls    int
	events   []appointment.Event
	records  []appointment.AuditRecord
	block    chan struct{}
}

func (s *flakySink) Send(_ context.Context, ev appointment.Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("smtp down")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *flakySink) Record(_ context.Context, rec appointment.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *flakySink) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func fastOptions() Options {
	return Options{
		Buffer:         8,
		Workers:        2,
		MaxRetries:     3,
		InitialDelay:   time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		AttemptTimeout: time.Second,
	}
}

func event() appointment.Event {
	return appointment.Event{ID: uuid.New(), Type: appointment.EventBooked, SessionID: uuid.New()}
}

func TestDispatcherRetriesUntilDelivered(t *testing.T) {
	sink := &flakySink{failures: 2}
	d := New(sink, sink, fastOptions(), zerolog.Nop())

	require.NoError(t, d.Send(context.Background(), event()))
	require.NoError(t, d.Record(context.Background(), appointment.AuditRecord{EntityID: uuid.New(), Action: "admit"}))
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, 1, sink.eventCount())
	assert.Len(t, sink.records, 1)
	assert.Equal(t, int64(2), d.Stats().Delivered)
	assert.Zero(t, d.Stats().Failed)
}

func TestDispatcherGivesUpAfterMaxRetries(t *testing.T) {
	sink := &flakySink{failures: 100}
	d := New(sink, nil, fastOptions(), zerolog.Nop())

	require.NoError(t, d.Send(context.Background(), event()))
	require.NoError(t, d.Close(context.Background()))

	assert.Zero(t, sink.eventCount())
	assert.Equal(t, 3, sink.calls)
	assert.Equal(t, int64(1), d.Stats().Failed)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &flakySink{block: make(chan struct{})}
	opts := fastOptions()
	opts.Buffer = 1
	opts.Workers = 1
	d := New(sink, nil, opts, zerolog.Nop())

	// The worker takes the first item and blocks; the second fills the buffer.
	require.NoError(t, d.Send(context.Background(), event()))
	require.Eventually(t, func() bool { return d.Stats().Queued == 0 }, time.Second, time.Millisecond)
	require.NoError(t, d.Send(context.Background(), event()))

	err := d.Send(context.Background(), event())
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int64(1), d.Stats().Dropped)

	close(sink.block)
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, 2, sink.eventCount())
}

func TestDispatcherRejectsAfterClose(t *testing.T) {
	d := New(&flakySink{}, nil, fastOptions(), zerolog.Nop())
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))

	assert.ErrorIs(t, d.Send(context.Background(), event()), ErrClosed)
}

func TestDispatcherCloseHonoursDeadline(t *testing.T) {
	sink := &flakySink{block: make(chan struct{})}
	opts := fastOptions()
	opts.Workers = 1
	d := New(sink, nil, opts, zerolog.Nop())
	require.NoError(t, d.Send(context.Background(), event()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(sink.block)
	}()
	err := d.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &flakySink{}
	bad := &flakySink{failures: 1}
	err := FanoutNotifier{ok, bad}.Send(context.Background(), event())
	assert.Error(t, err)
	assert.Equal(t, 1, ok.eventCount())

	log := NewLogSink(zerolog.Nop())
	assert.NoError(t, FanoutAuditor{ok, log}.Record(context.Background(), appointment.AuditRecord{EntityID: uuid.New()}))
	assert.NoError(t, log.Send(context.Background(), event()))
}
