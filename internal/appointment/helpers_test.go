package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-session-scheduling/internal/clock"
)

var baseTime = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

// recordingNotifier keeps every event it receives.
type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Send(_ context.Context, ev Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) Types() []EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]EventType, len(n.events))
	for i, ev := range n.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	svc      *Service
	repo     *MemoryRepository
	clock    *clock.Manual
	notifier *recordingNotifier
	rates    StaticRates
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := NewMemoryRepository()
	clk := clock.NewManual(baseTime)
	notifier := &recordingNotifier{}
	rates := StaticRates{Rates: map[uuid.UUID]decimal.Decimal{}, Default: decimal.RequireFromString("50.00")}

	settings := DefaultSettings()
	settings.BookingFee = decimal.RequireFromString("2.50")

	svc := NewService(repo, settings,
		WithClock(clk),
		WithNotifier(notifier),
		WithAuditor(repo),
		WithRates(rates),
	)

	return &fixture{svc: svc, repo: repo, clock: clk, notifier: notifier, rates: rates}
}

func window(startOffset, length time.Duration) Window {
	return Window{Start: baseTime.Add(startOffset), End: baseTime.Add(startOffset + length)}
}

func intPtr(v int) *int { return &v }

// createSession makes a 10:00-10:30 style session for a fresh practitioner.
func (f *fixture) createSession(t *testing.T, capacity int) *Session {
	t.Helper()

	s, err := f.svc.Sessions.CreateSession(context.Background(), CreateSessionInput{
		PractitionerID: uuid.New(),
		HospitalID:     uuid.New(),
		Location:       "Room 4",
		Window:         window(2*time.Hour, 30*time.Minute),
		Capacity:       intPtr(capacity),
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) admit(t *testing.T, sessionID uuid.UUID, name string, bt BookingType) *Admission {
	t.Helper()

	adm, err := f.svc.Admission.Admit(context.Background(), sessionID, AdmitRequest{
		Patient:     Patient{Name: name, Email: name + "@example.com"},
		BookingType: bt,
	})
	require.NoError(t, err)
	return adm
}

func (f *fixture) bookedCount(t *testing.T, sessionID uuid.UUID) int {
	t.Helper()

	s, err := f.repo.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	return s.BookedCount
}
