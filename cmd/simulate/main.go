package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-session-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL      string        `env:"SIM_API_BASE_URL" envDefault:"http://localhost:8080"`
	Duration        time.Duration `env:"SIM_DURATION" envDefault:"30s"`
	Workers         int           `env:"SIM_WORKERS" envDefault:"20"`
	Sessions        int           `env:"SIM_SESSIONS" envDefault:"10"`
	SessionCapacity int           `env:"SIM_SESSION_CAPACITY" envDefault:"25"`
	AdmitRatio      float64       `env:"SIM_ADMIT_RATIO" envDefault:"0.5"`
	CancelRatio     float64       `env:"SIM_CANCEL_RATIO" envDefault:"0.1"`
	CallNextRatio   float64       `env:"SIM_CALL_NEXT_RATIO" envDefault:"0.1"`
	ReadRatio       float64       `env:"SIM_READ_RATIO" envDefault:"0.3"`
}

type admitted struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Number    string
	Position  int
}

// DataPool tracks what the simulation created so later operations and the
// final audit can refer to it.
type DataPool struct {
	Sessions []uuid.UUID

	mu           sync.RWMutex
	appointments []admitted
	cancelled    map[uuid.UUID]bool
}

func (dp *DataPool) AddAppointment(a admitted) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, a)
}

func (dp *DataPool) MarkCancelled(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.cancelled[id] = true
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (admitted, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return admitted{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Admit       OperationMetrics
	Cancel      OperationMetrics
	CallNext    OperationMetrics
	QueueStatus OperationMetrics
	ByNumber    OperationMetrics
	ListQueue   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	_ = godotenv.Load()
	logger := logging.Init("simulate", "dev")

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Int("sessions", cfg.Sessions).
		Int("capacity", cfg.SessionCapacity).
		Msg("simulator starting")

	sim := &Simulator{
		config: cfg,
		pool:   &DataPool{cancelled: make(map[uuid.UUID]bool)},
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger,
	}

	setupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = sim.createSessions(setupCtx)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("create sessions")
	}

	sim.Run()
	sim.PrintReport()

	if violations := sim.Audit(context.Background()); violations > 0 {
		logger.Fatal().Int("violations", violations).Msg("consistency audit failed")
	}
	logger.Info().Msg("consistency audit passed")
}

func loadConfig() (SimConfig, error) {
	cfg, err := env.ParseAs[SimConfig]()
	if err != nil {
		return SimConfig{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Workers <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Sessions <= 0 || cfg.SessionCapacity <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_SESSIONS and SIM_SESSION_CAPACITY must be > 0")
	}

	// Normalize ratios
	total := cfg.AdmitRatio + cfg.CancelRatio + cfg.CallNextRatio + cfg.ReadRatio
	if total > 0 {
		cfg.AdmitRatio /= total
		cfg.CancelRatio /= total
		cfg.CallNextRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg, nil
}

// createSessions opens fresh sessions so the run never collides with
// seeded data. Each gets its own practitioner.
func (s *Simulator) createSessions(ctx context.Context) error {
	start := time.Now().UTC().Add(time.Hour).Truncate(time.Minute)

	for i := 0; i < s.config.Sessions; i++ {
		body := map[string]any{
			"practitioner_id": uuid.New(),
			"hospital_id":     uuid.New(),
			"location":        fmt.Sprintf("Sim room %d", i+1),
			"start_time":      start,
			"end_time":        start.Add(2 * time.Hour),
			"capacity":        s.config.SessionCapacity,
		}

		var out struct {
			ID uuid.UUID `json:"id"`
		}
		status, err := s.call(ctx, http.MethodPost, "/sessions", body, &out)
		if err != nil {
			return err
		}
		if status != http.StatusCreated {
			return fmt.Errorf("create session: unexpected status %d", status)
		}
		s.pool.Sessions = append(s.pool.Sessions, out.ID)
	}
	return nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	faker := gofakeit.New(uint64(time.Now().UnixNano()) + uint64(workerID))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < s.config.AdmitRatio:
			s.doAdmit(ctx, rng, faker)
		case r < s.config.AdmitRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		case r < s.config.AdmitRatio+s.config.CancelRatio+s.config.CallNextRatio:
			s.doCallNext(ctx, rng)
		default:
			switch rng.Intn(3) {
			case 0:
				s.doQueueStatus(ctx, rng)
			case 1:
				s.doByNumber(ctx, rng)
			case 2:
				s.doListQueue(ctx, rng)
			}
		}
	}
}

func (s *Simulator) randomSession(rng *rand.Rand) uuid.UUID {
	return s.pool.Sessions[rng.Intn(len(s.pool.Sessions))]
}

func (s *Simulator) doAdmit(ctx context.Context, rng *rand.Rand, faker *gofakeit.Faker) {
	sessionID := s.randomSession(rng)
	bookingTypes := []string{"walk_in", "phone", "online"}

	body := map[string]any{
		"patient": map[string]any{
			"name":  faker.Name(),
			"email": faker.Email(),
			"phone": faker.Phone(),
		},
		"is_new_patient": faker.Bool(),
		"booking_type":   bookingTypes[rng.Intn(len(bookingTypes))],
	}

	var out struct {
		Appointment struct {
			ID                uuid.UUID `json:"id"`
			AppointmentNumber string    `json:"appointment_number"`
		} `json:"appointment"`
		QueuePosition int `json:"queue_position"`
	}

	start := time.Now()
	status, err := s.call(ctx, http.MethodPost, "/sessions/"+sessionID.String()+"/appointments", body, &out)
	latency := time.Since(start)

	success := err == nil && status == http.StatusCreated
	if success {
		s.pool.AddAppointment(admitted{
			ID:        out.Appointment.ID,
			SessionID: sessionID,
			Number:    out.Appointment.AppointmentNumber,
			Position:  out.QueuePosition,
		})
	}
	s.metrics.Admit.Record(latency, success, err == nil && status == http.StatusConflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	a, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, err := s.call(ctx, http.MethodPost, "/appointments/"+a.ID.String()+"/status",
		map[string]any{"status": "cancelled", "reason": "simulated cancellation"}, nil)
	latency := time.Since(start)

	success := err == nil && status == http.StatusOK
	if success {
		s.pool.MarkCancelled(a.ID)
	}
	s.metrics.Cancel.Record(latency, success, err == nil && status == http.StatusUnprocessableEntity)
}

func (s *Simulator) doCallNext(ctx context.Context, rng *rand.Rand) {
	start := time.Now()
	status, err := s.call(ctx, http.MethodPost, "/sessions/"+s.randomSession(rng).String()+"/call-next", nil, nil)
	s.metrics.CallNext.Record(time.Since(start), err == nil && status == http.StatusOK, err == nil && status == http.StatusNotFound)
}

func (s *Simulator) doQueueStatus(ctx context.Context, rng *rand.Rand) {
	a, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	start := time.Now()
	status, err := s.call(ctx, http.MethodGet, "/appointments/"+a.ID.String(), nil, nil)
	s.metrics.QueueStatus.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doByNumber(ctx context.Context, rng *rand.Rand) {
	a, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	start := time.Now()
	status, err := s.call(ctx, http.MethodGet, "/appointments/by-number/"+a.Number, nil, nil)
	s.metrics.ByNumber.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doListQueue(ctx context.Context, rng *rand.Rand) {
	start := time.Now()
	status, err := s.call(ctx, http.MethodGet, "/sessions/"+s.randomSession(rng).String()+"/appointments?limit=50", nil, nil)
	s.metrics.ListQueue.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

// Audit re-reads every session and checks the admission invariants against
// what the clients observed: booked_count within capacity and equal to
// successful admissions minus cancellations, and no queue position handed
// out twice.
func (s *Simulator) Audit(ctx context.Context) int {
	s.pool.mu.RLock()
	defer s.pool.mu.RUnlock()

	live := make(map[uuid.UUID]int)
	positions := make(map[uuid.UUID]map[int]bool)
	violations := 0

	for _, a := range s.pool.appointments {
		if !s.pool.cancelled[a.ID] {
			live[a.SessionID]++
		}
		if positions[a.SessionID] == nil {
			positions[a.SessionID] = make(map[int]bool)
		}
		if positions[a.SessionID][a.Position] {
			s.log.Error().Str("session_id", a.SessionID.String()).Int("position", a.Position).Msg("queue position issued twice")
			violations++
		}
		positions[a.SessionID][a.Position] = true
	}

	for _, id := range s.pool.Sessions {
		var session struct {
			Capacity    int `json:"capacity"`
			BookedCount int `json:"booked_count"`
		}
		status, err := s.call(ctx, http.MethodGet, "/sessions/"+id.String(), nil, &session)
		if err != nil || status != http.StatusOK {
			s.log.Error().Err(err).Int("status", status).Str("session_id", id.String()).Msg("audit read failed")
			violations++
			continue
		}

		ev := s.log.Info()
		switch {
		case session.BookedCount > session.Capacity:
			ev = s.log.Error().Str("problem", "oversold")
			violations++
		case session.BookedCount != live[id]:
			ev = s.log.Error().Str("problem", "booked_count drift")
			violations++
		}
		ev.Str("session_id", id.String()).
			Int("capacity", session.Capacity).
			Int("booked_count", session.BookedCount).
			Int("client_live", live[id]).
			Msg("session audit")
	}
	return violations
}

func (s *Simulator) call(ctx context.Context, method, path string, body, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", "simulator")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Sessions: %d x capacity %d\n", s.config.Sessions, s.config.SessionCapacity)
	fmt.Println()

	printOperationReport("Admit", &s.metrics.Admit)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Call next", &s.metrics.CallNext)
	printOperationReport("Queue status", &s.metrics.QueueStatus)
	printOperationReport("By number", &s.metrics.ByNumber)
	printOperationReport("List queue", &s.metrics.ListQueue)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}
