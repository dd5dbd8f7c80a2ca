package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinic-session-scheduling/internal/appointment"
	"github.com/hackgods/clinic-session-scheduling/internal/config"
	"github.com/hackgods/clinic-session-scheduling/internal/db"
	"github.com/hackgods/clinic-session-scheduling/internal/logging"
)

type seedConfig struct {
	Practitioners  int    `env:"SEED_PRACTITIONERS" envDefault:"40"`
	Nurses         int    `env:"SEED_NURSES" envDefault:"25"`
	Hospitals      int    `env:"SEED_HOSPITALS" envDefault:"5"`
	Days           int    `env:"SEED_DAYS" envDefault:"7"`
	SessionsPerDay int    `env:"SEED_SESSIONS_PER_DAY" envDefault:"2"`
	Seed           uint64 `env:"SEED_RANDOM" envDefault:"0"`
}

var specialties = []string{
	"General Practice",
	"Cardiology",
	"Dermatology",
	"Pediatrics",
	"Orthopedics",
	"Neurology",
	"Endocrinology",
	"ENT",
	"Ophthalmology",
	"Psychiatry",
}

var sessionStarts = []int{8, 10, 13, 15, 17}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Init("seed", "dev").Fatal().Err(err).Msg("config load error")
	}
	logger := logging.Init("seed", cfg.Env)

	sc, err := env.ParseAs[seedConfig]()
	if err != nil {
		logger.Fatal().Err(err).Msg("parse seed config")
	}
	if sc.SessionsPerDay > len(sessionStarts) {
		sc.SessionsPerDay = len(sessionStarts)
	}
	logger.Info().Interface("seed", sc).Msg("seed starting")

	ctx := appointment.WithActor(context.Background(), "seed")

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connectCtx, cfg.PostgresDSN, "seed")
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	faker := gofakeit.New(sc.Seed)

	practitioners, err := seedPractitioners(ctx, pool, faker, sc.Practitioners, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed practitioners")
	}

	nurses := randomIDs(sc.Nurses)
	hospitals := randomIDs(sc.Hospitals)

	repo := appointment.NewPgRepository(pool)
	svc := appointment.NewService(repo, appointment.Settings{
		DefaultCapacity: cfg.DefaultSessionCapacity,
		BookingFee:      cfg.BookingFeeAmount(),
	}, appointment.WithAuditor(repo), appointment.WithLogger(logger))

	created, skipped, err := seedSessions(ctx, svc.Sessions, faker, sc, practitioners, nurses, hospitals)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed sessions")
	}

	logger.Info().Int("sessions", created).Int("overlaps_skipped", skipped).Msg("seed complete")
}

func randomIDs(n int) []uuid.UUID {
	out := make([]uuid.UUID, n)
	for i := range out {
		out[i] = uuid.New()
	}
	return out
}

func seedPractitioners(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, logger zerolog.Logger) ([]uuid.UUID, error) {
	logger.Info().Int("count", count).Msg("seeding practitioners")

	ids := make([]uuid.UUID, count)
	batch := &pgx.Batch{}
	for i := range ids {
		ids[i] = uuid.New()
		fee := decimal.NewFromInt(int64(faker.Number(20, 150))).Add(decimal.New(int64(faker.RandomInt([]int{0, 50})), -2))

		batch.Queue(`
			INSERT INTO practitioners (id, name, specialization, consultation_fee)
			VALUES ($1, $2, $3, $4)
		`, ids[i], "Dr "+faker.LastName(), faker.RandomString(specialties), fee)
	}

	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("insert practitioners: %w", err)
	}
	return ids, nil
}

// seedSessions lays out a schedule per practitioner starting tomorrow. A
// random nurse can already be busy in a slot; those sessions are skipped.
func seedSessions(
	ctx context.Context,
	sessions *appointment.SessionManager,
	faker *gofakeit.Faker,
	sc seedConfig,
	practitioners, nurses, hospitals []uuid.UUID,
) (created, skipped int, err error) {
	tomorrow := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)

	for _, doctor := range practitioners {
		for day := 0; day < sc.Days; day++ {
			date := tomorrow.AddDate(0, 0, day)

			for _, hour := range sessionStarts[:sc.SessionsPerDay] {
				start := date.Add(time.Duration(hour) * time.Hour)
				capacity := faker.Number(5, 30)

				in := appointment.CreateSessionInput{
					PractitionerID: doctor,
					HospitalID:     hospitals[faker.Number(0, len(hospitals)-1)],
					Location:       fmt.Sprintf("Room %d", faker.Number(1, 40)),
					Window:         appointment.Window{Start: start, End: start.Add(time.Duration(faker.Number(1, 2)) * time.Hour)},
					Capacity:       &capacity,
				}
				if len(nurses) > 0 {
					in.NurseID = &nurses[faker.Number(0, len(nurses)-1)]
				}

				_, err := sessions.CreateSession(ctx, in)
				switch {
				case errors.Is(err, appointment.ErrOverlappingSession):
					skipped++
				case err != nil:
					return created, skipped, err
				default:
					created++
				}
			}
		}
	}
	return created, skipped, nil
}
