package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-session-scheduling/internal/appointment"
	"github.com/hackgods/clinic-session-scheduling/internal/config"
	"github.com/hackgods/clinic-session-scheduling/internal/db"
	"github.com/hackgods/clinic-session-scheduling/internal/dispatch"
	"github.com/hackgods/clinic-session-scheduling/internal/logging"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "clinicctl",
		Short:        "Operate clinic sessions and appointments directly against the database",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("actor", "clinicctl", "Actor id recorded in the audit trail")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(admitCmd())
	rootCmd.AddCommand(callNextCmd())
	rootCmd.AddCommand(appointmentCmd())
	rootCmd.AddCommand(expireCmd())
	rootCmd.AddCommand(watchCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

type app struct {
	cfg  config.Config
	pool *pgxpool.Pool
	repo *appointment.PgRepository
	svc  *appointment.Service
}

// withService connects, builds the service with audit records persisted
// and notifications logged, and runs fn.
func withService(cmd *cobra.Command, fn func(ctx context.Context, e *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Init("clinicctl", cfg.Env)

	actor, _ := cmd.Flags().GetString("actor")
	ctx := appointment.WithActor(cmd.Context(), actor)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connectCtx, cfg.PostgresDSN, "clinicctl")
	cancel()
	if err != nil {
		return err
	}
	defer pool.Close()

	repo := appointment.NewPgRepository(pool)
	svc := appointment.NewService(repo, appointment.Settings{
		DefaultCapacity: cfg.DefaultSessionCapacity,
		BookingFee:      cfg.BookingFeeAmount(),
		AdmitMaxRetries: int(cfg.AdmitMaxRetries),
	},
		appointment.WithRates(repo),
		appointment.WithAuditor(repo),
		appointment.WithNotifier(dispatch.NewLogSink(logger)),
		appointment.WithLogger(logger),
	)

	return fn(ctx, &app{cfg: cfg, pool: pool, repo: repo, svc: svc})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseUUIDArg(args []string, i int, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(args[i])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s must be a UUID: %w", name, err)
	}
	return id, nil
}

func optionalUUIDFlag(cmd *cobra.Command, name string) (*uuid.UUID, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("--%s must be a UUID: %w", name, err)
	}
	return &id, nil
}
