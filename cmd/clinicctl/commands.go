package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-session-scheduling/internal/appointment"
	"github.com/hackgods/clinic-session-scheduling/internal/config"
	"github.com/hackgods/clinic-session-scheduling/internal/db"
	"github.com/hackgods/clinic-session-scheduling/internal/logging"
	redisclient "github.com/hackgods/clinic-session-scheduling/internal/redis"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, e *app) error {
				if err := db.Migrate(ctx, e.pool); err != nil {
					return err
				}
				fmt.Println("Schema is up to date.")
				return nil
			})
		},
	}
}

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage sessions",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			practitioner, err := optionalUUIDFlag(cmd, "practitioner")
			if err != nil {
				return err
			}
			if practitioner == nil {
				return errors.New("--practitioner is required")
			}
			nurse, err := optionalUUIDFlag(cmd, "nurse")
			if err != nil {
				return err
			}
			hospital, err := optionalUUIDFlag(cmd, "hospital")
			if err != nil {
				return err
			}
			if hospital == nil {
				return errors.New("--hospital is required")
			}

			rawStart, _ := cmd.Flags().GetString("start")
			start, err := time.Parse(time.RFC3339, rawStart)
			if err != nil {
				return fmt.Errorf("--start must be RFC3339: %w", err)
			}
			length, _ := cmd.Flags().GetDuration("duration")
			location, _ := cmd.Flags().GetString("location")

			in := appointment.CreateSessionInput{
				PractitionerID: *practitioner,
				NurseID:        nurse,
				HospitalID:     *hospital,
				Location:       location,
				Window:         appointment.Window{Start: start.UTC(), End: start.UTC().Add(length)},
			}
			if cmd.Flags().Changed("capacity") {
				capacity, _ := cmd.Flags().GetInt("capacity")
				in.Capacity = &capacity
			}

			return withService(cmd, func(ctx context.Context, e *app) error {
				s, err := e.svc.Sessions.CreateSession(ctx, in)
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	createCmd.Flags().String("practitioner", "", "Practitioner id")
	createCmd.Flags().String("nurse", "", "Nurse id")
	createCmd.Flags().String("hospital", "", "Hospital id")
	createCmd.Flags().String("location", "", "Room or ward")
	createCmd.Flags().String("start", "", "Start time, RFC3339")
	createCmd.Flags().Duration("duration", time.Hour, "Session length")
	createCmd.Flags().Int("capacity", 0, "Patient capacity (default from DEFAULT_SESSION_CAPACITY)")
	cmd.AddCommand(createCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			practitioner, err := optionalUUIDFlag(cmd, "practitioner")
			if err != nil {
				return err
			}
			hospital, err := optionalUUIDFlag(cmd, "hospital")
			if err != nil {
				return err
			}
			available, _ := cmd.Flags().GetBool("available")
			limit, _ := cmd.Flags().GetInt("limit")

			var day *time.Time
			if raw, _ := cmd.Flags().GetString("date"); raw != "" {
				d, err := time.Parse(time.DateOnly, raw)
				if err != nil {
					return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
				}
				day = &d
			}

			return withService(cmd, func(ctx context.Context, e *app) error {
				var (
					sessions []appointment.Session
					err      error
				)
				if available {
					sessions, err = e.svc.Sessions.ListAvailable(ctx, appointment.AvailabilityQuery{
						PractitionerID: practitioner, HospitalID: hospital, Day: day, Limit: limit,
					})
				} else {
					f := appointment.SessionFilter{PractitionerID: practitioner, HospitalID: hospital, Limit: limit}
					if day != nil {
						to := day.AddDate(0, 0, 1)
						f.From, f.To = day, &to
					}
					sessions, err = e.svc.Sessions.ListSessions(ctx, f)
				}
				if err != nil {
					return err
				}

				fmt.Printf("%-36s %-20s %-10s %s\n", "ID", "START", "STATUS", "BOOKED")
				for _, s := range sessions {
					fmt.Printf("%-36s %-20s %-10s %d/%d\n", s.ID, s.StartTime.Format("2006-01-02 15:04"), s.Status, s.BookedCount, s.Capacity)
				}
				return nil
			})
		},
	}
	listCmd.Flags().String("practitioner", "", "Filter by practitioner id")
	listCmd.Flags().String("hospital", "", "Filter by hospital id")
	listCmd.Flags().String("date", "", "Calendar day, YYYY-MM-DD")
	listCmd.Flags().Bool("available", false, "Only bookable sessions with free slots")
	listCmd.Flags().Int("limit", 50, "Maximum rows")
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "status <session-id> <ongoing|paused|ended>",
		Short: "Move a session through its status machine",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUUIDArg(args, 0, "session-id")
			if err != nil {
				return err
			}
			return withService(cmd, func(ctx context.Context, e *app) error {
				s, err := e.svc.Sessions.SetStatus(ctx, id, appointment.SessionStatus(strings.ToLower(args[1])))
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Cancel a session and reschedule its open appointments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUUIDArg(args, 0, "session-id")
			if err != nil {
				return err
			}
			return withService(cmd, func(ctx context.Context, e *app) error {
				s, moved, err := e.svc.Sessions.CancelSession(ctx, id)
				if err != nil {
					return err
				}
				fmt.Printf("Session %s cancelled, %d appointment(s) rescheduled.\n", s.ID, len(moved))
				for _, a := range moved {
					fmt.Printf("  %s  #%d  %s\n", a.AppointmentNumber, a.QueuePosition, a.Patient.Name)
				}
				return nil
			})
		},
	})

	return cmd
}

func admitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admit <session-id>",
		Short: "Admit a patient into a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUUIDArg(args, 0, "session-id")
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			phone, _ := cmd.Flags().GetString("phone")
			bookingType, _ := cmd.Flags().GetString("booking-type")
			isNew, _ := cmd.Flags().GetBool("new-patient")
			notes, _ := cmd.Flags().GetString("notes")

			return withService(cmd, func(ctx context.Context, e *app) error {
				adm, err := e.svc.Admission.Admit(ctx, id, appointment.AdmitRequest{
					Patient:      appointment.Patient{Name: name, Email: email, Phone: phone},
					IsNewPatient: isNew,
					BookingType:  appointment.BookingType(bookingType),
					Notes:        notes,
				})
				if err != nil {
					return err
				}
				fmt.Printf("Admitted %s as #%d (%d/%d booked), total %s\n",
					adm.Appointment.AppointmentNumber, adm.QueuePosition,
					adm.Session.BookedCount, adm.Session.Capacity, adm.Appointment.TotalAmount.StringFixed(2))
				return nil
			})
		},
	}
	cmd.Flags().String("name", "", "Patient name")
	cmd.Flags().String("email", "", "Patient email")
	cmd.Flags().String("phone", "", "Patient phone")
	cmd.Flags().String("booking-type", string(appointment.BookingWalkIn), "walk_in, phone or online")
	cmd.Flags().Bool("new-patient", false, "First visit")
	cmd.Flags().String("notes", "", "Booking notes")
	return cmd
}

func callNextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call-next <session-id>",
		Short: "Call the next waiting patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUUIDArg(args, 0, "session-id")
			if err != nil {
				return err
			}
			return withService(cmd, func(ctx context.Context, e *app) error {
				a, err := e.svc.Appointments.CallNext(ctx, id)
				if errors.Is(err, appointment.ErrNoWaitingAppointments) {
					fmt.Println("Nobody is waiting.")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Printf("Calling #%d %s (%s)\n", a.QueuePosition, a.Patient.Name, a.AppointmentNumber)
				return nil
			})
		},
	}
}

func appointmentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "appointment",
		Short: "Inspect and update appointments",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <appointment-id|number>",
		Short: "Show an appointment and how many patients are ahead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, e *app) error {
				id, err := parseUUIDArg(args, 0, "appointment-id")
				if err != nil {
					a, lookupErr := e.svc.Appointments.GetByNumber(ctx, args[0])
					if lookupErr != nil {
						return lookupErr
					}
					id = a.ID
				}
				qs, err := e.svc.Appointments.QueueStatus(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(qs)
			})
		},
	})

	statusCmd := &cobra.Command{
		Use:   "status <appointment-id> <status>",
		Short: "Move the visit status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUUIDArg(args, 0, "appointment-id")
			if err != nil {
				return err
			}
			var reason *string
			if cmd.Flags().Changed("reason") {
				r, _ := cmd.Flags().GetString("reason")
				reason = &r
			}
			return withService(cmd, func(ctx context.Context, e *app) error {
				a, err := e.svc.Appointments.SetStatus(ctx, id, appointment.Status(strings.ToLower(args[1])), reason)
				if err != nil {
					return err
				}
				fmt.Printf("%s is now %s (payment %s)\n", a.AppointmentNumber, a.Status, a.PaymentStatus)
				return nil
			})
		},
	}
	statusCmd.Flags().String("reason", "", "Cancellation reason")
	cmd.AddCommand(statusCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "payment <appointment-id> <payment-status>",
		Short: "Move the payment status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUUIDArg(args, 0, "appointment-id")
			if err != nil {
				return err
			}
			return withService(cmd, func(ctx context.Context, e *app) error {
				a, err := e.svc.Appointments.SetPaymentStatus(ctx, id, appointment.PaymentStatus(strings.ToLower(args[1])))
				if err != nil {
					return err
				}
				fmt.Printf("%s payment is now %s (visit %s)\n", a.AppointmentNumber, a.PaymentStatus, a.Status)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "complete <appointment-id>",
		Short: "Finish a visit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUUIDArg(args, 0, "appointment-id")
			if err != nil {
				return err
			}
			return withService(cmd, func(ctx context.Context, e *app) error {
				a, err := e.svc.Appointments.CompleteAppointment(ctx, id)
				if err != nil {
					return err
				}
				fmt.Printf("%s is now %s\n", a.AppointmentNumber, a.Status)
				return nil
			})
		},
	})

	return cmd
}

func expireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Run one payment-deadline sweep without taking the worker lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, e *app) error {
				res, err := appointment.NewExpirySweeper(e.svc, e.cfg.PaymentDeadline, e.cfg.UnpaidGrace).Run(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Marked unpaid: %d, cancelled: %d\n", res.MarkedUnpaid, res.Cancelled)
				return nil
			})
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print notifications published on the Redis channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.Init("clinicctl", cfg.Env)

			rdb, err := redisclient.NewRedisClient(cmd.Context(), cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
			if err != nil {
				return err
			}
			defer rdb.Close()

			events, err := redisclient.NewPublisher(rdb, cfg.NotifyChannel).Subscribe(cmd.Context(), logger)
			if err != nil {
				return err
			}
			fmt.Printf("Watching %s, Ctrl-C to stop.\n", cfg.NotifyChannel)
			for ev := range events {
				if err := printJSON(ev); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
