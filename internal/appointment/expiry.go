package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const sweepBatchSize = 500

// SweepResult counts what one expiry pass changed.
type SweepResult struct {
	MarkedUnpaid int
	Cancelled    int
}

// ExpirySweeper enforces the payment deadline. Appointments still unpaid
// PaymentDeadline after booking are parked as unpaid, and those left
// unpaid for UnpaidGrace are cancelled, which frees their slot.
type ExpirySweeper struct {
	life     *Lifecycle
	deadline time.Duration
	grace    time.Duration
}

func NewExpirySweeper(svc *Service, deadline, grace time.Duration) *ExpirySweeper {
	return &ExpirySweeper{
		life:     svc.Appointments,
		deadline: deadline,
		grace:    grace,
	}
}

// Run performs one pass. Individual failures are logged and skipped so one
// bad row cannot stall the rest.
func (s *ExpirySweeper) Run(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	log := s.life.fx.log
	now := s.life.fx.now()

	overdue, err := s.life.repo.FindPaymentOverdue(ctx, now.Add(-s.deadline), sweepBatchSize)
	if err != nil {
		return result, fmt.Errorf("find payment overdue appointments: %w", err)
	}
	for _, a := range overdue {
		_, err := s.life.SetStatus(ctx, a.ID, StatusUnpaid, nil)
		if err != nil {
			if !errors.Is(err, ErrInvalidTransition) && !errors.Is(err, ErrStaleState) {
				log.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("failed to mark appointment unpaid")
			}
			continue
		}
		result.MarkedUnpaid++
	}

	stale, err := s.life.repo.FindUnpaidBefore(ctx, now.Add(-s.grace), sweepBatchSize)
	if err != nil {
		return result, fmt.Errorf("find unpaid appointments: %w", err)
	}
	reason := "payment not received before deadline"
	for _, a := range stale {
		_, err := s.life.SetStatus(ctx, a.ID, StatusCancelled, &reason)
		if err != nil {
			if !errors.Is(err, ErrStaleState) {
				log.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("failed to cancel unpaid appointment")
			}
			continue
		}
		result.Cancelled++
	}

	return result, nil
}
