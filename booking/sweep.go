package booking

import (
	"context"
	"errors"
	"log"
	"time"

	"parkly/models"
)

const sweepBatch = 200

// ExpireStale transitions pending bookings whose payment hold has run
// out into expired, releasing their slots. Safe to run concurrently
// with user-initiated transitions: the CAS guard means a booking that
// got confirmed a moment ago is simply skipped.
func (s *Service) ExpireStale(ctx context.Context) int {
	return s.sweepDue(ctx, models.BookingPending, "holdExpiresAt", models.BookingExpired)
}

// ActivateStarted moves confirmed bookings whose start time has been
// reached into active.
func (s *Service) ActivateStarted(ctx context.Context) int {
	return s.sweepDue(ctx, models.BookingConfirmed, "start", models.BookingActive)
}

// CompleteEnded moves active bookings past their end time into
// completed, releasing their slots.
func (s *Service) CompleteEnded(ctx context.Context) int {
	return s.sweepDue(ctx, models.BookingActive, "end", models.BookingCompleted)
}

func (s *Service) sweepDue(ctx context.Context, from models.BookingStatus, field string, to models.BookingStatus) int {
	due, err := s.Store.FindDue(ctx, from, field, time.Now(), sweepBatch)
	if err != nil {
		log.Printf("[booking] sweep query failed (%s→%s): %v", from, to, err)
		return 0
	}

	moved := 0
	for i := range due {
		_, err := s.transition(ctx, due[i].ID, to)
		switch {
		case err == nil:
			moved++
		case errors.Is(err, models.ErrInvalidTransition):
			// lost the race to a user action or a webhook; fine
		default:
			log.Printf("[booking] sweep transition %s→%s failed for %s: %v", from, to, due[i].ID, err)
		}
	}
	return moved
}

// RunSweeper drives the three time-based scans on one ticker until the
// context is cancelled. Failures are logged and retried on the next
// cycle rather than crashing the process.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[booking] sweeper stopped")
			return
		case <-ticker.C:
			if n := s.ExpireStale(ctx); n > 0 {
				log.Printf("[booking] expired %d stale bookings", n)
			}
			s.ActivateStarted(ctx)
			s.CompleteEnded(ctx)
		}
	}
}
