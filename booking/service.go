package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"parkly/inventory"
	"parkly/models"
	"parkly/mq"
	"parkly/utils"
)

var (
	// ErrSlotUnavailable means the lot has no free slot for the class;
	// the user can retry with another lot or time.
	ErrSlotUnavailable = errors.New("no slot available")

	ErrNotOwner    = errors.New("booking belongs to another user")
	ErrBadInterval = errors.New("invalid booking interval")
	ErrLotClosed   = errors.New("lot closed during requested interval")
)

const casRetries = 3

func genID() string {
	return utils.GenerateRandomDigitString(16)
}

// Service drives the booking lifecycle: pending → confirmed → active →
// completed, with cancelled and expired as the early exits. Every
// transition is a guarded compare-and-swap, every slot is reserved on
// create and released exactly once by the transition that wins entry
// into a terminal state.
type Service struct {
	Store  Store
	Lots   LotSource
	Ledger inventory.Ledger
	Bus    *mq.Broker

	// HoldTTL is how long a pending booking may wait for payment.
	HoldTTL     time.Duration
	MinDuration time.Duration
	MaxDuration time.Duration
}

func NewService(store Store, lots LotSource, ledger inventory.Ledger, bus *mq.Broker) *Service {
	return &Service{
		Store:       store,
		Lots:        lots,
		Ledger:      ledger,
		Bus:         bus,
		HoldTTL:     10 * time.Minute,
		MinDuration: 30 * time.Minute,
		MaxDuration: 24 * time.Hour,
	}
}

// Create validates the request, reserves one slot-unit and persists a
// pending booking with a payment hold deadline.
func (s *Service) Create(ctx context.Context, userID, lotID string, class models.VehicleClass, start, end time.Time) (*models.Booking, error) {
	if !class.Valid() {
		return nil, fmt.Errorf("%w: unknown vehicle class %q", ErrBadInterval, class)
	}
	now := time.Now()
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: start must precede end", ErrBadInterval)
	}
	if start.Before(now.Add(-time.Minute)) {
		return nil, fmt.Errorf("%w: start is in the past", ErrBadInterval)
	}
	dur := end.Sub(start)
	if dur < s.MinDuration || dur > s.MaxDuration {
		return nil, fmt.Errorf("%w: duration out of bounds", ErrBadInterval)
	}

	lot, err := s.Lots.Lot(ctx, lotID)
	if err != nil {
		return nil, err
	}
	if !withinOperatingHours(lot, start, end) {
		return nil, ErrLotClosed
	}
	tariff, ok := lot.Tariffs[class]
	if !ok {
		return nil, fmt.Errorf("%w: lot does not take class %q", ErrBadInterval, class)
	}

	hours := dur.Hours()
	amount := hours * tariff

	if err := s.Ledger.Reserve(ctx, lotID, class, 1); err != nil {
		if errors.Is(err, inventory.ErrInsufficientCapacity) {
			return nil, ErrSlotUnavailable
		}
		return nil, err
	}

	b := &models.Booking{
		ID:            genID(),
		UserID:        userID,
		LotID:         lotID,
		Class:         class,
		Start:         start,
		End:           end,
		Hours:         hours,
		Amount:        amount,
		Status:        models.BookingPending,
		HoldExpiresAt: now.Add(s.HoldTTL),
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Store.Insert(ctx, b); err != nil {
		// Give the slot back; the booking never existed.
		if rerr := s.Ledger.Release(ctx, lotID, class, 1); rerr != nil {
			log.Printf("[booking] compensating release failed, lot=%s: %v", lotID, rerr)
		}
		return nil, err
	}

	s.emit(ctx, b, "created")
	return b, nil
}

// Cancel is permitted only from pending or confirmed, and only by the
// booking's owner.
func (s *Service) Cancel(ctx context.Context, bookingID, actorID string) (*models.Booking, error) {
	b, err := s.Store.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.UserID != actorID {
		return nil, ErrNotOwner
	}
	return s.transition(ctx, bookingID, models.BookingCancelled)
}

// Confirm moves a pending booking to confirmed once its payment has
// been settled. Called by the payment layer, never by users directly.
func (s *Service) Confirm(ctx context.Context, bookingID string) (*models.Booking, error) {
	return s.transition(ctx, bookingID, models.BookingConfirmed)
}

// transition runs the guarded read-check-swap cycle. The winner of the
// CAS owns the side effects: releasing inventory on terminal states and
// publishing the change. Losers retry a bounded number of times.
func (s *Service) transition(ctx context.Context, bookingID string, to models.BookingStatus) (*models.Booking, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		b, err := s.Store.Get(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		if !b.Status.CanTransition(to) {
			return nil, models.ErrInvalidTransition
		}

		won, err := s.Store.CompareAndSwapStatus(ctx, bookingID, b.Status, to)
		if err != nil {
			return nil, err
		}
		if !won {
			continue // someone else moved it; re-read and re-check
		}

		b.Status = to
		b.Version++
		if to.ReleasesSlot() {
			if err := s.Ledger.Release(ctx, b.LotID, b.Class, 1); err != nil {
				log.Printf("[booking] release failed for %s, lot=%s: %v", b.ID, b.LotID, err)
			}
		}
		s.emit(ctx, b, string(to))
		return b, nil
	}
	return nil, models.ErrConcurrentModification
}

func (s *Service) emit(ctx context.Context, b *models.Booking, action string) {
	if s.Bus == nil {
		return
	}
	s.Bus.Publish(ctx, mq.NewEvent(mq.BookingTopic(b.ID), action, map[string]interface{}{
		"bookingId": b.ID,
		"lotId":     b.LotID,
		"status":    string(b.Status),
		"amount":    b.Amount,
	}))
}

// withinOperatingHours accepts only intervals fully inside one day's
// open window. The window never spans midnight, so an interval that
// crosses into the next calendar day cannot fit a non-24h lot.
func withinOperatingHours(lot *models.ParkingLot, start, end time.Time) bool {
	if lot.OpenHour == lot.CloseHour {
		return true // 24h lot
	}
	sy, sm, sd := start.Date()
	ey, em, ed := end.Date()
	if sy != ey || sm != em || sd != ed {
		return false
	}
	if start.Hour() < lot.OpenHour {
		return false
	}
	eh := end.Hour()
	if eh > lot.CloseHour || (eh == lot.CloseHour && (end.Minute() > 0 || end.Second() > 0)) {
		return false
	}
	return true
}
