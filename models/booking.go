package models

import "time"

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingActive    BookingStatus = "active"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
	BookingExpired   BookingStatus = "expired"
)

// bookingEdges is the closed transition table for the booking state
// machine. A booking holds one slot-unit of inventory while pending,
// confirmed or active; the slot is released exactly once on entry to
// cancelled, expired or completed.
var bookingEdges = map[BookingStatus][]BookingStatus{
	BookingPending:   {BookingConfirmed, BookingCancelled, BookingExpired},
	BookingConfirmed: {BookingActive, BookingCancelled},
	BookingActive:    {BookingCompleted},
}

func (s BookingStatus) CanTransition(to BookingStatus) bool {
	for _, next := range bookingEdges[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingCompleted, BookingCancelled, BookingExpired:
		return true
	}
	return false
}

// ReleasesSlot reports whether entering this state gives the reserved
// slot back to the lot's inventory.
func (s BookingStatus) ReleasesSlot() bool {
	return s.Terminal()
}

type Booking struct {
	ID     string        `json:"id" bson:"id"`
	UserID string        `json:"userId" bson:"userId"`
	LotID  string        `json:"lotId" bson:"lotId"`
	Class  VehicleClass  `json:"vehicleClass" bson:"vehicleClass"`
	Start  time.Time     `json:"start" bson:"start"`
	End    time.Time     `json:"end" bson:"end"`
	Hours  float64       `json:"hours" bson:"hours"`
	Amount float64       `json:"amount" bson:"amount"`
	Status BookingStatus `json:"status" bson:"status"`

	// Deadline for completing payment while the reservation hold is in
	// effect; pending bookings past it are swept into expired.
	HoldExpiresAt time.Time `json:"holdExpiresAt" bson:"holdExpiresAt"`

	Version   int       `json:"version" bson:"version"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}
