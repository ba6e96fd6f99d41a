package models

import "time"

type TxnType string

const (
	TxnBookingPayment TxnType = "booking_payment"
	TxnWalletTopup    TxnType = "wallet_topup"
)

type TxnStatus string

const (
	TxnPending  TxnStatus = "pending"
	TxnPaid     TxnStatus = "paid"
	TxnFailed   TxnStatus = "failed"
	TxnExpired  TxnStatus = "expired"
	TxnRefunded TxnStatus = "refunded"
)

var txnEdges = map[TxnStatus][]TxnStatus{
	TxnPending: {TxnPaid, TxnFailed, TxnExpired},
	TxnPaid:    {TxnRefunded},
}

func (s TxnStatus) CanTransition(to TxnStatus) bool {
	for _, next := range txnEdges[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s TxnStatus) Terminal() bool {
	return s != TxnPending && s != ""
}

// Rank orders transaction states for the forward-only guard: a gateway
// notification is applied only when it moves the record to a strictly
// higher rank along a legal edge. Duplicates land on the same rank and
// become no-ops; a paid notification after failed/expired is an anomaly.
func (s TxnStatus) Rank() int {
	switch s {
	case TxnPending:
		return 0
	case TxnPaid, TxnFailed, TxnExpired:
		return 1
	case TxnRefunded:
		return 2
	}
	return -1
}

// Meta is a generic key-value map for transaction metadata
type Meta map[string]interface{}

// Transaction represents a payment against a booking or a wallet top-up,
// tied to the external gateway by GatewayRef.
type Transaction struct {
	ID         string  `json:"id" bson:"id"`
	UserID     string  `json:"userId" bson:"userId"`
	Type       TxnType `json:"type" bson:"type"`
	BookingID  string  `json:"bookingId,omitempty" bson:"bookingId,omitempty"`
	Method     string  `json:"method" bson:"method"` // wallet, qris, va, card
	Amount     float64 `json:"amount" bson:"amount"`
	GatewayRef string  `json:"gatewayRef,omitempty" bson:"gatewayRef,omitempty"`

	Status     TxnStatus `json:"status" bson:"status"`
	PaymentURL string    `json:"paymentUrl,omitempty" bson:"paymentUrl,omitempty"`
	QRPayload  string    `json:"qrPayload,omitempty" bson:"qrPayload,omitempty"`
	Meta       Meta      `json:"meta,omitempty" bson:"meta,omitempty"`

	Version   int       `json:"version" bson:"version"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// OrphanEvent records a webhook notification whose gateway reference
// matched no local transaction. Kept for audit and for diagnosing
// out-of-order delivery, never silently discarded.
type OrphanEvent struct {
	ID         string    `json:"id" bson:"id"`
	GatewayRef string    `json:"gatewayRef" bson:"gatewayRef"`
	Status     string    `json:"status" bson:"status"`
	RawPayload string    `json:"rawPayload" bson:"rawPayload"`
	Reason     string    `json:"reason" bson:"reason"`
	ReceivedAt time.Time `json:"receivedAt" bson:"receivedAt"`
}
