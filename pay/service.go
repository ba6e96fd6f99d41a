package pay

import (
	"context"
	"errors"
	"log"
	"time"

	"parkly/booking"
	"parkly/gateway"
	"parkly/models"
	"parkly/mq"
	"parkly/rdx"
	"parkly/utils"
)

var (
	// ErrDuplicatePending means a non-terminal transaction already
	// exists for the booking; callers reuse that transaction instead of
	// opening a second one.
	ErrDuplicatePending = errors.New("pending transaction already exists for booking")

	ErrNotOwner   = errors.New("transaction belongs to another user")
	ErrBadRequest = errors.New("invalid payment request")
)

// lockTTL defines the duration to hold the per-user wallet lock
const lockTTL = 5 * time.Second

const casRetries = 3

// Gateway is the outbound provider surface the service depends on.
// *gateway.Client implements it; tests substitute a fake.
type Gateway interface {
	CreateSession(ctx context.Context, req gateway.SessionRequest) (*gateway.Session, error)
	Status(ctx context.Context, orderID string) (*gateway.StatusResponse, error)
}

// Service drives the payment state machine: pending → paid/failed/
// expired, paid → refunded. Confirmed payments cascade into booking
// confirmation or wallet credit; every applied transition is published
// on the fan-out.
type Service struct {
	Store    Store
	Wallets  WalletStore
	Orphans  OrphanStore
	Gateway  Gateway
	Bookings *booking.Service
	Bus      *mq.Broker
	Locks    rdx.Locker

	// ServerKey verifies webhook signatures; shared with the provider.
	ServerKey string
}

func NewService(store Store, wallets WalletStore, orphans OrphanStore, gw Gateway, bookings *booking.Service, bus *mq.Broker, locks rdx.Locker, serverKey string) *Service {
	return &Service{
		Store:     store,
		Wallets:   wallets,
		Orphans:   orphans,
		Gateway:   gw,
		Bookings:  bookings,
		Bus:       bus,
		Locks:     locks,
		ServerKey: serverKey,
	}
}

// CreatePayment opens a transaction against a pending booking. With
// method "wallet" the debit is synchronous; any other method opens a
// session at the external gateway and returns its payment
// instructions. A second call while a transaction is still pending
// returns ErrDuplicatePending together with the existing record.
func (s *Service) CreatePayment(ctx context.Context, userID, bookingID, method string) (*models.Transaction, error) {
	if method == "" || bookingID == "" {
		return nil, ErrBadRequest
	}

	b, err := s.Bookings.Store.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.UserID != userID {
		return nil, ErrNotOwner
	}
	if b.Status != models.BookingPending {
		return nil, models.ErrInvalidTransition
	}

	if existing, err := s.Store.FindPendingByBooking(ctx, bookingID); err == nil {
		return existing, ErrDuplicatePending
	}

	now := time.Now()
	txn := &models.Transaction{
		ID:        utils.GetUUID(),
		UserID:    userID,
		Type:      models.TxnBookingPayment,
		BookingID: bookingID,
		Method:    method,
		Amount:    b.Amount,
		Status:    models.TxnPending,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.Insert(ctx, txn); err != nil {
		if errors.Is(err, ErrDuplicateInsert) {
			// lost the race to a concurrent create; hand back the winner
			if existing, ferr := s.Store.FindPendingByBooking(ctx, bookingID); ferr == nil {
				return existing, ErrDuplicatePending
			}
		}
		return nil, err
	}

	if method == "wallet" {
		return s.settleFromWallet(ctx, txn)
	}
	return s.openGatewaySession(ctx, txn)
}

// CreateTopUp opens a wallet top-up transaction through the gateway.
func (s *Service) CreateTopUp(ctx context.Context, userID string, amount float64, method string) (*models.Transaction, error) {
	if amount <= 0 || method == "" || method == "wallet" {
		return nil, ErrBadRequest
	}

	now := time.Now()
	txn := &models.Transaction{
		ID:        utils.GetUUID(),
		UserID:    userID,
		Type:      models.TxnWalletTopup,
		Method:    method,
		Amount:    amount,
		Status:    models.TxnPending,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.Insert(ctx, txn); err != nil {
		return nil, err
	}
	return s.openGatewaySession(ctx, txn)
}

// ConfirmPayment is the synchronous poll path: re-validate against the
// gateway and apply the result. Confirming an already-paid transaction
// is a no-op returning the existing state.
func (s *Service) ConfirmPayment(ctx context.Context, userID, txnID string) (*models.Transaction, error) {
	txn, err := s.Store.Get(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if txn.UserID != userID {
		return nil, ErrNotOwner
	}
	if txn.Status != models.TxnPending {
		return txn, nil
	}

	st, err := s.Gateway.Status(ctx, txn.ID)
	if err != nil {
		return nil, err
	}
	target, ok := MapGatewayStatus(st.TransactionStatus)
	if !ok || target == models.TxnPending {
		return txn, nil // still in flight at the provider
	}
	return s.applyStatus(ctx, txn.ID, target)
}

func (s *Service) settleFromWallet(ctx context.Context, txn *models.Transaction) (*models.Transaction, error) {
	if s.Locks != nil {
		acquired, err := s.Locks.Acquire(ctx, "wallet_lock:"+txn.UserID, lockTTL)
		if err != nil || !acquired {
			s.markFailed(ctx, txn.ID, "lock contention")
			return nil, models.ErrConcurrentModification
		}
		defer s.Locks.Release(ctx, "wallet_lock:"+txn.UserID)
	}

	balance, err := s.Wallets.Debit(ctx, txn.UserID, txn.Amount)
	if err != nil {
		s.markFailed(ctx, txn.ID, "wallet debit refused")
		if errors.Is(err, ErrInsufficientBalance) {
			return nil, ErrInsufficientBalance
		}
		return nil, err
	}
	s.emitWallet(ctx, txn.UserID, balance, "debited")

	settled, err := s.applyStatus(ctx, txn.ID, models.TxnPaid)
	if err != nil {
		// the paid transition lost every retry; put the money back
		if _, cerr := s.Wallets.Credit(ctx, txn.UserID, txn.Amount); cerr != nil {
			log.Printf("[pay] compensating credit failed for user %s: %v", txn.UserID, cerr)
		}
		return nil, err
	}
	return settled, nil
}

func (s *Service) openGatewaySession(ctx context.Context, txn *models.Transaction) (*models.Transaction, error) {
	session, err := s.Gateway.CreateSession(ctx, gateway.SessionRequest{
		OrderID: txn.ID,
		Amount:  txn.Amount,
		Method:  txn.Method,
	})
	if err != nil {
		s.markFailed(ctx, txn.ID, "gateway session failed")
		return nil, err
	}

	if err := s.Store.SetGatewaySession(ctx, txn.ID, session.Ref, session.PaymentURL, session.QRString); err != nil {
		return nil, err
	}
	txn.GatewayRef = session.Ref
	txn.PaymentURL = session.PaymentURL
	txn.QRPayload = session.QRString
	return txn, nil
}

// applyStatus runs the guarded transition cycle on a transaction and,
// when it wins entry into paid or refunded, performs the cascade:
// booking confirmation or wallet credit for paid, wallet claw-back for
// refunded top-ups. Re-applying the current status is a no-op.
func (s *Service) applyStatus(ctx context.Context, txnID string, target models.TxnStatus) (*models.Transaction, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		txn, err := s.Store.Get(ctx, txnID)
		if err != nil {
			return nil, err
		}
		if txn.Status == target {
			return txn, nil // duplicate delivery; idempotent
		}
		if !txn.Status.CanTransition(target) {
			log.Printf("[pay] anomaly: %s notification for txn %s in state %s, not reapplied",
				target, txn.ID, txn.Status)
			return txn, models.ErrInvalidTransition
		}

		won, err := s.Store.CompareAndSwapStatus(ctx, txnID, txn.Status, target)
		if err != nil {
			return nil, err
		}
		if !won {
			continue
		}

		txn.Status = target
		txn.Version++
		s.cascade(ctx, txn)
		s.emitPayment(ctx, txn)
		return txn, nil
	}
	return nil, models.ErrConcurrentModification
}

// cascade runs the side effects owned by the winning transition.
func (s *Service) cascade(ctx context.Context, txn *models.Transaction) {
	switch txn.Status {
	case models.TxnPaid:
		switch txn.Type {
		case models.TxnBookingPayment:
			if _, err := s.Bookings.Confirm(ctx, txn.BookingID); err != nil {
				// Payment settled after the hold expired. The money is
				// real and the slot is gone; flag for manual follow-up.
				log.Printf("[pay] anomaly: txn %s paid but booking %s not confirmable: %v",
					txn.ID, txn.BookingID, err)
				if merr := s.Store.MergeMeta(ctx, txn.ID, models.Meta{"needs_reconciliation": true}); merr != nil {
					log.Printf("[pay] failed to flag txn %s: %v", txn.ID, merr)
				}
			}
		case models.TxnWalletTopup:
			balance, err := s.Wallets.Credit(ctx, txn.UserID, txn.Amount)
			if err != nil {
				log.Printf("[pay] topup credit failed for txn %s: %v", txn.ID, err)
				return
			}
			s.emitWallet(ctx, txn.UserID, balance, "credited")
		}
	case models.TxnRefunded:
		if txn.Type == models.TxnWalletTopup {
			balance, err := s.Wallets.Debit(ctx, txn.UserID, txn.Amount)
			if err != nil {
				log.Printf("[pay] anomaly: refund claw-back refused for txn %s: %v", txn.ID, err)
				return
			}
			s.emitWallet(ctx, txn.UserID, balance, "debited")
		}
	}
}

func (s *Service) markFailed(ctx context.Context, txnID, reason string) {
	if _, err := s.applyStatus(ctx, txnID, models.TxnFailed); err != nil && !errors.Is(err, models.ErrInvalidTransition) {
		log.Printf("[pay] could not mark txn %s failed (%s): %v", txnID, reason, err)
	}
}

func (s *Service) emitPayment(ctx context.Context, txn *models.Transaction) {
	if s.Bus == nil {
		return
	}
	topic := mq.WalletTopic(txn.UserID)
	if txn.Type == models.TxnBookingPayment {
		topic = mq.PaymentTopic(txn.BookingID)
	}
	s.Bus.Publish(ctx, mq.NewEvent(topic, "payment_"+string(txn.Status), map[string]interface{}{
		"transactionId": txn.ID,
		"bookingId":     txn.BookingID,
		"status":        string(txn.Status),
		"amount":        txn.Amount,
	}))
}

func (s *Service) emitWallet(ctx context.Context, userID string, balance float64, action string) {
	if s.Bus == nil {
		return
	}
	s.Bus.Publish(ctx, mq.NewEvent(mq.WalletTopic(userID), "wallet_"+action, map[string]interface{}{
		"userId":  userID,
		"balance": balance,
	}))
}
