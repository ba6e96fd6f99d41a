package pay

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"parkly/gateway"
	"parkly/models"
	"parkly/utils"

	"github.com/julienschmidt/httprouter"
)

// ErrBadSignature means the webhook payload failed authentication and
// was never processed.
var ErrBadSignature = errors.New("webhook signature invalid")

// Notification is the provider's asynchronous status payload.
type Notification struct {
	TransactionID     string `json:"transaction_id"`
	OrderID           string `json:"order_id"`
	TransactionStatus string `json:"transaction_status"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	PaymentType       string `json:"payment_type"`
}

// MapGatewayStatus translates the provider's status vocabulary onto
// the local transaction enum. The second return is false for statuses
// we do not act on.
func MapGatewayStatus(s string) (models.TxnStatus, bool) {
	switch s {
	case "settlement", "capture":
		return models.TxnPaid, true
	case "deny", "cancel":
		return models.TxnFailed, true
	case "expire":
		return models.TxnExpired, true
	case "refund", "partial_refund":
		return models.TxnRefunded, true
	case "pending", "authorize":
		return models.TxnPending, true
	}
	return "", false
}

// HandleNotification ingests one asynchronous gateway notification.
// Unverifiable payloads are rejected outright; everything past the
// signature check is acknowledged with 200 so the provider stops
// retrying — business-logic disagreements are logged and recorded,
// never surfaced back as errors. Safe to invoke any number of times
// with the identical payload: the forward-only guard in applyStatus
// makes re-delivery a no-op.
func (s *Service) HandleNotification(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if err := s.verify(&n); err != nil {
		log.Printf("[pay] SECURITY: rejected webhook with bad signature, order=%s remote=%s", n.OrderID, r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	s.Reconcile(ctx, &n, string(body))
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"ok": true})
}

// Reconcile applies one verified notification to local state.
func (s *Service) Reconcile(ctx context.Context, n *Notification, raw string) {
	txn, err := s.lookupNotified(ctx, n)
	if errors.Is(err, models.ErrNotFound) {
		// Unknown reference: keep it for audit, do not error at the
		// gateway, which expects acknowledgment regardless.
		s.recordOrphan(ctx, n, raw, "no matching transaction")
		return
	}
	if err != nil {
		log.Printf("[pay] webhook lookup failed for ref %s: %v", n.TransactionID, err)
		return
	}

	target, ok := MapGatewayStatus(n.TransactionStatus)
	if !ok {
		s.recordOrphan(ctx, n, raw, "unknown gateway status")
		return
	}
	if target == models.TxnPending {
		return // nothing to move yet
	}

	if _, err := s.applyStatus(ctx, txn.ID, target); err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidTransition):
			// backward or out-of-order delivery; already logged by applyStatus
		default:
			log.Printf("[pay] webhook transition failed for txn %s: %v", txn.ID, err)
		}
	}
}

// lookupNotified finds the transaction a notification refers to. The
// provider's transaction_id maps to our stored gateway reference, but
// some notifications carry only the order_id, which is our own
// transaction ID echoed back from session creation.
func (s *Service) lookupNotified(ctx context.Context, n *Notification) (*models.Transaction, error) {
	if n.TransactionID != "" {
		txn, err := s.Store.GetByGatewayRef(ctx, n.TransactionID)
		if !errors.Is(err, models.ErrNotFound) {
			return txn, err
		}
	}
	if n.OrderID == "" {
		return nil, models.ErrNotFound
	}
	return s.Store.Get(ctx, n.OrderID)
}

func (s *Service) verify(n *Notification) error {
	want := gateway.Signature(n.OrderID, n.StatusCode, n.GrossAmount, s.ServerKey)
	if subtle.ConstantTimeCompare([]byte(want), []byte(n.SignatureKey)) != 1 {
		return ErrBadSignature
	}
	return nil
}

func (s *Service) recordOrphan(ctx context.Context, n *Notification, raw, reason string) {
	ev := &models.OrphanEvent{
		ID:         utils.GetUUID(),
		GatewayRef: n.TransactionID,
		Status:     n.TransactionStatus,
		RawPayload: raw,
		Reason:     reason,
		ReceivedAt: time.Now(),
	}
	if err := s.Orphans.Record(ctx, ev); err != nil {
		log.Printf("[pay] failed to record orphan event for ref %s: %v", n.TransactionID, err)
	}
	log.Printf("[pay] orphan webhook recorded, ref=%s status=%s reason=%s", n.TransactionID, n.TransactionStatus, reason)
}
