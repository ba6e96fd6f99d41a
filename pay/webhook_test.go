package pay

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"parkly/gateway"
	"parkly/models"
)

func notification(ref, status, serverKey string) []byte {
	return notificationFor(ref, ref, status, serverKey)
}

func notificationFor(txid, orderID, status, serverKey string) []byte {
	n := Notification{
		TransactionID:     txid,
		OrderID:           orderID,
		TransactionStatus: status,
		StatusCode:        "200",
		GrossAmount:       "30000.00",
	}
	n.SignatureKey = gateway.Signature(n.OrderID, n.StatusCode, n.GrossAmount, serverKey)
	body, _ := json.Marshal(n)
	return body
}

func postNotification(svc *Service, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/gateway/notification", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	svc.HandleNotification(rr, req, nil)
	return rr
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	txn, _ := f.svc.CreatePayment(ctx, "u1", f.booking.ID, "qris")

	body := notification(txn.GatewayRef, "settlement", "wrong-key")
	rr := postNotification(f.svc, body)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}

	got, _ := f.txns.Get(ctx, txn.ID)
	if got.Status != models.TxnPending {
		t.Fatalf("unverified webhook changed state to %s", got.Status)
	}
}

func TestWebhookSettlementConfirmsBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	txn, _ := f.svc.CreatePayment(ctx, "u1", f.booking.ID, "qris")

	rr := postNotification(f.svc, notification(txn.GatewayRef, "settlement", "test-key"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	got, _ := f.txns.Get(ctx, txn.ID)
	if got.Status != models.TxnPaid {
		t.Fatalf("expected paid, got %s", got.Status)
	}
	b, _ := f.books.Get(ctx, f.booking.ID)
	if b.Status != models.BookingConfirmed {
		t.Fatalf("expected confirmed booking, got %s", b.Status)
	}
}

func TestWebhookMatchesByOrderID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	txn, _ := f.svc.CreatePayment(ctx, "u1", f.booking.ID, "qris")

	// some providers omit transaction_id and echo back only the
	// order_id, which is our own transaction ID
	rr := postNotification(f.svc, notificationFor("", txn.ID, "settlement", "test-key"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	got, _ := f.txns.Get(ctx, txn.ID)
	if got.Status != models.TxnPaid {
		t.Fatalf("expected paid, got %s", got.Status)
	}
	if events, _ := f.orphans.List(ctx, 10); len(events) != 0 {
		t.Fatalf("matched notification recorded as orphan: %+v", events)
	}
}

func TestWebhookReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	txn, _ := f.svc.CreatePayment(ctx, "u1", f.booking.ID, "qris")

	body := notification(txn.GatewayRef, "settlement", "test-key")
	postNotification(f.svc, body)
	first, _ := f.txns.Get(ctx, txn.ID)

	rr := postNotification(f.svc, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("replay must still be acknowledged, got %d", rr.Code)
	}
	second, _ := f.txns.Get(ctx, txn.ID)
	if second.Status != models.TxnPaid || second.Version != first.Version {
		t.Fatalf("replay mutated the transaction: %+v vs %+v", second, first)
	}
}

func TestWebhookOrphanRecorded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rr := postNotification(f.svc, notification("gw-nobody-home", "settlement", "test-key"))
	if rr.Code != http.StatusOK {
		t.Fatalf("orphans must still be acknowledged, got %d", rr.Code)
	}

	events, _ := f.orphans.List(ctx, 10)
	if len(events) != 1 {
		t.Fatalf("expected 1 orphan event, got %d", len(events))
	}
	if events[0].GatewayRef != "gw-nobody-home" || events[0].Reason != "no matching transaction" {
		t.Fatalf("unexpected orphan record: %+v", events[0])
	}
}

func TestWebhookUnknownStatusOrphaned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	txn, _ := f.svc.CreatePayment(ctx, "u1", f.booking.ID, "qris")

	rr := postNotification(f.svc, notification(txn.GatewayRef, "chargeback", "test-key"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	got, _ := f.txns.Get(ctx, txn.ID)
	if got.Status != models.TxnPending {
		t.Fatalf("unknown status changed state to %s", got.Status)
	}
	events, _ := f.orphans.List(ctx, 10)
	if len(events) != 1 || events[0].Reason != "unknown gateway status" {
		t.Fatalf("expected an unknown-status orphan, got %+v", events)
	}
}

func TestWebhookRefundBeforePaidIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	txn, _ := f.svc.CreatePayment(ctx, "u1", f.booking.ID, "qris")

	rr := postNotification(f.svc, notification(txn.GatewayRef, "refund", "test-key"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	got, _ := f.txns.Get(ctx, txn.ID)
	if got.Status != models.TxnPending {
		t.Fatalf("out-of-order refund applied, state %s", got.Status)
	}
}

func TestWebhookPendingStatusNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	txn, _ := f.svc.CreatePayment(ctx, "u1", f.booking.ID, "qris")

	postNotification(f.svc, notification(txn.GatewayRef, "pending", "test-key"))

	got, _ := f.txns.Get(ctx, txn.ID)
	if got.Status != models.TxnPending || got.Version != txn.Version {
		t.Fatalf("pending notification mutated the transaction: %+v", got)
	}
}

func TestWebhookPaidAfterBookingExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	txn, _ := f.svc.CreatePayment(ctx, "u1", f.booking.ID, "qris")

	// hold ran out before the settlement arrived
	if won, _ := f.books.CompareAndSwapStatus(ctx, f.booking.ID, models.BookingPending, models.BookingExpired); !won {
		t.Fatal("fixture expiry failed")
	}

	rr := postNotification(f.svc, notification(txn.GatewayRef, "settlement", "test-key"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	// the money is recorded, the booking is not resurrected, and the
	// transaction is flagged for manual follow-up
	got, _ := f.txns.Get(ctx, txn.ID)
	if got.Status != models.TxnPaid {
		t.Fatalf("expected paid, got %s", got.Status)
	}
	b, _ := f.books.Get(ctx, f.booking.ID)
	if b.Status != models.BookingExpired {
		t.Fatalf("expired booking resurrected to %s", b.Status)
	}
	if flagged, _ := got.Meta["needs_reconciliation"].(bool); !flagged {
		t.Fatalf("expected needs_reconciliation flag, got meta %v", got.Meta)
	}
}

func TestWebhookTopUpRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	txn, err := f.svc.CreateTopUp(ctx, "u1", 100000, "va")
	if err != nil {
		t.Fatalf("topup failed: %v", err)
	}

	postNotification(f.svc, notification(txn.GatewayRef, "settlement", "test-key"))
	if bal := f.wallets.balances["u1"]; bal != 100000 {
		t.Fatalf("expected credited balance 100000, got %v", bal)
	}

	postNotification(f.svc, notification(txn.GatewayRef, "refund", "test-key"))
	got, _ := f.txns.Get(ctx, txn.ID)
	if got.Status != models.TxnRefunded {
		t.Fatalf("expected refunded, got %s", got.Status)
	}
	if bal := f.wallets.balances["u1"]; bal != 0 {
		t.Fatalf("expected clawed-back balance 0, got %v", bal)
	}
}

func TestMapGatewayStatus(t *testing.T) {
	cases := []struct {
		in     string
		want   models.TxnStatus
		mapped bool
	}{
		{"settlement", models.TxnPaid, true},
		{"capture", models.TxnPaid, true},
		{"deny", models.TxnFailed, true},
		{"cancel", models.TxnFailed, true},
		{"expire", models.TxnExpired, true},
		{"refund", models.TxnRefunded, true},
		{"partial_refund", models.TxnRefunded, true},
		{"pending", models.TxnPending, true},
		{"authorize", models.TxnPending, true},
		{"chargeback", "", false},
	}
	for _, tc := range cases {
		got, ok := MapGatewayStatus(tc.in)
		if ok != tc.mapped || got != tc.want {
			t.Errorf("MapGatewayStatus(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.mapped)
		}
	}
}
