package mq

import (
	"context"
	"testing"
	"time"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := NewBroker(nil)
	sub := b.Subscribe(BookingTopic("b1"))
	defer sub.Close()

	b.Publish(context.Background(), NewEvent(BookingTopic("b1"), "created", map[string]interface{}{
		"bookingId": "b1",
	}))

	select {
	case ev := <-sub.C:
		if ev.Action != "created" {
			t.Fatalf("expected action created, got %s", ev.Action)
		}
		if ev.Data["bookingId"] != "b1" {
			t.Fatalf("unexpected payload: %v", ev.Data)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestTopicIsolation(t *testing.T) {
	b := NewBroker(nil)
	other := b.Subscribe(PaymentTopic("b2"))
	defer other.Close()

	b.Publish(context.Background(), NewEvent(BookingTopic("b1"), "created", nil))

	select {
	case ev := <-other.C:
		t.Fatalf("subscriber on %s received foreign event %v", other.topic, ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	b := NewBroker(nil)
	sub := b.Subscribe(WalletTopic("u1"))
	sub.Close()
	sub.Close() // double close must not panic

	if _, ok := <-sub.C; ok {
		t.Fatal("expected closed channel after unsubscribe")
	}

	// publishing after close must not panic either
	b.Publish(context.Background(), NewEvent(WalletTopic("u1"), "wallet_credited", nil))
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroker(nil)
	sub := b.Subscribe(InventoryTopic("lot1"))
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(context.Background(), NewEvent(InventoryTopic("lot1"), "inventory_changed", nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}

	if n := len(sub.C); n > cap(sub.C) {
		t.Fatalf("buffered %d events past capacity %d", n, cap(sub.C))
	}
}
