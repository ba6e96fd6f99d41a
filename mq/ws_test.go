package mq

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"parkly/globals"
	"parkly/middleware"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

func signToken(t *testing.T, userID string) string {
	t.Helper()
	claims := &middleware.Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(globals.JwtSecret)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return token
}

func newWSServer(t *testing.T) (*Broker, *httptest.Server) {
	t.Helper()
	broker := NewBroker(nil)
	router := httprouter.New()
	router.GET("/ws/:kind/:id", middleware.OptionalAuth(HandleWS(broker)))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return broker, srv
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestWalletTopicRejectsStrangers(t *testing.T) {
	_, srv := newWSServer(t)

	// no credentials at all
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/wallet/u1"), nil)
	if err == nil {
		conn.Close()
		t.Fatal("anonymous wallet subscription must fail")
	}
	if resp == nil || resp.StatusCode != 403 {
		t.Fatalf("expected 403, got %+v", resp)
	}

	// valid token for a different user
	conn, resp, err = websocket.DefaultDialer.Dial(
		wsURL(srv, "/ws/wallet/u1?token="+signToken(t, "u2")), nil)
	if err == nil {
		conn.Close()
		t.Fatal("stranger wallet subscription must fail")
	}
	if resp == nil || resp.StatusCode != 403 {
		t.Fatalf("expected 403, got %+v", resp)
	}
}

func TestWalletTopicOwnerReceivesEvents(t *testing.T) {
	broker, srv := newWSServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(
		wsURL(srv, "/ws/wallet/u1?token="+signToken(t, "u1")), nil)
	if err != nil {
		t.Fatalf("owner dial failed: %v", err)
	}
	defer conn.Close()

	// the handler subscribes after the upgrade; keep publishing until
	// the event comes through
	done := make(chan struct{})
	defer close(done)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				broker.Publish(context.Background(), NewEvent(WalletTopic("u1"), "credited", nil))
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading event: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decoding event: %v", err)
	}
	if ev.Topic != WalletTopic("u1") || ev.Action != "credited" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestPublicTopicNeedsNoToken(t *testing.T) {
	broker, srv := newWSServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/booking/b1"), nil)
	if err != nil {
		t.Fatalf("anonymous booking dial failed: %v", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				broker.Publish(context.Background(), NewEvent(BookingTopic("b1"), "confirmed", nil))
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("reading event: %v", err)
	}
}
