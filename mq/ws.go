package mq

import (
	"encoding/json"
	"log"
	"net/http"

	"parkly/middleware"
	"parkly/utils"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins — adjust for production if needed
		return true
	},
}

var validKinds = map[string]bool{
	"booking":   true,
	"payment":   true,
	"wallet":    true,
	"inventory": true,
}

// subscriberIdentity resolves the caller: from the request context when
// auth middleware ran, otherwise from a token query parameter, since
// browser websocket clients cannot set an Authorization header.
func subscriberIdentity(r *http.Request) string {
	if uid := utils.GetUserIDFromRequest(r); uid != "" {
		return uid
	}
	if claims, err := middleware.ValidateJWT(r.URL.Query().Get("token")); err == nil {
		return claims.UserID
	}
	return ""
}

// HandleWS streams a single topic to a websocket client. A subscriber
// that disconnects simply misses events published while away; clients
// re-query current state on reconnect. Wallet topics are private: only
// the wallet's owner may subscribe.
func HandleWS(broker *Broker) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		kind := ps.ByName("kind")
		id := ps.ByName("id")
		if !validKinds[kind] || id == "" {
			http.Error(w, "unknown topic", http.StatusBadRequest)
			return
		}
		if kind == "wallet" && subscriberIdentity(r) != id {
			http.Error(w, "not your wallet", http.StatusForbidden)
			return
		}
		topic := kind + ":" + id

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// the upgrader has already written its error response
			log.Printf("[mq] upgrade failed for topic %s: %v", topic, err)
			return
		}

		sub := broker.Subscribe(topic)

		// writer: pump events to the socket
		go func() {
			for ev := range sub.C {
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					break
				}
			}
			conn.Close()
		}()

		// reader: keeps the connection alive until the client disconnects
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		sub.Close()
		conn.Close()
		log.Printf("[mq] subscriber left topic %s", topic)
	}
}
