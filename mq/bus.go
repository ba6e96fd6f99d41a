package mq

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event is a committed state transition published on a topic keyed by
// entity id. Delivery is best-effort at-most-once per subscriber;
// consumers re-query current state on reconnect.
type Event struct {
	Topic  string                 `json:"topic"`
	Action string                 `json:"action"`
	Data   map[string]interface{} `json:"data,omitempty"`
	At     int64                  `json:"at"`
}

func NewEvent(topic, action string, data map[string]interface{}) Event {
	return Event{Topic: topic, Action: action, Data: data, At: time.Now().Unix()}
}

// Topic helpers
func BookingTopic(bookingID string) string { return "booking:" + bookingID }
func PaymentTopic(bookingID string) string { return "payment:" + bookingID }
func WalletTopic(userID string) string     { return "wallet:" + userID }
func InventoryTopic(lotID string) string   { return "inventory:" + lotID }

const redisChannelPrefix = "parkly:"

// Subscriber receives events for one topic on C until Close is called.
type Subscriber struct {
	C      chan Event
	topic  string
	broker *Broker
	once   sync.Once
}

func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.broker.unsubscribe(s)
	})
}

// Broker fans committed state transitions out to per-topic subscribers.
// With a Redis client attached, publishes are mirrored through Redis so
// every process running the bridge sees them; without one, delivery is
// in-process only.
type Broker struct {
	mu     sync.Mutex
	topics map[string]map[*Subscriber]bool
	rdb    *redis.Client
}

func NewBroker(rdb *redis.Client) *Broker {
	return &Broker{
		topics: make(map[string]map[*Subscriber]bool),
		rdb:    rdb,
	}
}

func (b *Broker) Subscribe(topic string) *Subscriber {
	sub := &Subscriber{
		C:      make(chan Event, 16),
		topic:  topic,
		broker: b,
	}
	b.mu.Lock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*Subscriber]bool)
	}
	b.topics[topic][sub] = true
	b.mu.Unlock()
	return sub
}

func (b *Broker) unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	if subs := b.topics[sub.topic]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.topics, sub.topic)
		}
	}
	b.mu.Unlock()
	close(sub.C)
}

// Publish routes the event through Redis when a client is attached,
// otherwise delivers directly to in-process subscribers.
func (b *Broker) Publish(ctx context.Context, ev Event) {
	if b.rdb == nil {
		b.deliver(ev)
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[mq] marshal event failed: %v", err)
		return
	}
	if err := b.rdb.Publish(ctx, redisChannelPrefix+ev.Topic, data).Err(); err != nil {
		log.Printf("[mq] redis publish failed, delivering locally: %v", err)
		b.deliver(ev)
	}
}

func (b *Broker) deliver(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.topics[ev.Topic] {
		select {
		case sub.C <- ev:
		default:
			// slow subscriber, drop rather than block the publisher
		}
	}
}

// StartRedisBridge consumes mirrored events from Redis and feeds them
// to local subscribers. Run in its own goroutine.
func (b *Broker) StartRedisBridge(ctx context.Context) {
	if b.rdb == nil {
		return
	}
	sub := b.rdb.PSubscribe(ctx, redisChannelPrefix+"*")
	go func() {
		<-ctx.Done()
		sub.Close() // closes the channel below and ends the loop
	}()

	log.Println("[mq] redis bridge listening for events")
	for msg := range sub.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.Printf("[mq] bad event payload: %v", err)
			continue
		}
		b.deliver(ev)
	}
	log.Println("[mq] redis bridge stopped")
}
