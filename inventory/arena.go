package inventory

import (
	"context"
	"log"
	"sync"

	"parkly/models"
	"parkly/mq"
)

type counter struct {
	capacity  int
	available int
}

// Arena is an in-memory ledger backed by per-lot/per-class counters
// under one mutex. It carries the same contract as MongoLedger and
// backs single-process deployments and tests.
type Arena struct {
	mu   sync.Mutex
	lots map[string]map[models.VehicleClass]*counter
	Bus  *mq.Broker
}

func NewArena(bus *mq.Broker) *Arena {
	return &Arena{
		lots: make(map[string]map[models.VehicleClass]*counter),
		Bus:  bus,
	}
}

// Register seeds the counters for a lot. Re-registering replaces the
// capacity and resets availability to it.
func (a *Arena) Register(lotID string, capacity map[models.VehicleClass]int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	classes := make(map[models.VehicleClass]*counter, len(capacity))
	for class, c := range capacity {
		classes[class] = &counter{capacity: c, available: c}
	}
	a.lots[lotID] = classes
}

func (a *Arena) Reserve(ctx context.Context, lotID string, class models.VehicleClass, n int) error {
	if n <= 0 {
		return nil
	}
	a.mu.Lock()
	c, err := a.counterLocked(lotID, class)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	if c.available < n {
		a.mu.Unlock()
		return ErrInsufficientCapacity
	}
	c.available -= n
	avail := c.available
	a.mu.Unlock()

	a.emit(ctx, lotID, class, avail)
	return nil
}

func (a *Arena) Release(ctx context.Context, lotID string, class models.VehicleClass, n int) error {
	if n <= 0 {
		return nil
	}
	a.mu.Lock()
	c, err := a.counterLocked(lotID, class)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	c.available += n
	if c.available > c.capacity {
		log.Printf("[inventory] invariant violation: release past capacity, lot=%s class=%s", lotID, class)
		c.available = c.capacity
	}
	avail := c.available
	a.mu.Unlock()

	a.emit(ctx, lotID, class, avail)
	return nil
}

func (a *Arena) Available(ctx context.Context, lotID string, class models.VehicleClass) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, err := a.counterLocked(lotID, class)
	if err != nil {
		return 0, err
	}
	return c.available, nil
}

func (a *Arena) counterLocked(lotID string, class models.VehicleClass) (*counter, error) {
	classes, ok := a.lots[lotID]
	if !ok {
		return nil, ErrUnknownLot
	}
	c, ok := classes[class]
	if !ok {
		return nil, ErrInsufficientCapacity
	}
	return c, nil
}

func (a *Arena) emit(ctx context.Context, lotID string, class models.VehicleClass, avail int) {
	if a.Bus == nil {
		return
	}
	a.Bus.Publish(ctx, mq.NewEvent(mq.InventoryTopic(lotID), "inventory_changed", map[string]interface{}{
		"lotId":        lotID,
		"vehicleClass": string(class),
		"available":    avail,
	}))
}
