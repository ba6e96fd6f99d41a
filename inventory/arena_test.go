package inventory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"parkly/models"
)

func TestArenaReserveRelease(t *testing.T) {
	ctx := context.Background()
	a := NewArena(nil)
	a.Register("lot1", map[models.VehicleClass]int{models.ClassCar: 3})

	if err := a.Reserve(ctx, "lot1", models.ClassCar, 1); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if avail, _ := a.Available(ctx, "lot1", models.ClassCar); avail != 2 {
		t.Fatalf("expected 2 available, got %d", avail)
	}

	if err := a.Release(ctx, "lot1", models.ClassCar, 1); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if avail, _ := a.Available(ctx, "lot1", models.ClassCar); avail != 3 {
		t.Fatalf("expected 3 available, got %d", avail)
	}
}

func TestArenaReserveExhaustsCapacity(t *testing.T) {
	ctx := context.Background()
	a := NewArena(nil)
	a.Register("lot1", map[models.VehicleClass]int{models.ClassMotorcycle: 1})

	if err := a.Reserve(ctx, "lot1", models.ClassMotorcycle, 1); err != nil {
		t.Fatalf("first reserve failed: %v", err)
	}
	if err := a.Reserve(ctx, "lot1", models.ClassMotorcycle, 1); !errors.Is(err, ErrInsufficientCapacity) {
		t.Fatalf("expected ErrInsufficientCapacity, got %v", err)
	}
}

func TestArenaConcurrentReservesNeverOversell(t *testing.T) {
	ctx := context.Background()
	a := NewArena(nil)
	a.Register("lot1", map[models.VehicleClass]int{models.ClassCar: 5})

	var wg sync.WaitGroup
	var successes int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Reserve(ctx, "lot1", models.ClassCar, 1); err == nil {
				atomic.AddInt64(&successes, 1)
			}
		}()
	}
	wg.Wait()

	if successes != 5 {
		t.Fatalf("expected exactly 5 winning reserves, got %d", successes)
	}
	if avail, _ := a.Available(ctx, "lot1", models.ClassCar); avail != 0 {
		t.Fatalf("expected 0 available after saturation, got %d", avail)
	}
}

func TestArenaReleaseClampsAtCapacity(t *testing.T) {
	ctx := context.Background()
	a := NewArena(nil)
	a.Register("lot1", map[models.VehicleClass]int{models.ClassTruck: 2})

	// release without a matching reserve must not inflate capacity
	if err := a.Release(ctx, "lot1", models.ClassTruck, 1); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if avail, _ := a.Available(ctx, "lot1", models.ClassTruck); avail != 2 {
		t.Fatalf("expected clamp at capacity 2, got %d", avail)
	}
}

func TestArenaUnknownLot(t *testing.T) {
	ctx := context.Background()
	a := NewArena(nil)

	if err := a.Reserve(ctx, "nope", models.ClassCar, 1); !errors.Is(err, ErrUnknownLot) {
		t.Fatalf("expected ErrUnknownLot, got %v", err)
	}
	if _, err := a.Available(ctx, "nope", models.ClassCar); !errors.Is(err, ErrUnknownLot) {
		t.Fatalf("expected ErrUnknownLot, got %v", err)
	}
}

func TestArenaZeroCountIsNoop(t *testing.T) {
	ctx := context.Background()
	a := NewArena(nil)
	a.Register("lot1", map[models.VehicleClass]int{models.ClassCar: 1})

	if err := a.Reserve(ctx, "lot1", models.ClassCar, 0); err != nil {
		t.Fatalf("zero reserve should be a no-op, got %v", err)
	}
	if avail, _ := a.Available(ctx, "lot1", models.ClassCar); avail != 1 {
		t.Fatalf("expected untouched availability, got %d", avail)
	}
}
