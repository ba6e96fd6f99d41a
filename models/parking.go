package models

import "time"

type VehicleClass string

const (
	ClassCar        VehicleClass = "car"
	ClassMotorcycle VehicleClass = "motorcycle"
	ClassTruck      VehicleClass = "truck"
)

func (c VehicleClass) Valid() bool {
	switch c {
	case ClassCar, ClassMotorcycle, ClassTruck:
		return true
	}
	return false
}

// GeoPoint is a GeoJSON point, stored as [lng, lat] for the 2dsphere index.
type GeoPoint struct {
	Type        string    `json:"type" bson:"type"`
	Coordinates []float64 `json:"coordinates" bson:"coordinates"`
}

func NewGeoPoint(lat, lng float64) GeoPoint {
	return GeoPoint{Type: "Point", Coordinates: []float64{lng, lat}}
}

type ParkingLot struct {
	ID       string   `json:"id" bson:"id"`
	Name     string   `json:"name" bson:"name"`
	Address  string   `json:"address,omitempty" bson:"address,omitempty"`
	Location GeoPoint `json:"location" bson:"location"`

	// Hourly tariff and slot counters per vehicle class. Available is
	// mutated only through the inventory ledger.
	Tariffs   map[VehicleClass]float64 `json:"tariffs" bson:"tariffs"`
	Capacity  map[VehicleClass]int     `json:"capacity" bson:"capacity"`
	Available map[VehicleClass]int     `json:"available" bson:"available"`

	// Operating hours, 0-23. OpenHour == CloseHour means 24h.
	OpenHour  int `json:"openHour" bson:"openHour"`
	CloseHour int `json:"closeHour" bson:"closeHour"`

	Version   int       `json:"version" bson:"version"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Wallet is the stored-value balance usable as a payment method.
// Balance is mutated only by confirmed transactions and never goes
// negative (debits are guarded server-side).
type Wallet struct {
	UserID    string    `json:"userId" bson:"userId"`
	Balance   float64   `json:"balance" bson:"balance"`
	Version   int       `json:"version" bson:"version"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}
