package lots

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"parkly/db"
	"parkly/models"
	"parkly/utils"

	"github.com/julienschmidt/httprouter"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func genID() string {
	return utils.GenerateRandomString(12)
}

type lotPayload struct {
	Name      string                          `json:"name"`
	Address   string                          `json:"address"`
	Lat       float64                         `json:"lat"`
	Lng       float64                         `json:"lng"`
	Tariffs   map[models.VehicleClass]float64 `json:"tariffs"`
	Capacity  map[models.VehicleClass]int     `json:"capacity"`
	OpenHour  int                             `json:"openHour"`
	CloseHour int                             `json:"closeHour"`
}

func (p *lotPayload) validate() string {
	if p.Name == "" {
		return "missing name"
	}
	if len(p.Capacity) == 0 || len(p.Tariffs) == 0 {
		return "missing capacity or tariffs"
	}
	for class, c := range p.Capacity {
		if !class.Valid() || c < 0 {
			return "invalid capacity entry"
		}
	}
	for class, t := range p.Tariffs {
		if !class.Valid() || t < 0 {
			return "invalid tariff entry"
		}
	}
	if p.OpenHour < 0 || p.OpenHour > 23 || p.CloseHour < 0 || p.CloseHour > 23 {
		return "invalid operating hours"
	}
	return ""
}

// CreateLot registers a lot with its capacities; availability starts at
// full capacity.
func CreateLot(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var p lotPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if msg := p.validate(); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	available := make(map[models.VehicleClass]int, len(p.Capacity))
	for class, c := range p.Capacity {
		available[class] = c
	}

	now := time.Now()
	lot := models.ParkingLot{
		ID:        genID(),
		Name:      p.Name,
		Address:   p.Address,
		Location:  models.NewGeoPoint(p.Lat, p.Lng),
		Tariffs:   p.Tariffs,
		Capacity:  p.Capacity,
		Available: available,
		OpenHour:  p.OpenHour,
		CloseHour: p.CloseHour,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if _, err := db.ParkingLotsCollection.InsertOne(ctx, lot); err != nil {
		http.Error(w, "db insert failed", http.StatusInternalServerError)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, utils.M{"lot": lot})
}

// UpdateLot changes tariffs, operating hours and address. Capacity and
// availability are left to the inventory ledger.
func UpdateLot(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	lotID := ps.ByName("id")
	if lotID == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}

	var p lotPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	set := bson.M{"updatedAt": time.Now()}
	if p.Name != "" {
		set["name"] = p.Name
	}
	if p.Address != "" {
		set["address"] = p.Address
	}
	if len(p.Tariffs) > 0 {
		set["tariffs"] = p.Tariffs
	}
	if p.OpenHour != 0 || p.CloseHour != 0 {
		set["openHour"] = p.OpenHour
		set["closeHour"] = p.CloseHour
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	res := db.ParkingLotsCollection.FindOneAndUpdate(ctx,
		bson.M{"id": lotID},
		bson.M{"$set": set, "$inc": bson.M{"version": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	var updated models.ParkingLot
	if err := res.Decode(&updated); err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"lot": updated})
}

func GetLot(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	lotID := ps.ByName("id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var lot models.ParkingLot
	if err := db.ParkingLotsCollection.FindOne(ctx, bson.M{"id": lotID}).Decode(&lot); err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"lot": lot})
}

// ListLots returns all lots, or a proximity-ordered subset when
// lat/lng query params are present.
func ListLots(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if r.URL.Query().Get("lat") != "" {
		NearbyLots(w, r, ps)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	cur, err := db.ParkingLotsCollection.Find(ctx, bson.M{})
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer cur.Close(ctx)

	var lots []models.ParkingLot
	if err := cur.All(ctx, &lots); err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"lots": lots})
}

// NearbyLots delegates proximity search to the datastore's 2dsphere
// index. Radius is meters, default 2km.
func NearbyLots(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if err1 != nil || err2 != nil {
		http.Error(w, "missing lat/lng", http.StatusBadRequest)
		return
	}
	radius, err := strconv.ParseFloat(r.URL.Query().Get("radius"), 64)
	if err != nil || radius <= 0 {
		radius = 2000
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	filter := bson.M{
		"location": bson.M{
			"$nearSphere": bson.M{
				"$geometry":    models.NewGeoPoint(lat, lng),
				"$maxDistance": radius,
			},
		},
	}
	cur, err := db.ParkingLotsCollection.Find(ctx, filter, options.Find().SetLimit(50))
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer cur.Close(ctx)

	var lots []models.ParkingLot
	if err := cur.All(ctx, &lots); err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"lots": lots})
}
