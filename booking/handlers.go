package booking

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"parkly/models"
	"parkly/utils"

	"github.com/julienschmidt/httprouter"
)

// Handlers is the HTTP surface over the booking service.
type Handlers struct {
	Svc *Service
}

func NewHandlers(svc *Service) *Handlers {
	return &Handlers{Svc: svc}
}

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	userID := utils.GetUserIDFromRequest(r)
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var body struct {
		LotID        string `json:"lotId"`
		VehicleClass string `json:"vehicleClass"`
		Start        string `json:"start"`
		End          string `json:"end"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if body.LotID == "" || body.VehicleClass == "" {
		http.Error(w, "missing fields", http.StatusBadRequest)
		return
	}
	start, err1 := time.Parse(time.RFC3339, body.Start)
	end, err2 := time.Parse(time.RFC3339, body.End)
	if err1 != nil || err2 != nil {
		http.Error(w, "invalid time format, want RFC3339", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	b, err := h.Svc.Create(ctx, userID, body.LotID, models.VehicleClass(body.VehicleClass), start, end)
	switch {
	case err == nil:
		utils.RespondWithJSON(w, http.StatusCreated, utils.M{"ok": true, "booking": b})
	case errors.Is(err, ErrSlotUnavailable):
		utils.RespondWithJSON(w, http.StatusConflict, utils.M{"ok": false, "reason": "slot-unavailable"})
	case errors.Is(err, ErrBadInterval), errors.Is(err, ErrLotClosed):
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		utils.RespondWithError(w, http.StatusNotFound, "lot not found")
	default:
		utils.RespondWithError(w, http.StatusInternalServerError, "booking failed")
	}
}

func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	userID := utils.GetUserIDFromRequest(r)
	bookingID := ps.ByName("id")
	if bookingID == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	b, err := h.Svc.Cancel(ctx, bookingID, userID)
	switch {
	case err == nil:
		utils.RespondWithJSON(w, http.StatusOK, utils.M{"ok": true, "booking": b})
	case errors.Is(err, models.ErrNotFound):
		utils.RespondWithError(w, http.StatusNotFound, "not found")
	case errors.Is(err, ErrNotOwner):
		utils.RespondWithError(w, http.StatusForbidden, "not your booking")
	case errors.Is(err, models.ErrInvalidTransition):
		utils.RespondWithJSON(w, http.StatusConflict, utils.M{"ok": false, "reason": "invalid-transition"})
	case errors.Is(err, models.ErrConcurrentModification):
		utils.RespondWithError(w, http.StatusConflict, "try again")
	default:
		utils.RespondWithError(w, http.StatusInternalServerError, "cancel failed")
	}
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	userID := utils.GetUserIDFromRequest(r)
	bookingID := ps.ByName("id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	b, err := h.Svc.Store.Get(ctx, bookingID)
	if err != nil {
		utils.RespondWithError(w, http.StatusNotFound, "not found")
		return
	}
	if b.UserID != userID {
		utils.RespondWithError(w, http.StatusForbidden, "not your booking")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"booking": b})
}

func (h *Handlers) ListMyBookings(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	userID := utils.GetUserIDFromRequest(r)
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
	if skip < 0 {
		skip = 0
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	bookings, err := h.Svc.Store.ListByUser(ctx, userID, int64(limit), int64(skip))
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "db error")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"bookings": bookings})
}
