package pay

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
	"github.com/skip2/go-qrcode"
)

func (s *Service) CreatePaymentHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	userID := utils.GetUserIDFromRequest(r)
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var body struct {
		BookingID string `json:"bookingId"`
		Method    string `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	txn, err := s.CreatePayment(ctx, userID, body.BookingID, body.Method)
	switch {
	case err == nil:
		utils.RespondWithJSON(w, http.StatusCreated, utils.M{"success": true, "transaction": txn})
	case errors.Is(err, ErrDuplicatePending):
		utils.RespondWithJSON(w, http.StatusConflict, utils.M{
			"success":       false,
			"reason":        "duplicate-pending-transaction",
			"transactionId": txn.ID,
			"transaction":   txn,
		})
	case errors.Is(err, ErrInsufficientBalance):
		utils.RespondWithJSON(w, http.StatusOK, utils.M{"success": false, "message": "Insufficient wallet balance"})
	case errors.Is(err, models.ErrNotFound):
		utils.RespondWithError(w, http.StatusNotFound, "booking not found")
	case errors.Is(err, ErrNotOwner):
		utils.RespondWithError(w, http.StatusForbidden, "not your booking")
	case errors.Is(err, models.ErrInvalidTransition):
		utils.RespondWithJSON(w, http.StatusConflict, utils.M{"success": false, "reason": "booking-not-payable"})
	case errors.Is(err, ErrBadRequest):
		utils.RespondWithError(w, http.StatusBadRequest, "invalid request")
	default:
		utils.RespondWithError(w, http.StatusBadGateway, "payment failed, please retry")
	}
}

func (s *Service) TopUpHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	userID := utils.GetUserIDFromRequest(r)
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var body struct {
		Amount float64 `json:"amount"`
		Method string  `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Amount <= 0 {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	txn, err := s.CreateTopUp(ctx, userID, body.Amount, body.Method)
	switch {
	case err == nil:
		utils.RespondWithJSON(w, http.StatusCreated, utils.M{"success": true, "transaction": txn})
	case errors.Is(err, ErrBadRequest):
		utils.RespondWithError(w, http.StatusBadRequest, "invalid request")
	default:
		utils.RespondWithError(w, http.StatusBadGateway, "topup failed, please retry")
	}
}

func (s *Service) ConfirmPaymentHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	userID := utils.GetUserIDFromRequest(r)
	txnID := ps.ByName("id")
	if txnID == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	txn, err := s.ConfirmPayment(ctx, userID, txnID)
	switch {
	case err == nil:
		utils.RespondWithJSON(w, http.StatusOK, utils.M{"success": true, "transaction": txn})
	case errors.Is(err, models.ErrNotFound):
		utils.RespondWithError(w, http.StatusNotFound, "transaction not found")
	case errors.Is(err, ErrNotOwner):
		utils.RespondWithError(w, http.StatusForbidden, "not your transaction")
	default:
		utils.RespondWithError(w, http.StatusBadGateway, "confirm failed, please retry")
	}
}

// PaymentQRHandler renders the gateway QR payload as a PNG for clients
// that display it natively.
func (s *Service) PaymentQRHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	userID := utils.GetUserIDFromRequest(r)
	txnID := ps.ByName("id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	txn, err := s.Store.Get(ctx, txnID)
	if err != nil {
		http.Error(w, "transaction not found", http.StatusNotFound)
		return
	}
	if txn.UserID != userID {
		http.Error(w, "not your transaction", http.StatusForbidden)
		return
	}
	if txn.QRPayload == "" {
		http.Error(w, "no QR payload for this transaction", http.StatusNotFound)
		return
	}

	png, err := qrcode.Encode(txn.QRPayload, qrcode.Medium, 256)
	if err != nil {
		http.Error(w, "Failed to generate QR code", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

// GetBalance returns the user's wallet balance.
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	userID := utils.GetUserIDFromRequest(r)
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	balance, err := s.Wallets.Balance(ctx, userID)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"balance": balance})
}

// ListTransactions returns paginated transactions for the logged-in user
func (s *Service) ListTransactions(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
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

	txns, err := s.Store.ListByUser(ctx, userID, int64(limit), int64(skip))
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"transactions": txns})
}

// ListOrphanEvents exposes unmatched webhook notifications for audit.
func (s *Service) ListOrphanEvents(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	events, err := s.Orphans.List(ctx, 100)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"orphans": events})
}
