package booking

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"time"

	"parkly/models"
	"parkly/utils"

	"github.com/julienschmidt/httprouter"
	"github.com/phpdave11/gofpdf"
	"github.com/skip2/go-qrcode"
)

func receiptSecret() []byte {
	if s := os.Getenv("RECEIPT_HMAC_SECRET"); s != "" {
		return []byte(s)
	}
	return []byte("your-very-secret-key")
}

// ReceiptQRPayload returns a signed payload string for gate scanners:
// bookingID|lotID|class|timestamp|signature
func ReceiptQRPayload(b *models.Booking) string {
	data := fmt.Sprintf("%s|%s|%s|%d", b.ID, b.LotID, b.Class, time.Now().Unix())
	h := hmac.New(sha256.New, receiptSecret())
	h.Write([]byte(data))
	sig := base64.StdEncoding.EncodeToString(h.Sum(nil))
	return fmt.Sprintf("%s|%s", data, sig)
}

// PrintReceipt renders a PDF receipt with an embedded QR code for a
// booking that has reached confirmed or later.
func (h *Handlers) PrintReceipt(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	userID := utils.GetUserIDFromRequest(r)
	bookingID := ps.ByName("id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	b, err := h.Svc.Store.Get(ctx, bookingID)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if b.UserID != userID {
		http.Error(w, "not your booking", http.StatusForbidden)
		return
	}
	if b.Status == models.BookingPending || b.Status == models.BookingCancelled || b.Status == models.BookingExpired {
		http.Error(w, "no receipt for unpaid booking", http.StatusConflict)
		return
	}

	qrPNG, err := qrcode.Encode(ReceiptQRPayload(b), qrcode.Medium, 256)
	if err != nil {
		http.Error(w, "Failed to generate QR code", http.StatusInternalServerError)
		return
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, "Parking Receipt")
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 12)
	pdf.Cell(0, 10, fmt.Sprintf("Booking ID: %s", b.ID))
	pdf.Ln(8)
	pdf.Cell(0, 10, fmt.Sprintf("Lot: %s", b.LotID))
	pdf.Ln(8)
	pdf.Cell(0, 10, fmt.Sprintf("Vehicle class: %s", b.Class))
	pdf.Ln(8)
	pdf.Cell(0, 10, fmt.Sprintf("From: %s", b.Start.Format("2006-01-02 15:04")))
	pdf.Ln(8)
	pdf.Cell(0, 10, fmt.Sprintf("Until: %s", b.End.Format("2006-01-02 15:04")))
	pdf.Ln(8)
	pdf.Cell(0, 10, fmt.Sprintf("Amount: %.0f", b.Amount))
	pdf.Ln(12)

	imageOpts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("qr", imageOpts, bytes.NewReader(qrPNG))
	pdf.ImageOptions("qr", 150, 40, 40, 40, false, imageOpts, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		http.Error(w, "Failed to generate PDF", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=receipt-%s.pdf", b.ID))
	w.Write(buf.Bytes())
}
