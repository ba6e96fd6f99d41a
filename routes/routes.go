package routes

import (
	"parkly/booking"
	"parkly/lots"
	"parkly/middleware"
	"parkly/mq"
	"parkly/pay"
	"parkly/ratelim"

	"github.com/julienschmidt/httprouter"
)

func AddLotRoutes(router *httprouter.Router, rl *ratelim.RateLimiter) {
	router.POST("/api/lots", rl.Limit(middleware.Authenticate(lots.CreateLot)))
	router.PUT("/api/lots/:id", rl.Limit(middleware.Authenticate(lots.UpdateLot)))
	router.GET("/api/lots", rl.Limit(lots.ListLots))
	router.GET("/api/lots/:id", rl.Limit(lots.GetLot))
}

func AddBookingRoutes(router *httprouter.Router, rl *ratelim.RateLimiter, h *booking.Handlers) {
	router.POST("/api/bookings", rl.Limit(middleware.Authenticate(h.CreateBooking)))
	router.GET("/api/bookings", rl.Limit(middleware.Authenticate(h.ListMyBookings)))
	router.GET("/api/bookings/:id", rl.Limit(middleware.Authenticate(h.GetBooking)))
	router.POST("/api/bookings/:id/cancel", rl.Limit(middleware.Authenticate(h.CancelBooking)))
	router.GET("/api/bookings/:id/receipt", rl.Limit(middleware.Authenticate(h.PrintReceipt)))
}

func AddPayRoutes(router *httprouter.Router, rl *ratelim.RateLimiter, svc *pay.Service) {
	router.POST("/api/payments", rl.Limit(middleware.Authenticate(svc.CreatePaymentHandler)))
	router.POST("/api/payments/:id/confirm", rl.Limit(middleware.Authenticate(svc.ConfirmPaymentHandler)))
	router.GET("/api/payments/:id/qr", rl.Limit(middleware.Authenticate(svc.PaymentQRHandler)))
	router.GET("/api/transactions", rl.Limit(middleware.Authenticate(svc.ListTransactions)))

	router.GET("/api/wallet/balance", rl.Limit(middleware.Authenticate(svc.GetBalance)))
	router.POST("/api/wallet/topup", rl.Limit(middleware.Authenticate(svc.TopUpHandler)))

	// Gateway callback, authenticated by its signature rather than a JWT.
	router.POST("/api/gateway/notification", rl.Limit(svc.HandleNotification))

	router.GET("/api/orphan-events", rl.Limit(middleware.Authenticate(svc.ListOrphanEvents)))
}

func AddSubscriptionRoutes(router *httprouter.Router, broker *mq.Broker) {
	router.GET("/ws/:kind/:id", middleware.OptionalAuth(mq.HandleWS(broker)))
}
