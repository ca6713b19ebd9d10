package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"go-receipt-verification-service/internal/http/handler"
	"go-receipt-verification-service/internal/http/middleware"
	"go-receipt-verification-service/internal/http/response"
)

type Dependencies struct {
	Logger      *slog.Logger
	Webhook     *handler.WebhookHandler
	OTP         *handler.OTPHandler
	Receipts    *handler.ReceiptHandler
	Escalations *handler.EscalationHandler
	Audit       *handler.AuditHandler

	ClientIP *middleware.ClientIPResolver
	Limiter  middleware.Limiter

	APIRateLimitRPM int
	OTPRateLimitRPM int
}

func New(deps Dependencies) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(deps.ClientIP.Middleware())
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/health/live", func(w http.ResponseWriter, req *http.Request) {
		response.JSON(w, req, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		response.JSON(w, req, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Webhook ingress fails open on limiter trouble: dropping a signed
	// platform callback costs more than serving one extra request.
	webhookLimit := middleware.NewRateLimiter(deps.Limiter, deps.APIRateLimitRPM, time.Minute, middleware.FailOpen, "webhook")
	r.With(webhookLimit.Middleware()).Post("/webhooks/{platform}", deps.Webhook.Receive)

	// The credential endpoints fail closed; they are the abuse target.
	otpLimit := middleware.NewRateLimiter(deps.Limiter, deps.OTPRateLimitRPM, time.Minute, middleware.FailClosed, "otp")
	apiLimit := middleware.NewRateLimiter(deps.Limiter, deps.APIRateLimitRPM, time.Minute, middleware.FailClosed, "api")

	r.Route("/api/v1", func(api chi.Router) {
		api.Group(func(otp chi.Router) {
			otp.Use(otpLimit.Middleware())
			otp.Post("/otp/issue", deps.OTP.Issue)
			otp.Post("/otp/verify", deps.OTP.Verify)
		})
		api.Group(func(rest chi.Router) {
			rest.Use(apiLimit.Middleware())
			rest.Post("/receipts", deps.Receipts.Submit)
			rest.Get("/receipts/{id}", deps.Receipts.Get)
			rest.Post("/receipts/{id}/review", deps.Receipts.Review)
			rest.Get("/orders/{orderID}/receipts", deps.Receipts.ListByOrder)
			rest.Get("/escalations/{id}", deps.Escalations.Get)
			rest.Post("/escalations/{id}/credential", deps.Escalations.RequestCredential)
			rest.Post("/escalations/{id}/resolve", deps.Escalations.Resolve)
			rest.Get("/audit", deps.Audit.List)
		})
	})

	return r
}
