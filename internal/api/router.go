/**
 * @description
 * This file sets up the HTTP router for the disbursement-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication and rate limiting.
 *
 * Reads are public so donors can audit campaigns. Mutations require a bearer token
 * when a JWKS URL is configured; otherwise the acting user comes from the body.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling.
 * - github.com/prometheus/client_golang: the /metrics endpoint.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/transfa/disbursement-service/internal/app"
	"go.uber.org/zap"
)

// RouterOptions configures the HTTP surface.
type RouterOptions struct {
	JWKSURL        string
	AllowedOrigins []string
	Limiter        app.ActionRateLimiter
	Logger         *zap.Logger
}

// Routes creates and returns the router for the disbursement service.
func Routes(h *Handlers, opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthHandler)
	r.Handle("/metrics", promhttp.Handler())

	// Public read endpoints.
	r.Get("/organizations", h.ListOrganizationsHandler)
	r.Get("/organizations/{id}", h.GetOrganizationHandler)
	r.Get("/organizations/wallet/{address}", h.GetOrganizationByWalletHandler)
	r.Get("/campaigns", h.ListCampaignsHandler)
	r.Get("/campaigns/{id}", h.GetCampaignHandler)
	r.Get("/campaigns/{id}/stats", h.CampaignStatsHandler)
	r.Get("/donations", h.ListDonationsHandler)
	r.Get("/donations/{id}", h.GetDonationHandler)
	r.Get("/donations/campaign/{id}/stats", h.DonationStatsHandler)
	r.Get("/donations/verify/{txId}", h.VerifyTransactionHandler)
	r.Get("/disbursements", h.ListDisbursementsHandler)
	r.Get("/disbursements/{id}", h.GetDisbursementHandler)
	r.Get("/disbursements/campaign/{id}/stats", h.DisbursementStatsHandler)
	r.Get("/audit/campaign/{id}", h.CampaignAuditHandler)
	r.Get("/audit/campaign/{id}/transparency", h.TransparencyHandler)
	r.Get("/audit/donation/{id}/track", h.TrackDonationHandler)
	r.Get("/audit/log/{id}", h.AuditLogHandler)
	r.Post("/ledger/validate-address", h.ValidateAddressHandler)
	r.Get("/ledger/account/{address}", h.LedgerAccountHandler)
	r.Get("/ledger/transaction/{txId}", h.VerifyTransactionHandler)

	// Mutations.
	r.Group(func(r chi.Router) {
		if opts.JWKSURL != "" {
			r.Use(AuthMiddleware(opts.JWKSURL))
		}

		r.Post("/organizations", h.CreateOrganizationHandler)
		r.Patch("/organizations/{id}", h.UpdateOrganizationHandler)
		r.Post("/campaigns", h.CreateCampaignHandler)
		r.Patch("/campaigns/{id}/status", h.UpdateCampaignStatusHandler)
		r.Post("/donations", h.RecordDonationHandler)
		r.Post("/disbursements", h.CreateDisbursementHandler)
		r.Post("/disbursements/{id}/reject", h.RejectDisbursementHandler)
		r.With(RateLimitMiddleware(opts.Limiter, "approve", logger)).
			Post("/disbursements/{id}/approve", h.ApproveDisbursementHandler)
		r.With(RateLimitMiddleware(opts.Limiter, "execute", logger)).
			Post("/disbursements/{id}/execute", h.ExecuteDisbursementHandler)
	})

	return r
}
