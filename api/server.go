/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind a proxy
  3. Logger:     Request logging through zap
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Prometheus request counters and latency
  6. CORS:       Cross-origin requests for the field app

ROUTE GROUPS:
  /api/lines/*          Lines, days, customers, deleted customers, accounts
  /api/admin/*          Backup and reconciliation
  /api/scenarios/*      Demo scenarios
  /healthz              Liveness and store ping
  /metrics              Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public and
  the service is expected to run behind an authenticating proxy.

SEE ALSO:
  - handlers.go: Handler implementations
  - metrics.go: Metrics middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// DefaultAllowedOrigins are used when no origins are configured.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Logger.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(h.Metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", h.Metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/lines", func(r chi.Router) {
			r.Get("/", h.ListLines)
			r.Post("/", h.CreateLine)

			r.Route("/{lineId}", func(r chi.Router) {
				r.Get("/", h.GetLine)
				r.Put("/", h.UpdateLine)
				r.Delete("/", h.DeleteLine)
				r.Get("/bf", h.GetBF)
				r.Get("/days", h.ListDays)
				r.Post("/days", h.AddDay)
				r.Get("/collections", h.GetCollections)
				r.Get("/collections/pdf", h.GetCollectionsPDF)
				r.Get("/pending", h.ListPending)
				r.Get("/reconciliations", h.ListReconciliations)

				// Customer routes
				r.Route("/days/{day}/customers", func(r chi.Router) {
					r.Get("/", h.ListCustomers)
					r.Post("/", h.CreateCustomer)
					r.Get("/next-id", h.NextCustomerID)

					r.Route("/{customerId}", func(r chi.Router) {
						r.Get("/", h.GetCustomer)
						r.Put("/", h.UpdateCustomer)
						r.Delete("/", h.DeleteCustomer)
						r.Get("/transactions", h.ListTransactions)
						r.Post("/transactions", h.RecordPayment)
						r.Put("/transactions/{txId}", h.UpdateTransaction)
						r.Delete("/transactions/{txId}", h.DeleteTransaction)
						r.Get("/renewals", h.ListRenewals)
						r.Post("/renewals", h.CreateRenewal)
						r.Get("/chat", h.ListChat)
						r.Post("/chat", h.PostChat)
						r.Get("/timeline", h.GetTimeline)
						r.Get("/statement", h.GetStatement)
						r.Get("/statement/pdf", h.GetStatementPDF)
					})
				})

				// Deleted customer routes
				r.Route("/deleted-customers", func(r chi.Router) {
					r.Get("/", h.ListDeletedCustomers)
					r.Get("/{customerId}", h.GetDeletedCustomer)
					r.Get("/{customerId}/timeline", h.GetDeletedTimeline)
					r.Get("/{customerId}/statement", h.GetDeletedStatement)
					r.Post("/{customerId}/restore", h.RestoreCustomer)
				})

				// Account routes
				r.Route("/accounts", func(r chi.Router) {
					r.Get("/", h.ListAccounts)
					r.Post("/", h.CreateAccount)
					r.Put("/{accountId}", h.RenameAccount)
					r.Delete("/{accountId}", h.DeleteAccount)
					r.Get("/{accountId}/entries", h.ListEntries)
					r.Post("/{accountId}/entries", h.AddEntry)
					r.Put("/{accountId}/entries/{entryId}", h.UpdateEntry)
					r.Delete("/{accountId}/entries/{entryId}", h.DeleteEntry)
				})
			})
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/backup", h.RunBackup)
			r.Get("/backup/download", h.DownloadBackup)
			r.Post("/backup/restore", h.RestoreBackup)
			r.Post("/backup/restore-remote", h.RestoreRemoteBackup)
			r.Post("/reconcile", h.Reconcile)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// requestLogger logs one line per request with zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote", r.RemoteAddr))
		})
	}
}
