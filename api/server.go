/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. Recoverer:     Panic recovery (500 instead of crash)
  3. RequestLogger: One zerolog line per request
  4. CORS:          Cross-origin requests for the back office
  5. Tenant:        X-Organization-ID / X-Actor-ID (under /api only)
  6. Idempotency:   Response replay on allocate, generate and bulk

ROUTE GROUPS:
  /healthz                   Liveness (no tenant)
  /api/pools/*               Pools, variants, utilization, allocations
  /api/rate-plans/*          Rate plans and bucket generation
  /api/buckets/*             Bucket listing and manual edits
  /api/contracts/*           Contract versions per contract
  /api/contract-versions/*   Version edits, attrition, bulk
  /api/audit                 Audit trail
  /api/admin/*               Lifecycle run
  /api/scenarios/*           Demo data (dev only)

SECURITY NOTE:
  No authentication middleware. The organization header is trusted as
  sent; put the service behind a gateway that sets it.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Tenant, logging and idempotency middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/allocation-engine/cache"
)

// RouterOptions carries the optional parts of the router.
type RouterOptions struct {
	AllowedOrigins []string
	// Idempotency replays retried POSTs when set.
	Idempotency    cache.IdempotencyStore
	IdempotencyTTL time.Duration
	// Scenarios mounts the demo data routes, which can wipe the database.
	Scenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", headerOrganization, headerActor, headerIdempotency},
		ExposedHeaders:   []string{headerReplayed},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	ttl := opts.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	idempotent := Idempotency(opts.Idempotency, ttl)

	r.Route("/api", func(r chi.Router) {
		r.Use(Tenant)

		r.Route("/pools", func(r chi.Router) {
			r.Get("/", h.ListPools)
			r.Post("/", h.CreatePool)
			r.Get("/{id}", h.GetPool)
			r.Put("/{id}", h.UpdatePool)
			r.Delete("/{id}", h.DeletePool)
			r.Post("/{id}/duplicate", h.DuplicatePool)

			r.Get("/{id}/variants", h.ListVariants)
			r.Post("/{id}/variants", h.SaveVariant)
			r.Delete("/{id}/variants/{variantID}", h.RemoveVariant)

			r.Get("/{id}/utilization", h.PoolUtilization)

			r.With(idempotent).Post("/{id}/allocations", h.Allocate)
			r.Post("/{id}/allocations/{allocationID}/confirm", h.ConfirmAllocation)
			r.Post("/{id}/allocations/{allocationID}/release", h.ReleaseAllocation)
		})

		r.Route("/rate-plans", func(r chi.Router) {
			r.Post("/", h.CreateRatePlan)
			r.Get("/{id}", h.GetRatePlan)
			r.Get("/{id}/allocations:estimate", h.EstimateAllocations)
			r.With(idempotent).Post("/{id}/allocations:generate", h.GenerateAllocations)
		})

		r.Route("/buckets", func(r chi.Router) {
			r.Get("/", h.ListBuckets)
			r.Patch("/{id}", h.EditBucket)
			r.Get("/{id}/utilization", h.BucketUtilization)
		})

		r.Route("/contracts", func(r chi.Router) {
			r.Get("/{id}/versions", h.ListContractVersions)
			r.Post("/{id}/versions", h.CreateContractVersion)
		})

		r.Route("/contract-versions", func(r chi.Router) {
			r.With(idempotent).Post("/bulk", h.BulkContractVersions)
			r.Get("/{versionID}", h.GetContractVersion)
			r.Put("/{versionID}", h.UpdateContractVersion)
			r.Delete("/{versionID}", h.DeleteContractVersion)
			r.Post("/{versionID}/duplicate", h.DuplicateContractVersion)
			r.Get("/{versionID}/attrition", h.EvaluateAttrition)
			r.Get("/{versionID}/attrition/windows", h.AttritionWindows)
		})

		r.Get("/audit", h.ListAudit)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/lifecycle/run", h.RunLifecycle)
		})

		if opts.Scenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		}
	})

	return r
}
