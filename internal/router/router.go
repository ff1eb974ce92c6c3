package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quickserve-pos/api/internal/config"
	"github.com/quickserve-pos/api/internal/database"
	"github.com/quickserve-pos/api/internal/enum"
	"github.com/quickserve-pos/api/internal/handler"
	mw "github.com/quickserve-pos/api/internal/middleware"
	"github.com/quickserve-pos/api/internal/service"
	"github.com/quickserve-pos/api/internal/ws"
)

// New creates a Chi router with all application routes wired up.
func New(cfg *config.Config, store *database.Store, pool *pgxpool.Pool, hub *ws.Hub, events ws.Publisher, payments service.PaymentProcessor) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Auth routes (public)
	authHandler := handler.NewAuthHandler(store, cfg.JWTSecret)
	authHandler.RegisterRoutes(r)

	// Realtime channel (authenticates via token query param + join frame)
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, cfg.JWTSecret, store, w, r)
	})

	// Services
	newStore := func(db database.DBTX) service.PlacementStore {
		return database.New(db)
	}
	placement := service.NewPlacementService(pool, store, newStore, payments, events)
	fulfillment := service.NewFulfillmentService(store, events)
	inventory := service.NewInventoryService(store, events)

	orderHandler := handler.NewOrderHandler(placement, fulfillment, store)
	inventoryHandler := handler.NewInventoryHandler(inventory)

	// Protected, location-scoped routes
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		r.Route("/locations/{lid}", func(r chi.Router) {
			r.Use(mw.RequireLocation(store))

			r.Route("/orders", func(r chi.Router) {
				r.Use(mw.RequireRole(enum.UserRoleTerminal))
				orderHandler.RegisterTerminalRoutes(r)
			})

			r.Route("/kitchen/orders", func(r chi.Router) {
				r.Use(mw.RequireRole(enum.UserRoleOwner, enum.UserRoleStaff, enum.UserRoleKitchen))
				orderHandler.RegisterKitchenRoutes(r)
			})

			r.Route("/displays/orders", func(r chi.Router) {
				orderHandler.RegisterDisplayRoutes(r)
			})

			// Any location member may read the menu; edits are staff-only.
			r.Route("/inventory", func(r chi.Router) {
				r.Get("/", inventoryHandler.List)
				r.With(mw.RequireRole(enum.UserRoleOwner, enum.UserRoleStaff)).
					Patch("/{itemID}", inventoryHandler.Update)
			})
		})
	})

	return r
}
