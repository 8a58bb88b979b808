package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/safar/flower-store/internal/api/middleware"
	"github.com/safar/flower-store/internal/auth"
)

func NewRouter(server *Server, jwtService *auth.JWTService, logger zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		server.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", server.handleRegister)
			r.Post("/login", server.handleLogin)
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", server.handleListProducts)
			r.Get("/{id}", server.handleGetProduct)
			r.Group(func(r chi.Router) {
				r.Use(middleware.Auth(jwtService), middleware.RequireAdmin)
				r.Post("/", server.handleCreateProduct)
				r.Put("/{id}", server.handleUpdateProduct)
				r.Delete("/{id}", server.handleDeleteProduct)
			})
		})

		r.Route("/categories", func(r chi.Router) {
			r.Get("/", server.handleListCategories)
			r.Get("/{id}", server.handleGetCategory)
			r.Group(func(r chi.Router) {
				r.Use(middleware.Auth(jwtService), middleware.RequireAdmin)
				r.Post("/", server.handleCreateCategory)
				r.Put("/{id}", server.handleUpdateCategory)
				r.Delete("/{id}", server.handleDeleteCategory)
			})
		})

		r.Route("/orders", func(r chi.Router) {
			// Gateway-signed webhook; authenticated by MAC, not by JWT.
			r.Post("/callback", server.handlePaymentCallback)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Auth(jwtService))
				r.Post("/", server.handleCreateOrder)
				r.Get("/user", server.handleListUserOrders)
				r.Get("/{id}", server.handleGetOrder)
				r.Put("/{id}/status", server.handleUpdateOrderStatus)
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.Auth(jwtService), middleware.RequireAdmin)
				r.Get("/", server.handleListOrders)
				r.Delete("/{id}", server.handleDeleteOrder)
			})
		})
	})

	return r
}
