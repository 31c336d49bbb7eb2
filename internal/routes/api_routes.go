package routes

import (
	"github.com/go-chi/chi/v5"

	"cryptorafts/platform/internal/api"
	"cryptorafts/platform/internal/middleware"
)

// RegisterAPIRoutes registers all API v1 routes and handlers
func RegisterAPIRoutes(r chi.Router, deps *api.Dependencies, handlers *api.Handlers, limiter *middleware.RateLimiter) {
	r.Route("/api/v1", func(v1 chi.Router) {
		v1.Use(limiter.Middleware)
		v1.Use(middleware.AuthMiddleware(deps.Config.JWTSecret)) // global: all routes must be authenticated
		v1.Use(middleware.CookieJarMiddleware)
		if !deps.Config.IsProduction() {
			v1.Use(middleware.Logging)
		}

		v1.Route("/roles", func(roles chi.Router) {
			roles.Post("/detect", handlers.DetectRole())
			roles.Post("/switch", handlers.SwitchRole())
			roles.Get("/stats", handlers.RoleStats())
			roles.Post("/optimize", handlers.OptimizeRoles())
			roles.Delete("/cache", handlers.ClearRoleCache())

			roles.With(middleware.IsAdminMiddleware(deps.Services.Users)).Post("/batch", handlers.BatchRoles())
		})

		v1.Route("/calls", func(calls chi.Router) {
			calls.Post("/", handlers.StartCall())
			calls.Get("/incoming", handlers.IncomingCalls())
			calls.Get("/{callID}", handlers.GetCall())
			calls.Post("/{callID}/join", handlers.JoinCall())
			calls.Post("/{callID}/leave", handlers.LeaveCall())
			calls.Post("/{callID}/end", handlers.EndCall())
			calls.Put("/{callID}/status", handlers.SetCallStatus())
			calls.Get("/{callID}/events", handlers.CallEvents())
		})

		v1.Get("/notifications", handlers.ListNotifications())
		v1.Post("/notifications/{notificationID}/read", handlers.MarkNotificationRead())

		// Admin-only group
		v1.Route("/admin", func(admin chi.Router) {
			admin.Use(middleware.IsAdminMiddleware(deps.Services.Users))
			admin.Delete("/cache", handlers.ClearAllRoleCache())
		})
	})
}
