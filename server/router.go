package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router. CORS runs ahead of the bearer guard so
// that preflight requests never need a token.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(a.Metrics.Middleware)
	r.Use(RecoveryMiddleware(a.Logger, a.Config.Server.DevMode))
	r.Use(CORSMiddleware(a.Config.Server.CORS))
	if !a.Config.Server.DevMode {
		r.Use(SecurityHeadersMiddleware(a.Config.Server.TLS.HSTSMaxAge))
	}

	// Every route, including unknown ones, requires an authenticated caller.
	r.Use(a.Guard.Authenticate)
	r.Use(a.Guard.Authorize)
	r.Use(SubjectLogMiddleware)

	r.Get("/api/orders", a.handleListOrders)
	r.Post("/api/orders", a.handleCreateOrder)

	if a.Config.Server.DebugEnabled() {
		r.Get("/api/whoami", a.handleWhoAmI)
	}

	return r
}
