// Package web serves the client's views over HTTP for a local browser
// front-end. Every response is a JSON snapshot of an orchestrator view.
package web

import (
	"context"
	"log/slog"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/starford/masail/internal/gate"
	"github.com/starford/masail/internal/models"
	"github.com/starford/masail/internal/orchestrator"
	"github.com/starford/masail/internal/routes"
	"github.com/starford/masail/internal/session"
	"github.com/starford/masail/internal/sse"
)

const maxUploadBytes = 50 << 20 // 50 MB

// Sessions is the part of session.Store the front-end drives.
type Sessions interface {
	gate.SessionSource
	Settled() <-chan struct{}
	Login(ctx context.Context, creds models.Credentials) error
	Logout() error
}

// Views bundles the orchestrators behind the routes.
type Views struct {
	Search    *orchestrator.Search
	Document  *orchestrator.DocumentView
	Approval  *orchestrator.Approval
	Dashboard *orchestrator.Dashboard
	Upload    *orchestrator.Upload
}

// Handler holds the route handlers.
type Handler struct {
	sessions Sessions
	views    Views
	events   *sse.Broker
	log      *slog.Logger

	// uploadMu makes select+submit atomic per upload request.
	uploadMu sync.Mutex
}

var _ Sessions = (*session.Store)(nil)

// NewRouter creates the front-end router. Views under /admin pass through
// the authorization gate.
func NewRouter(sessions Sessions, views Views, events *sse.Broker, logger *slog.Logger) chi.Router {
	h := &Handler{sessions: sessions, views: views, events: events, log: logger.With("component", "web")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", h.Live)
	r.Get("/health/ready", h.Ready)

	r.Get(routes.Search, h.SearchView)
	r.Post(routes.Search, h.SubmitSearch)
	r.Get(routes.Document, h.DocumentView)

	r.Post(routes.Login, h.Login)
	r.Post("/admin/logout", h.Logout)

	r.Group(func(r chi.Router) {
		r.Use(gate.Middleware(sessions, routes.Login, h.log))
		r.Get(routes.Admin, h.Dashboard)
		r.Get(routes.Approval, h.ApprovalQueue)
		r.Post(routes.Approval+"/{id}", h.Decide)
		r.Get(routes.Upload, h.UploadView)
		r.Post(routes.Upload, h.Upload)
	})

	if events != nil {
		r.Get("/events", events.ServeHTTP)
	}

	return r
}
