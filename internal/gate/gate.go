// Package gate decides whether a protected view may be entered.
package gate

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/starford/masail/internal/apperr"
	"github.com/starford/masail/internal/session"
)

// Decision is the outcome of Decide.
type Decision int

const (
	// Defer means the session check has not settled; render nothing yet.
	Defer Decision = iota
	// Allow means the protected view may render.
	Allow
	// Redirect means navigation goes to the login view.
	Redirect
)

func (d Decision) String() string {
	switch d {
	case Defer:
		return "defer"
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	}
	return "unknown"
}

// Decide is the gate. While the session is loading it never redirects.
func Decide(s session.Session) Decision {
	switch {
	case s.Loading:
		return Defer
	case s.IsAuthenticated:
		return Allow
	default:
		return Redirect
	}
}

// SessionSource is the part of session.Store the gate reads.
type SessionSource interface {
	Snapshot() session.Session
	Wait(ctx context.Context) (session.Session, error)
}

// Require blocks until the session has settled and returns
// apperr.ErrUnauthenticated when the protected action must not run.
func Require(ctx context.Context, src SessionSource) error {
	snap := src.Snapshot()
	if Decide(snap) == Defer {
		var err error
		if snap, err = src.Wait(ctx); err != nil {
			return err
		}
	}
	if Decide(snap) != Allow {
		return apperr.ErrUnauthenticated
	}
	return nil
}

// Middleware guards an HTTP handler. A deferred decision holds the request
// until the session settles; if the client goes away first nothing is
// written. Unauthenticated requests are sent to loginPath with 303.
func Middleware(src SessionSource, loginPath string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap := src.Snapshot()
			if Decide(snap) == Defer {
				var err error
				if snap, err = src.Wait(r.Context()); err != nil {
					logger.Debug("gate: request gone while deferring", slog.String("path", r.URL.Path))
					return
				}
			}
			if Decide(snap) == Allow {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Location", loginPath)
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusSeeOther)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":    "unauthorized",
				"redirect": loginPath,
			})
		})
	}
}
