// Package session holds the client's authentication state: the bearer
// token, the identity it belongs to, and whether it has been validated.
//
// The in-memory Session is authoritative for the lifetime of a Store. The
// persisted token is a shadow copy kept in sync under the same lock, so a
// reader never sees "authenticated" in one place and not in the other.
// The one exception is a Logout whose removal fails: memory is cleared but
// the token stays on disk (see ErrTokenRetained).
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/starford/masail/internal/apperr"
	"github.com/starford/masail/internal/models"
	"github.com/starford/masail/internal/storage"
)

// ErrTokenRetained is returned by Logout when the persisted token could not
// be removed. This process is logged out, but the next CheckSession will
// find the token and may restore the session.
var ErrTokenRetained = errors.New("persisted token retained")

// AuthAPI is the subset of the API client the store needs.
type AuthAPI interface {
	Login(ctx context.Context, creds models.Credentials) (*models.LoginResponse, error)
	Me(ctx context.Context, token string) (*models.User, error)
}

// Session is a point-in-time view of the authentication state.
type Session struct {
	Token           string       `json:"-"`
	User            *models.User `json:"user,omitempty"`
	IsAuthenticated bool         `json:"is_authenticated"`
	Loading         bool         `json:"loading"`
	// ExpiresAt is decoded from a JWT exp claim for display only; zero for opaque tokens.
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Store owns the Session. Create one per process with New, call
// CheckSession once at startup, and Close it on shutdown.
type Store struct {
	auth     AuthAPI
	persist  storage.Provider
	log      *slog.Logger
	onChange []func(Session)

	mu    sync.RWMutex
	state Session
	// gen is bumped by Login and Logout so that a slower initial check
	// cannot overwrite a newer decision.
	gen uint64

	checkOnce sync.Once
	settled   chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithOnChange registers fn to be called with the new Session after every
// state change. fn runs outside the store lock.
func WithOnChange(fn func(Session)) Option {
	return func(s *Store) { s.onChange = append(s.onChange, fn) }
}

// New creates a Store in the loading state.
func New(auth AuthAPI, persist storage.Provider, opts ...Option) *Store {
	s := &Store{
		auth:    auth,
		persist: persist,
		log:     slog.Default(),
		state:   Session{Loading: true},
		settled: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "session")
	return s
}

// Snapshot returns the current Session.
func (s *Store) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Token returns the current bearer token, or "".
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Token
}

// Settled is closed once the initial CheckSession has completed.
func (s *Store) Settled() <-chan struct{} { return s.settled }

// Wait blocks until the initial check has settled or ctx is done.
func (s *Store) Wait(ctx context.Context) (Session, error) {
	select {
	case <-s.settled:
		return s.Snapshot(), nil
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}
}

// CheckSession validates the persisted token against the identity endpoint.
// It runs at most once per Store; later calls return the current state.
// Any failure discards the persisted token. It always leaves Loading false.
func (s *Store) CheckSession(ctx context.Context) Session {
	s.checkOnce.Do(func() {
		s.mu.RLock()
		gen := s.gen
		s.mu.RUnlock()

		token, err := s.persist.Get(storage.KeyToken)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			s.log.Warn("read persisted token failed", slog.String("error", err.Error()))
		}

		var user *models.User
		var checkErr error
		if token != "" {
			user, checkErr = s.auth.Me(ctx, token)
		}

		s.mu.Lock()
		switch {
		case s.gen != gen:
			// Login or Logout already decided the state.
		case token == "":
		case checkErr != nil:
			s.log.Info("persisted token rejected", slog.String("error", checkErr.Error()))
			if err := s.persist.Remove(storage.KeyToken); err != nil {
				s.log.Warn("discard persisted token failed", slog.String("error", err.Error()))
			}
			s.state = Session{}
		default:
			s.state = Session{
				Token:           token,
				User:            user,
				IsAuthenticated: true,
				ExpiresAt:       expiry(token),
			}
		}
		s.state.Loading = false
		snap := s.state
		s.mu.Unlock()

		close(s.settled)
		s.notify(snap)
	})
	return s.Snapshot()
}

// Login exchanges credentials for a token. On success the token is
// persisted before the in-memory state flips to authenticated. On failure
// the previous state is left untouched and nothing is persisted.
func (s *Store) Login(ctx context.Context, creds models.Credentials) error {
	if err := validation.ValidateStruct(&creds,
		validation.Field(&creds.Username, validation.Required),
		validation.Field(&creds.Password, validation.Required),
	); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}

	resp, err := s.auth.Login(ctx, creds)
	if err != nil {
		s.log.Info("login failed", slog.String("username", creds.Username), slog.String("error", err.Error()))
		return err
	}

	s.mu.Lock()
	if err := s.persist.Set(storage.KeyToken, resp.AccessToken); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("session: persist token: %w", err)
	}
	s.gen++
	user := resp.User
	if user == nil {
		user = &models.User{Username: creds.Username}
	}
	s.state = Session{
		Token:           resp.AccessToken,
		User:            user,
		IsAuthenticated: true,
		Loading:         s.state.Loading,
		ExpiresAt:       expiry(resp.AccessToken),
	}
	snap := s.state
	s.mu.Unlock()

	s.log.Info("logged in", slog.String("username", user.Username))
	s.notify(snap)
	return nil
}

// Logout clears the persisted token and the in-memory identity. It makes
// no network call and is idempotent. The in-memory state is cleared even
// if removing the persisted copy fails; the error then wraps
// ErrTokenRetained and callers must tell the user the stored token remains.
func (s *Store) Logout() error {
	s.mu.Lock()
	s.gen++
	err := s.persist.Remove(storage.KeyToken)
	wasAuthenticated := s.state.IsAuthenticated
	s.state = Session{Loading: s.state.Loading}
	snap := s.state
	s.mu.Unlock()

	if wasAuthenticated {
		s.log.Info("logged out")
	}
	s.notify(snap)
	if err != nil {
		s.log.Warn("logout: persisted token retained", slog.String("error", err.Error()))
		return fmt.Errorf("session: %w: %w", ErrTokenRetained, err)
	}
	return nil
}

// Close releases the persistence backend.
func (s *Store) Close() error {
	return s.persist.Close()
}

func (s *Store) notify(snap Session) {
	for _, fn := range s.onChange {
		fn(snap)
	}
}

// expiry returns the exp claim of a JWT without verifying it.
func expiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
