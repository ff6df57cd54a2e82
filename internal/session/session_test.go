package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/masail/internal/apperr"
	"github.com/starford/masail/internal/client"
	"github.com/starford/masail/internal/endpoint"
	"github.com/starford/masail/internal/models"
	"github.com/starford/masail/internal/storage"
	"github.com/starford/masail/internal/testutil"
)

func newAPIClient(t *testing.T, api *testutil.FakeAPI) *client.Client {
	t.Helper()
	reg, err := endpoint.New(api.URL())
	require.NoError(t, err)
	return client.New(reg, client.WithLogger(testutil.Logger()))
}

func newStore(t *testing.T, auth AuthAPI, persist storage.Provider, opts ...Option) *Store {
	t.Helper()
	return New(auth, persist, append([]Option{WithLogger(testutil.Logger())}, opts...)...)
}

func TestNew_StartsLoading(t *testing.T) {
	api := testutil.NewFakeAPI(t)
	s := newStore(t, newAPIClient(t, api), testutil.TestStorage(t))
	snap := s.Snapshot()
	assert.True(t, snap.Loading)
	assert.False(t, snap.IsAuthenticated)
	select {
	case <-s.Settled():
		t.Fatal("settled before CheckSession")
	default:
	}
}

func TestCheckSession_NoToken(t *testing.T) {
	api := testutil.NewFakeAPI(t)
	s := newStore(t, newAPIClient(t, api), testutil.TestStorage(t))

	snap := s.CheckSession(context.Background())
	assert.False(t, snap.Loading)
	assert.False(t, snap.IsAuthenticated)
	assert.Empty(t, api.Calls(), "no identity call without a token")
	<-s.Settled()
}

func TestLoginThenReload(t *testing.T) {
	api := testutil.NewFakeAPI(t)
	c := newAPIClient(t, api)
	persist := testutil.TestStorage(t)

	s := newStore(t, c, persist)
	s.CheckSession(context.Background())
	require.NoError(t, s.Login(context.Background(), models.Credentials{Username: "admin", Password: "secret"}))
	assert.True(t, s.Snapshot().IsAuthenticated)

	// A fresh store on the same persistence simulates a page reload.
	reloaded := newStore(t, c, persist)
	snap := reloaded.CheckSession(context.Background())
	assert.True(t, snap.IsAuthenticated)
	assert.False(t, snap.Loading)
	require.NotNil(t, snap.User)
	assert.Equal(t, "admin", snap.User.Username)
	assert.Equal(t, api.Token, reloaded.Token())
}

func TestLogin_WrongPassword(t *testing.T) {
	api := testutil.NewFakeAPI(t)
	persist := testutil.TestStorage(t)
	s := newStore(t, newAPIClient(t, api), persist)
	s.CheckSession(context.Background())

	err := s.Login(context.Background(), models.Credentials{Username: "admin", Password: "wrong"})
	require.Error(t, err)
	assert.False(t, s.Snapshot().IsAuthenticated)
	_, getErr := persist.Get(storage.KeyToken)
	assert.ErrorIs(t, getErr, apperr.ErrNotFound, "no token may be persisted")
}

func TestLogin_FailureKeepsPriorSession(t *testing.T) {
	api := testutil.NewFakeAPI(t)
	s := newStore(t, newAPIClient(t, api), testutil.TestStorage(t))
	s.CheckSession(context.Background())
	require.NoError(t, s.Login(context.Background(), models.Credentials{Username: "admin", Password: "secret"}))

	err := s.Login(context.Background(), models.Credentials{Username: "admin", Password: "nope"})
	require.Error(t, err)
	assert.True(t, s.Snapshot().IsAuthenticated)
	assert.Equal(t, api.Token, s.Token())
}

func TestLogin_EmptyCredentialsRejectedLocally(t *testing.T) {
	api := testutil.NewFakeAPI(t)
	s := newStore(t, newAPIClient(t, api), testutil.TestStorage(t))
	err := s.Login(context.Background(), models.Credentials{Username: "admin"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	assert.Empty(t, api.Calls())
}

func TestLogoutThenReload(t *testing.T) {
	api := testutil.NewFakeAPI(t)
	c := newAPIClient(t, api)
	persist := testutil.TestStorage(t)

	s := newStore(t, c, persist)
	s.CheckSession(context.Background())
	require.NoError(t, s.Login(context.Background(), models.Credentials{Username: "admin", Password: "secret"}))
	require.NoError(t, s.Logout())
	require.NoError(t, s.Logout(), "logout is idempotent")
	assert.False(t, s.Snapshot().IsAuthenticated)
	assert.Nil(t, s.Snapshot().User)

	reloaded := newStore(t, c, persist)
	assert.True(t, reloaded.Snapshot().Loading)
	snap := reloaded.CheckSession(context.Background())
	assert.False(t, snap.Loading)
	assert.False(t, snap.IsAuthenticated)
}

func TestCheckSession_InvalidTokenDiscarded(t *testing.T) {
	api := testutil.NewFakeAPI(t)
	persist := testutil.TestStorage(t)
	require.NoError(t, persist.Set(storage.KeyToken, "stale"))

	s := newStore(t, newAPIClient(t, api), persist)
	snap := s.CheckSession(context.Background())
	assert.False(t, snap.IsAuthenticated)
	assert.False(t, snap.Loading)
	_, err := persist.Get(storage.KeyToken)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCheckSession_NetworkFailureDiscards(t *testing.T) {
	reg, err := endpoint.New("http://127.0.0.1:1")
	require.NoError(t, err)
	persist := testutil.TestStorage(t)
	require.NoError(t, persist.Set(storage.KeyToken, "tok"))

	s := newStore(t, client.New(reg, client.WithLogger(testutil.Logger())), persist)
	snap := s.CheckSession(context.Background())
	assert.False(t, snap.IsAuthenticated)
	assert.False(t, snap.Loading)
	_, err = persist.Get(storage.KeyToken)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

// blockingAuth lets a test hold the identity check open.
type blockingAuth struct {
	entered chan struct{}
	release chan struct{}
	meErr   error
}

func (b *blockingAuth) Login(_ context.Context, creds models.Credentials) (*models.LoginResponse, error) {
	return &models.LoginResponse{AccessToken: "fresh", User: &models.User{Username: creds.Username}}, nil
}

func (b *blockingAuth) Me(ctx context.Context, _ string) (*models.User, error) {
	close(b.entered)
	<-b.release
	return nil, b.meErr
}

func TestCheckSession_RunsOnceAndDoesNotClobberLogin(t *testing.T) {
	auth := &blockingAuth{entered: make(chan struct{}), release: make(chan struct{}), meErr: errors.New("expired")}
	persist := testutil.TestStorage(t)
	require.NoError(t, persist.Set(storage.KeyToken, "old"))
	s := newStore(t, auth, persist)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.CheckSession(context.Background())
	}()
	<-auth.entered

	require.NoError(t, s.Login(context.Background(), models.Credentials{Username: "u", Password: "p"}))
	assert.True(t, s.Snapshot().Loading, "still loading while check is in flight")
	close(auth.release)
	wg.Wait()

	snap := s.Snapshot()
	assert.False(t, snap.Loading)
	assert.True(t, snap.IsAuthenticated, "stale check result must not log the user out")
	tok, err := persist.Get(storage.KeyToken)
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)

	// Second call is a no-op.
	assert.Equal(t, snap, s.CheckSession(context.Background()))
}

func TestWait(t *testing.T) {
	api := testutil.NewFakeAPI(t)
	s := newStore(t, newAPIClient(t, api), testutil.TestStorage(t))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	s.CheckSession(context.Background())
	snap, err := s.Wait(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.Loading)
}

func TestOnChange(t *testing.T) {
	api := testutil.NewFakeAPI(t)
	var seen []bool
	s := newStore(t, newAPIClient(t, api), testutil.TestStorage(t),
		WithOnChange(func(snap Session) { seen = append(seen, snap.IsAuthenticated) }))

	s.CheckSession(context.Background())
	require.NoError(t, s.Login(context.Background(), models.Credentials{Username: "admin", Password: "secret"}))
	require.NoError(t, s.Logout())
	assert.Equal(t, []bool{false, true, false}, seen)
}

func TestExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "1", "exp": exp.Unix()}).
		SignedString([]byte("k"))
	require.NoError(t, err)
	assert.True(t, expiry(tok).Equal(exp))
	assert.True(t, expiry("opaque-token").IsZero())
}

type stickyStorage struct {
	storage.Provider
}

func (stickyStorage) Remove(string) error { return errors.New("read-only filesystem") }

func TestLogout_RemoveFailureRetainsToken(t *testing.T) {
	api := testutil.NewFakeAPI(t)
	c := newAPIClient(t, api)
	persist := stickyStorage{testutil.TestStorage(t)}

	s := newStore(t, c, persist)
	s.CheckSession(context.Background())
	require.NoError(t, s.Login(context.Background(), models.Credentials{Username: "admin", Password: "secret"}))

	err := s.Logout()
	require.ErrorIs(t, err, ErrTokenRetained)
	assert.False(t, s.Snapshot().IsAuthenticated)
	assert.Empty(t, s.Token())

	// The token left on disk brings the session back on the next start.
	reloaded := newStore(t, c, persist)
	assert.True(t, reloaded.CheckSession(context.Background()).IsAuthenticated)
}
