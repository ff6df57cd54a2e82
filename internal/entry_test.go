package internal

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/masail/internal/models"
	"github.com/starford/masail/internal/sse"
	"github.com/starford/masail/internal/storage"
	"github.com/starford/masail/internal/testutil"
)

func testApp(t *testing.T, api *testutil.FakeAPI, driver, statePath string) *App {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.API.BaseURL = api.URL()
	cfg.Storage.Driver = driver
	cfg.Storage.Path = statePath
	require.NoError(t, cfg.Validate())

	app, err := New(WithConfig(cfg), WithLogOutput(io.Discard))
	require.NoError(t, err)
	return app
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New()
	require.Error(t, err)
}

func TestApp_SessionSurvivesRestart(t *testing.T) {
	for _, driver := range []string{storage.DriverFile, storage.DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			api := testutil.NewFakeAPI(t)
			state := filepath.Join(t.TempDir(), "state")

			app := testApp(t, api, driver, state)
			app.Session.CheckSession(context.Background())
			require.NoError(t, app.Session.Login(context.Background(),
				models.Credentials{Username: api.Username, Password: api.Password}))
			require.NoError(t, app.Close())

			app = testApp(t, api, driver, state)
			t.Cleanup(func() { _ = app.Close() })
			s := app.Session.CheckSession(context.Background())
			assert.True(t, s.IsAuthenticated)
			assert.False(t, s.Loading)

			st, err := app.Views.Approval.Fetch(context.Background())
			require.NoError(t, err)
			assert.Len(t, st.Items, 3)
		})
	}
}

func TestApp_SessionChangesArePublished(t *testing.T) {
	api := testutil.NewFakeAPI(t)
	app := testApp(t, api, storage.DriverFile, filepath.Join(t.TempDir(), "state.json"))
	t.Cleanup(func() { _ = app.Close() })

	events := app.Events.Subscribe()
	app.Session.CheckSession(context.Background())

	select {
	case msg := <-events:
		assert.Contains(t, string(msg), "event: "+sse.TypeSessionChanged)
		assert.Contains(t, string(msg), `"is_authenticated":false`)
		assert.NotContains(t, string(msg), "token")
	case <-time.After(time.Second):
		t.Fatal("no session event")
	}
}
