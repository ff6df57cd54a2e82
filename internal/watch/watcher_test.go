package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/masail/internal/client"
	"github.com/starford/masail/internal/endpoint"
	"github.com/starford/masail/internal/models"
	"github.com/starford/masail/internal/orchestrator"
	"github.com/starford/masail/internal/session"
	"github.com/starford/masail/internal/storage"
	"github.com/starford/masail/internal/testutil"
)

type watchEnv struct {
	api    *testutil.FakeAPI
	store  *session.Store
	ledger storage.Provider
	dir    string

	mu       sync.Mutex
	progress map[string][]int
}

func startWatch(t *testing.T, login bool) *watchEnv {
	t.Helper()
	api := testutil.NewFakeAPI(t)
	reg, err := endpoint.New(api.URL())
	require.NoError(t, err)

	log := testutil.Logger()
	base := client.New(reg, client.WithLogger(log))
	ledger := testutil.TestStorage(t)
	store := session.New(base, ledger, session.WithLogger(log))
	store.CheckSession(context.Background())
	if login {
		require.NoError(t, store.Login(context.Background(), models.Credentials{Username: api.Username, Password: api.Password}))
	}

	e := &watchEnv{api: api, store: store, ledger: ledger, dir: t.TempDir(), progress: map[string][]int{}}
	up := orchestrator.NewUpload(base.WithTokens(store), "", log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, e.dir, up, store, ledger, log, func(file string, pct int) {
			e.mu.Lock()
			e.progress[file] = append(e.progress[file], pct)
			e.mu.Unlock()
		})
	}()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	// Let the watcher register the directory.
	time.Sleep(50 * time.Millisecond)
	return e
}

func (e *watchEnv) drop(t *testing.T, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, name), data, 0o600))
}

func TestWatch_UploadsDroppedPDF(t *testing.T) {
	e := startWatch(t, true)

	e.drop(t, "fatwa.pdf", testutil.PDF)
	require.Eventually(t, func() bool { return len(e.api.Uploads()) == 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "fatwa.pdf", e.api.Uploads()[0].Filename)

	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		p := e.progress["fatwa.pdf"]
		return len(p) > 0 && p[len(p)-1] == 100
	}, time.Second, 10*time.Millisecond)
}

func TestWatch_SkipsDuplicateContent(t *testing.T) {
	e := startWatch(t, true)

	e.drop(t, "a.pdf", testutil.PDF)
	require.Eventually(t, func() bool { return len(e.api.Uploads()) == 1 }, 3*time.Second, 20*time.Millisecond)

	e.drop(t, "copy-of-a.pdf", testutil.PDF)
	time.Sleep(3 * debounceDelay)
	assert.Len(t, e.api.Uploads(), 1)
}

func TestWatch_IgnoresWrongTypeAndHiddenFiles(t *testing.T) {
	e := startWatch(t, true)

	e.drop(t, "notes.txt", []byte("plain text"))
	e.drop(t, ".hidden.pdf", testutil.PDF)
	time.Sleep(3 * debounceDelay)
	assert.Empty(t, e.api.CallsTo("/admin/upload"))
}

func TestWatch_RequiresSession(t *testing.T) {
	e := startWatch(t, false)

	e.drop(t, "fatwa.pdf", testutil.PDF)
	time.Sleep(3 * debounceDelay)
	assert.Empty(t, e.api.CallsTo("/admin/upload"))
}

func TestIgnored(t *testing.T) {
	assert.True(t, ignored("/x/.DS_Store"))
	assert.True(t, ignored("/x/a.pdf~"))
	assert.True(t, ignored("/x/a.pdf.part"))
	assert.False(t, ignored("/x/a.pdf"))
}
