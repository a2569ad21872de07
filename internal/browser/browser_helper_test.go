// internal/browser/browser_helper_test.go
package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/semaphore"
)

const (
	maxTestConcurrency        = 2
	defaultBrowserTestTimeout = 120 * time.Second
	semaphoreAcquireTimeout   = 10 * time.Second
)

var (
	processSemaphore     *semaphore.Weighted
	processSemaphoreOnce sync.Once
)

// browserSemaphore limits concurrent Chromium processes across tests.
func browserSemaphore() *semaphore.Weighted {
	processSemaphoreOnce.Do(func() {
		n := int64(runtime.GOMAXPROCS(0))
		if n > maxTestConcurrency {
			n = maxTestConcurrency
		}
		processSemaphore = semaphore.NewWeighted(n)
	})
	return processSemaphore
}

// findBrowser returns a Chromium-family binary or skips the test.
func findBrowser(t *testing.T) string {
	t.Helper()
	for _, name := range []string{"chromium", "chromium-browser", "google-chrome", "google-chrome-stable"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("no Chromium-family browser found in PATH")
	return ""
}

// newTestSession starts a headless browser and opens one session. Cleanup
// shuts everything down.
func newTestSession(t *testing.T) (context.Context, *Session) {
	t.Helper()
	if testing.Short() {
		t.Skip("browser tests are skipped in short mode")
	}
	execPath := findBrowser(t)

	ctx, cancel := context.WithTimeout(context.Background(), defaultBrowserTestTimeout)
	t.Cleanup(cancel)

	sem := browserSemaphore()
	acquireCtx, acquireCancel := context.WithTimeout(ctx, semaphoreAcquireTimeout)
	defer acquireCancel()
	require.NoError(t, sem.Acquire(acquireCtx, 1), "timed out waiting for a browser slot")
	t.Cleanup(func() { sem.Release(1) })

	cfg := testBrowserConfig()
	cfg.Headless = true
	cfg.ExecPath = execPath

	m, err := NewManager(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	s, err := m.NewSession(ctx)
	require.NoError(t, err)
	return ctx, s
}

// newLoginPage serves a two-field form whose submit button writes the typed
// email into #status.
func newLoginPage(t *testing.T) *httptest.Server {
	t.Helper()
	const page = `<!doctype html><html><body style="margin:0">
<input id="email" style="position:absolute;left:0;top:0;width:200px;height:40px">
<button id="login" style="position:absolute;left:0;top:60px;width:200px;height:40px"
  onclick="document.getElementById('status').textContent='hello '+document.getElementById('email').value">Log in</button>
<div id="status" style="position:absolute;left:0;top:120px"></div>
</body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, page)
	}))
	t.Cleanup(srv.Close)
	return srv
}
