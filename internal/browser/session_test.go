// internal/browser/session_test.go
package browser

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/dashcrawl/api/schemas"
	"github.com/xkilldash9x/dashcrawl/internal/config"
)

const loginPageHTML = `<!DOCTYPE html>
<html><body>
<form action="/dashboard" method="get">
  <input id="j_username" name="u">
  <input id="j_password" name="p" type="password">
  <input type="submit" value="Sign in">
</form>
<table class="pivot" style="width:120px;height:40px"><tr><td>Cases</td><td>42</td></tr></table>
</body></html>`

func TestSessionPrimitives(t *testing.T) {
	fixture := newTestFixture(t)
	server := createStaticTestServer(t, loginPageHTML)
	page := fixture.Page
	ctx := fixture.RootCtx

	require.NoError(t, page.Navigate(ctx, server.URL))
	assert.NotEmpty(t, page.ID())

	t.Run("Count", func(t *testing.T) {
		n, err := page.Count(ctx, "input")
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = page.Count(ctx, "svg.highcharts-root")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("TypeAndEvaluate", func(t *testing.T) {
		require.NoError(t, page.Type(ctx, "#j_username", "admin", 2*time.Millisecond))

		var value string
		require.NoError(t, page.Evaluate(ctx, `document.querySelector('#j_username').value`, &value))
		assert.Equal(t, "admin", value)
	})

	t.Run("EvaluateAwaitsPromises", func(t *testing.T) {
		var n int
		require.NoError(t, page.Evaluate(ctx, `new Promise(r => setTimeout(() => r(7), 10))`, &n))
		assert.Equal(t, 7, n)
	})

	t.Run("AddScriptTag", func(t *testing.T) {
		require.NoError(t, page.AddScriptTag(ctx, `window.__injected = "it's </script> safe";`))
		var got string
		require.NoError(t, page.Evaluate(ctx, `window.__injected`, &got))
		assert.Equal(t, "it's </script> safe", got)
	})

	t.Run("MissingElement", func(t *testing.T) {
		err := page.Click(ctx, "#does-not-exist")
		assert.ErrorIs(t, err, schemas.ErrElementNotFound)

		err = page.Type(ctx, "#does-not-exist", "x", 0)
		assert.ErrorIs(t, err, schemas.ErrElementNotFound)

		_, err = page.CaptureElement(ctx, "#does-not-exist", 2)
		assert.ErrorIs(t, err, schemas.ErrElementNotFound)
	})

	t.Run("CaptureElementScales", func(t *testing.T) {
		buf, err := page.CaptureElement(ctx, "table.pivot", 3)
		require.NoError(t, err)
		img, err := png.Decode(bytes.NewReader(buf))
		require.NoError(t, err)
		// 120px wide at 3x, give or take borders.
		assert.GreaterOrEqual(t, img.Bounds().Dx(), 300)
	})

	t.Run("Screenshot", func(t *testing.T) {
		buf, err := page.Screenshot(ctx, true)
		require.NoError(t, err)
		_, err = png.Decode(bytes.NewReader(buf))
		require.NoError(t, err)
	})

	t.Run("WaitForHonorsContext", func(t *testing.T) {
		short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, page.WaitFor(short, time.Minute), context.DeadlineExceeded)
		assert.NoError(t, page.WaitFor(ctx, 5*time.Millisecond))
	})
}

func TestSessionClickAndWait(t *testing.T) {
	fixture := newTestFixture(t)
	server := createTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if r.URL.Path == "/dashboard" {
			fmt.Fprintln(w, `<html><body><h1 id="home">Dashboards</h1></body></html>`)
			return
		}
		fmt.Fprintln(w, loginPageHTML)
	}))

	page := fixture.Page
	ctx := fixture.RootCtx
	require.NoError(t, page.Navigate(ctx, server.URL))
	require.NoError(t, page.ClickAndWait(ctx, "input[type=submit]"))

	n, err := page.Count(ctx, "#home")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSessionNavigationTimeout(t *testing.T) {
	fixture := newTestFixture(t, func(cfg *config.Config) {
		cfg.Network.NavigationTimeout = 2 * time.Second
	})

	release := make(chan struct{})
	server := createTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/poll" {
			select {
			case <-release:
			case <-r.Context().Done():
			}
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintln(w, `<html><body><script>fetch('/poll')</script></body></html>`)
	}))
	// Runs before the server's own cleanup.
	t.Cleanup(func() { close(release) })

	start := time.Now()
	err := fixture.Page.Navigate(fixture.RootCtx, server.URL)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, schemas.ErrNavigationTimeout)
	assert.Less(t, elapsed, 10*time.Second)

	// The session stays usable after a timeout.
	var title string
	require.NoError(t, fixture.Page.Evaluate(fixture.RootCtx, `document.readyState`, &title))
	assert.NotEmpty(t, title)
}

func TestSessionForwardsPageErrors(t *testing.T) {
	fixture := newTestFixture(t)
	server := createStaticTestServer(t, `<html><body><script>
		setTimeout(() => { throw new Error("widget failed to render") }, 50);
	</script></body></html>`)

	var mu sync.Mutex
	var received []*schemas.PageRuntimeError
	fixture.Page.OnError(func(e *schemas.PageRuntimeError) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
	})

	require.NoError(t, fixture.Page.Navigate(fixture.RootCtx, server.URL))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) > 0
	}, 5*time.Second, 50*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, received[0].Message, "widget failed to render")
}

func TestBrowserCloseIsIdempotent(t *testing.T) {
	fixture := newTestFixture(t)
	ctx := context.Background()

	require.NoError(t, fixture.Browser.Close(ctx))
	require.NoError(t, fixture.Browser.Close(ctx))

	_, err := fixture.Browser.Pages(ctx)
	assert.ErrorIs(t, err, schemas.ErrSessionClosed)

	err = fixture.Page.Navigate(ctx, "about:blank")
	assert.ErrorIs(t, err, schemas.ErrSessionClosed)
}
