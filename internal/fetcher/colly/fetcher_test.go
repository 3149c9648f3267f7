package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

func TestNavigateReturnsParsedPage(t *testing.T) {
	t.Parallel()

	seen := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Clone(context.Background())
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><span class="price">$4.20</span></body></html>`))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{UserAgent: "catalog-test"})
	page, err := f.Navigate(context.Background(), srv.URL+"/p", crawler.NavigateOptions{
		Timeout: time.Second,
		Headers: http.Header{"X-Client": {"catalog"}},
		Cookies: map[string]string{"session": "abc"},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode())
	require.Equal(t, srv.URL+"/p", page.URL())
	el := page.Query(".price")
	require.NotNil(t, el)
	require.Equal(t, "$4.20", el.Text())

	req := <-seen
	require.Equal(t, "catalog", req.Header.Get("X-Client"))
	cookie, err := req.Cookie("session")
	require.NoError(t, err)
	require.Equal(t, "abc", cookie.Value)
}

func TestNavigateNon2xxIsFetchError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	_, err := New(Config{}).Navigate(context.Background(), srv.URL, crawler.NavigateOptions{})
	require.Error(t, err)
	var fetchErr *crawler.FetchError
	require.True(t, errors.As(err, &fetchErr))
	require.Equal(t, http.StatusServiceUnavailable, fetchErr.StatusCode)
	require.True(t, crawler.IsRetryable(err))
}

func TestNavigateHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{}).Navigate(ctx, srv.URL, crawler.NavigateOptions{Timeout: 5 * time.Second})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTransportPoolsByProxy(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	direct, err := f.transport("")
	require.NoError(t, err)
	again, err := f.transport("")
	require.NoError(t, err)
	require.Same(t, direct, again)

	proxied, err := f.transport("http://proxy.example:3128")
	require.NoError(t, err)
	require.NotSame(t, direct, proxied)
	proxyURL, err := proxied.Proxy(&http.Request{URL: mustParseURL(t, "https://shop.example")})
	require.NoError(t, err)
	require.Equal(t, "proxy.example:3128", proxyURL.Host)

	_, err = f.transport("://bad")
	require.Error(t, err)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	var result visitResult
	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, "https://example.com", http.Header{"X-Trace": {"yes"}}, &result)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/final")},
	})
	require.Equal(t, "https://example.com/final", result.url)
	require.Equal(t, "body", string(result.body))

	hooks.onError(nil, errors.New("boom"))
	require.Error(t, result.err)
	require.Zero(t, crawler.StatusCodeOf(result.err))

	hooks.onError(&colly.Response{StatusCode: http.StatusNotFound}, errors.New("Not Found"))
	require.Equal(t, http.StatusNotFound, crawler.StatusCodeOf(result.err))
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)   { s.onRequest = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}
