// Package collyfetcher implements crawler.PageFetcher for static pages using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/fetcher/htmlpage"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// Timeout applies when NavigateOptions carries none.
	Timeout time.Duration
}

// Fetcher implements crawler.PageFetcher using the Colly collector.
type Fetcher struct {
	cfg Config

	mu         sync.Mutex
	transports map[string]*http.Transport
}

var _ crawler.PageFetcher = (*Fetcher)(nil)

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type visitResult struct {
	url    string
	status int
	body   []byte
	err    error
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Fetcher{
		cfg:        cfg,
		transports: make(map[string]*http.Transport),
	}
}

// Navigate performs a single GET and parses the response body.
func (f *Fetcher) Navigate(ctx context.Context, pageURL string, opts crawler.NavigateOptions) (crawler.Page, error) {
	var result visitResult
	collector, err := f.buildCollector(pageURL, opts, &result)
	if err != nil {
		return nil, err
	}
	if err := f.runCollector(ctx, collector, pageURL, &result); err != nil {
		return nil, err
	}
	page, err := htmlpage.Parse(result.url, result.status, result.body)
	if err != nil {
		return nil, &crawler.FetchError{URL: pageURL, StatusCode: result.status, Err: err}
	}
	return page, nil
}

func (f *Fetcher) buildCollector(pageURL string, opts crawler.NavigateOptions, result *visitResult) (*colly.Collector, error) {
	collector := colly.NewCollector(colly.Async(false))
	collector.IgnoreRobotsTxt = true
	collector.AllowURLRevisit = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}

	transport, err := f.transport(opts.Proxy)
	if err != nil {
		return nil, err
	}
	collector.WithTransport(transport)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	collector.SetRequestTimeout(timeout)

	if len(opts.Cookies) > 0 {
		if err := collector.SetCookies(pageURL, toCookies(opts.Cookies)); err != nil {
			return nil, fmt.Errorf("set cookies: %w", err)
		}
	}

	f.configureCollectorHooks(collector, pageURL, opts.Headers, result)
	return collector, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	pageURL string,
	headers http.Header,
	result *visitResult,
) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range headers {
			r.Headers.Del(key)
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		result.url = r.Request.URL.String()
		result.status = r.StatusCode
		result.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			result.err = crawler.NewStatusError(pageURL, r.StatusCode)
			return
		}
		result.err = &crawler.FetchError{URL: pageURL, Err: err}
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, pageURL string, result *visitResult) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if result.err != nil {
			return result.err
		}
		if err != nil {
			return &crawler.FetchError{URL: pageURL, Err: err}
		}
		if result.status == 0 {
			return &crawler.FetchError{URL: pageURL, Err: fmt.Errorf("no response received")}
		}
		return nil
	}
}

// transport returns a pooled transport per proxy so connection reuse
// survives across navigations.
func (f *Fetcher) transport(proxy string) (*http.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.transports[proxy]; ok {
		return t, nil
	}
	t := newHTTPTransport()
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy %q: %w", proxy, err)
		}
		t.Proxy = http.ProxyURL(proxyURL)
	}
	f.transports[proxy] = t
	return t, nil
}

func toCookies(values map[string]string) []*http.Cookie {
	cookies := make([]*http.Cookie, 0, len(values))
	for name, value := range values {
		cookies = append(cookies, &http.Cookie{Name: name, Value: value})
	}
	return cookies
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
