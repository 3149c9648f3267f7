package fetcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/fetcher/htmlpage"
	"github.com/JakeFAU/catalog-crawler/internal/headless/detector"
)

type stubFetcher struct {
	body  string
	err   error
	calls int
}

func (s *stubFetcher) Navigate(_ context.Context, url string, _ crawler.NavigateOptions) (crawler.Page, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return htmlpage.Parse(url, 200, []byte(s.body))
}

func TestPromotingKeepsStaticPage(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{body: `<ul><li class="product">Rebar 12mm</li></ul>`}
	headless := &stubFetcher{body: `<p>rendered</p>`}
	p, err := NewPromoting(static, headless, detector.NewHeuristic(0), nil)
	require.NoError(t, err)

	page, err := p.Navigate(context.Background(), "https://s.example", crawler.NavigateOptions{})
	require.NoError(t, err)
	require.NotNil(t, page.Query(".product"))
	require.Zero(t, headless.calls)
}

func TestPromotingRendersShellPages(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{body: `<div id="__next"></div>`}
	headless := &stubFetcher{body: `<div id="__next"><li class="product">Rebar</li></div>`}
	p, err := NewPromoting(static, headless, detector.NewHeuristic(0), nil)
	require.NoError(t, err)

	page, err := p.Navigate(context.Background(), "https://s.example", crawler.NavigateOptions{})
	require.NoError(t, err)
	require.NotNil(t, page.Query(".product"))
	require.Equal(t, 1, headless.calls)
}

func TestPromotingFallsBackWhenHeadlessFails(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{body: `<div id="app"></div>`}
	headless := &stubFetcher{err: errors.New("chrome missing")}
	p, err := NewPromoting(static, headless, detector.NewHeuristic(0), nil)
	require.NoError(t, err)

	page, err := p.Navigate(context.Background(), "https://s.example", crawler.NavigateOptions{})
	require.NoError(t, err)
	require.Contains(t, page.HTML(), `id="app"`)
}

func TestPromotingPropagatesStaticErrors(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{err: crawler.NewStatusError("https://s.example", 502)}
	p, err := NewPromoting(static, nil, nil, nil)
	require.NoError(t, err)

	_, err = p.Navigate(context.Background(), "https://s.example", crawler.NavigateOptions{})
	require.Equal(t, 502, crawler.StatusCodeOf(err))

	_, err = NewPromoting(nil, nil, nil, nil)
	require.Error(t, err)
}
