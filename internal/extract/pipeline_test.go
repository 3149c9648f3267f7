package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/fetcher/htmlpage"
)

const productPage = `<html><body>
<nav><a class="next" href="/catalog?page=2">Next</a></nav>
<span class="title">Outside container</span>
<section class="product">
  <h1 class="title">  Portland Cement 50kg </h1>
  <span class="stock">In stock</span>
  <img class="photo" data-src="/img/cement.jpg">
  <span class="sku">PC-50</span>
</section>
</body></html>`

func parse(t *testing.T, body string) *htmlpage.Page {
	t.Helper()
	page, err := htmlpage.Parse("https://supplier.example/catalog", 200, []byte(body))
	require.NoError(t, err)
	return page
}

func TestExtractMissingPriceIsNullOthersPopulated(t *testing.T) {
	t.Parallel()

	p := New(nil)
	item := p.Extract(context.Background(), parse(t, productPage), crawler.SelectorMap{
		Container: ".product",
		Price:     ".price",
		Stock:     ".stock",
		Title:     ".title",
		Image:     "img.photo",
		Custom:    map[string]string{"sku": ".sku"},
	})

	require.Contains(t, item.Fields, crawler.FieldPrice)
	require.Nil(t, item.Fields[crawler.FieldPrice])
	require.Equal(t, "Portland Cement 50kg", item.Value(crawler.FieldTitle))
	require.Equal(t, "In stock", item.Value(crawler.FieldStock))
	require.Equal(t, "https://supplier.example/img/cement.jpg", item.Value(crawler.FieldImage))
	require.Equal(t, "PC-50", item.Value("sku"))
	require.Equal(t, "https://supplier.example/catalog", item.SourceURL)
}

func TestExtractMissingContainerFallsBackToDocument(t *testing.T) {
	t.Parallel()

	item := New(nil).Extract(context.Background(), parse(t, productPage), crawler.SelectorMap{
		Container: ".does-not-exist",
		Title:     ".title",
	})
	require.Equal(t, "Outside container", item.Value(crawler.FieldTitle))
}

func TestExtractMalformedSelectorIsNull(t *testing.T) {
	t.Parallel()

	item := New(nil).Extract(context.Background(), parse(t, productPage), crawler.SelectorMap{
		Price: "[[[",
		Stock: ".stock",
	})
	require.Nil(t, item.Fields[crawler.FieldPrice])
	require.Equal(t, "In stock", item.Value(crawler.FieldStock))
}

type panickyPage struct{ crawler.Page }

func (panickyPage) URL() string { return "https://x.example" }

func (panickyPage) Query(string) crawler.Element { panic("engine crashed") }

func TestExtractRecoversFromFieldPanic(t *testing.T) {
	t.Parallel()

	item := New(nil).Extract(context.Background(), panickyPage{}, crawler.SelectorMap{Price: ".p"})
	require.Nil(t, item.Fields[crawler.FieldPrice])
}

func TestNextPageURL(t *testing.T) {
	t.Parallel()

	page := parse(t, productPage)
	next, ok := NextPageURL(page, "a.next")
	require.True(t, ok)
	require.Equal(t, "https://supplier.example/catalog?page=2", next)

	_, ok = NextPageURL(page, "a.prev")
	require.False(t, ok)
	_, ok = NextPageURL(page, "")
	require.False(t, ok)

	anchorOnly := parse(t, `<a class="next" href="#">Next</a>`)
	_, ok = NextPageURL(anchorOnly, "a.next")
	require.False(t, ok)
}

func TestValidateSelectors(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateSelectors(crawler.SelectorMap{Container: ".product", Price: ".price", NextPage: "a[rel=next]"}))

	err := ValidateSelectors(crawler.SelectorMap{Price: "div[["})
	require.True(t, errors.Is(err, crawler.ErrInvalidSelectors))

	err = ValidateSelectors(crawler.SelectorMap{})
	require.True(t, errors.Is(err, crawler.ErrInvalidSelectors))

	for _, name := range []string{"container", "next_page", crawler.FieldPrice} {
		err = ValidateSelectors(crawler.SelectorMap{
			Container: ".product",
			Price:     ".price",
			NextPage:  "a.next",
			Custom:    map[string]string{name: "span[["},
		})
		require.ErrorIs(t, err, crawler.ErrInvalidSelectors, "custom selector %q", name)
		require.ErrorContains(t, err, "custom."+name)
	}
}
