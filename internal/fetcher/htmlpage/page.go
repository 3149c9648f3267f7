// Package htmlpage adapts a fetched HTML document to crawler.Page using goquery.
package htmlpage

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Page is an immutable parsed document. Close is a no-op.
type Page struct {
	doc    *goquery.Document
	url    string
	status int
	html   string
}

var _ crawler.Page = (*Page)(nil)

// Parse builds a Page from raw HTML.
func Parse(pageURL string, status int, body []byte) (*Page, error) {
	html := string(body)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html %s: %w", pageURL, err)
	}
	return &Page{doc: doc, url: pageURL, status: status, html: html}, nil
}

// Query returns the first element in document order matching selector.
// Malformed selectors match nothing.
func (p *Page) Query(selector string) crawler.Element {
	if p == nil || p.doc == nil || strings.TrimSpace(selector) == "" {
		return nil
	}
	sel := p.doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil
	}
	return Element{sel: sel}
}

// Scope returns a page view whose queries are confined to the first element
// matching selector. The boolean is false when nothing matched.
func (p *Page) Scope(selector string) (crawler.Page, bool) {
	if p == nil || p.doc == nil || strings.TrimSpace(selector) == "" {
		return p, false
	}
	sel := p.doc.Find(selector).First()
	if sel.Length() == 0 {
		return p, false
	}
	scoped := goquery.NewDocumentFromNode(sel.Get(0))
	return &Page{doc: scoped, url: p.url, status: p.status, html: p.html}, true
}

// URL returns the final page URL.
func (p *Page) URL() string { return p.url }

// StatusCode returns the HTTP status of the response.
func (p *Page) StatusCode() int { return p.status }

// HTML returns the raw document.
func (p *Page) HTML() string { return p.html }

// Close implements crawler.Page.
func (p *Page) Close() error { return nil }

// Element wraps a goquery selection of length one.
type Element struct {
	sel *goquery.Selection
}

// Text returns the element's text content.
func (e Element) Text() string {
	return e.sel.Text()
}

// Attr returns the named attribute.
func (e Element) Attr(name string) (string, bool) {
	return e.sel.Attr(name)
}
