// Package extract turns a fetched page and a selector map into an
// ExtractedItem. Each field is extracted independently; a field that cannot
// be extracted is recorded as null and never fails the item.
//
// When a selector matches several elements the first one in document order
// wins.
package extract

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/andybalholm/cascadia"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// imageAttrs lists the attributes consulted for image fields, in order.
var imageAttrs = []string{"src", "data-src"}

// scoper is implemented by pages that can confine queries to a container.
type scoper interface {
	Scope(selector string) (crawler.Page, bool)
}

// Pipeline extracts structured fields from pages.
type Pipeline struct {
	logger *zap.Logger
}

// New returns a Pipeline.
func New(logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{logger: logger}
}

// Extract runs every configured field selector against page.
func (p *Pipeline) Extract(_ context.Context, page crawler.Page, selectors crawler.SelectorMap) crawler.ExtractedItem {
	fields := selectors.Fields()
	item := crawler.ExtractedItem{
		Fields:    make(map[string]*string, len(fields)),
		SourceURL: page.URL(),
	}

	root := p.container(page, selectors.Container)
	for name, sel := range fields {
		item.Fields[name] = p.field(root, name, sel)
	}
	return item
}

func (p *Pipeline) container(page crawler.Page, selector string) crawler.Page {
	if selector == "" {
		return page
	}
	if sc, ok := page.(scoper); ok {
		if scoped, found := sc.Scope(selector); found {
			return scoped
		}
	} else if page.Query(selector) != nil {
		return page
	}
	p.logger.Warn("content container not found, extracting from whole document",
		zap.String("url", page.URL()),
		zap.String("selector", selector),
	)
	return page
}

func (p *Pipeline) field(page crawler.Page, name, selector string) (value *string) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("field extraction panicked",
				zap.String("url", page.URL()),
				zap.String("field", name),
				zap.Any("panic", r),
			)
			value = nil
		}
	}()

	el := page.Query(selector)
	if el == nil {
		p.logger.Warn("field selector matched nothing",
			zap.String("url", page.URL()),
			zap.String("field", name),
			zap.String("selector", selector),
		)
		return nil
	}
	if name == crawler.FieldImage {
		for _, attr := range imageAttrs {
			if src, ok := el.Attr(attr); ok && strings.TrimSpace(src) != "" {
				return crawler.StringPtr(resolve(page.URL(), strings.TrimSpace(src)))
			}
		}
		p.logger.Warn("image element has no source attribute",
			zap.String("url", page.URL()),
			zap.String("selector", selector),
		)
		return nil
	}
	text := strings.TrimSpace(el.Text())
	if text == "" {
		return nil
	}
	return &text
}

// NextPageURL resolves the href of the next-page control, if any.
func NextPageURL(page crawler.Page, selector string) (string, bool) {
	if selector == "" {
		return "", false
	}
	el := page.Query(selector)
	if el == nil {
		return "", false
	}
	href, ok := el.Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return "", false
	}
	next := resolve(page.URL(), href)
	if next == page.URL() {
		return "", false
	}
	return next, true
}

// ValidateSelectors compiles every selector in the map, custom ones included
// even when their names collide with built-in fields.
func ValidateSelectors(selectors crawler.SelectorMap) error {
	all := map[string]string{
		"container":        selectors.Container,
		"next_page":        selectors.NextPage,
		crawler.FieldPrice: selectors.Price,
		crawler.FieldStock: selectors.Stock,
		crawler.FieldTitle: selectors.Title,
		crawler.FieldImage: selectors.Image,
	}
	for name, sel := range selectors.Custom {
		all["custom."+name] = sel
	}
	configured := 0
	for name, sel := range all {
		if sel == "" {
			continue
		}
		configured++
		if _, err := cascadia.Compile(sel); err != nil {
			return fmt.Errorf("%w: %s selector %q: %v", crawler.ErrInvalidSelectors, name, sel, err)
		}
	}
	if configured == 0 {
		return fmt.Errorf("%w: no selectors configured", crawler.ErrInvalidSelectors)
	}
	return nil
}

func resolve(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
