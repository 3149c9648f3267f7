// Package detector decides when a static fetch should be re-done in a headless browser.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultBodyLengthThreshold = 2048
	scriptDensityPercent       = 25
)

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultBodyLengthThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

// Markers left by client-rendered storefront frameworks.
var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("__nuxt"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
	[]byte("data-v-app"),
}

// ShouldPromote reports whether a 200 response looks like an unrendered shell.
func (h *Heuristic) ShouldPromote(statusCode int, body []byte) bool {
	if statusCode != 200 {
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	lower := bytes.ToLower(body)
	for _, marker := range spaMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	if bytes.Contains(lower, []byte("<noscript")) && bytes.Contains(lower, []byte("enable javascript")) {
		return true
	}
	return len(body) < h.BodyLengthThreshold && scriptHeavy(body)
}

// scriptHeavy reports whether inline scripts make up a large share of the document text.
func scriptHeavy(body []byte) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	total := len(strings.TrimSpace(doc.Text()))
	if total == 0 {
		return doc.Find("script").Length() > 0
	}
	scripted := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scripted += len(strings.TrimSpace(s.Text()))
	})
	return scripted*100/total >= scriptDensityPercent
}
