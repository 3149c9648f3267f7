package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShouldPromote(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(1000)
	cases := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{"empty body", 200, "   ", true},
		{"next.js shell", 200, `<div id="__next"></div>`, true},
		{"vue shell", 200, `<div DATA-V-APP></div>`, true},
		{"noscript notice", 200, `<noscript>Please enable JavaScript to view prices</noscript><p>x</p>`, true},
		{"script dense", 200, `<html><script>var a=1;</script><p>t</p></html>`, true},
		{"non-200", 404, `<div id="__next"></div>`, false},
		{"static listing", 200, `<ul><li class="product">Cement 50kg <span>$9.99</span></li></ul>`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, h.ShouldPromote(tc.status, []byte(tc.body)))
		})
	}
}

func TestLargeBodiesSkipScriptDensity(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(64)
	body := "<script>" + strings.Repeat("x", 200) + "</script><p>content</p>"
	require.False(t, h.ShouldPromote(200, []byte(body)))
}

func TestNewHeuristicDefaults(t *testing.T) {
	t.Parallel()

	require.Equal(t, defaultBodyLengthThreshold, NewHeuristic(0).BodyLengthThreshold)
}
