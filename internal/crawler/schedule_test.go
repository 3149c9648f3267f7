package crawler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNextRunFixedFrequencies(t *testing.T) {
	t.Parallel()

	from := time.Date(2024, time.January, 31, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		freq Frequency
		want time.Time
	}{
		{FrequencyHourly, from.Add(time.Hour)},
		{FrequencyDaily, time.Date(2024, time.February, 1, 10, 0, 0, 0, time.UTC)},
		{FrequencyWeekly, time.Date(2024, time.February, 7, 10, 0, 0, 0, time.UTC)},
		{FrequencyMonthly, from.AddDate(0, 1, 0)},
	}
	for _, tc := range cases {
		t.Run(string(tc.freq), func(t *testing.T) {
			t.Parallel()
			next, ok, err := NextRun(CrawlTarget{Frequency: tc.freq}, from)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, tc.want, next)
		})
	}
}

func TestNextRunCustom(t *testing.T) {
	t.Parallel()

	from := time.Date(2024, time.March, 4, 10, 15, 0, 0, time.UTC)

	_, ok, err := NextRun(CrawlTarget{Frequency: FrequencyCustom}, from)
	require.NoError(t, err)
	require.False(t, ok, "custom without cron has no schedule")

	next, ok, err := NextRun(CrawlTarget{Frequency: FrequencyCustom, CronExpr: "0 6 * * *"}, from)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, time.Date(2024, time.March, 5, 6, 0, 0, 0, time.UTC), next)

	_, _, err = NextRun(CrawlTarget{Frequency: FrequencyCustom, CronExpr: "not a cron"}, from)
	require.Error(t, err)
}

func TestValidateTarget(t *testing.T) {
	t.Parallel()

	valid := CrawlTarget{
		URL:       "https://supplier.example/catalog",
		Selectors: SelectorMap{Container: ".product", Price: ".price"},
		Frequency: FrequencyDaily,
		Status:    TargetActive,
		RateLimit: 1,
	}
	require.NoError(t, ValidateTarget(valid))

	noSelectors := valid
	noSelectors.Selectors = SelectorMap{}
	require.True(t, errors.Is(ValidateTarget(noSelectors), ErrInvalidSelectors))

	badFreq := valid
	badFreq.Frequency = "fortnightly"
	require.True(t, errors.Is(ValidateTarget(badFreq), ErrInvalidTarget))

	badCron := valid
	badCron.Frequency = FrequencyCustom
	badCron.CronExpr = "61 * * * *"
	require.True(t, errors.Is(ValidateTarget(badCron), ErrInvalidTarget))
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	require.False(t, IsRetryable(nil))
	require.False(t, IsRetryable(ErrTargetNotActive))
	require.False(t, IsRetryable(ErrInvalidSelectors))
	require.False(t, IsRetryable(NewStatusError("https://x.example", 404)))
	require.True(t, IsRetryable(NewStatusError("https://x.example", 503)))
	require.True(t, IsRetryable(NewStatusError("https://x.example", 429)))
	require.True(t, IsRetryable(&FetchError{URL: "https://x.example", Err: errors.New("connection reset")}))
	require.Equal(t, 503, StatusCodeOf(NewStatusError("https://x.example", 503)))
}

func TestSelectorMapFieldsSkipsEmptyAndKeepsBuiltins(t *testing.T) {
	t.Parallel()

	sel := SelectorMap{
		Price:  ".price",
		Title:  "h2",
		Custom: map[string]string{"sku": ".sku", FieldPrice: ".other-price", "empty": ""},
	}
	fields := sel.Fields()
	require.Equal(t, map[string]string{
		FieldPrice: ".price",
		FieldTitle: "h2",
		"sku":      ".sku",
	}, fields)
}
