package holidays

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type countingSource struct {
	mu    sync.Mutex
	calls int
	days  map[int][]string
	err   error
}

func (c *countingSource) Holidays(country string, year int) ([]string, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return c.days[year], nil
}

func TestProviderCachesPerKey(t *testing.T) {
	src := &countingSource{days: map[int][]string{2025: {"2025-06-06"}}}
	p := NewProvider(src, nil)

	first := p.Get("pe", 2025, ModeCountry)
	second := p.Get("PE", 2025, ModeCountry)
	require.True(t, first.Has("2025-06-06"))
	assert.Equal(t, first, second)
	assert.Equal(t, 1, src.calls)

	p.Get("PE", 2026, ModeCountry)
	assert.Equal(t, 2, src.calls)
}

func TestProviderMissingYearIsEmpty(t *testing.T) {
	p := NewProvider(Builtin(), nil)
	set := p.Get("PE", 1990, ModeCountry)
	assert.Equal(t, 0, set.Len())
}

func TestProviderSourceErrorDegradesAndRetries(t *testing.T) {
	src := &countingSource{err: errors.New("down")}
	p := NewProvider(src, nil)

	set := p.Get("PE", 2025, ModeCountry)
	assert.Equal(t, 0, set.Len())

	src.err = nil
	src.days = map[int][]string{2025: {"2025-01-01"}}
	set = p.Get("PE", 2025, ModeCountry)
	assert.True(t, set.Has("2025-01-01"), "failed loads must not be cached")
}

func TestProviderUnimplementedModesUseCountryData(t *testing.T) {
	p := NewProvider(Builtin(), nil)
	judicial := p.Get("PE", 2025, ModeJudicial)
	country := p.Get("PE", 2025, ModeCountry)
	assert.Equal(t, country, judicial)
}

func TestProviderConcurrentReaders(t *testing.T) {
	p := NewProvider(Builtin(), nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, p.Get("PE", 2025, ModeCountry).Has("2025-07-28"))
		}()
	}
	wg.Wait()
}

func TestIsNonBusinessDay(t *testing.T) {
	set := NewSet("2025-06-06")
	ww := MonFri()
	cases := []struct {
		day  string
		want bool
	}{
		{"2025-06-02", false}, // Monday
		{"2025-06-06", true},  // holiday Friday
		{"2025-06-07", true},  // Saturday
		{"2025-06-08", true},  // Sunday
		{"not-a-date", true},
		{"2025-02-30", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsNonBusinessISO(tc.day, ww, set), tc.day)
	}
	assert.True(t, IsNonBusinessDay(time.Time{}, ww, set))
}

func TestParseWorkweek(t *testing.T) {
	sat := time.Date(2025, 6, 7, 0, 0, 0, 0, time.UTC)
	assert.True(t, IsNonBusinessDay(sat, ParseWorkweek("mon-fri"), nil))
	assert.False(t, IsNonBusinessDay(sat, ParseWorkweek("MON-SAT"), nil))
	assert.False(t, IsNonBusinessDay(sat.AddDate(0, 0, 1), ParseWorkweek("sun-sat"), nil))
	assert.Equal(t, MonFri(), ParseWorkweek("four-day-week"))
	assert.Equal(t, MonFri(), WorkweekOf())
}

func TestWorkweekYAML(t *testing.T) {
	var doc struct {
		A Workweek `yaml:"a"`
		B Workweek `yaml:"b"`
		C Workweek `yaml:"c"`
	}
	err := yaml.Unmarshal([]byte("a: mon-sat\nb: [mon, tue, 3]\nc: bogus\n"), &doc)
	require.NoError(t, err)
	assert.Equal(t, ParseWorkweek("mon-sat"), doc.A)
	assert.Equal(t, WorkweekOf(time.Monday, time.Tuesday, time.Wednesday), doc.B)
	assert.Equal(t, MonFri(), doc.C)
	assert.Equal(t, "mon,tue,wed", doc.B.String())

	err = yaml.Unmarshal([]byte("a: [funday]\n"), &doc)
	assert.Error(t, err)
}

func TestStaticSourceMerge(t *testing.T) {
	merged := Builtin().Merge(StaticSource{"pe": {2025: {"2025-12-31"}}})
	days, err := merged.Holidays("PE", 2025)
	require.NoError(t, err)
	set := NewSet(days...)
	assert.True(t, set.Has("2025-12-31"))
	assert.True(t, set.Has("2025-04-18"))
	assert.NoError(t, ValidateDates(days))
}
