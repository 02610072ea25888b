package deadline

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plazos/internal/holidays"
	"plazos/internal/rules"
)

func qty(v float64) *float64 { return &v }

func boolPtr(v bool) *bool { return &v }

func plainCalculator() *Calculator {
	return New(rules.NewResolver(nil), holidays.NewProvider(holidays.StaticSource{}, nil))
}

func peCalculator() *Calculator {
	return New(rules.NewResolver(rules.DefaultRegistry()), holidays.NewProvider(holidays.Builtin(), nil))
}

func TestBusinessCountNextDay(t *testing.T) {
	c := plainCalculator()
	got, err := c.Compute(Input{Start: "2025-06-02", Quantity: qty(3), Type: "business"})
	require.NoError(t, err)
	assert.Equal(t, "2025-06-05", got.EndISO)
	assert.Equal(t, "2025-06-02", got.StartISO)
	assert.Equal(t, rules.GlobalDefault, got.RulesetID)
	assert.Equal(t, time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC).Unix(), got.EndUnix)
	assert.False(t, got.Trail.CarryApplied)
}

func TestBusinessCountSkipsHolidayAndWeekend(t *testing.T) {
	c := plainCalculator()
	without, err := c.Compute(Input{Start: "2025-06-02", Quantity: qty(5)})
	require.NoError(t, err)
	assert.Equal(t, "2025-06-09", without.EndISO)

	with, err := c.Compute(Input{
		Start:           "2025-06-02",
		Quantity:        qty(5),
		HolidayOverride: []string{"2025-06-06"},
	})
	require.NoError(t, err)
	assert.Equal(t, "2025-06-10", with.EndISO)
	require.Len(t, with.Trail.HolidayYears, 1)
	assert.Equal(t, YearTouch{Year: 2025, Size: 1, Override: true}, with.Trail.HolidayYears[0])
}

func TestCalendarCount(t *testing.T) {
	for _, c := range []*Calculator{plainCalculator(), peCalculator()} {
		got, err := c.Compute(Input{Start: "2025-01-01", Quantity: qty(10), Type: "calendar"})
		require.NoError(t, err)
		assert.Equal(t, "2025-01-11", got.EndISO)
		assert.False(t, got.Carry)
		assert.False(t, got.Trail.CarryApplied)
	}

	// 2025-01-11 is a Saturday; an explicit carry lands on Monday.
	carried, err := plainCalculator().Compute(Input{Start: "2025-01-01", Quantity: qty(10), Type: "calendar", Carry: boolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, "2025-01-13", carried.EndISO)
	assert.True(t, carried.Trail.CarryApplied)
	assert.Equal(t, 2, carried.Trail.CarryDays)
}

func TestZeroCountReturnsStart(t *testing.T) {
	c := plainCalculator()
	got, err := c.Compute(Input{Start: "2025-06-04", Quantity: qty(0), Type: "business"})
	require.NoError(t, err)
	assert.Equal(t, "2025-06-04", got.EndISO)

	// Saturday start: carry moves it, no carry keeps it.
	got, err = c.Compute(Input{Start: "2025-06-07", Quantity: qty(0), Carry: boolPtr(false)})
	require.NoError(t, err)
	assert.Equal(t, "2025-06-07", got.EndISO)

	got, err = c.Compute(Input{Start: "2025-06-07", Quantity: qty(0)})
	require.NoError(t, err)
	assert.Equal(t, "2025-06-09", got.EndISO)
}

func TestCarryIdempotentOnBusinessDay(t *testing.T) {
	c := plainCalculator()
	on, err := c.Compute(Input{Start: "2025-06-02", Quantity: qty(3), Carry: boolPtr(true)})
	require.NoError(t, err)
	off, err := c.Compute(Input{Start: "2025-06-02", Quantity: qty(3), Carry: boolPtr(false)})
	require.NoError(t, err)
	assert.Equal(t, on.EndISO, off.EndISO)
	assert.Equal(t, on.EndUnix, off.EndUnix)
}

func TestComputeIsDeterministic(t *testing.T) {
	c := peCalculator()
	in := Input{Start: "2025-07-25", Country: "PE", Domain: "civil", Act: "apelacion"}
	first, err := c.Compute(in)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := c.Compute(in)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestPeruvianHolidays(t *testing.T) {
	c := peCalculator()
	got, err := c.Compute(Input{Start: "2025-07-25", Country: "PE", Domain: "civil", Act: "apelacion"})
	require.NoError(t, err)
	assert.Equal(t, "PE.civil.acto.apelacion", got.RulesetID)
	assert.Equal(t, 10, got.Quantity)
	assert.Equal(t, "America/Lima", got.TZ)
	assert.Equal(t, "2025-08-13", got.EndISO)
	require.Len(t, got.Trail.HolidayYears, 1)
	assert.Equal(t, 2025, got.Trail.HolidayYears[0].Year)
	assert.Equal(t, 16, got.Trail.HolidayYears[0].Size)
}

func TestCarryQueriesLandingYear(t *testing.T) {
	c := peCalculator()
	got, err := c.Compute(Input{Start: "2025-12-30", Country: "PE", Quantity: qty(2), Type: "calendar"})
	require.NoError(t, err)
	assert.Equal(t, "2026-01-02", got.EndISO)
	assert.True(t, got.Trail.CarryApplied)
	assert.Equal(t, 1, got.Trail.CarryDays)
	require.Len(t, got.Trail.HolidayYears, 1)
	assert.Equal(t, 2026, got.Trail.HolidayYears[0].Year)
}

func TestOverrideReplacesProviderData(t *testing.T) {
	c := peCalculator()
	// 2025-07-28/29 are national holidays, the override list drops them.
	got, err := c.Compute(Input{
		Start:           "2025-07-25",
		Country:         "PE",
		Quantity:        qty(2),
		HolidayOverride: []string{},
	})
	require.NoError(t, err)
	assert.Equal(t, "2025-07-29", got.EndISO)

	normal, err := c.Compute(Input{Start: "2025-07-25", Country: "PE", Quantity: qty(2)})
	require.NoError(t, err)
	assert.Equal(t, "2025-07-31", normal.EndISO)
}

func TestStartParsing(t *testing.T) {
	c := plainCalculator()
	c.Now = func() time.Time { return time.Date(2025, 6, 2, 20, 0, 0, 0, time.UTC) }

	got, err := c.Compute(Input{Quantity: qty(0), Carry: boolPtr(false)})
	require.NoError(t, err)
	assert.Equal(t, "2025-06-02", got.StartISO)

	got, err = c.Compute(Input{Start: "2025-06-02T23:30:00-05:00", Quantity: qty(0)})
	require.NoError(t, err)
	assert.Equal(t, "2025-06-03", got.StartISO)
}

func TestInputErrors(t *testing.T) {
	c := plainCalculator()
	cases := []struct {
		name  string
		in    Input
		field string
	}{
		{"bad start", Input{Start: "02/06/2025", Quantity: qty(1)}, "start"},
		{"negative", Input{Start: "2025-06-02", Quantity: qty(-1)}, "quantity"},
		{"nan", Input{Start: "2025-06-02", Quantity: qty(math.NaN())}, "quantity"},
		{"inf", Input{Start: "2025-06-02", Quantity: qty(math.Inf(1))}, "quantity"},
		{"fraction", Input{Start: "2025-06-02", Quantity: qty(1.5)}, "quantity"},
		{"missing", Input{Start: "2025-06-02"}, "quantity"},
		{"huge", Input{Start: "2025-06-02", Quantity: qty(1e7)}, "quantity"},
		{"type", Input{Start: "2025-06-02", Quantity: qty(1), Type: "weekly"}, "type"},
		{"override", Input{Start: "2025-06-02", Quantity: qty(1), HolidayOverride: []string{"June 6"}}, "holiday_override"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Compute(tc.in)
			var inErr *InputError
			require.True(t, errors.As(err, &inErr), "got %v", err)
			assert.Equal(t, tc.field, inErr.Field)
		})
	}
}

func TestRulesetQuantityDefault(t *testing.T) {
	c := peCalculator()
	got, err := c.Compute(Input{Start: "2025-06-02", Country: "PE", Domain: "civil", Act: "contestacion"})
	require.NoError(t, err)
	assert.Equal(t, 30, got.Quantity)
	assert.Equal(t, "contestacion", got.Trail.MergedAct)
}

func TestRulesetQuantityDefaultIsChecked(t *testing.T) {
	for _, bad := range []int{-5, maxWalkDays + 1} {
		q := bad
		reg := rules.NewRegistry(map[string]rules.Entry{"XX.default": {Quantity: &q}})
		c := New(rules.NewResolver(reg), holidays.NewProvider(holidays.StaticSource{}, nil))
		_, err := c.Compute(Input{Start: "2025-06-02", Country: "XX"})
		var inErr *InputError
		require.True(t, errors.As(err, &inErr), "quantity %d: %v", bad, err)
		assert.Equal(t, "quantity", inErr.Field)
	}
}
