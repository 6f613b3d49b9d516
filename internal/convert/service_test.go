package convert

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronos/internal/config"
	"chronos/internal/ephemeris"
	"chronos/internal/solarterm"
	"chronos/internal/types"
)

func testConvertConfig() config.ConvertConfig {
	return config.ConvertConfig{
		YearBoundaryPolicy:    string(YearBoundarySolarLongitude),
		YearBoundaryLongitude: 315,
		YearBoundaryMonth:     2,
		YearBoundaryDay:       4,
		EoTSeriesOrder:        2,
		RootFindToleranceDeg:  1e-6,
		RootFindMaxIterations: 64,
		MaxBatchSize:          50,
	}
}

func testService(t *testing.T, metrics Metrics) Service {
	t.Helper()
	prov, err := ephemeris.NewSeries(2)
	require.NoError(t, err)
	return NewService(prov, solarterm.NewLocator(prov, solarterm.Config{}), testConvertConfig(), nil, metrics)
}

func requireAppCode(t *testing.T, err error, code types.ErrorCode) *types.AppError {
	t.Helper()
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, code, appErr.Code)
	return appErr
}

func floatPtr(v float64) *float64 { return &v }

type recordingMetrics struct {
	mu          sync.Mutex
	conversions []string
	batches     [][2]int
}

func (m *recordingMetrics) RecordConversion(_ context.Context, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversions = append(m.conversions, outcome)
}

func (m *recordingMetrics) RecordBatch(_ context.Context, size, failures int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, [2]int{size, failures})
}

// The morning of 2024-02-05 at longitude 120E is a published almanac
// reference: Jia-Chen year, Bing-Yin month, Ji-Hai day, Geng-Wu hour.
func TestConvert_ReferenceQuad(t *testing.T) {
	svc := testService(t, nil)
	at := time.Date(2024, time.February, 5, 4, 0, 0, 0, time.UTC)

	set, err := svc.Convert(context.Background(), at, 120, Options{})
	require.NoError(t, err)

	assert.Equal(t, 40, set.Year.Value())
	assert.Equal(t, "Jia", set.Year.StemName())
	assert.Equal(t, "Chen", set.Year.BranchName())

	assert.Equal(t, 2, set.Month.Value())
	assert.Equal(t, "Bing", set.Month.StemName())
	assert.Equal(t, "Yin", set.Month.BranchName())

	assert.Equal(t, 35, set.Day.Value())
	assert.Equal(t, "Ji", set.Day.StemName())
	assert.Equal(t, "Hai", set.Day.BranchName())

	assert.Equal(t, 6, set.Hour.Value())
	assert.Equal(t, "Geng", set.Hour.StemName())
	assert.Equal(t, "Wu", set.Hour.BranchName())

	assert.True(t, set.Instant.Equal(at))
	assert.Equal(t, 120.0, set.Longitude)
	assert.Equal(t, 120.0, set.StandardMeridian)

	// Clock 04:00 UTC plus eight hours of longitude minus a February
	// equation of time near -13.9 minutes.
	wantApparent := time.Date(2024, time.February, 5, 11, 46, 7, 0, time.UTC)
	assert.WithinDuration(t, wantApparent, set.ApparentTime, 90*time.Second)

	wantDayStart := time.Date(2024, time.February, 4, 16, 13, 51, 0, time.UTC)
	assert.WithinDuration(t, wantDayStart, set.DayStart, 2*time.Minute)
	assert.True(t, set.DayStart.Before(set.Instant))
}

func TestConvert_DayPillarEpochAnchors(t *testing.T) {
	svc := testService(t, nil)

	tests := []struct {
		name   string
		at     time.Time
		value  int
		stem   string
		branch string
	}{
		{
			name:   "epoch day 1900-01-01",
			at:     time.Date(1900, time.January, 1, 12, 0, 0, 0, time.UTC),
			value:  10,
			stem:   "Jia",
			branch: "Xu",
		},
		{
			name:   "2000-01-01",
			at:     time.Date(2000, time.January, 1, 12, 0, 0, 0, time.UTC),
			value:  54,
			stem:   "Wu",
			branch: "Wu",
		},
		{
			name:   "cycle restart 2024-01-01",
			at:     time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC),
			value:  0,
			stem:   "Jia",
			branch: "Zi",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := svc.Convert(context.Background(), tt.at, 0, Options{})
			require.NoError(t, err)
			assert.Equal(t, tt.value, set.Day.Value())
			assert.Equal(t, tt.stem, set.Day.StemName())
			assert.Equal(t, tt.branch, set.Day.BranchName())
		})
	}
}

// Both halves of the Zi window carry the Zi branch, but they belong to
// different apparent days, so the late half keeps the closing day's stem and
// the early half takes the next day's.
func TestConvert_LateZiKeepsClosingDayStem(t *testing.T) {
	svc := testService(t, nil)

	late, err := svc.Convert(context.Background(),
		time.Date(2024, time.January, 1, 23, 20, 0, 0, time.UTC), 0, Options{})
	require.NoError(t, err)
	early, err := svc.Convert(context.Background(),
		time.Date(2024, time.January, 2, 0, 10, 0, 0, time.UTC), 0, Options{})
	require.NoError(t, err)

	assert.Equal(t, "Zi", late.Hour.BranchName())
	assert.Equal(t, "Zi", early.Hour.BranchName())

	// Jan 1 is Jia-Zi, so its Zi hour opens the hour cycle.
	assert.Equal(t, 0, late.Day.Value())
	assert.Equal(t, 0, late.Hour.Value())

	// A few apparent minutes past midnight the day has advanced and the
	// five-rats table restarts the hour stems from Bing.
	assert.Equal(t, 1, early.Day.Value())
	assert.Equal(t, 12, early.Hour.Value())
}

func TestConvert_HourSlots(t *testing.T) {
	svc := testService(t, nil)

	tests := []struct {
		name   string
		at     time.Time
		value  int
		branch string
	}{
		{
			name:   "early zi",
			at:     time.Date(2024, time.January, 1, 0, 30, 0, 0, time.UTC),
			value:  0,
			branch: "Zi",
		},
		{
			name:   "chou",
			at:     time.Date(2024, time.January, 1, 1, 30, 0, 0, time.UTC),
			value:  1,
			branch: "Chou",
		},
		{
			name:   "noon wu",
			at:     time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC),
			value:  6,
			branch: "Wu",
		},
		{
			name:   "hai",
			at:     time.Date(2024, time.January, 1, 22, 0, 0, 0, time.UTC),
			value:  11,
			branch: "Hai",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := svc.Convert(context.Background(), tt.at, 0, Options{})
			require.NoError(t, err)
			assert.Equal(t, tt.value, set.Hour.Value())
			assert.Equal(t, tt.branch, set.Hour.BranchName())
		})
	}
}

// The year pillar flips at the 315-degree crossing, which the series places
// in the morning of 2024-02-04 UTC.
func TestConvert_YearBoundarySolarLongitude(t *testing.T) {
	svc := testService(t, nil)

	before, err := svc.Convert(context.Background(),
		time.Date(2024, time.February, 3, 12, 0, 0, 0, time.UTC), 0, Options{})
	require.NoError(t, err)
	assert.Equal(t, 39, before.Year.Value())
	assert.Equal(t, "Gui", before.Year.StemName())
	assert.Equal(t, "Mao", before.Year.BranchName())

	// Still the twelfth month of the closing year.
	assert.Equal(t, 1, before.Month.Value())
	assert.Equal(t, "Yi", before.Month.StemName())
	assert.Equal(t, "Chou", before.Month.BranchName())

	after, err := svc.Convert(context.Background(),
		time.Date(2024, time.February, 4, 23, 0, 0, 0, time.UTC), 0, Options{})
	require.NoError(t, err)
	assert.Equal(t, 40, after.Year.Value())

	yearEnd, err := svc.Convert(context.Background(),
		time.Date(2024, time.December, 31, 12, 0, 0, 0, time.UTC), 0, Options{})
	require.NoError(t, err)
	assert.Equal(t, 40, yearEnd.Year.Value())
}

// Under the fixed-date policy the pivot is compared on the apparent
// calendar, so an instant still on Feb 3 UTC can already belong to the new
// year at an eastern longitude.
func TestConvert_YearBoundaryFixedDate(t *testing.T) {
	svc := testService(t, nil)
	at := time.Date(2024, time.February, 3, 20, 0, 0, 0, time.UTC)
	opts := Options{YearBoundaryPolicy: YearBoundaryFixedDate}

	east, err := svc.Convert(context.Background(), at, 120, opts)
	require.NoError(t, err)
	assert.Equal(t, 40, east.Year.Value())

	greenwich, err := svc.Convert(context.Background(), at, 0, opts)
	require.NoError(t, err)
	assert.Equal(t, 39, greenwich.Year.Value())
}

func TestConvert_MonthSectors(t *testing.T) {
	svc := testService(t, nil)

	tests := []struct {
		name   string
		at     time.Time
		value  int
		stem   string
		branch string
	}{
		{
			name:   "first month after 315",
			at:     time.Date(2024, time.February, 5, 4, 0, 0, 0, time.UTC),
			value:  2,
			stem:   "Bing",
			branch: "Yin",
		},
		{
			name:   "second month after the equinox",
			at:     time.Date(2024, time.March, 25, 12, 0, 0, 0, time.UTC),
			value:  3,
			stem:   "Ding",
			branch: "Mao",
		},
		{
			name:   "seventh month past 135",
			at:     time.Date(2024, time.August, 10, 0, 0, 0, 0, time.UTC),
			value:  8,
			stem:   "Ren",
			branch: "Shen",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := svc.Convert(context.Background(), tt.at, 120, Options{})
			require.NoError(t, err)
			assert.Equal(t, tt.value, set.Month.Value())
			assert.Equal(t, tt.stem, set.Month.StemName())
			assert.Equal(t, tt.branch, set.Month.BranchName())
		})
	}
}

// Fifteen degrees of longitude is exactly one hour of apparent time; the
// equation of time depends only on the instant.
func TestConvert_FifteenDegreesIsOneHour(t *testing.T) {
	svc := testService(t, nil)
	at := time.Date(2024, time.February, 5, 4, 0, 0, 0, time.UTC)

	west, err := svc.Convert(context.Background(), at, 105, Options{})
	require.NoError(t, err)
	east, err := svc.Convert(context.Background(), at, 120, Options{})
	require.NoError(t, err)

	assert.Equal(t, west.EquationOfTime, east.EquationOfTime)
	assert.Equal(t, 105.0, west.StandardMeridian)
	assert.Equal(t, 120.0, east.StandardMeridian)
	assert.WithinDuration(t, west.ApparentTime.Add(time.Hour), east.ApparentTime, time.Microsecond)
}

// Instants on opposite sides of the antimeridian read the same clock but sit
// on consecutive apparent days.
func TestConvert_AntimeridianDaySplit(t *testing.T) {
	svc := testService(t, nil)
	at := time.Date(2024, time.June, 10, 18, 0, 0, 0, time.UTC)

	west, err := svc.Convert(context.Background(), at, -180, Options{})
	require.NoError(t, err)
	east, err := svc.Convert(context.Background(), at, 180, Options{})
	require.NoError(t, err)

	assert.Equal(t, 41, west.Day.Value())
	assert.Equal(t, 42, east.Day.Value())
	assert.Equal(t, west.Day.Advance(1), east.Day)

	// Same apparent time of day, so the hour branch agrees even though the
	// hour stems follow different days.
	assert.Equal(t, west.Hour.Branch(), east.Hour.Branch())
}

func TestConvert_MeridianOverride(t *testing.T) {
	svc := testService(t, nil)
	at := time.Date(2024, time.February, 5, 4, 0, 0, 0, time.UTC)

	inferred, err := svc.Convert(context.Background(), at, 120, Options{})
	require.NoError(t, err)
	// Longitude on its own meridian: the clock offset reduces to the
	// equation of time.
	assert.Equal(t, inferred.EquationOfTime, inferred.ApparentOffset)

	pinned, err := svc.Convert(context.Background(), at, 120, Options{StandardMeridian: floatPtr(0)})
	require.NoError(t, err)
	assert.Equal(t, 0.0, pinned.StandardMeridian)

	diff := pinned.ApparentOffset.Duration() - inferred.ApparentOffset.Duration()
	assert.InDelta(t, float64(8*time.Hour), float64(diff), float64(time.Millisecond))

	// The meridian moves the clock offset, never the apparent time.
	assert.True(t, pinned.ApparentTime.Equal(inferred.ApparentTime))
}

func TestConvert_InvalidLongitude(t *testing.T) {
	svc := testService(t, nil)
	at := time.Date(2024, time.February, 5, 4, 0, 0, 0, time.UTC)

	for _, lon := range []float64{181, -180.5, math.NaN(), math.Inf(1)} {
		_, err := svc.Convert(context.Background(), at, lon, Options{})
		requireAppCode(t, err, types.ErrCodeValidationInvalidLon)
	}
}

func TestConvert_InvalidOptions(t *testing.T) {
	svc := testService(t, nil)
	at := time.Date(2024, time.February, 5, 4, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		opts Options
		code types.ErrorCode
	}{
		{
			name: "unknown policy",
			opts: Options{YearBoundaryPolicy: "lunar"},
			code: types.ErrCodeValidationInvalidOption,
		},
		{
			name: "series order too high",
			opts: Options{EoTSeriesOrder: 9},
			code: types.ErrCodeRange,
		},
		{
			name: "negative iteration budget",
			opts: Options{RootFindMaxIterations: -3},
			code: types.ErrCodeRange,
		},
		{
			name: "boundary longitude out of range",
			opts: Options{YearBoundaryLongitude: floatPtr(400)},
			code: types.ErrCodeRange,
		},
		{
			name: "epoch without day zero",
			opts: Options{Epoch: &ReferenceEpoch{YearZero: 1984}},
			code: types.ErrCodeRange,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Convert(context.Background(), at, 120, tt.opts)
			requireAppCode(t, err, tt.code)
		})
	}
}

// Odd hour stems break the stem/branch parity of the Zi slot; the cycle
// arithmetic reports the impossible pairing.
func TestConvert_OddHourStemsFailParity(t *testing.T) {
	svc := testService(t, nil)
	at := time.Date(2024, time.February, 5, 4, 0, 0, 0, time.UTC)

	opts := Options{FiveCycles: &FiveCycleTables{
		MonthStems: [5]int{2, 4, 6, 8, 0},
		HourStems:  [5]int{1, 3, 5, 7, 9},
	}}
	_, err := svc.Convert(context.Background(), at, 120, opts)
	requireAppCode(t, err, types.ErrCodeInvalidCombination)
}

func TestConvert_NonFiniteProviderLongitude(t *testing.T) {
	prov := ephemeris.ProviderFunc(func(context.Context, time.Time) (float64, error) {
		return math.NaN(), nil
	})
	svc := NewService(prov, solarterm.NewLocator(prov, solarterm.Config{}), testConvertConfig(), nil, nil)

	// The fixed-date policy skips the locator, so the guard in the month
	// step is the one that trips.
	_, err := svc.Convert(context.Background(),
		time.Date(2024, time.February, 5, 4, 0, 0, 0, time.UTC), 120,
		Options{YearBoundaryPolicy: YearBoundaryFixedDate})
	requireAppCode(t, err, types.ErrCodeProviderFailure)
}

func TestConvert_ProviderErrorPropagates(t *testing.T) {
	upstreamErr := types.NewAppError(types.ErrCodeUpstreamEphemeris, "ephemeris offline", nil)
	prov := ephemeris.ProviderFunc(func(context.Context, time.Time) (float64, error) {
		return 0, upstreamErr
	})
	svc := NewService(prov, solarterm.NewLocator(prov, solarterm.Config{}), testConvertConfig(), nil, nil)

	_, err := svc.Convert(context.Background(),
		time.Date(2024, time.February, 5, 4, 0, 0, 0, time.UTC), 120,
		Options{YearBoundaryPolicy: YearBoundaryFixedDate})
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Same(t, upstreamErr, appErr)
}

func TestConvert_Deterministic(t *testing.T) {
	svc := testService(t, nil)
	at := time.Date(2024, time.February, 5, 4, 0, 0, 0, time.UTC)

	first, err := svc.Convert(context.Background(), at, 120, Options{})
	require.NoError(t, err)
	second, err := svc.Convert(context.Background(), at, 120, Options{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestTimeReport_MatchesConvert(t *testing.T) {
	svc := testService(t, nil)
	at := time.Date(2024, time.February, 5, 4, 0, 0, 0, time.UTC)

	set, err := svc.Convert(context.Background(), at, 120, Options{})
	require.NoError(t, err)
	report, err := svc.TimeReport(context.Background(), at, 120, Options{})
	require.NoError(t, err)
	assert.Equal(t, set.TimeReport, *report)
}

func TestConvert_MetricsOutcomes(t *testing.T) {
	metrics := &recordingMetrics{}
	svc := testService(t, metrics)
	at := time.Date(2024, time.February, 5, 4, 0, 0, 0, time.UTC)

	_, err := svc.Convert(context.Background(), at, 120, Options{})
	require.NoError(t, err)
	_, err = svc.Convert(context.Background(), at, 200, Options{})
	require.Error(t, err)

	assert.Equal(t, []string{"success", "validation_invalid_longitude"}, metrics.conversions)
	assert.Empty(t, metrics.batches)
}

func TestConvertBatch_OrderAndEquivalence(t *testing.T) {
	svc := testService(t, nil)
	req := BatchRequest{
		At: []time.Time{
			time.Date(2024, time.February, 3, 12, 0, 0, 0, time.UTC),
			time.Date(2024, time.February, 5, 4, 0, 0, 0, time.UTC),
			time.Date(2024, time.August, 10, 0, 0, 0, 0, time.UTC),
		},
		Longitude: 120,
	}

	res, err := svc.ConvertBatch(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Results, 3)
	assert.Equal(t, 3, res.Succeeded)
	assert.Equal(t, 0, res.Failed)

	for i, at := range req.At {
		single, err := svc.Convert(context.Background(), at, req.Longitude, req.Options)
		require.NoError(t, err)
		require.NotNil(t, res.Results[i].Result, "item %d", i)
		assert.Nil(t, res.Results[i].Error, "item %d", i)
		assert.Equal(t, single, res.Results[i].Result, "item %d", i)
	}
}

func TestConvertBatch_IsolatesItemFailures(t *testing.T) {
	inner, err := ephemeris.NewSeries(2)
	require.NoError(t, err)
	prov := ephemeris.NewBounded(inner,
		time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2100, time.January, 1, 0, 0, 0, 0, time.UTC),
	)
	metrics := &recordingMetrics{}
	svc := NewService(prov, solarterm.NewLocator(prov, solarterm.Config{}), testConvertConfig(), nil, metrics)

	req := BatchRequest{
		At: []time.Time{
			time.Date(2024, time.February, 5, 4, 0, 0, 0, time.UTC),
			time.Date(1890, time.June, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2024, time.August, 10, 0, 0, 0, 0, time.UTC),
		},
		Longitude: 120,
	}

	res, err := svc.ConvertBatch(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Results, 3)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)

	assert.NotNil(t, res.Results[0].Result)
	assert.NotNil(t, res.Results[2].Result)
	require.NotNil(t, res.Results[1].Error)
	assert.Nil(t, res.Results[1].Result)
	assert.Equal(t, types.ErrCodeOutOfRange, res.Results[1].Error.Code)

	require.Len(t, metrics.batches, 1)
	assert.Equal(t, [2]int{3, 1}, metrics.batches[0])
	sort.Strings(metrics.conversions)
	assert.Equal(t, []string{"out_of_range", "success", "success"}, metrics.conversions)
}

func TestConvertBatch_SizeExceeded(t *testing.T) {
	prov, err := ephemeris.NewSeries(2)
	require.NoError(t, err)
	cfg := testConvertConfig()
	cfg.MaxBatchSize = 2
	svc := NewService(prov, solarterm.NewLocator(prov, solarterm.Config{}), cfg, nil, nil)

	at := time.Date(2024, time.February, 5, 4, 0, 0, 0, time.UTC)
	res, err := svc.ConvertBatch(context.Background(), BatchRequest{
		At:        []time.Time{at, at.Add(time.Hour), at.Add(2 * time.Hour)},
		Longitude: 120,
	})
	assert.Nil(t, res)
	appErr := requireAppCode(t, err, types.ErrCodeValidationBatchSize)
	assert.Equal(t, 3, appErr.Details["size"])
	assert.Equal(t, 2, appErr.Details["max"])
}

func TestConvertBatch_Empty(t *testing.T) {
	svc := testService(t, nil)

	res, err := svc.ConvertBatch(context.Background(), BatchRequest{Longitude: 120})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Empty(t, res.Results)
	assert.Zero(t, res.Succeeded)
	assert.Zero(t, res.Failed)
}

func TestCoordinateSet_WireShape(t *testing.T) {
	svc := testService(t, nil)
	set, err := svc.Convert(context.Background(),
		time.Date(2024, time.February, 5, 4, 0, 0, 0, time.UTC), 120, Options{})
	require.NoError(t, err)

	raw, err := json.Marshal(set)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))

	for _, key := range []string{
		"year", "month", "day", "hour",
		"instant", "longitude", "standard_meridian",
		"equation_of_time", "apparent_offset", "apparent_time", "day_start",
	} {
		assert.Contains(t, m, key)
	}

	day, ok := m["day"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(35), day["index"])
	assert.Equal(t, "Ji", day["stem"])
	assert.Equal(t, "Hai", day["branch"])
	assert.Equal(t, "Earth", day["element"])

	month, ok := m["month"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Fire", month["element"])

	// Durations travel as Go duration strings.
	_, ok = m["equation_of_time"].(string)
	assert.True(t, ok)
}

func TestDuration_WireFormat(t *testing.T) {
	raw, err := json.Marshal(Duration(-(14*time.Minute + 7*time.Second + 300*time.Millisecond)))
	require.NoError(t, err)
	assert.Equal(t, `"-14m7.3s"`, string(raw))

	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"1h30m"`), &d))
	assert.Equal(t, 90*time.Minute, d.Duration())

	assert.Error(t, json.Unmarshal([]byte(`"fortnight"`), &d))
}
