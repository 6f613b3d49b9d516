package ephemeris

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronos/internal/astro"
	"chronos/internal/types"
)

func TestNewSeries_OrderValidation(t *testing.T) {
	for _, order := range []int{1, 2, 3} {
		s, err := NewSeries(order)
		require.NoError(t, err, "order %d", order)
		assert.Equal(t, order, s.Order())
	}

	for _, order := range []int{0, -1, 4, 100} {
		_, err := NewSeries(order)
		require.Error(t, err, "order %d", order)
		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, types.ErrCodeRange, appErr.Code)
	}
}

func TestSeries_MatchesSeriesMath(t *testing.T) {
	s, err := NewSeries(2)
	require.NoError(t, err)

	at := time.Date(2024, time.February, 4, 16, 27, 0, 0, time.UTC)
	got, err := s.LongitudeAt(context.Background(), at)
	require.NoError(t, err)
	assert.Equal(t, astro.SolarLongitude(at, 2), got)
}

func TestSeries_MonotonicModulo360(t *testing.T) {
	s, err := NewSeries(2)
	require.NoError(t, err)

	ctx := context.Background()
	start := time.Date(2023, time.December, 20, 0, 0, 0, 0, time.UTC)
	prev, err := s.LongitudeAt(ctx, start)
	require.NoError(t, err)

	// Six-hour steps across a year boundary: the forward delta stays
	// small and positive through the 360-to-0 wrap.
	for i := 1; i <= 120; i++ {
		cur, err := s.LongitudeAt(ctx, start.Add(time.Duration(i)*6*time.Hour))
		require.NoError(t, err)
		delta := astro.Norm360(cur - prev)
		assert.Greater(t, delta, 0.0, "step %d", i)
		assert.Less(t, delta, 0.3, "step %d", i)
		prev = cur
	}
}
