package market

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotValidate(t *testing.T) {
	require.NoError(t, Snapshot{Asset: "BONK", Price: 0.00002}.Validate())

	for name, s := range map[string]Snapshot{
		"no asset":   {Price: 1},
		"zero price": {Asset: "WIF"},
		"nan price":  {Asset: "WIF", Price: math.NaN()},
	} {
		t.Run(name, func(t *testing.T) {
			err := s.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnavailable))
		})
	}
}

func TestSnapshotCheckFresh(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := Snapshot{Asset: "JUP", Price: 1, Timestamp: now.Add(-30 * time.Second)}

	assert.NoError(t, s.CheckFresh(now, time.Minute))
	assert.NoError(t, s.CheckFresh(now, 0))
	assert.ErrorIs(t, s.CheckFresh(now, 10*time.Second), ErrStale)
	assert.ErrorIs(t, Snapshot{Asset: "JUP", Price: 1}.CheckFresh(now, time.Minute), ErrStale)
}

func TestOscillator(t *testing.T) {
	assert.Equal(t, 25.0, Snapshot{RSI: Float(25)}.Oscillator())
	assert.Equal(t, 50.0, Snapshot{}.Oscillator())
	assert.Equal(t, 100.0, Snapshot{PriceChange1h: Float(2), PriceChange24h: Float(8)}.Oscillator())
	assert.InDelta(t, 25.0, Snapshot{PriceChange1h: Float(1), PriceChange6h: Float(-3)}.Oscillator(), 1e-9)
}

func TestOr(t *testing.T) {
	assert.Equal(t, 3.0, Or(nil, 3))
	assert.Equal(t, 3.0, Or(Float(math.Inf(1)), 3))
	assert.Equal(t, 0.0, Or(Float(0), 3))
	assert.Len(t, Snapshot{PriceChange6h: Float(1)}.Horizons(), 1)
}
