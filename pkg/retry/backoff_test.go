package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffGrowsAndCapsAtMax(t *testing.T) {
	b := NewWithConfig(Config{Initial: time.Second, Max: 4 * time.Second, Multiplier: 2, Jitter: 0})

	require.Equal(t, time.Second, b.Next())
	require.Equal(t, 2*time.Second, b.Next())
	require.Equal(t, 4*time.Second, b.Next())
	require.Equal(t, 4*time.Second, b.Next())
	require.Equal(t, 4, b.Attempts())
}

func TestBackoffResetReturnsToInitial(t *testing.T) {
	b := NewWithConfig(Config{Initial: time.Second, Max: 4 * time.Second, Multiplier: 2, Jitter: 0})
	b.Next()
	b.Next()
	b.Reset()
	require.Equal(t, time.Second, b.Next())
	require.Equal(t, 1, b.Attempts())
}

func TestBackoffJitterNeverReducesDelay(t *testing.T) {
	b := NewWithConfig(Config{Initial: time.Second, Max: time.Second, Multiplier: 1, Jitter: 0.25})
	for i := 0; i < 20; i++ {
		d := b.Next()
		require.GreaterOrEqual(t, d, time.Second)
		require.LessOrEqual(t, d, time.Second+time.Second/4)
	}
}
