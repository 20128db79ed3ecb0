package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExponentialDoubles(t *testing.T) {
	t.Parallel()

	e := Exponential{Base: 500 * time.Millisecond}
	require.Equal(t, 500*time.Millisecond, e.Delay(0))
	require.Equal(t, time.Second, e.Delay(1))
	require.Equal(t, 2*time.Second, e.Delay(2))
	require.Equal(t, 500*time.Millisecond, e.Delay(-3))
}

func TestExponentialCapsAtMax(t *testing.T) {
	t.Parallel()

	e := Exponential{Base: 30 * time.Second, Max: time.Minute}
	require.Equal(t, 30*time.Second, e.Delay(0))
	require.Equal(t, time.Minute, e.Delay(1))
	require.Equal(t, time.Minute, e.Delay(10))
}

func TestExponentialJitterStaysInRange(t *testing.T) {
	t.Parallel()

	e := Exponential{Base: time.Second, Jitter: true}
	for i := 0; i < 20; i++ {
		d := e.Delay(1)
		require.GreaterOrEqual(t, d, time.Second)
		require.Less(t, d, 2*time.Second)
	}
}

func TestSleepHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	require.NoError(t, Sleep(context.Background(), time.Millisecond))
}
