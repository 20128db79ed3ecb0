package headless

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	_, err := New(Config{MaxParallel: -1}, nil)
	require.Error(t, err)

	r, err := New(Config{MaxParallel: 2}, nil)
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, 2, cap(r.limiter))
	require.Equal(t, defaultNavTimeout, r.cfg.NavigationTimeout)
	require.Equal(t, defaultWait, r.cfg.Wait)
	require.Equal(t, "table", r.cfg.WaitSelector)
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	r, err := New(Config{MaxParallel: 1, Wait: time.Second}, nil)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.acquire(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, r.acquire(ctx), context.DeadlineExceeded)

	r.release()
	require.NoError(t, r.acquire(context.Background()))
	r.release()
}

func TestDocumentStatusIgnoresSubresources(t *testing.T) {
	t.Parallel()

	d := &documentStatus{}
	d.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404},
	})
	d.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 200},
	})
	d.captureEvent("unrelated")
	require.Equal(t, 404, d.get())
}
