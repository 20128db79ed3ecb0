package progress

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func TestTrackerCountsAndFinishes(t *testing.T) {
	t.Parallel()

	tr := NewTracker("crawl-1", fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	tr.ListingPage(1, "html", 20)
	tr.ListingPage(2, "markdown", 5)
	tr.DocumentSaved()
	tr.DocumentSaved()
	tr.DocumentSkipped()
	tr.DocumentFailed(errors.New("detail fetch failed"))
	tr.JobEnqueued()

	s := tr.Snapshot()
	require.Equal(t, StatusRunning, s.Status)
	require.Equal(t, 2, s.CurrentPage)
	require.Equal(t, 2, s.PagesCrawled)
	require.Equal(t, 25, s.EntriesFound)
	require.Equal(t, 2, s.DocumentsSaved)
	require.Equal(t, 1, s.DocumentsSkipped)
	require.Equal(t, 1, s.DocumentsFailed)
	require.Equal(t, 1, s.JobsEnqueued)
	require.Equal(t, "detail fetch failed", s.LastError)
	require.Nil(t, s.FinishedAt)

	tr.Finish(nil)
	tr.DocumentSaved()
	tr.Finish(errors.New("ignored"))

	s = tr.Snapshot()
	require.Equal(t, StatusCompleted, s.Status)
	require.Equal(t, 2, s.DocumentsSaved, "updates after finish are ignored")
	require.NotNil(t, s.FinishedAt)
}

func TestTrackerSubscribe(t *testing.T) {
	t.Parallel()

	tr := NewTracker("crawl-2", nil)
	updates, cancel := tr.Subscribe()
	defer cancel()

	first := <-updates
	require.Equal(t, StatusRunning, first.Status)

	tr.DocumentSaved()
	tr.DocumentSaved()
	latest := <-updates
	require.Equal(t, 2, latest.DocumentsSaved, "slow readers only see the latest state")

	tr.Finish(errors.New("listing unavailable"))
	final, ok := <-updates
	require.True(t, ok)
	require.Equal(t, StatusFailed, final.Status)
	_, ok = <-updates
	require.False(t, ok, "channel closes when the crawl finishes")

	late, cancelLate := tr.Subscribe()
	defer cancelLate()
	s, ok := <-late
	require.True(t, ok)
	require.True(t, s.Done())
}

func TestNilTrackerIsSafe(t *testing.T) {
	t.Parallel()

	var tr *Tracker
	tr.ListingPage(1, "html", 1)
	tr.DocumentSaved()
	tr.Finish(nil)
	require.Equal(t, State{}, tr.Snapshot())
	ch, cancel := tr.Subscribe()
	cancel()
	_, ok := <-ch
	require.False(t, ok)
}

func TestRegistryIsolatesCrawlsAndPrunes(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(2, fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	a := reg.Start("a")
	b := reg.Start("b")
	a.DocumentSaved()

	got, ok := reg.Get("b")
	require.True(t, ok)
	require.Same(t, b, got)
	require.Zero(t, got.Snapshot().DocumentsSaved)

	a.Finish(nil)
	b.Finish(nil)
	c := reg.Start("c")
	c.Finish(nil)
	reg.Start("d")

	_, ok = reg.Get("a")
	require.False(t, ok, "oldest finished crawl is pruned")
	for _, id := range []string{"b", "c", "d"} {
		_, ok := reg.Get(id)
		require.True(t, ok, id)
	}

	list := reg.List()
	require.Len(t, list, 3)
	require.Equal(t, "d", list[0].CrawlID)
}
