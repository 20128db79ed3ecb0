package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/customs-regdocs/internal/crawler"
)

func TestDocumentStoreUpsertKeepsWorkflowFields(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewDocumentStore()

	first, err := store.Upsert(ctx, crawler.Document{DocumentNumber: "12/2024/TT-BTC", Title: "Old title"})
	require.NoError(t, err)
	require.EqualValues(t, 1, first.ID)
	require.Equal(t, crawler.DocumentStatusPending, first.Status)
	require.Equal(t, crawler.ProcessedStatusNew, first.ProcessedStatus)
	require.NotNil(t, first.Tags)

	require.NoError(t, store.UpdateStatus(ctx, first.ID, crawler.DocumentStatusDownloaded, crawler.ProcessedStatusProcessed))

	second, err := store.Upsert(ctx, crawler.Document{
		DocumentNumber: " 12/2024/tt-btc ",
		Title:          "New title",
		Status:         crawler.DocumentStatusPending,
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID, "same number maps to one row")
	require.Equal(t, "New title", second.Title)
	require.Equal(t, crawler.DocumentStatusDownloaded, second.Status)
	require.Equal(t, crawler.ProcessedStatusProcessed, second.ProcessedStatus)
	require.Equal(t, "12/2024/TT-BTC", second.DocumentNumber)

	docs, err := store.List(ctx, crawler.ListFilter{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
}

func TestDocumentStoreCreateAndLookup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewDocumentStore()

	_, err := store.Create(ctx, crawler.Document{})
	require.Error(t, err)

	doc, err := store.Create(ctx, crawler.Document{DocumentNumber: "A-1", Tags: []string{"manual"}})
	require.NoError(t, err)
	_, err = store.Create(ctx, crawler.Document{DocumentNumber: "a-1"})
	require.ErrorIs(t, err, crawler.ErrDuplicate)

	got, err := store.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	got.Tags[0] = "changed"
	again, err := store.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"manual"}, again.Tags, "callers receive copies")

	_, err = store.GetByID(ctx, 99)
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.ErrorIs(t, store.UpdateStatus(ctx, 99, crawler.DocumentStatusFailed, ""), crawler.ErrNotFound)
}

func TestDocumentStoreListFilters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewDocumentStore()
	for _, n := range []string{"1", "2", "3", "4"} {
		_, err := store.Upsert(ctx, crawler.Document{DocumentNumber: n})
		require.NoError(t, err)
	}
	require.NoError(t, store.UpdateStatus(ctx, 2, crawler.DocumentStatusFailed, ""))

	page, err := store.List(ctx, crawler.ListFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Equal(t, []int64{3, 2}, []int64{page[0].ID, page[1].ID})

	failed, err := store.List(ctx, crawler.ListFilter{Status: crawler.DocumentStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, crawler.ProcessedStatusNew, failed[0].ProcessedStatus)

	empty, err := store.List(ctx, crawler.ListFilter{Offset: 10})
	require.NoError(t, err)
	require.Empty(t, empty)
}
