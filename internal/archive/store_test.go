package archive

import (
	"context"
	"testing"
	"time"
	"zhihu-archive/internal/components/chrono"
	"zhihu-archive/internal/scrapers/zhihu"

	"github.com/stretchr/testify/require"
)

var shanghai = time.FixedZone("CST", 8*60*60)

func setup(t testing.TB) Store {
	store, err := Open(":memory:", chrono.FixedImpl{Instant: time.Date(2024, 6, 1, 0, 0, 0, 0, shanghai)})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func answer(id, title string) zhihu.FetchResult {
	return zhihu.FetchResult{
		ID:            id,
		Type:          zhihu.TypeAnswer,
		Title:         title,
		Author:        "someone",
		URL:           zhihu.AnswerURL("1", id),
		QuestionID:    "1",
		UpvoteCount:   3,
		PublishedDate: time.Date(2023, 1, 2, 3, 4, 5, 0, shanghai),
	}
}

func TestSaveUpsert(t *testing.T) {
	ctx := context.Background()
	store := setup(t)

	exists, err := store.Exists(ctx, "10")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, store.Save(ctx, Record{
		Item:         answer("10", "first"),
		Markdown:     "body",
		Path:         "a/b.md",
		CollectionID: "c1",
	}))

	exists, err = store.Exists(ctx, "10")
	require.NoError(t, err)
	require.True(t, exists)

	// saved again outside of a sync, the collection must be kept
	updated := answer("10", "second")
	updated.UpvoteCount = 9
	require.NoError(t, store.Save(ctx, Record{Item: updated, Markdown: "body 2"}))

	record, ok, err := store.Get(ctx, "10")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "second", record.Item.Title)
	require.Equal(t, 9, record.Item.UpvoteCount)
	require.Equal(t, "c1", record.CollectionID)
	require.Equal(t, "body 2", record.Markdown)
	require.True(t, record.Item.PublishedDate.Equal(updated.PublishedDate))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	_, ok, err = store.Get(ctx, "unknown")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	store := setup(t)

	older := answer("1", "Go 并发模型")
	older.PublishedDate = older.PublishedDate.Add(-time.Hour)
	require.NoError(t, store.Save(ctx, Record{Item: older, Markdown: "channels"}))
	require.NoError(t, store.Save(ctx, Record{Item: answer("2", "Rust"), Markdown: "about 100% safety and go"}))
	require.NoError(t, store.Save(ctx, Record{Item: answer("3", "Python"), Markdown: "snake_case"}))

	testCases := []struct {
		keyword string
		expect  []string
	}{
		{keyword: "go", expect: []string{"2", "1"}},
		{keyword: "并发", expect: []string{"1"}},
		{keyword: "100%", expect: []string{"2"}},
		{keyword: "e_c", expect: []string{"3"}},
		{keyword: "%", expect: []string{"2"}},
		{keyword: "nothing", expect: nil},
	}
	for _, test := range testCases {
		t.Run(test.keyword, func(t *testing.T) {
			hits, err := store.Search(ctx, test.keyword, 10)
			require.NoError(t, err)
			var ids []string
			for _, hit := range hits {
				ids = append(ids, hit.ID)
			}
			require.Equal(t, test.expect, ids)
		})
	}

	hits, err := store.Search(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}
