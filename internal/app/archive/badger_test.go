package archive

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestBadger(t *testing.T, path string) *BadgerStore {
	t.Helper()
	store, err := OpenBadger(path)
	require.NoError(t, err)
	return store
}

func TestBadgerStore_PagesNewestFirst(t *testing.T) {
	req := require.New(t)
	store := openTestBadger(t, t.TempDir())
	t.Cleanup(func() { _ = store.Close() })

	msgs := testMessages(5)
	req.NoError(store.Save(t.Context(), msgs[:2]))
	req.NoError(store.Save(t.Context(), msgs[2:]))

	first, err := store.Page(t.Context(), 0, 2)
	req.NoError(err)
	req.Equal([]string{"m5", "m4"}, texts(first.Messages))
	req.NotZero(first.NextCursor)

	second, err := store.Page(t.Context(), first.NextCursor, 2)
	req.NoError(err)
	req.Equal([]string{"m3", "m2"}, texts(second.Messages))

	third, err := store.Page(t.Context(), second.NextCursor, 2)
	req.NoError(err)
	req.Equal([]string{"m1"}, texts(third.Messages))
	req.Zero(third.NextCursor)

	req.Equal(msgs[0], third.Messages[0])
}

func TestBadgerStore_SaveIsIdempotent(t *testing.T) {
	req := require.New(t)
	store := openTestBadger(t, t.TempDir())
	t.Cleanup(func() { _ = store.Close() })

	msgs := testMessages(3)
	req.NoError(store.Save(t.Context(), msgs))
	req.NoError(store.Save(t.Context(), msgs[1:]))

	page, err := store.Page(t.Context(), 0, 10)
	req.NoError(err)
	req.Equal([]string{"m3", "m2", "m1"}, texts(page.Messages))
	req.Zero(page.NextCursor)
}

func TestBadgerStore_EmptyArchive(t *testing.T) {
	req := require.New(t)
	store := openTestBadger(t, t.TempDir())
	t.Cleanup(func() { _ = store.Close() })

	page, err := store.Page(t.Context(), 0, 10)
	req.NoError(err)
	req.Empty(page.Messages)
	req.Zero(page.NextCursor)
}

func TestBadgerStore_SurvivesReopen(t *testing.T) {
	req := require.New(t)
	path := t.TempDir()

	store := openTestBadger(t, path)
	req.NoError(store.Save(t.Context(), testMessages(2)))
	req.NoError(store.Close())

	reopened := openTestBadger(t, path)
	t.Cleanup(func() { _ = reopened.Close() })

	more := testMessages(3)[2:]
	req.NoError(reopened.Save(t.Context(), more))

	page, err := reopened.Page(t.Context(), 0, 10)
	req.NoError(err)
	req.Equal([]string{"m3", "m2", "m1"}, texts(page.Messages))
}
