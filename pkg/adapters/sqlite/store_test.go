package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_Contract(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "threads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ports.RunStateStoreContract(t, store)
}

func TestSQLiteStore_InMemory(t *testing.T) {
	store, err := New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "t-1", domain.NewConversation("t-1")))
	got, err := store.Load(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, "t-1", got.ThreadID)
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "threads.db")
	ctx := context.Background()

	first, err := New(path)
	require.NoError(t, err)
	state := domain.NewConversation("t-1")
	state.BeginTurn("hello", time.Now())
	require.NoError(t, first.Save(ctx, "t-1", state))
	require.NoError(t, first.Close())

	second, err := New(path)
	require.NoError(t, err)
	defer second.Close()

	got, err := second.Load(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Turn)
	assert.Equal(t, "hello", got.CurrentQuery)
}

func TestSQLiteStore_OpenError(t *testing.T) {
	orig := openDB
	t.Cleanup(func() { openDB = orig })
	openDB = func(string, string) (*sql.DB, error) {
		return nil, errors.New("driver missing")
	}

	_, err := New(filepath.Join(t.TempDir(), "x.db"))
	assert.ErrorContains(t, err, "driver missing")
}
