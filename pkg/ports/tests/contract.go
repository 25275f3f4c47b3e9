package tests

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/aretw0/spooler/pkg/domain"
	"github.com/aretw0/spooler/pkg/ports"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunBackingStoreContract verifies that stores produced by factory behave as ports.BackingStore requires.
func RunBackingStoreContract(t *testing.T, factory ports.StoreFactory) {
	t.Helper()
	ctx := context.Background()

	open := func(t *testing.T) ports.BackingStore {
		t.Helper()
		store, err := factory.Open(ctx, uuid.NewString())
		require.NoError(t, err, "Open should not return error")
		t.Cleanup(func() { _ = store.Discard() })
		return store
	}

	t.Run("Write and Finalize", func(t *testing.T) {
		store := open(t)

		_, err := store.Write([]byte("ABC"))
		require.NoError(t, err)
		_, err = store.Write([]byte("DE"))
		require.NoError(t, err)
		assert.Equal(t, int64(5), store.Len())

		require.NoError(t, store.Finalize())
		assert.Equal(t, int64(5), store.Len(), "Len must survive Finalize")

		body, err := store.Body()
		require.NoError(t, err)
		assert.Equal(t, int64(5), body.Size())

		// Body is repeatable
		for i := 0; i < 2; i++ {
			rc, err := body.Open()
			require.NoError(t, err)
			data, err := io.ReadAll(rc)
			require.NoError(t, err)
			require.NoError(t, rc.Close())
			assert.Equal(t, "ABCDE", string(data))
		}
	})

	t.Run("Empty Store", func(t *testing.T) {
		store := open(t)
		require.NoError(t, store.Finalize())

		body, err := store.Body()
		require.NoError(t, err)
		assert.Equal(t, int64(0), body.Size())
	})

	t.Run("Write After Finalize", func(t *testing.T) {
		store := open(t)
		require.NoError(t, store.Finalize())

		_, err := store.Write([]byte("late"))
		assert.ErrorIs(t, err, domain.ErrStoreFinalized)
	})

	t.Run("Body Before Finalize", func(t *testing.T) {
		store := open(t)
		_, err := store.Body()
		assert.ErrorIs(t, err, domain.ErrStoreNotFinalized)
	})

	t.Run("Discard", func(t *testing.T) {
		store := open(t)
		_, err := store.Write([]byte("gone"))
		require.NoError(t, err)

		require.NoError(t, store.Discard())
		require.NoError(t, store.Discard(), "Discard must be idempotent")

		_, err = store.Write([]byte("x"))
		assert.ErrorIs(t, err, domain.ErrStoreClosed)
	})

	t.Run("Discard Finalized Body", func(t *testing.T) {
		store := open(t)
		_, err := store.Write([]byte("gone"))
		require.NoError(t, err)
		require.NoError(t, store.Finalize())

		body, err := store.Body()
		require.NoError(t, err)
		require.NoError(t, body.Discard())

		_, err = body.Open()
		assert.Error(t, err)
	})
}

// RunSessionRegistryContract verifies that a ports.SessionRegistry implementation adheres to the interface contract.
func RunSessionRegistryContract(t *testing.T, registry ports.SessionRegistry) {
	t.Helper()
	ctx := context.Background()
	base := "contract-" + time.Now().Format("20060102150405")

	t.Run("Save and List", func(t *testing.T) {
		rec := domain.SessionRecord{
			ID:           base + "-a",
			ConnectionID: "conn-1",
			Location:     "/tmp/" + base + "-a",
			StartedAt:    time.Now().UTC().Truncate(time.Second),
		}
		require.NoError(t, registry.Save(ctx, rec))
		defer func() { _ = registry.Delete(ctx, rec.ID) }()

		list, err := registry.List(ctx)
		require.NoError(t, err)

		var found *domain.SessionRecord
		for i := range list {
			if list[i].ID == rec.ID {
				found = &list[i]
			}
		}
		require.NotNil(t, found, "saved record should be listed")
		assert.Equal(t, rec.ConnectionID, found.ConnectionID)
		assert.Equal(t, rec.Location, found.Location)
		assert.True(t, rec.StartedAt.Equal(found.StartedAt))
	})

	t.Run("Delete", func(t *testing.T) {
		rec := domain.SessionRecord{ID: base + "-b", ConnectionID: "conn-2", StartedAt: time.Now()}
		require.NoError(t, registry.Save(ctx, rec))
		require.NoError(t, registry.Delete(ctx, rec.ID))

		list, err := registry.List(ctx)
		require.NoError(t, err)
		for _, r := range list {
			assert.NotEqual(t, rec.ID, r.ID, "deleted record should not be listed")
		}
	})

	t.Run("Delete Unknown", func(t *testing.T) {
		assert.NoError(t, registry.Delete(ctx, "unknown-"+base))
	})
}
