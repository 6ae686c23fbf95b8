package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spotsync/client/internal/models"
)

func newTestDB(t *testing.T) *DB {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedSyncedSpot(t *testing.T, store *SpotStore, id int64, name string) {
	require.NoError(t, store.UpsertSynced(context.Background(), &models.Spot{
		ID:        id,
		Name:      name,
		Latitude:  52.52,
		Longitude: 13.40,
		Rating:    4,
		Amenities: []string{"bench"},
	}))
}

func TestSpotStore_CreateLocal(t *testing.T) {
	t.Run("assigns descending provisional ids starting at -1", func(t *testing.T) {
		db := newTestDB(t)
		store := NewSpotStore(db)
		ctx := context.Background()

		first := &models.Spot{Name: "Viewpoint", Latitude: 1, Longitude: 2}
		second := &models.Spot{Name: "Fountain", Latitude: 3, Longitude: 4}
		require.NoError(t, store.CreateLocal(ctx, first))
		require.NoError(t, store.CreateLocal(ctx, second))

		assert.Equal(t, int64(-1), first.ID)
		assert.Equal(t, int64(-2), second.ID)
		assert.True(t, first.Provisional())
		assert.Equal(t, models.PendingCreate, first.SyncState)
	})

	t.Run("created spot is immediately listed", func(t *testing.T) {
		db := newTestDB(t)
		store := NewSpotStore(db)
		ctx := context.Background()

		require.NoError(t, store.CreateLocal(ctx, &models.Spot{Name: "Viewpoint"}))

		spots, err := store.List(ctx, SpotFilter{})
		require.NoError(t, err)
		require.Len(t, spots, 1)
		assert.Equal(t, "Viewpoint", spots[0].Name)
	})

	t.Run("rejects invalid spots", func(t *testing.T) {
		db := newTestDB(t)
		store := NewSpotStore(db)
		ctx := context.Background()

		assert.ErrorIs(t, store.CreateLocal(ctx, &models.Spot{Name: "  "}), models.ErrEmptySpotName)
		assert.ErrorIs(t, store.CreateLocal(ctx, &models.Spot{Name: "x", Latitude: 91}), models.ErrInvalidCoordinates)
	})
}

func TestSpotStore_UpdateLocal(t *testing.T) {
	t.Run("synced spot escalates to pending update", func(t *testing.T) {
		db := newTestDB(t)
		store := NewSpotStore(db)
		ctx := context.Background()
		seedSyncedSpot(t, store, 10, "Old name")

		spot, err := store.GetByID(ctx, 10)
		require.NoError(t, err)
		spot.Name = "New name"
		require.NoError(t, store.UpdateLocal(ctx, spot))

		got, err := store.GetByID(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, "New name", got.Name)
		assert.Equal(t, models.PendingUpdate, got.SyncState)
	})

	t.Run("editing an unpushed create stays pending create", func(t *testing.T) {
		db := newTestDB(t)
		store := NewSpotStore(db)
		ctx := context.Background()

		spot := &models.Spot{Name: "Draft"}
		require.NoError(t, store.CreateLocal(ctx, spot))
		spot.Name = "Draft v2"
		require.NoError(t, store.UpdateLocal(ctx, spot))

		got, err := store.GetByID(ctx, spot.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PendingCreate, got.SyncState)
	})

	t.Run("missing spot errors", func(t *testing.T) {
		db := newTestDB(t)
		store := NewSpotStore(db)

		err := store.UpdateLocal(context.Background(), &models.Spot{ID: 999, Name: "ghost"})
		assert.ErrorIs(t, err, models.ErrSpotNotFound)
	})

	t.Run("edit against an id rewritten by create confirmation is never lost silently", func(t *testing.T) {
		db := newTestDB(t)
		store := NewSpotStore(db)
		ctx := context.Background()

		spot := &models.Spot{Name: "Draft"}
		require.NoError(t, store.CreateLocal(ctx, spot))
		stale := *spot

		require.NoError(t, store.ConfirmCreate(ctx, spot.ID, 42))

		// The stale provisional id must surface as not-found so the
		// caller retries against the confirmed id.
		stale.Name = "Edited too late"
		assert.ErrorIs(t, store.UpdateLocal(ctx, &stale), models.ErrSpotNotFound)

		confirmed, err := store.GetByID(ctx, 42)
		require.NoError(t, err)
		confirmed.Name = "Edited in time"
		require.NoError(t, store.UpdateLocal(ctx, confirmed))

		got, err := store.GetByID(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, "Edited in time", got.Name)
		assert.Equal(t, models.PendingUpdate, got.SyncState)
	})
}

func TestSpotStore_DeleteLocal(t *testing.T) {
	t.Run("deleting an unpushed create purges the row", func(t *testing.T) {
		db := newTestDB(t)
		store := NewSpotStore(db)
		ctx := context.Background()

		spot := &models.Spot{Name: "Never pushed"}
		require.NoError(t, store.CreateLocal(ctx, spot))
		require.NoError(t, store.DeleteLocal(ctx, spot.ID))

		got, err := store.GetByID(ctx, spot.ID)
		require.NoError(t, err)
		assert.Nil(t, got)

		pending, err := store.PendingMutations(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("deleting a synced spot retains it as pending delete", func(t *testing.T) {
		db := newTestDB(t)
		store := NewSpotStore(db)
		ctx := context.Background()
		seedSyncedSpot(t, store, 10, "Known")

		require.NoError(t, store.DeleteLocal(ctx, 10))

		// The row survives for the push but disappears from listings.
		got, err := store.GetByID(ctx, 10)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, models.PendingDelete, got.SyncState)

		spots, err := store.List(ctx, SpotFilter{})
		require.NoError(t, err)
		assert.Empty(t, spots)
	})
}

func TestSpotStore_PendingMutations(t *testing.T) {
	t.Run("orders creates before updates before deletes", func(t *testing.T) {
		db := newTestDB(t)
		store := NewSpotStore(db)
		ctx := context.Background()

		seedSyncedSpot(t, store, 10, "To delete")
		seedSyncedSpot(t, store, 11, "To update")
		require.NoError(t, store.DeleteLocal(ctx, 10))

		updated, err := store.GetByID(ctx, 11)
		require.NoError(t, err)
		updated.Name = "Updated"
		require.NoError(t, store.UpdateLocal(ctx, updated))

		require.NoError(t, store.CreateLocal(ctx, &models.Spot{Name: "Created"}))

		pending, err := store.PendingMutations(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 3)
		assert.Equal(t, models.PendingCreate, pending[0].SyncState)
		assert.Equal(t, models.PendingUpdate, pending[1].SyncState)
		assert.Equal(t, models.PendingDelete, pending[2].SyncState)
	})

	t.Run("a record appears once with its collapsed end-state", func(t *testing.T) {
		db := newTestDB(t)
		store := NewSpotStore(db)
		ctx := context.Background()
		seedSyncedSpot(t, store, 10, "v1")

		spot, err := store.GetByID(ctx, 10)
		require.NoError(t, err)
		spot.Name = "v2"
		require.NoError(t, store.UpdateLocal(ctx, spot))
		spot.Name = "v3"
		require.NoError(t, store.UpdateLocal(ctx, spot))

		pending, err := store.PendingMutations(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "v3", pending[0].Name)
		assert.Equal(t, models.PendingUpdate, pending[0].SyncState)
	})
}

func TestSpotStore_ConfirmCreate(t *testing.T) {
	t.Run("rewrites the id and repoints dependents atomically", func(t *testing.T) {
		db := newTestDB(t)
		spots := NewSpotStore(db)
		visits := NewVisitStore(db)
		photos := NewPhotoQueue(db)
		ctx := context.Background()

		spot := &models.Spot{Name: "New spot"}
		require.NoError(t, spots.CreateLocal(ctx, spot))
		require.NoError(t, visits.CreateLocal(ctx, &models.Visit{SpotID: spot.ID, VisitedAt: time.Now()}))
		require.NoError(t, photos.Add(ctx, &models.PendingPhoto{SpotID: spot.ID, FilePath: "/tmp/p.jpg"}))

		require.NoError(t, spots.ConfirmCreate(ctx, spot.ID, 42))

		confirmed, err := spots.GetByID(ctx, 42)
		require.NoError(t, err)
		require.NotNil(t, confirmed)
		assert.Equal(t, models.Synced, confirmed.SyncState)

		gone, err := spots.GetByID(ctx, spot.ID)
		require.NoError(t, err)
		assert.Nil(t, gone)

		vs, err := visits.List(ctx, 42)
		require.NoError(t, err)
		require.Len(t, vs, 1)

		queued, err := photos.List(ctx)
		require.NoError(t, err)
		require.Len(t, queued, 1)
		assert.Equal(t, int64(42), queued[0].SpotID)
	})

	t.Run("missing provisional row errors", func(t *testing.T) {
		db := newTestDB(t)
		store := NewSpotStore(db)

		err := store.ConfirmCreate(context.Background(), -5, 42)
		assert.ErrorIs(t, err, models.ErrSpotNotFound)
	})
}

func TestSpotStore_UpsertSynced(t *testing.T) {
	t.Run("inserts unknown authoritative rows as synced", func(t *testing.T) {
		db := newTestDB(t)
		store := NewSpotStore(db)
		ctx := context.Background()

		require.NoError(t, store.UpsertSynced(ctx, &models.Spot{ID: 7, Name: "From server"}))

		got, err := store.GetByID(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, models.Synced, got.SyncState)
	})

	t.Run("never overwrites pending local work", func(t *testing.T) {
		db := newTestDB(t)
		store := NewSpotStore(db)
		ctx := context.Background()
		seedSyncedSpot(t, store, 7, "Local v1")

		spot, err := store.GetByID(ctx, 7)
		require.NoError(t, err)
		spot.Name = "Local edit"
		require.NoError(t, store.UpdateLocal(ctx, spot))

		require.NoError(t, store.UpsertSynced(ctx, &models.Spot{ID: 7, Name: "Server wins?"}))

		got, err := store.GetByID(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, "Local edit", got.Name)
		assert.Equal(t, models.PendingUpdate, got.SyncState)
	})

	t.Run("refreshes synced rows with server state", func(t *testing.T) {
		db := newTestDB(t)
		store := NewSpotStore(db)
		ctx := context.Background()
		seedSyncedSpot(t, store, 7, "Old server name")

		require.NoError(t, store.UpsertSynced(ctx, &models.Spot{ID: 7, Name: "New server name", Rating: 5}))

		got, err := store.GetByID(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, "New server name", got.Name)
		assert.Equal(t, float64(5), got.Rating)
	})
}

func TestSpotStore_List(t *testing.T) {
	db := newTestDB(t)
	store := NewSpotStore(db)
	ctx := context.Background()

	require.NoError(t, store.UpsertSynced(ctx, &models.Spot{ID: 1, Name: "Quiet park", Description: "shade and grass", Amenities: []string{"bench", "water"}, Rating: 4.5}))
	require.NoError(t, store.UpsertSynced(ctx, &models.Spot{ID: 2, Name: "Skate plaza", Description: "concrete bowl", Amenities: []string{"ramp"}, Rating: 3}))
	require.NoError(t, store.UpsertSynced(ctx, &models.Spot{ID: 3, Name: "Rooftop bar", Description: "city views", Amenities: []string{"bench"}, Rating: 2}))

	t.Run("search matches name or description", func(t *testing.T) {
		spots, err := store.List(ctx, SpotFilter{Search: "concrete"})
		require.NoError(t, err)
		require.Len(t, spots, 1)
		assert.Equal(t, "Skate plaza", spots[0].Name)
	})

	t.Run("amenity filter", func(t *testing.T) {
		spots, err := store.List(ctx, SpotFilter{Amenity: "bench"})
		require.NoError(t, err)
		assert.Len(t, spots, 2)
	})

	t.Run("minimum rating", func(t *testing.T) {
		spots, err := store.List(ctx, SpotFilter{MinRating: 4})
		require.NoError(t, err)
		require.Len(t, spots, 1)
		assert.Equal(t, "Quiet park", spots[0].Name)
	})

	t.Run("limit and offset page through results", func(t *testing.T) {
		page, err := store.List(ctx, SpotFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, page, 2)

		rest, err := store.List(ctx, SpotFilter{Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Len(t, rest, 1)
	})
}

func TestSpotStore_PendingCount(t *testing.T) {
	db := newTestDB(t)
	store := NewSpotStore(db)
	ctx := context.Background()

	count, err := store.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, store.CreateLocal(ctx, &models.Spot{Name: "One"}))
	seedSyncedSpot(t, store, 10, "Synced")

	count, err = store.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
