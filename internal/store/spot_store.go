package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spotsync/client/internal/models"
	"github.com/spotsync/client/internal/observability"
)

const spotColumns = `id, name, latitude, longitude, description, amenities, rating, photo_url, sync_state, modified_at`

// SpotStore handles spot persistence and the per-record sync-state
// machine.
type SpotStore struct {
	db *DB
}

// NewSpotStore creates a new SpotStore
func NewSpotStore(db *DB) *SpotStore {
	return &SpotStore{db: db}
}

// SpotFilter is a composed query predicate for List. Zero values mean
// "no constraint".
type SpotFilter struct {
	Search    string  // substring match on name or description
	Amenity   string  // spot must offer this amenity
	MinRating float64 // inclusive lower bound
	Limit     int
	Offset    int
}

// List returns spots matching the filter, newest first. Rows pending
// deletion are excluded: the UI must not show a spot the user already
// deleted.
func (r *SpotStore) List(ctx context.Context, f SpotFilter) (spots []*models.Spot, err error) {
	ctx, span := observability.StartStoreSpan(ctx, "select", "spots")
	defer func() { endStoreSpan(span, err) }()

	query := `SELECT ` + spotColumns + ` FROM spots WHERE sync_state != ?`
	args := []interface{}{models.PendingDelete.String()}

	if f.Search != "" {
		query += ` AND (name LIKE ? OR description LIKE ?)`
		pattern := "%" + f.Search + "%"
		args = append(args, pattern, pattern)
	}
	if f.Amenity != "" {
		query += ` AND amenities LIKE ?`
		args = append(args, `%"`+f.Amenity+`"%`)
	}
	if f.MinRating > 0 {
		query += ` AND rating >= ?`
		args = append(args, f.MinRating)
	}

	query += ` ORDER BY modified_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := r.db.sql.QueryContext(ctx, r.db.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		spot, err := scanSpot(rows)
		if err != nil {
			return nil, err
		}
		spots = append(spots, spot)
	}
	if spots == nil {
		spots = []*models.Spot{}
	}
	return spots, rows.Err()
}

// GetByID retrieves a spot by its ID, including rows pending deletion.
func (r *SpotStore) GetByID(ctx context.Context, id int64) (*models.Spot, error) {
	row := r.db.sql.QueryRowContext(ctx,
		r.db.rebind(`SELECT `+spotColumns+` FROM spots WHERE id = ?`), id)
	spot, err := scanSpot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return spot, nil
}

// CreateLocal inserts a spot the user created offline. The spot gets a
// provisional negative id and enters PendingCreate.
func (r *SpotStore) CreateLocal(ctx context.Context, spot *models.Spot) error {
	if err := spot.Validate(); err != nil {
		return err
	}

	tx, err := r.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	id, err := r.db.nextProvisionalID(ctx, tx)
	if err != nil {
		return err
	}
	spot.ID = id
	spot.SyncState = models.PendingCreate
	spot.LocallyModifiedAt = time.Now().UTC()

	amenities, err := encodeAmenities(spot.Amenities)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, r.db.rebind(`
		INSERT INTO spots (id, name, latitude, longitude, description, amenities, rating, photo_url, sync_state, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		spot.ID, spot.Name, spot.Latitude, spot.Longitude, spot.Description,
		amenities, spot.Rating, spot.PhotoURL, spot.SyncState.String(), spot.LocallyModifiedAt,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateLocal applies a local edit. A synced spot escalates to
// PendingUpdate; a spot the server has never seen stays PendingCreate.
// The read and write share one transaction so a concurrent id rewrite
// (a create confirmation) surfaces as not-found instead of silently
// updating zero rows.
func (r *SpotStore) UpdateLocal(ctx context.Context, spot *models.Spot) error {
	if err := spot.Validate(); err != nil {
		return err
	}

	tx, err := r.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var stateRaw string
	err = tx.QueryRowContext(ctx,
		r.db.rebind(`SELECT sync_state FROM spots WHERE id = ?`), spot.ID).Scan(&stateRaw)
	if err == sql.ErrNoRows {
		return models.ErrSpotNotFound
	}
	if err != nil {
		return err
	}
	state, err := models.ParseSyncState(stateRaw)
	if err != nil {
		return err
	}

	spot.SyncState = state.EscalateEdit()
	spot.LocallyModifiedAt = time.Now().UTC()

	amenities, err := encodeAmenities(spot.Amenities)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, r.db.rebind(`
		UPDATE spots SET name = ?, latitude = ?, longitude = ?, description = ?,
			amenities = ?, rating = ?, photo_url = ?, sync_state = ?, modified_at = ?
		WHERE id = ?`),
		spot.Name, spot.Latitude, spot.Longitude, spot.Description,
		amenities, spot.Rating, spot.PhotoURL, spot.SyncState.String(), spot.LocallyModifiedAt,
		spot.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrSpotNotFound
	}
	return tx.Commit()
}

// DeleteLocal applies a local delete. A spot the server never saw is
// purged outright (nothing to delete server-side); anything else is
// retained as PendingDelete until the server confirms.
func (r *SpotStore) DeleteLocal(ctx context.Context, id int64) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return models.ErrSpotNotFound
	}
	if current.SyncState == models.PendingCreate {
		return r.Purge(ctx, id)
	}
	return r.MarkState(ctx, id, models.PendingDelete)
}

// MarkState sets the sync-state tag on a spot.
func (r *SpotStore) MarkState(ctx context.Context, id int64, state models.SyncState) error {
	res, err := r.db.sql.ExecContext(ctx,
		r.db.rebind(`UPDATE spots SET sync_state = ?, modified_at = ? WHERE id = ?`),
		state.String(), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrSpotNotFound
	}
	return nil
}

// PendingMutations returns every spot with unpushed local work, in
// push order: creates before updates before deletes. One row per id
// means a record's mutations are already collapsed to their latest
// intended end-state.
func (r *SpotStore) PendingMutations(ctx context.Context) (spots []*models.Spot, err error) {
	ctx, span := observability.StartStoreSpan(ctx, "select", "spots")
	defer func() { endStoreSpan(span, err) }()

	rows, err := r.db.sql.QueryContext(ctx, r.db.rebind(`
		SELECT `+spotColumns+` FROM spots WHERE sync_state != ?
		ORDER BY CASE sync_state
			WHEN 'pending_create' THEN 0
			WHEN 'pending_update' THEN 1
			ELSE 2
		END, modified_at ASC`),
		models.Synced.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		spot, err := scanSpot(rows)
		if err != nil {
			return nil, err
		}
		spots = append(spots, spot)
	}
	return spots, rows.Err()
}

// Purge physically removes a row.
func (r *SpotStore) Purge(ctx context.Context, id int64) error {
	_, err := r.db.sql.ExecContext(ctx, r.db.rebind(`DELETE FROM spots WHERE id = ?`), id)
	return err
}

// ConfirmCreate rewrites a provisional id with the server-assigned one
// and tags the spot synced, in a single transaction. Dependent visits
// and queued photos are repointed in the same transaction so no reader
// ever observes a provisional id tagged synced or a dangling
// reference.
func (r *SpotStore) ConfirmCreate(ctx context.Context, provisionalID, serverID int64) (err error) {
	ctx, span := observability.StartStoreSpan(ctx, "update", "spots")
	span.SetAttributes(observability.SpotID(serverID))
	defer func() { endStoreSpan(span, err) }()

	tx, err := r.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		r.db.rebind(`UPDATE spots SET id = ?, sync_state = ? WHERE id = ?`),
		serverID, models.Synced.String(), provisionalID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrSpotNotFound
	}

	if _, err := tx.ExecContext(ctx,
		r.db.rebind(`UPDATE visits SET spot_id = ? WHERE spot_id = ?`),
		serverID, provisionalID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		r.db.rebind(`UPDATE pending_photos SET spot_id = ? WHERE spot_id = ?`),
		serverID, provisionalID); err != nil {
		return err
	}
	return tx.Commit()
}

// UpsertSynced applies an authoritative record from the pull phase.
// Rows with pending local work are never overwritten: local pending
// intent wins until its own push resolves.
func (r *SpotStore) UpsertSynced(ctx context.Context, spot *models.Spot) error {
	tx, err := r.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var stateRaw string
	err = tx.QueryRowContext(ctx,
		r.db.rebind(`SELECT sync_state FROM spots WHERE id = ?`), spot.ID).Scan(&stateRaw)

	amenities, encErr := encodeAmenities(spot.Amenities)
	if encErr != nil {
		return encErr
	}
	now := time.Now().UTC()

	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, r.db.rebind(`
			INSERT INTO spots (id, name, latitude, longitude, description, amenities, rating, photo_url, sync_state, modified_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			spot.ID, spot.Name, spot.Latitude, spot.Longitude, spot.Description,
			amenities, spot.Rating, spot.PhotoURL, models.Synced.String(), now)
	case err != nil:
		return err
	default:
		state, perr := models.ParseSyncState(stateRaw)
		if perr != nil {
			return perr
		}
		if state.Pending() {
			return tx.Commit()
		}
		_, err = tx.ExecContext(ctx, r.db.rebind(`
			UPDATE spots SET name = ?, latitude = ?, longitude = ?, description = ?,
				amenities = ?, rating = ?, photo_url = ?, sync_state = ?, modified_at = ?
			WHERE id = ?`),
			spot.Name, spot.Latitude, spot.Longitude, spot.Description,
			amenities, spot.Rating, spot.PhotoURL, models.Synced.String(), now, spot.ID)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// SetPhotoURL attaches an uploaded photo reference without touching
// the sync state; the server already holds the photo.
func (r *SpotStore) SetPhotoURL(ctx context.Context, id int64, url string) error {
	_, err := r.db.sql.ExecContext(ctx,
		r.db.rebind(`UPDATE spots SET photo_url = ? WHERE id = ?`), url, id)
	return err
}

// PendingCount returns how many spots still carry unpushed work.
func (r *SpotStore) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.sql.QueryRowContext(ctx,
		r.db.rebind(`SELECT COUNT(*) FROM spots WHERE sync_state != ?`),
		models.Synced.String()).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSpot(row rowScanner) (*models.Spot, error) {
	var spot models.Spot
	var amenities, stateRaw string
	if err := row.Scan(
		&spot.ID,
		&spot.Name,
		&spot.Latitude,
		&spot.Longitude,
		&spot.Description,
		&amenities,
		&spot.Rating,
		&spot.PhotoURL,
		&stateRaw,
		&spot.LocallyModifiedAt,
	); err != nil {
		return nil, err
	}

	state, err := models.ParseSyncState(stateRaw)
	if err != nil {
		return nil, err
	}
	spot.SyncState = state

	if err := json.Unmarshal([]byte(amenities), &spot.Amenities); err != nil {
		return nil, fmt.Errorf("corrupt amenities for spot %d: %w", spot.ID, err)
	}
	return &spot, nil
}

func encodeAmenities(amenities []string) (string, error) {
	if amenities == nil {
		amenities = []string{}
	}
	raw, err := json.Marshal(amenities)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
