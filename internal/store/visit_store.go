package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/spotsync/client/internal/models"
)

const visitColumns = `id, spot_id, visited_at, note, rating, sync_state, modified_at`

// VisitStore handles visit persistence. Visits follow the same
// sync-state machine as spots.
type VisitStore struct {
	db *DB
}

// NewVisitStore creates a new VisitStore
func NewVisitStore(db *DB) *VisitStore {
	return &VisitStore{db: db}
}

// List returns visits, newest first, excluding rows pending deletion.
// A zero spotID lists visits across all spots.
func (r *VisitStore) List(ctx context.Context, spotID int64) ([]*models.Visit, error) {
	query := `SELECT ` + visitColumns + ` FROM visits WHERE sync_state != ?`
	args := []interface{}{models.PendingDelete.String()}
	if spotID != 0 {
		query += ` AND spot_id = ?`
		args = append(args, spotID)
	}
	query += ` ORDER BY visited_at DESC`

	rows, err := r.db.sql.QueryContext(ctx, r.db.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var visits []*models.Visit
	for rows.Next() {
		visit, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		visits = append(visits, visit)
	}
	if visits == nil {
		visits = []*models.Visit{}
	}
	return visits, rows.Err()
}

// GetByID retrieves a visit by its ID, including rows pending deletion.
func (r *VisitStore) GetByID(ctx context.Context, id int64) (*models.Visit, error) {
	row := r.db.sql.QueryRowContext(ctx,
		r.db.rebind(`SELECT `+visitColumns+` FROM visits WHERE id = ?`), id)
	visit, err := scanVisit(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return visit, nil
}

// CreateLocal inserts a visit recorded offline with a provisional id.
func (r *VisitStore) CreateLocal(ctx context.Context, visit *models.Visit) error {
	tx, err := r.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	id, err := r.db.nextProvisionalID(ctx, tx)
	if err != nil {
		return err
	}
	visit.ID = id
	visit.SyncState = models.PendingCreate
	visit.LocallyModifiedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, r.db.rebind(`
		INSERT INTO visits (id, spot_id, visited_at, note, rating, sync_state, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		visit.ID, visit.SpotID, visit.VisitedAt, visit.Note, visit.Rating,
		visit.SyncState.String(), visit.LocallyModifiedAt,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateLocal applies a local edit with the usual state escalation.
// Read and write share one transaction so a concurrent id rewrite
// surfaces as not-found instead of updating zero rows.
func (r *VisitStore) UpdateLocal(ctx context.Context, visit *models.Visit) error {
	tx, err := r.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var stateRaw string
	err = tx.QueryRowContext(ctx,
		r.db.rebind(`SELECT sync_state FROM visits WHERE id = ?`), visit.ID).Scan(&stateRaw)
	if err == sql.ErrNoRows {
		return models.ErrVisitNotFound
	}
	if err != nil {
		return err
	}
	state, err := models.ParseSyncState(stateRaw)
	if err != nil {
		return err
	}

	visit.SyncState = state.EscalateEdit()
	visit.LocallyModifiedAt = time.Now().UTC()

	res, err := tx.ExecContext(ctx, r.db.rebind(`
		UPDATE visits SET spot_id = ?, visited_at = ?, note = ?, rating = ?, sync_state = ?, modified_at = ?
		WHERE id = ?`),
		visit.SpotID, visit.VisitedAt, visit.Note, visit.Rating,
		visit.SyncState.String(), visit.LocallyModifiedAt, visit.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrVisitNotFound
	}
	return tx.Commit()
}

// DeleteLocal applies a local delete: purge if the server never saw
// the visit, PendingDelete otherwise.
func (r *VisitStore) DeleteLocal(ctx context.Context, id int64) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return models.ErrVisitNotFound
	}
	if current.SyncState == models.PendingCreate {
		return r.Purge(ctx, id)
	}
	return r.MarkState(ctx, id, models.PendingDelete)
}

// MarkState sets the sync-state tag on a visit.
func (r *VisitStore) MarkState(ctx context.Context, id int64, state models.SyncState) error {
	res, err := r.db.sql.ExecContext(ctx,
		r.db.rebind(`UPDATE visits SET sync_state = ?, modified_at = ? WHERE id = ?`),
		state.String(), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrVisitNotFound
	}
	return nil
}

// PendingMutations returns every visit with unpushed work in push
// order.
func (r *VisitStore) PendingMutations(ctx context.Context) ([]*models.Visit, error) {
	rows, err := r.db.sql.QueryContext(ctx, r.db.rebind(`
		SELECT `+visitColumns+` FROM visits WHERE sync_state != ?
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

	var visits []*models.Visit
	for rows.Next() {
		visit, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		visits = append(visits, visit)
	}
	return visits, rows.Err()
}

// Purge physically removes a row.
func (r *VisitStore) Purge(ctx context.Context, id int64) error {
	_, err := r.db.sql.ExecContext(ctx, r.db.rebind(`DELETE FROM visits WHERE id = ?`), id)
	return err
}

// ConfirmCreate rewrites the provisional id with the server-assigned
// one and tags the visit synced, atomically.
func (r *VisitStore) ConfirmCreate(ctx context.Context, provisionalID, serverID int64) error {
	res, err := r.db.sql.ExecContext(ctx,
		r.db.rebind(`UPDATE visits SET id = ?, sync_state = ? WHERE id = ?`),
		serverID, models.Synced.String(), provisionalID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrVisitNotFound
	}
	return nil
}

// UpsertSynced applies an authoritative record from the pull phase,
// never overwriting pending local work.
func (r *VisitStore) UpsertSynced(ctx context.Context, visit *models.Visit) error {
	tx, err := r.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var stateRaw string
	err = tx.QueryRowContext(ctx,
		r.db.rebind(`SELECT sync_state FROM visits WHERE id = ?`), visit.ID).Scan(&stateRaw)

	now := time.Now().UTC()
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, r.db.rebind(`
			INSERT INTO visits (id, spot_id, visited_at, note, rating, sync_state, modified_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			visit.ID, visit.SpotID, visit.VisitedAt, visit.Note, visit.Rating,
			models.Synced.String(), now)
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
			UPDATE visits SET spot_id = ?, visited_at = ?, note = ?, rating = ?, sync_state = ?, modified_at = ?
			WHERE id = ?`),
			visit.SpotID, visit.VisitedAt, visit.Note, visit.Rating,
			models.Synced.String(), now, visit.ID)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// PendingCount returns how many visits still carry unpushed work.
func (r *VisitStore) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.sql.QueryRowContext(ctx,
		r.db.rebind(`SELECT COUNT(*) FROM visits WHERE sync_state != ?`),
		models.Synced.String()).Scan(&count)
	return count, err
}

func scanVisit(row rowScanner) (*models.Visit, error) {
	var visit models.Visit
	var stateRaw string
	if err := row.Scan(
		&visit.ID,
		&visit.SpotID,
		&visit.VisitedAt,
		&visit.Note,
		&visit.Rating,
		&stateRaw,
		&visit.LocallyModifiedAt,
	); err != nil {
		return nil, err
	}

	state, err := models.ParseSyncState(stateRaw)
	if err != nil {
		return nil, err
	}
	visit.SyncState = state
	return &visit, nil
}
