package store

import (
	"context"
	"time"

	"github.com/spotsync/client/internal/models"
)

// PhotoQueue is the local-only upload queue for captured images. Rows
// never reach a synced state; a successful upload deletes the row.
type PhotoQueue struct {
	db *DB
}

// NewPhotoQueue creates a new PhotoQueue
func NewPhotoQueue(db *DB) *PhotoQueue {
	return &PhotoQueue{db: db}
}

// Add enqueues a captured image for upload and fills in its queue id.
func (r *PhotoQueue) Add(ctx context.Context, photo *models.PendingPhoto) error {
	photo.CreatedAt = time.Now().UTC()

	if r.db.pg {
		return r.db.sql.QueryRowContext(ctx, r.db.rebind(`
			INSERT INTO pending_photos (spot_id, file_path, is_main, created_at)
			VALUES (?, ?, ?, ?) RETURNING id`),
			photo.SpotID, photo.FilePath, photo.IsMain, photo.CreatedAt,
		).Scan(&photo.ID)
	}

	res, err := r.db.sql.ExecContext(ctx, r.db.rebind(`
		INSERT INTO pending_photos (spot_id, file_path, is_main, created_at)
		VALUES (?, ?, ?, ?)`),
		photo.SpotID, photo.FilePath, photo.IsMain, photo.CreatedAt,
	)
	if err != nil {
		return err
	}
	photo.ID, err = res.LastInsertId()
	return err
}

// List returns queued photos, oldest first so uploads happen in
// capture order.
func (r *PhotoQueue) List(ctx context.Context) ([]*models.PendingPhoto, error) {
	rows, err := r.db.sql.QueryContext(ctx, `
		SELECT id, spot_id, file_path, is_main, created_at
		FROM pending_photos ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var photos []*models.PendingPhoto
	for rows.Next() {
		var photo models.PendingPhoto
		if err := rows.Scan(
			&photo.ID,
			&photo.SpotID,
			&photo.FilePath,
			&photo.IsMain,
			&photo.CreatedAt,
		); err != nil {
			return nil, err
		}
		photos = append(photos, &photo)
	}
	return photos, rows.Err()
}

// Delete removes a queue row after its upload succeeded.
func (r *PhotoQueue) Delete(ctx context.Context, id int64) error {
	_, err := r.db.sql.ExecContext(ctx,
		r.db.rebind(`DELETE FROM pending_photos WHERE id = ?`), id)
	return err
}

// Count returns the number of queued uploads.
func (r *PhotoQueue) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_photos`).Scan(&count)
	return count, err
}
