package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/spotsync/client/internal/models"
)

const userColumns = `id, username, display_name, avatar_url, sync_state, modified_at`

// UserStore persists the logged-in profile. Users are created by the
// server (registration is online-only) so the local machine only ever
// sees Synced and PendingUpdate.
type UserStore struct {
	db *DB
}

// NewUserStore creates a new UserStore
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

// Get returns the locally mirrored profile, or nil when none exists.
func (r *UserStore) Get(ctx context.Context) (*models.User, error) {
	row := r.db.sql.QueryRowContext(ctx,
		r.db.rebind(`SELECT `+userColumns+` FROM users LIMIT 1`))
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// UpdateLocal applies a local profile edit, escalating to
// PendingUpdate.
func (r *UserStore) UpdateLocal(ctx context.Context, user *models.User) error {
	current, err := r.Get(ctx)
	if err != nil {
		return err
	}
	if current == nil {
		return models.ErrUserNotFound
	}

	user.ID = current.ID
	user.SyncState = current.SyncState.EscalateEdit()
	user.LocallyModifiedAt = time.Now().UTC()

	_, err = r.db.sql.ExecContext(ctx, r.db.rebind(`
		UPDATE users SET username = ?, display_name = ?, avatar_url = ?, sync_state = ?, modified_at = ?
		WHERE id = ?`),
		user.Username, user.DisplayName, user.AvatarURL,
		user.SyncState.String(), user.LocallyModifiedAt, user.ID,
	)
	return err
}

// MarkState sets the sync-state tag on the profile.
func (r *UserStore) MarkState(ctx context.Context, id int64, state models.SyncState) error {
	res, err := r.db.sql.ExecContext(ctx,
		r.db.rebind(`UPDATE users SET sync_state = ?, modified_at = ? WHERE id = ?`),
		state.String(), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

// PendingMutations returns the profile if it carries an unpushed edit.
func (r *UserStore) PendingMutations(ctx context.Context) ([]*models.User, error) {
	user, err := r.Get(ctx)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.SyncState.Pending() {
		return nil, nil
	}
	return []*models.User{user}, nil
}

// UpsertSynced applies the authoritative profile from the pull phase,
// never overwriting a pending local edit.
func (r *UserStore) UpsertSynced(ctx context.Context, user *models.User) error {
	tx, err := r.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var stateRaw string
	err = tx.QueryRowContext(ctx,
		r.db.rebind(`SELECT sync_state FROM users WHERE id = ?`), user.ID).Scan(&stateRaw)

	now := time.Now().UTC()
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, r.db.rebind(`
			INSERT INTO users (id, username, display_name, avatar_url, sync_state, modified_at)
			VALUES (?, ?, ?, ?, ?, ?)`),
			user.ID, user.Username, user.DisplayName, user.AvatarURL,
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
			UPDATE users SET username = ?, display_name = ?, avatar_url = ?, sync_state = ?, modified_at = ?
			WHERE id = ?`),
			user.Username, user.DisplayName, user.AvatarURL,
			models.Synced.String(), now, user.ID)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Clear wipes the profile (logout).
func (r *UserStore) Clear(ctx context.Context) error {
	_, err := r.db.sql.ExecContext(ctx, `DELETE FROM users`)
	return err
}

// PendingCount returns 1 if the profile carries an unpushed edit.
func (r *UserStore) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.sql.QueryRowContext(ctx,
		r.db.rebind(`SELECT COUNT(*) FROM users WHERE sync_state != ?`),
		models.Synced.String()).Scan(&count)
	return count, err
}

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	var stateRaw string
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.DisplayName,
		&user.AvatarURL,
		&stateRaw,
		&user.LocallyModifiedAt,
	); err != nil {
		return nil, err
	}

	state, err := models.ParseSyncState(stateRaw)
	if err != nil {
		return nil, err
	}
	user.SyncState = state
	return &user, nil
}
