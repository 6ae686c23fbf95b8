package models

import "time"

// User is the profile of the logged-in account, mirrored locally so
// profile edits work offline like any other entity.
type User struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	AvatarURL   string    `json:"avatarUrl"`
	SyncState   SyncState `json:"-"`
	// LocallyModifiedAt is local bookkeeping only.
	LocallyModifiedAt time.Time `json:"-"`
}
