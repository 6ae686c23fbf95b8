package models

import "time"

// PendingPhoto is a local-only queue entry for a captured image
// awaiting upload. It never reaches the Synced state; the row is
// deleted once the upload succeeds.
type PendingPhoto struct {
	ID        int64     `json:"id"`
	SpotID    int64     `json:"spotId"`
	FilePath  string    `json:"filePath"`
	IsMain    bool      `json:"isMain"`
	CreatedAt time.Time `json:"createdAt"`
}
