package models

import "time"

// Visit records that the user was at a spot. A visit references its
// spot by ID; while the spot is still pending creation the reference
// points at the spot's provisional ID and is repointed when the server
// confirms the create.
type Visit struct {
	ID        int64     `json:"id"`
	SpotID    int64     `json:"spotId"`
	VisitedAt time.Time `json:"visitedAt"`
	Note      string    `json:"note"`
	Rating    int       `json:"rating"`
	SyncState SyncState `json:"-"`
	// LocallyModifiedAt is local bookkeeping only.
	LocallyModifiedAt time.Time `json:"-"`
}

// Provisional reports whether the visit still carries a locally
// assigned identifier.
func (v *Visit) Provisional() bool {
	return v.ID < 0
}
