package models

import (
	"strings"
	"time"
)

// Spot represents a point of interest recorded by the user or fetched
// from the authority. A locally created spot holds a provisional
// negative ID until the server assigns the real one.
type Spot struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Description string    `json:"description"`
	Amenities   []string  `json:"amenities"`
	Rating      float64   `json:"rating"`
	PhotoURL    string    `json:"photoUrl"`
	SyncState   SyncState `json:"-"`
	// LocallyModifiedAt is local bookkeeping only and is never sent to
	// the server.
	LocallyModifiedAt time.Time `json:"-"`
}

// Provisional reports whether the spot still carries a locally
// assigned identifier.
func (s *Spot) Provisional() bool {
	return s.ID < 0
}

// Validate checks the fields the server would reject anyway.
func (s *Spot) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return ErrEmptySpotName
	}
	if s.Latitude < -90 || s.Latitude > 90 {
		return ErrInvalidCoordinates
	}
	if s.Longitude < -180 || s.Longitude > 180 {
		return ErrInvalidCoordinates
	}
	return nil
}

// Errors
type DomainError struct {
	Message string
}

func (e DomainError) Error() string {
	return e.Message
}

var (
	ErrEmptySpotName      = DomainError{"spot name cannot be empty"}
	ErrInvalidCoordinates = DomainError{"coordinates out of range"}
	ErrSpotNotFound       = DomainError{"spot not found"}
	ErrVisitNotFound      = DomainError{"visit not found"}
	ErrUserNotFound       = DomainError{"user not found"}
	ErrPhotoNotFound      = DomainError{"pending photo not found"}
	ErrNotLoggedIn        = DomainError{"not logged in"}
)
