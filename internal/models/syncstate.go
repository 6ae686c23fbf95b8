package models

import "fmt"

// SyncState tags a locally stored record with its relationship to the
// remote authority.
type SyncState int

const (
	// Synced means the local copy matches the last known server state.
	Synced SyncState = iota
	// PendingCreate means the record was created locally and has never
	// been pushed. It carries a provisional (negative) identifier.
	PendingCreate
	// PendingUpdate means the record exists server-side but carries
	// local edits that have not been pushed.
	PendingUpdate
	// PendingDelete means the record was deleted locally; the row is
	// retained until the server confirms the delete.
	PendingDelete
)

func (s SyncState) String() string {
	switch s {
	case Synced:
		return "synced"
	case PendingCreate:
		return "pending_create"
	case PendingUpdate:
		return "pending_update"
	case PendingDelete:
		return "pending_delete"
	default:
		return fmt.Sprintf("sync_state(%d)", int(s))
	}
}

// ParseSyncState converts the stored text form back into a SyncState.
func ParseSyncState(s string) (SyncState, error) {
	switch s {
	case "synced":
		return Synced, nil
	case "pending_create":
		return PendingCreate, nil
	case "pending_update":
		return PendingUpdate, nil
	case "pending_delete":
		return PendingDelete, nil
	default:
		return Synced, fmt.Errorf("unknown sync state %q", s)
	}
}

// Pending reports whether the record still has unpushed local work.
func (s SyncState) Pending() bool {
	return s != Synced
}

// EscalateEdit returns the state a record moves to after a local edit.
// A record the server has never seen stays PendingCreate; everything
// else becomes PendingUpdate.
func (s SyncState) EscalateEdit() SyncState {
	if s == PendingCreate {
		return PendingCreate
	}
	return PendingUpdate
}
