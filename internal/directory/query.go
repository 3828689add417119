package directory

import (
	"classhub/pkg/identifier"
	"classhub/pkg/types"
)

// Query describes one ordered range read over the session directory.
// After/Before are pure ordering boundaries: they are compared against
// record identifiers, never resolved to records, so an anchor whose
// record has been deleted still works.
type Query struct {
	// RoomKey scopes the feed to one room.
	RoomKey string
	// After selects records with id strictly greater than the anchor.
	After identifier.ID
	// Before selects records with id strictly less than the anchor.
	Before identifier.ID
	// Ascending orders the page oldest-first; default is newest-first.
	Ascending bool
	// Limit caps the page size. Must be positive.
	Limit int
	// NameContains is a case-insensitive substring match on the name.
	NameContains string
	// Types keeps only sessions scheduled for at least one of these
	// participant types.
	Types []types.ParticipantType
}
