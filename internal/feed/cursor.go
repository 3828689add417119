// Package feed implements the cursor protocol clients use to stay
// synchronized with the append-ordered session list: bidirectional
// keyset pagination anchored on opaque, time-ordered identifiers.
package feed

import (
	"context"
	"strconv"
	"strings"

	"classhub/internal/directory"
	"classhub/pkg/identifier"
	"classhub/pkg/types"
)

// Page size bounds. Values outside [1, MaxPageLimit] are a validation
// error, not silently clamped, so client and server paging math stays
// consistent.
const (
	MaxPageLimit     = 100
	DefaultPageLimit = 20
)

// FieldError is one client-facing validation failure.
type FieldError struct {
	Msg   string `json:"msg"`
	Param string `json:"param"`
}

// Cursor is a validated feed request. FirstID and LastID are mutually
// exclusive: FirstID asks for records newer than the anchor ("load
// newer"), LastID for records older than it ("load older"); neither
// means the initial, newest-first load.
type Cursor struct {
	FirstID    *identifier.ID
	LastID     *identifier.ID
	Limit      int
	TextFilter string
	TypeFilter []types.ParticipantType
}

// Request carries the raw, unvalidated query values.
type Request struct {
	FirstID    string
	LastID     string
	RowPerPage string
	TextSearch string
	Types      string
}

// ParseCursor validates a raw request and returns either a usable
// cursor or the complete list of field errors. Validation runs before
// and instead of any directory access.
func ParseCursor(req Request) (*Cursor, []FieldError) {
	var errs []FieldError
	cursor := &Cursor{Limit: DefaultPageLimit, TextFilter: strings.TrimSpace(req.TextSearch)}

	if req.FirstID != "" && req.LastID != "" {
		errs = append(errs, FieldError{
			Msg:   "only one of firstId and lastId may be supplied",
			Param: "firstId",
		})
	}

	if req.FirstID != "" {
		if id, err := identifier.FromHex(req.FirstID); err != nil {
			errs = append(errs, FieldError{Msg: "must be a valid session identifier", Param: "firstId"})
		} else {
			cursor.FirstID = &id
		}
	}
	if req.LastID != "" {
		if id, err := identifier.FromHex(req.LastID); err != nil {
			errs = append(errs, FieldError{Msg: "must be a valid session identifier", Param: "lastId"})
		} else {
			cursor.LastID = &id
		}
	}

	if req.RowPerPage != "" {
		n, err := strconv.Atoi(req.RowPerPage)
		if err != nil || n < 1 || n > MaxPageLimit {
			errs = append(errs, FieldError{
				Msg:   "must be an integer between 1 and " + strconv.Itoa(MaxPageLimit),
				Param: "rowPerPage",
			})
		} else {
			cursor.Limit = n
		}
	}

	if req.Types != "" {
		for _, raw := range strings.Split(req.Types, ",") {
			pt, err := types.ParseParticipantType(raw)
			if err != nil {
				errs = append(errs, FieldError{
					Msg:   "must be one of STUDENT, TEACHER, ADMIN, OBSERVER",
					Param: "types",
				})
				continue
			}
			cursor.TypeFilter = append(cursor.TypeFilter, pt)
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return cursor, nil
}

// Directory is the range-query surface the cursor runs against.
type Directory interface {
	FindRange(ctx context.Context, q directory.Query) ([]*types.SessionRecord, error)
}

// Page computes one feed page. Results come back in the order the
// client renders them: oldest-first when filling the gap above a
// firstId anchor, newest-first otherwise. An anchor whose record was
// deleted still bounds the range, and an empty page is a normal
// outcome, not an error.
func Page(ctx context.Context, dir Directory, roomKey string, c *Cursor) ([]*types.SessionRecord, error) {
	q := directory.Query{
		RoomKey:      roomKey,
		Limit:        c.Limit,
		NameContains: c.TextFilter,
		Types:        c.TypeFilter,
	}

	switch {
	case c.FirstID != nil:
		// Gap-fill: the oldest records strictly newer than the anchor.
		q.After = *c.FirstID
		q.Ascending = true
	case c.LastID != nil:
		// Load older: the newest records strictly older than the anchor.
		q.Before = *c.LastID
	default:
		// Initial load: the most recent records.
	}

	records, err := dir.FindRange(ctx, q)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*types.SessionRecord{}
	}
	return records, nil
}
