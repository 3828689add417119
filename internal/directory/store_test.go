package directory

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"classhub/pkg/database"
	"classhub/pkg/identifier"
	"classhub/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := database.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "directory.db")

	store, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustCreate(t *testing.T, store *Store, roomKey, name string, pts ...types.ParticipantType) *types.SessionRecord {
	t.Helper()
	if len(pts) == 0 {
		pts = []types.ParticipantType{types.ParticipantStudent}
	}
	begin := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	rec := &types.SessionRecord{
		RoomKey:          roomKey,
		Name:             name,
		TimeWindow:       types.TimeWindow{Begin: begin, End: begin.Add(time.Hour)},
		ParticipantTypes: pts,
	}
	if err := store.CreateSession(context.Background(), rec); err != nil {
		t.Fatalf("CreateSession(%s) failed: %v", name, err)
	}
	return rec
}

func ids(records []*types.SessionRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID.Hex()
	}
	return out
}

func TestCreateAssignsIncreasingIdentifiers(t *testing.T) {
	store := openTestStore(t)

	var prev identifier.ID
	for i := 0; i < 10; i++ {
		rec := mustCreate(t, store, "course-1", "session")
		if prev.Compare(rec.ID) >= 0 {
			t.Fatalf("insert %d: id %s not greater than %s", i, rec.ID, prev)
		}
		prev = rec.ID
	}
}

func TestGetSessionRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	begin := time.Date(2026, 5, 2, 14, 30, 0, 0, time.UTC)
	rec := &types.SessionRecord{
		RoomKey:          "course-1",
		Name:             "Office hours",
		TimeWindow:       types.TimeWindow{Begin: begin, End: begin.Add(45 * time.Minute)},
		ParticipantTypes: []types.ParticipantType{types.ParticipantTeacher, types.ParticipantObserver},
		Metadata:         map[string]interface{}{"building": "B2"},
	}
	if err := store.CreateSession(ctx, rec); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	got, err := store.GetSession(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Name != rec.Name || got.RoomKey != rec.RoomKey || got.Status != types.StatusScheduled {
		t.Errorf("unexpected record: %+v", got)
	}
	if !got.TimeWindow.Begin.Equal(begin) || !got.TimeWindow.End.Equal(begin.Add(45*time.Minute)) {
		t.Errorf("time window mismatch: %+v", got.TimeWindow)
	}
	if len(got.ParticipantTypes) != 2 || got.ParticipantTypes[0] != types.ParticipantTeacher {
		t.Errorf("participant types mismatch: %v", got.ParticipantTypes)
	}
	if got.Metadata["building"] != "B2" {
		t.Errorf("metadata mismatch: %v", got.Metadata)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetSession(context.Background(), identifier.NewGenerator().Next())
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestCreateRejectsInvalidRecord(t *testing.T) {
	store := openTestStore(t)

	rec := &types.SessionRecord{RoomKey: "course-1", Name: ""}
	if err := store.CreateSession(context.Background(), rec); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestEndSessionIsLogical(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := mustCreate(t, store, "course-1", "to delete")
	if err := store.EndSession(ctx, rec.ID); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	// The row survives with a status flag.
	got, err := store.GetSession(ctx, rec.ID)
	if err != nil {
		t.Fatalf("deleted record should still resolve by id: %v", err)
	}
	if got.Status != types.StatusDeleted {
		t.Fatalf("expected status %q, got %q", types.StatusDeleted, got.Status)
	}

	// But the feed no longer sees it.
	page, err := store.FindRange(ctx, Query{RoomKey: "course-1", Limit: 10})
	if err != nil {
		t.Fatalf("FindRange failed: %v", err)
	}
	for _, r := range page {
		if r.ID == rec.ID {
			t.Fatal("deleted record must not appear in range results")
		}
	}

	if err := store.EndSession(ctx, identifier.NewGenerator().Next()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for unknown id, got %v", err)
	}
}

func TestMergeMetadataKeepsExistingEntries(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	begin := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	rec := &types.SessionRecord{
		RoomKey:          "course-1",
		Name:             "mutable",
		TimeWindow:       types.TimeWindow{Begin: begin, End: begin.Add(time.Hour)},
		ParticipantTypes: []types.ParticipantType{types.ParticipantStudent},
		Metadata:         map[string]interface{}{"building": "B2"},
	}
	if err := store.CreateSession(ctx, rec); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if err := store.MergeMetadata(ctx, rec.ID, map[string]interface{}{"note": "moved"}); err != nil {
		t.Fatalf("MergeMetadata failed: %v", err)
	}

	got, err := store.GetSession(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Metadata["note"] != "moved" || got.Metadata["building"] != "B2" {
		t.Fatalf("merge lost entries: %v", got.Metadata)
	}

	if err := store.MergeMetadata(ctx, identifier.NewGenerator().Next(), map[string]interface{}{"x": 1}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for unknown id, got %v", err)
	}
}

func TestMergeMetadataConcurrentMergesKeepBothEntries(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := mustCreate(t, store, "course-1", "mutable")

	var wg sync.WaitGroup
	for _, key := range []string{"left", "right"} {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			if err := store.MergeMetadata(ctx, rec.ID, map[string]interface{}{k: "set"}); err != nil {
				t.Errorf("MergeMetadata(%s) failed: %v", k, err)
			}
		}(key)
	}
	wg.Wait()

	got, err := store.GetSession(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Metadata["left"] != "set" || got.Metadata["right"] != "set" {
		t.Fatalf("concurrent merge lost an entry: %v", got.Metadata)
	}
}

func TestFindRangeBoundariesAreStrict(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	recs := make([]*types.SessionRecord, 5)
	for i := range recs {
		recs[i] = mustCreate(t, store, "course-1", "s")
	}

	// Strictly above the anchor, oldest-first.
	page, err := store.FindRange(ctx, Query{
		RoomKey: "course-1", After: recs[1].ID, Ascending: true, Limit: 2,
	})
	if err != nil {
		t.Fatalf("FindRange after failed: %v", err)
	}
	want := []string{recs[2].ID.Hex(), recs[3].ID.Hex()}
	got := ids(page)
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("after page = %v, want %v", got, want)
	}

	// Strictly below the anchor, newest-first.
	page, err = store.FindRange(ctx, Query{
		RoomKey: "course-1", Before: recs[3].ID, Limit: 2,
	})
	if err != nil {
		t.Fatalf("FindRange before failed: %v", err)
	}
	want = []string{recs[2].ID.Hex(), recs[1].ID.Hex()}
	got = ids(page)
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("before page = %v, want %v", got, want)
	}
}

func TestFindRangeDeletedAnchorStillBounds(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	a := mustCreate(t, store, "course-1", "a")
	b := mustCreate(t, store, "course-1", "b")
	c := mustCreate(t, store, "course-1", "c")

	if err := store.EndSession(ctx, b.ID); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	// The anchor's record is gone but the comparison boundary holds.
	page, err := store.FindRange(ctx, Query{
		RoomKey: "course-1", After: b.ID, Ascending: true, Limit: 10,
	})
	if err != nil {
		t.Fatalf("FindRange failed: %v", err)
	}
	got := ids(page)
	if len(got) != 1 || got[0] != c.ID.Hex() {
		t.Fatalf("expected only %s above deleted anchor, got %v", c.ID, got)
	}
	_ = a
}

func TestFindRangeFilters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	mustCreate(t, store, "course-1", "Algebra Basics", types.ParticipantStudent)
	teacherOnly := mustCreate(t, store, "course-1", "Faculty sync", types.ParticipantTeacher)
	mustCreate(t, store, "course-1", "algebra review", types.ParticipantStudent)
	mustCreate(t, store, "course-2", "Algebra elsewhere", types.ParticipantStudent)

	// Case-insensitive substring match, scoped to the room.
	page, err := store.FindRange(ctx, Query{RoomKey: "course-1", NameContains: "ALGEBRA", Limit: 10})
	if err != nil {
		t.Fatalf("FindRange name filter failed: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 algebra sessions in course-1, got %v", ids(page))
	}

	// Participant type overlap across the full range.
	page, err = store.FindRange(ctx, Query{
		RoomKey: "course-1",
		Types:   []types.ParticipantType{types.ParticipantTeacher},
		Limit:   10,
	})
	if err != nil {
		t.Fatalf("FindRange type filter failed: %v", err)
	}
	if len(page) != 1 || page[0].ID != teacherOnly.ID {
		t.Fatalf("expected only the teacher session, got %v", ids(page))
	}
}

func TestFindRangeIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		mustCreate(t, store, "course-1", "s")
	}

	q := Query{RoomKey: "course-1", Limit: 3}
	first, err := store.FindRange(ctx, q)
	if err != nil {
		t.Fatalf("first FindRange failed: %v", err)
	}
	second, err := store.FindRange(ctx, q)
	if err != nil {
		t.Fatalf("second FindRange failed: %v", err)
	}

	a, b := ids(first), ids(second)
	if len(a) != len(b) {
		t.Fatalf("page sizes differ: %v vs %v", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("pages differ at %d: %v vs %v", i, a, b)
		}
	}
}

func TestFindRangeStableUnderNewerInserts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		mustCreate(t, store, "course-1", "s")
	}
	newest := mustCreate(t, store, "course-1", "anchor")

	// A record inserted after the anchor is strictly newer and must not
	// leak into a "load older" page.
	later := mustCreate(t, store, "course-1", "later")

	page, err := store.FindRange(ctx, Query{RoomKey: "course-1", Before: newest.ID, Limit: 10})
	if err != nil {
		t.Fatalf("FindRange failed: %v", err)
	}
	for _, r := range page {
		if r.ID == later.ID || r.ID.Compare(newest.ID) >= 0 {
			t.Fatalf("older page leaked newer record %s", r.ID)
		}
	}
	if len(page) != 3 {
		t.Fatalf("expected 3 older records, got %v", ids(page))
	}
}

func TestFindRangeRejectsNonPositiveLimit(t *testing.T) {
	store := openTestStore(t)

	if _, err := store.FindRange(context.Background(), Query{RoomKey: "course-1"}); !errors.Is(err, ErrInvalidLimit) {
		t.Fatalf("expected ErrInvalidLimit, got %v", err)
	}
}

func TestCloseAnswersQueuedWrites(t *testing.T) {
	store := openTestStore(t)

	// Occupy the writer so a second write sits in the queue.
	blocking := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = store.executeWrite(context.Background(), func(*sql.DB) error {
			close(started)
			<-blocking
			return nil
		})
	}()
	<-started

	queued := make(chan error, 1)
	go func() {
		queued <- store.executeWrite(context.Background(), func(*sql.DB) error { return nil })
	}()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- store.Close() }()
	time.Sleep(20 * time.Millisecond)
	close(blocking)

	// The queued write was accepted before Close, so its caller must
	// get an answer rather than block forever.
	select {
	case err := <-queued:
		if err != nil {
			t.Fatalf("queued write failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued write abandoned during shutdown")
	}
	if err := <-closed; err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestOpenRejectsDriftedSchema(t *testing.T) {
	cfg := database.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "directory.db")

	store, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("initial open failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// Drop an index the directory depends on. The migration is already
	// recorded, so only startup validation can catch the drift.
	db, err := sql.Open("sqlite3", cfg.DSN())
	if err != nil {
		t.Fatalf("raw open failed: %v", err)
	}
	if _, err := db.Exec("DROP INDEX idx_sessions_name"); err != nil {
		t.Fatalf("drop index failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("raw close failed: %v", err)
	}

	if _, err := Open(cfg, nil); err == nil {
		t.Fatal("expected open to fail on drifted schema")
	}
}

func TestWritesFailAfterClose(t *testing.T) {
	store := openTestStore(t)
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	rec := &types.SessionRecord{
		RoomKey:          "course-1",
		Name:             "late",
		TimeWindow:       types.TimeWindow{Begin: time.Now(), End: time.Now().Add(time.Hour)},
		ParticipantTypes: []types.ParticipantType{types.ParticipantStudent},
	}
	if err := store.CreateSession(context.Background(), rec); !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
}
