// Package directory owns the canonical session list: an append-ordered
// collection of session records keyed by time-ordered identifiers,
// exposing the range queries the feed cursor is built on.
package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"classhub/pkg/database"
	"classhub/pkg/identifier"
	"classhub/pkg/types"
)

// Store is the SQLite-backed session directory. Reads run concurrently;
// all writes funnel through a single writer goroutine, which also
// serializes identifier assignment so a later insert always carries a
// greater identifier than every earlier one.
type Store struct {
	db      *sql.DB
	gen     *identifier.Generator
	writeCh chan writeOperation
	closed  bool
	mu      sync.RWMutex
	done    chan struct{}
	wg      sync.WaitGroup
	logger  *slog.Logger
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// Open opens the database, applies migrations and starts the writer.
func Open(cfg *database.Config, logger *slog.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	migrations := database.NewMigrationManager(db)
	if err := migrations.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	if err := migrations.ValidateSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	s := &Store{
		db:      db,
		gen:     identifier.NewGenerator(),
		writeCh: make(chan writeOperation, 100),
		done:    make(chan struct{}),
		logger:  logger.With("component", "directory"),
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writeCh:
			s.runWrite(op)
		case <-s.done:
			// Writes accepted before shutdown still get an answer: a
			// caller blocked on its result must never be abandoned.
			for {
				select {
				case op := <-s.writeCh:
					s.runWrite(op)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) runWrite(op writeOperation) {
	err := op.operation(s.db)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		s.logger.Warn("write failed, retrying once", "error", err)
		time.Sleep(time.Second)
		err = op.operation(s.db)
	}
	op.result <- err
}

func (s *Store) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case s.writeCh <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrStoreClosed
	}
}

// CreateSession validates and persists a new record. The identifier is
// assigned inside the writer goroutine, so issue order matches insert
// order and every new id is greater than all previously issued ones.
func (s *Store) CreateSession(ctx context.Context, rec *types.SessionRecord) error {
	if rec.Status == "" {
		rec.Status = types.StatusScheduled
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	return s.executeWrite(ctx, func(db *sql.DB) error {
		if rec.ID.IsZero() {
			rec.ID = s.gen.Next()
		}

		typesJSON, err := json.Marshal(rec.ParticipantTypes)
		if err != nil {
			return fmt.Errorf("failed to marshal participant types: %w", err)
		}
		var metadataJSON interface{}
		if rec.Metadata != nil {
			b, err := json.Marshal(rec.Metadata)
			if err != nil {
				return fmt.Errorf("failed to marshal metadata: %w", err)
			}
			metadataJSON = string(b)
		}

		_, err = db.ExecContext(ctx, `
			INSERT INTO sessions (id, room_key, name, begin_time, end_time, participant_types, metadata, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			rec.ID.Hex(),
			rec.RoomKey,
			rec.Name,
			rec.TimeWindow.Begin.UTC(),
			rec.TimeWindow.End.UTC(),
			string(typesJSON),
			metadataJSON,
			rec.Status,
		)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

// GetSession retrieves one record by identifier, deleted or not.
func (s *Store) GetSession(ctx context.Context, id identifier.ID) (*types.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, room_key, name, begin_time, end_time, participant_types, metadata, status
		FROM sessions
		WHERE id = ?
	`, id.Hex())

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return rec, nil
}

// EndSession marks a record deleted. Logical only: the row, its
// identifier and its position in the order are preserved.
func (s *Store) EndSession(ctx context.Context, id identifier.ID) error {
	return s.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			"UPDATE sessions SET status = ? WHERE id = ?",
			types.StatusDeleted, id.Hex())
		if err != nil {
			return fmt.Errorf("failed to end session: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check end result: %w", err)
		}
		if affected == 0 {
			return ErrSessionNotFound
		}
		return nil
	})
}

// MergeMetadata folds the given entries into a record's metadata. The
// read and the write run as one queued operation in the writer
// goroutine, so concurrent merges never lose each other's entries.
func (s *Store) MergeMetadata(ctx context.Context, id identifier.ID, patch map[string]interface{}) error {
	return s.executeWrite(ctx, func(db *sql.DB) error {
		var current sql.NullString
		err := db.QueryRowContext(ctx,
			"SELECT metadata FROM sessions WHERE id = ?", id.Hex()).Scan(&current)
		if err == sql.ErrNoRows {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read metadata: %w", err)
		}

		merged := make(map[string]interface{}, len(patch))
		if current.Valid && current.String != "" {
			if err := json.Unmarshal([]byte(current.String), &merged); err != nil {
				return fmt.Errorf("corrupt metadata for %s: %w", id.Hex(), err)
			}
		}
		for k, v := range patch {
			merged[k] = v
		}

		b, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		if _, err := db.ExecContext(ctx,
			"UPDATE sessions SET metadata = ? WHERE id = ?",
			string(b), id.Hex()); err != nil {
			return fmt.Errorf("failed to update metadata: %w", err)
		}
		return nil
	})
}

// FindRange runs one ordered range query. The whole page comes from a
// single SELECT, so it observes one consistent snapshot: a concurrent
// insert is either entirely before or entirely after the page.
func (s *Store) FindRange(ctx context.Context, q Query) ([]*types.SessionRecord, error) {
	if q.Limit <= 0 {
		return nil, ErrInvalidLimit
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT id, room_key, name, begin_time, end_time, participant_types, metadata, status
		FROM sessions
		WHERE room_key = ? AND status != ?
	`)
	args := []interface{}{q.RoomKey, types.StatusDeleted}

	if !q.After.IsZero() {
		sb.WriteString(" AND id > ?")
		args = append(args, q.After.Hex())
	}
	if !q.Before.IsZero() {
		sb.WriteString(" AND id < ?")
		args = append(args, q.Before.Hex())
	}
	if q.NameContains != "" {
		sb.WriteString(" AND instr(lower(name), lower(?)) > 0")
		args = append(args, q.NameContains)
	}
	if len(q.Types) > 0 {
		sb.WriteString(" AND EXISTS (SELECT 1 FROM json_each(sessions.participant_types) WHERE json_each.value IN (")
		for i, pt := range q.Types {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString("?")
			args = append(args, string(pt))
		}
		sb.WriteString("))")
	}

	if q.Ascending {
		sb.WriteString(" ORDER BY id ASC LIMIT ?")
	} else {
		sb.WriteString(" ORDER BY id DESC LIMIT ?")
	}
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query session range: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*types.SessionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return records, nil
}

// HealthCheck validates connectivity and a basic read.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close shuts down the writer and the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*types.SessionRecord, error) {
	var (
		rec       types.SessionRecord
		idHex     string
		typesJSON string
		metadata  sql.NullString
	)

	err := row.Scan(
		&idHex,
		&rec.RoomKey,
		&rec.Name,
		&rec.TimeWindow.Begin,
		&rec.TimeWindow.End,
		&typesJSON,
		&metadata,
		&rec.Status,
	)
	if err != nil {
		return nil, err
	}

	rec.ID, err = identifier.FromHex(idHex)
	if err != nil {
		return nil, fmt.Errorf("corrupt session id %q: %w", idHex, err)
	}
	if err := json.Unmarshal([]byte(typesJSON), &rec.ParticipantTypes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal participant types: %w", err)
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &rec, nil
}
