package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andresmejia3/faceapi/internal/faceq"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Store is the journal of completed requests. A pgx.Conn is not safe for
// concurrent use, so callers record results from a single goroutine.
type Store struct {
	conn *pgx.Conn
}

// Record is one journaled result.
type Record struct {
	ID          uuid.UUID
	Op          string
	Source      string
	SourceID    string
	Faces       int
	Payload     json.RawMessage
	Error       string
	CompletedAt time.Time
}

func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS face_results (
			id UUID PRIMARY KEY,
			op TEXT NOT NULL,
			source TEXT NOT NULL,
			source_id TEXT NOT NULL DEFAULT '',
			faces INT NOT NULL DEFAULT 0,
			payload JSONB,
			error TEXT NOT NULL DEFAULT '',
			completed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS face_results_completed_at_idx ON face_results (completed_at DESC);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// RecordResult journals a collected result. source names the image or frame
// the request was made for; sourceID is its content hash, if known.
// Recording the same request twice keeps the latest copy.
func (s *Store) RecordResult(ctx context.Context, source, sourceID string, res faceq.Result) error {
	var (
		payload []byte
		faces   int
		errMsg  string
	)
	if res.Sink != nil {
		var err error
		if payload, err = json.Marshal(res.Sink); err != nil {
			return fmt.Errorf("failed to encode %s results: %w", res.Op, err)
		}
		faces = res.Sink.Len()
	}
	if res.Err != nil {
		errMsg = res.Err.Error()
	}

	_, err := s.conn.Exec(ctx, `
		INSERT INTO face_results (id, op, source, source_id, faces, payload, error, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE SET
			faces = EXCLUDED.faces,
			payload = EXCLUDED.payload,
			error = EXCLUDED.error,
			completed_at = NOW()
	`, res.ID, res.Op.String(), source, sourceID, faces, payload, errMsg)
	return err
}

// ListResults returns the most recent results first, optionally only those
// of one operation. A limit <= 0 lists everything.
func (s *Store) ListResults(ctx context.Context, op string, limit int) ([]Record, error) {
	query := `
		SELECT id, op, source, source_id, faces, COALESCE(payload, 'null'::jsonb), error, completed_at
		FROM face_results
		WHERE $1 = '' OR op = $1
		ORDER BY completed_at DESC, id
	`
	args := []any{op}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var payload []byte
		if err := rows.Scan(&r.ID, &r.Op, &r.Source, &r.SourceID, &r.Faces, &payload, &r.Error, &r.CompletedAt); err != nil {
			return nil, err
		}
		r.Payload = payload
		records = append(records, r)
	}
	return records, rows.Err()
}

// CountByOp returns how many results were journaled per operation.
func (s *Store) CountByOp(ctx context.Context) (map[string]int, error) {
	rows, err := s.conn.Query(ctx, "SELECT op, COUNT(*) FROM face_results GROUP BY op")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var op string
		var n int
		if err := rows.Scan(&op, &n); err != nil {
			return nil, err
		}
		counts[op] = n
	}
	return counts, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `DROP TABLE IF EXISTS face_results CASCADE;`)
	if err != nil {
		return err
	}
	return initSchema(ctx, s.conn)
}
