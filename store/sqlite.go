package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jackhou/buildbot/types"
)

// SQLiteStore implements Store on top of modernc.org/sqlite. Use ":memory:"
// for an in-process database, or a file path for durable storage.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens dbPath and ensures the schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS builders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);
	CREATE TABLE IF NOT EXISTS buildrequests (
		id INTEGER PRIMARY KEY,
		buildset_id INTEGER NOT NULL,
		builder_name TEXT NOT NULL,
		properties TEXT,
		submitted_at INTEGER NOT NULL,
		claimed INTEGER NOT NULL DEFAULT 0,
		complete INTEGER NOT NULL DEFAULT 0,
		results TEXT,
		complete_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_buildrequests_builder ON buildrequests(builder_name, claimed, complete);
	CREATE TABLE IF NOT EXISTS builds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		builder_id INTEGER NOT NULL,
		number INTEGER NOT NULL,
		buildrequest_id INTEGER NOT NULL,
		worker_id TEXT NOT NULL,
		master_id TEXT NOT NULL,
		state_strings TEXT,
		results TEXT,
		finished INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_builds_builder ON builds(builder_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SeedRequest inserts a pending, unclaimed build request. Used by tests;
// real deployments have an external scheduler populate this table.
func (s *SQLiteStore) SeedRequest(ctx context.Context, req types.BuildRequest) error {
	props, err := json.Marshal(req.Properties)
	if err != nil {
		return fmt.Errorf("marshal properties: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO buildrequests (id, buildset_id, builder_name, properties, submitted_at, claimed, complete)
		 VALUES (?, ?, ?, ?, ?, 0, 0)`,
		req.ID, req.BuildsetID, req.BuilderName, props, req.SubmittedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert build request: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetBuildRequests(ctx context.Context, builderName string, claimed bool) ([]types.BuildRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, buildset_id, builder_name, properties, submitted_at
		 FROM buildrequests WHERE builder_name = ? AND claimed = ? AND complete = 0
		 ORDER BY id`,
		builderName, boolToInt(claimed),
	)
	if err != nil {
		return nil, fmt.Errorf("query build requests: %w", err)
	}
	defer rows.Close()

	var out []types.BuildRequest
	for rows.Next() {
		var req types.BuildRequest
		var props []byte
		var submittedAt int64
		if err := rows.Scan(&req.ID, &req.BuildsetID, &req.BuilderName, &props, &submittedAt); err != nil {
			return nil, fmt.Errorf("scan build request: %w", err)
		}
		if len(props) > 0 {
			if err := json.Unmarshal(props, &req.Properties); err != nil {
				return nil, fmt.Errorf("unmarshal properties: %w", err)
			}
		}
		req.SubmittedAt = time.Unix(submittedAt, 0)
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ReclaimBuildRequests(ctx context.Context, ids []int64) error {
	return s.updateClaimed(ctx, ids, 1)
}

func (s *SQLiteStore) UnclaimBuildRequests(ctx context.Context, ids []int64) error {
	return s.updateClaimed(ctx, ids, 0)
}

func (s *SQLiteStore) updateClaimed(ctx context.Context, ids []int64, claimed int) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf("UPDATE buildrequests SET claimed = ? WHERE id IN (%s)", placeholders(len(ids)))
	args := append([]interface{}{claimed}, idArgs(ids)...)
	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update claimed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CompleteBuildRequests(ctx context.Context, ids []int64, results types.Results, completeAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(
		"UPDATE buildrequests SET complete = 1, results = ?, complete_at = ? WHERE id IN (%s)",
		placeholders(len(ids)),
	)
	args := append([]interface{}{string(results), completeAt.Unix()}, idArgs(ids)...)
	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("complete build requests: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddBuild(ctx context.Context, rec BuildRecord) (int64, int64, error) {
	var number int64
	row := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(number), 0) + 1 FROM builds WHERE builder_id = ?", rec.BuilderID)
	if err := row.Scan(&number); err != nil {
		return 0, 0, fmt.Errorf("compute build number: %w", err)
	}

	stateStrings, err := json.Marshal(rec.StateStrings)
	if err != nil {
		return 0, 0, fmt.Errorf("marshal state strings: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO builds (builder_id, number, buildrequest_id, worker_id, master_id, state_strings)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.BuilderID, number, rec.BuildRequestID, rec.WorkerID, rec.MasterID, stateStrings,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("insert build: %w", err)
	}

	buildID, err := res.LastInsertId()
	if err != nil {
		return 0, 0, fmt.Errorf("last insert id: %w", err)
	}
	return buildID, number, nil
}

func (s *SQLiteStore) FinishBuild(ctx context.Context, buildID int64, results types.Results) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE builds SET finished = 1, results = ? WHERE id = ?",
		string(results), buildID,
	)
	if err != nil {
		return fmt.Errorf("finish build: %w", err)
	}
	return nil
}

// FindBuilderID resolves name to a stable id, creating the row on first use.
// Grounded on the requirement that this lookup be idempotent across masters.
func (s *SQLiteStore) FindBuilderID(ctx context.Context, name string) (int64, error) {
	var id int64
	row := s.db.QueryRowContext(ctx, "SELECT id FROM builders WHERE name = ?", name)
	err := row.Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("query builder id: %w", err)
	}

	res, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO builders (name) VALUES (?)", name)
	if err != nil {
		return 0, fmt.Errorf("insert builder: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		id, err = res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("last insert id: %w", err)
		}
		return id, nil
	}

	// Lost the race to another caller; re-read.
	row = s.db.QueryRowContext(ctx, "SELECT id FROM builders WHERE name = ?", name)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("query builder id after insert race: %w", err)
	}
	return id, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = "?"
	}
	return strings.Join(ph, ",")
}

func idArgs(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
