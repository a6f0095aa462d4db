package state

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	seed         INTEGER NOT NULL,
	config_json  TEXT,
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ticks (
	run_id       TEXT NOT NULL,
	tick         INTEGER NOT NULL,
	state        BLOB NOT NULL,
	input        BLOB NOT NULL,
	cost         REAL NOT NULL,
	predicted    REAL NOT NULL,
	created_at   TEXT NOT NULL,
	PRIMARY KEY (run_id, tick),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS event_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	tick         INTEGER NOT NULL,
	event_type   TEXT NOT NULL,
	name         TEXT NOT NULL,
	detail_json  TEXT,
	created_at   TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`
// #endregion schema

// timeLayout is fixed width so created_at sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// #region store-struct
// Store persists simulation runs and their trajectories in SQLite.
type Store struct {
	db *sql.DB
}
// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Pragmas are per connection; one connection keeps foreign keys enforced.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}
// #endregion constructor

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #region create-run
// CreateRun inserts a run header. An empty RunID is replaced by a fresh UUID.
func (s *Store) CreateRun(rec RunRecord) (RunRecord, error) {
	if rec.RunID == "" {
		rec.RunID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var cfg interface{}
	if rec.ConfigJSON != "" {
		cfg = rec.ConfigJSON
	}

	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, seed, config_json, created_at) VALUES (?, ?, ?, ?)`,
		rec.RunID, int64(rec.Seed), cfg, rec.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("insert run: %w", err)
	}
	return rec, nil
}
// #endregion create-run

// #region append-tick
// AppendTick records one tick of a run.
func (s *Store) AppendTick(rec TickRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO ticks (run_id, tick, state, input, cost, predicted, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Tick,
		encodeVector([]float64{rec.State.Arousal, rec.State.Valence, rec.State.Habituation}),
		encodeVector([]float64{rec.Input.Luminance, rec.Input.Sonics, rec.Input.Geometry}),
		rec.Cost, rec.PredictedArousal, rec.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert tick %d: %w", rec.Tick, err)
	}
	return nil
}

// AppendTicks records a batch of ticks in one transaction.
func (s *Store) AppendTicks(recs []TickRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO ticks (run_id, tick, state, input, cost, predicted, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, rec := range recs {
		created := rec.CreatedAt
		if created.IsZero() {
			created = now
		}
		_, err := stmt.Exec(
			rec.RunID, rec.Tick,
			encodeVector([]float64{rec.State.Arousal, rec.State.Valence, rec.State.Habituation}),
			encodeVector([]float64{rec.Input.Luminance, rec.Input.Sonics, rec.Input.Geometry}),
			rec.Cost, rec.PredictedArousal, created.Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("insert tick %d: %w", rec.Tick, err)
		}
	}
	return tx.Commit()
}
// #endregion append-tick

// #region get-run
// GetRun retrieves a run header by ID.
func (s *Store) GetRun(id string) (RunRecord, error) {
	var rec RunRecord
	var seed int64
	var cfg sql.NullString
	var createdStr string

	err := s.db.QueryRow(
		`SELECT run_id, seed, config_json, created_at FROM runs WHERE run_id = ?`, id,
	).Scan(&rec.RunID, &seed, &cfg, &createdStr)
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", id, err)
	}
	rec.Seed = uint64(seed)
	if cfg.Valid {
		rec.ConfigJSON = cfg.String
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return rec, nil
}

// LatestRun returns the most recently created run.
func (s *Store) LatestRun() (RunRecord, error) {
	var id string
	err := s.db.QueryRow(`SELECT run_id FROM runs ORDER BY created_at DESC LIMIT 1`).Scan(&id)
	if err != nil {
		return RunRecord{}, fmt.Errorf("latest run: %w", err)
	}
	return s.GetRun(id)
}
// #endregion get-run

// #region list-runs
// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, seed, config_json, created_at FROM runs ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var seed int64
		var cfg sql.NullString
		var createdStr string
		if err := rows.Scan(&rec.RunID, &seed, &cfg, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rec.Seed = uint64(seed)
		if cfg.Valid {
			rec.ConfigJSON = cfg.String
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		records = append(records, rec)
	}
	return records, rows.Err()
}
// #endregion list-runs

// #region list-ticks
// ListTicks returns a run's trajectory in tick order.
func (s *Store) ListTicks(runID string) ([]TickRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, tick, state, input, cost, predicted, created_at
		 FROM ticks WHERE run_id = ? ORDER BY tick ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list ticks: %w", err)
	}
	defer rows.Close()

	var records []TickRecord
	for rows.Next() {
		var rec TickRecord
		var stateBlob, inputBlob []byte
		var createdStr string
		if err := rows.Scan(&rec.RunID, &rec.Tick, &stateBlob, &inputBlob, &rec.Cost, &rec.PredictedArousal, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		sv := decodeVector(stateBlob, Dim)
		rec.State = AffectState{Arousal: sv[0], Valence: sv[1], Habituation: sv[2]}
		iv := decodeVector(inputBlob, Dim)
		rec.Input = ControlInput{Luminance: iv[0], Sonics: iv[1], Geometry: iv[2]}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		records = append(records, rec)
	}
	return records, rows.Err()
}
// #endregion list-ticks

// #region vector-encoding
func encodeVector(v []float64) []byte {
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeVector(b []byte, n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		if i*8+8 <= len(b) {
			v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
		}
	}
	return v
}
// #endregion vector-encoding
