package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/meterlog/tmpod/internal/infrastructure/database"
)

// defaultMaxPublishRows bounds the publish log when the config leaves it unset.
const defaultMaxPublishRows = 10000

// schema creates the journal tables on first open.
const schema = `
CREATE TABLE IF NOT EXISTS readings (
	sensor_id   TEXT PRIMARY KEY,
	rid         INTEGER NOT NULL,
	ts          INTEGER NOT NULL,
	value       REAL NOT NULL,
	received_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS publishes (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	sensor_id    TEXT NOT NULL,
	rid          INTEGER NOT NULL,
	lvl          INTEGER NOT NULL,
	bid          INTEGER NOT NULL,
	published_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_publishes_sensor ON publishes(sensor_id, published_at);
`

// Reading is the last reported reading of one sensor.
type Reading struct {
	SensorID   string
	Rid        int
	Time       uint32
	Value      float64
	ReceivedAt time.Time
}

// Journal is the SQLite-backed diagnostics journal.
type Journal struct {
	db             *database.DB
	maxPublishRows int
}

// Open opens the journal database and creates the schema if needed.
//
// Parameters:
//   - db: Open database connection from the database package
//   - maxPublishRows: Upper bound on retained publish rows (0 for default)
//
// Returns:
//   - *Journal: Ready journal
//   - error: If schema creation fails
func Open(db *database.DB, maxPublishRows int) (*Journal, error) {
	if maxPublishRows <= 0 {
		maxPublishRows = defaultMaxPublishRows
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}
	return &Journal{db: db, maxPublishRows: maxPublishRows}, nil
}

// RecordReading upserts the last reported reading of a sensor.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - r: The reading; ReceivedAt defaults to now when zero
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (j *Journal) RecordReading(ctx context.Context, r Reading) error {
	if r.SensorID == "" {
		return fmt.Errorf("journal: sensor id is required")
	}
	received := r.ReceivedAt
	if received.IsZero() {
		received = time.Now()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO readings (sensor_id, rid, ts, value, received_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(sensor_id) DO UPDATE SET
			rid = excluded.rid,
			ts = excluded.ts,
			value = excluded.value,
			received_at = excluded.received_at`,
		r.SensorID, r.Rid, int64(r.Time), r.Value, received.Unix(),
	)
	if err != nil {
		return fmt.Errorf("recording reading: %w", err)
	}
	return nil
}

// LastReading returns the last reported reading of a sensor, or nil if the
// sensor has never reported.
func (j *Journal) LastReading(ctx context.Context, sid string) (*Reading, error) {
	var (
		r        Reading
		ts       int64
		received int64
	)
	err := j.db.QueryRowContext(ctx,
		`SELECT sensor_id, rid, ts, value, received_at FROM readings WHERE sensor_id = ?`,
		sid,
	).Scan(&r.SensorID, &r.Rid, &ts, &r.Value, &received)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying last reading: %w", err)
	}
	r.Time = uint32(ts)
	r.ReceivedAt = time.Unix(received, 0)
	return &r, nil
}

// RecordPublish appends a block publish to the log and prunes rows beyond
// the configured bound.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - sid, rid, lvl, bid: The published block's coordinates
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (j *Journal) RecordPublish(ctx context.Context, sid string, rid, lvl int, bid uint32) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO publishes (sensor_id, rid, lvl, bid, published_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sid, rid, lvl, int64(bid), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("recording publish: %w", err)
	}

	_, err = j.db.ExecContext(ctx,
		`DELETE FROM publishes WHERE id <= (
			SELECT id FROM publishes ORDER BY id DESC LIMIT 1 OFFSET ?
		 )`,
		j.maxPublishRows,
	)
	if err != nil {
		return fmt.Errorf("pruning publishes: %w", err)
	}
	return nil
}

// PublishCount returns the number of retained publish rows.
func (j *Journal) PublishCount(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM publishes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting publishes: %w", err)
	}
	return n, nil
}
