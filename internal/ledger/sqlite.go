package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/forensics-cli/internal/model"
)

// SQLiteLedger implements Ledger using modernc.org/sqlite.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteLedger{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS suspect_records (
	sample_id              TEXT PRIMARY KEY,
	model_fingerprint      TEXT NOT NULL,
	combined_anomaly_score REAL NOT NULL,
	timestamp              DATETIME NOT NULL,
	source_plugin          TEXT NOT NULL DEFAULT '',
	metadata               TEXT,
	is_recurring           INTEGER NOT NULL DEFAULT 0,
	recurring_with         TEXT,
	created_at             DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_suspect_records_fingerprint ON suspect_records(model_fingerprint);
`

func (l *SQLiteLedger) Migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

func (l *SQLiteLedger) Upsert(ctx context.Context, rec model.SuspectRecord) error {
	now := time.Now().UTC()

	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal metadata for %s", rec.SampleID)
	}

	// Full replacement: a resubmitted sample_id loses any recurring
	// flag set on the prior row.
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO suspect_records
			(sample_id, model_fingerprint, combined_anomaly_score, timestamp, source_plugin, metadata, is_recurring, recurring_with, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(sample_id) DO UPDATE SET
			model_fingerprint      = excluded.model_fingerprint,
			combined_anomaly_score = excluded.combined_anomaly_score,
			timestamp              = excluded.timestamp,
			source_plugin          = excluded.source_plugin,
			metadata               = excluded.metadata,
			is_recurring           = excluded.is_recurring,
			recurring_with         = excluded.recurring_with`,
		rec.SampleID, rec.Fingerprint, model.Clamp01(rec.AnomalyScore), now,
		rec.SourcePlugin, string(metadataJSON), boolToInt(rec.IsRecurring),
		nullString(rec.RecurringWith), now,
	)
	return eris.Wrapf(err, "sqlite: upsert %s", rec.SampleID)
}

func (l *SQLiteLedger) ListAll(ctx context.Context) ([]model.SuspectRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT sample_id, model_fingerprint, combined_anomaly_score, timestamp, source_plugin, metadata, is_recurring, recurring_with, created_at
		 FROM suspect_records
		 ORDER BY created_at`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close()

	var recs []model.SuspectRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

func (l *SQLiteLedger) MarkRecurring(ctx context.Context, originalSampleID, newSampleID string) error {
	// No rows affected means the original was replaced or cleared in
	// the meantime; that is not an error.
	_, err := l.db.ExecContext(ctx,
		`UPDATE suspect_records SET is_recurring = 1, recurring_with = ? WHERE sample_id = ?`,
		newSampleID, originalSampleID,
	)
	return eris.Wrapf(err, "sqlite: mark recurring %s", originalSampleID)
}

func (l *SQLiteLedger) Clear(ctx context.Context) (int, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM suspect_records`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: clear")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: clear rows affected")
}

func (l *SQLiteLedger) Stats(ctx context.Context) (*model.LedgerStats, error) {
	stats := &model.LedgerStats{
		PluginDistribution:   map[string]int{},
		FingerprintThreshold: model.FingerprintMatchThreshold,
		MinAnomalyScore:      model.MinAnomalyScore,
	}

	row := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN combined_anomaly_score >= ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(is_recurring), 0)
		 FROM suspect_records`,
		model.MinAnomalyScore,
	)
	if err := row.Scan(&stats.TotalRecords, &stats.HighConfidenceRecords, &stats.RecurringPatterns); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats aggregate")
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT source_plugin, COUNT(*) FROM suspect_records GROUP BY source_plugin`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats per plugin")
	}
	defer rows.Close()

	for rows.Next() {
		var plugin string
		var count int
		if err := rows.Scan(&plugin, &count); err != nil {
			return nil, eris.Wrap(err, "sqlite: stats scan plugin")
		}
		stats.PluginDistribution[plugin] = count
	}
	return stats, eris.Wrap(rows.Err(), "sqlite: stats iterate")
}

// helpers

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*model.SuspectRecord, error) {
	var rec model.SuspectRecord
	var metadataJSON sql.NullString
	var recurringWith sql.NullString
	var isRecurring int

	err := row.Scan(&rec.SampleID, &rec.Fingerprint, &rec.AnomalyScore, &rec.Timestamp,
		&rec.SourcePlugin, &metadataJSON, &isRecurring, &recurringWith, &rec.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan record")
	}

	rec.IsRecurring = isRecurring != 0
	rec.RecurringWith = recurringWith.String
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal metadata for %s", rec.SampleID)
		}
	}
	return &rec, nil
}
