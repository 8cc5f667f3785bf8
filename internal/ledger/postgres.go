package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/forensics-cli/internal/db"
	"github.com/sells-group/forensics-cli/internal/model"
)

// PostgresLedger implements Ledger using pgxpool.
type PostgresLedger struct {
	pool db.Pool
}

// preparedStatements lists queries to prepare on each new connection
// for the hot-path ledger operations.
var preparedStatements = map[string]string{
	"upsert_record": `INSERT INTO suspect_records
		(sample_id, model_fingerprint, combined_anomaly_score, timestamp, source_plugin, metadata, is_recurring, recurring_with, created_at)
	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	 ON CONFLICT (sample_id) DO UPDATE SET
		model_fingerprint      = EXCLUDED.model_fingerprint,
		combined_anomaly_score = EXCLUDED.combined_anomaly_score,
		timestamp              = EXCLUDED.timestamp,
		source_plugin          = EXCLUDED.source_plugin,
		metadata               = EXCLUDED.metadata,
		is_recurring           = EXCLUDED.is_recurring,
		recurring_with         = EXCLUDED.recurring_with`,
	"list_records": `SELECT sample_id, model_fingerprint, combined_anomaly_score, timestamp, source_plugin, metadata, is_recurring, recurring_with, created_at
	 FROM suspect_records ORDER BY created_at`,
	"mark_recurring": `UPDATE suspect_records SET is_recurring = TRUE, recurring_with = $1 WHERE sample_id = $2`,
}

// NewPostgres creates a PostgresLedger with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresLedger, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresLedger{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests to inject
// pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS suspect_records (
	sample_id              TEXT PRIMARY KEY,
	model_fingerprint      TEXT NOT NULL,
	combined_anomaly_score DOUBLE PRECISION NOT NULL,
	timestamp              TIMESTAMPTZ NOT NULL,
	source_plugin          TEXT NOT NULL DEFAULT '',
	metadata               JSONB,
	is_recurring           BOOLEAN NOT NULL DEFAULT FALSE,
	recurring_with         TEXT,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_suspect_records_fingerprint ON suspect_records(model_fingerprint);
`

func (l *PostgresLedger) Migrate(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (l *PostgresLedger) Close() error {
	l.pool.Close()
	return nil
}

func (l *PostgresLedger) Upsert(ctx context.Context, rec model.SuspectRecord) error {
	now := time.Now().UTC()

	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return eris.Wrapf(err, "postgres: marshal metadata for %s", rec.SampleID)
	}

	var recurringWith *string
	if rec.RecurringWith != "" {
		recurringWith = &rec.RecurringWith
	}

	_, err = l.pool.Exec(ctx, preparedStatements["upsert_record"],
		rec.SampleID, rec.Fingerprint, model.Clamp01(rec.AnomalyScore), now,
		rec.SourcePlugin, metadataJSON, rec.IsRecurring, recurringWith, now,
	)
	return eris.Wrapf(err, "postgres: upsert %s", rec.SampleID)
}

func (l *PostgresLedger) ListAll(ctx context.Context) ([]model.SuspectRecord, error) {
	rows, err := l.pool.Query(ctx, preparedStatements["list_records"])
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var recs []model.SuspectRecord
	for rows.Next() {
		var rec model.SuspectRecord
		var metadataJSON []byte
		var recurringWith *string

		if err := rows.Scan(&rec.SampleID, &rec.Fingerprint, &rec.AnomalyScore, &rec.Timestamp,
			&rec.SourcePlugin, &metadataJSON, &rec.IsRecurring, &recurringWith, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		if recurringWith != nil {
			rec.RecurringWith = *recurringWith
		}
		if len(metadataJSON) > 0 && string(metadataJSON) != "null" {
			if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
				return nil, eris.Wrapf(err, "postgres: unmarshal metadata for %s", rec.SampleID)
			}
		}
		recs = append(recs, rec)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

func (l *PostgresLedger) MarkRecurring(ctx context.Context, originalSampleID, newSampleID string) error {
	// Zero rows affected means the original is gone; deliberately not
	// an error.
	_, err := l.pool.Exec(ctx, preparedStatements["mark_recurring"], newSampleID, originalSampleID)
	return eris.Wrapf(err, "postgres: mark recurring %s", originalSampleID)
}

func (l *PostgresLedger) Clear(ctx context.Context) (int, error) {
	tag, err := l.pool.Exec(ctx, `DELETE FROM suspect_records`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: clear")
	}
	return int(tag.RowsAffected()), nil
}

func (l *PostgresLedger) Stats(ctx context.Context) (*model.LedgerStats, error) {
	stats := &model.LedgerStats{
		PluginDistribution:   map[string]int{},
		FingerprintThreshold: model.FingerprintMatchThreshold,
		MinAnomalyScore:      model.MinAnomalyScore,
	}

	row := l.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE combined_anomaly_score >= $1),
		        COUNT(*) FILTER (WHERE is_recurring)
		 FROM suspect_records`,
		model.MinAnomalyScore,
	)
	if err := row.Scan(&stats.TotalRecords, &stats.HighConfidenceRecords, &stats.RecurringPatterns); err != nil {
		return nil, eris.Wrap(err, "postgres: stats aggregate")
	}

	rows, err := l.pool.Query(ctx,
		`SELECT source_plugin, COUNT(*) FROM suspect_records GROUP BY source_plugin`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats per plugin")
	}
	defer rows.Close()

	for rows.Next() {
		var plugin string
		var count int
		if err := rows.Scan(&plugin, &count); err != nil {
			return nil, eris.Wrap(err, "postgres: stats scan plugin")
		}
		stats.PluginDistribution[plugin] = count
	}
	return stats, eris.Wrap(rows.Err(), "postgres: stats iterate")
}
