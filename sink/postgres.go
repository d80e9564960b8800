package sink

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/YuminosukeSato/pvtrain/evaluation"
	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"github.com/lib/pq"
)

// PostgresSink inserts records into one table, creating it when absent.
type PostgresSink struct {
	db    *sql.DB
	table string
}

// NewPostgresSink opens and pings dsn.
func NewPostgresSink(ctx context.Context, dsn, table string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	s := NewPostgresSinkFromDB(db, table)
	if err := s.EnsureTable(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresSinkFromDB wraps an open database.
func NewPostgresSinkFromDB(db *sql.DB, table string) *PostgresSink {
	return &PostgresSink{db: db, table: table}
}

func (s *PostgresSink) Name() string { return "postgres" }

func createTableSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id      TEXT NOT NULL,
	generator_id TEXT NOT NULL,
	strategy    TEXT NOT NULL,
	r2          DOUBLE PRECISION,
	rmse        DOUBLE PRECISION,
	mae         DOUBLE PRECISION,
	mape        DOUBLE PRECISION,
	nrmse_mean  DOUBLE PRECISION,
	nrmse_range DOUBLE PRECISION,
	n_test      INTEGER NOT NULL,
	n_features  INTEGER NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, generator_id, strategy)
)`, pq.QuoteIdentifier(table))
}

func insertSQL(table string) string {
	return fmt.Sprintf(`INSERT INTO %s (run_id, generator_id, strategy, r2, rmse, mae, mape, nrmse_mean, nrmse_range, n_test, n_features)
	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	 ON CONFLICT (run_id, generator_id, strategy) DO NOTHING`, pq.QuoteIdentifier(table))
}

// EnsureTable creates the records table.
func (s *PostgresSink) EnsureTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, createTableSQL(s.table))
	return errors.Wrapf(err, "create table %s", s.table)
}

// WriteRecords inserts all records in one transaction.
func (s *PostgresSink) WriteRecords(ctx context.Context, runID string, records []evaluation.Record) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insertSQL(s.table))
	if err != nil {
		return errors.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err = stmt.ExecContext(ctx,
			runID, rec.GeneratorID, rec.Strategy,
			nullFloat(rec.R2), nullFloat(rec.RMSE), nullFloat(rec.MAE), nullFloat(rec.MAPE),
			nullFloat(rec.NRMSEMean), nullFloat(rec.NRMSERange),
			rec.NTest, rec.NFeatures,
		)
		if err != nil {
			return errors.Wrapf(err, "insert %s/%s", rec.GeneratorID, rec.Strategy)
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

func nullFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v) && !math.IsInf(v, 0)}
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}
