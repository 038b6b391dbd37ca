package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/stevesarmiento/maximus/internal/application/port"
)

type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS latest_prices (
  token_key TEXT PRIMARY KEY,
  price DOUBLE PRECISION NOT NULL,
  ts_ms BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS selected_quotes (
  id BIGSERIAL PRIMARY KEY,
  ts_ms BIGINT NOT NULL,
  provider TEXT NOT NULL,
  in_amount BIGINT NOT NULL,
  out_amount BIGINT NOT NULL,
  payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_selected_quotes_ts ON selected_quotes(ts_ms);
`)
	return err
}

func (r *Repo) UpsertLatestPrice(ctx context.Context, key string, price float64, ts int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO latest_prices(token_key, price, ts_ms, updated_at)
		VALUES($1, $2, $3, $4)
		ON CONFLICT(token_key) DO UPDATE SET
		price=excluded.price, ts_ms=excluded.ts_ms, updated_at=excluded.updated_at
	`, key, price, ts, time.Now().UnixMilli())
	return err
}

func (r *Repo) InsertSelectedQuote(ctx context.Context, ts int64, provider string, inAmount, outAmount uint64, payload string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO selected_quotes(ts_ms, provider, in_amount, out_amount, payload)
		VALUES($1, $2, $3, $4, $5)
	`, ts, provider, int64(inAmount), int64(outAmount), payload)
	return err
}

var _ port.Repository = (*Repo)(nil)
