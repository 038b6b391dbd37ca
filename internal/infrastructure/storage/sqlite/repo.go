package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stevesarmiento/maximus/internal/application/port"
)

type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

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
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  token_key TEXT NOT NULL,
  price REAL NOT NULL,
  ts_ms INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  UNIQUE(token_key)
);
CREATE INDEX IF NOT EXISTS idx_latest_prices_ts ON latest_prices(ts_ms);

CREATE TABLE IF NOT EXISTS selected_quotes (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ts_ms INTEGER NOT NULL,
  provider TEXT NOT NULL,
  in_amount INTEGER NOT NULL,
  out_amount INTEGER NOT NULL,
  payload TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_selected_quotes_ts ON selected_quotes(ts_ms);
CREATE INDEX IF NOT EXISTS idx_selected_quotes_provider ON selected_quotes(provider);
`)
	return err
}

func (r *Repo) UpsertLatestPrice(ctx context.Context, key string, price float64, ts int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO latest_prices(token_key, price, ts_ms, updated_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(token_key) DO UPDATE SET
		price=excluded.price, ts_ms=excluded.ts_ms, updated_at=excluded.updated_at
	`, key, price, ts, time.Now().UnixMilli())
	return err
}

func (r *Repo) InsertSelectedQuote(ctx context.Context, ts int64, provider string, inAmount, outAmount uint64, payload string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO selected_quotes(ts_ms, provider, in_amount, out_amount, payload, created_at)
		VALUES(?, ?, ?, ?, ?, ?)
	`, ts, provider, int64(inAmount), int64(outAmount), payload, ts)
	return err
}

// LatestPrice reads one persisted price row, mainly for tooling and tests.
func (r *Repo) LatestPrice(ctx context.Context, key string) (price float64, ts int64, err error) {
	err = r.db.QueryRowContext(ctx,
		`SELECT price, ts_ms FROM latest_prices WHERE token_key=?`, key).
		Scan(&price, &ts)
	return
}

var _ port.Repository = (*Repo)(nil)
