package port

import "context"

// Repository persists streaming by-products. Writes are best-effort: callers
// log failures and keep streaming.
type Repository interface {
	// Price operations
	UpsertLatestPrice(ctx context.Context, key string, price float64, ts int64) error

	// Quote operations
	InsertSelectedQuote(ctx context.Context, ts int64, provider string, inAmount, outAmount uint64, payload string) error

	// Connection management
	Close() error
}
