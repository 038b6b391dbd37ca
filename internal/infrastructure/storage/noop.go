package storage

import (
	"context"

	"github.com/stevesarmiento/maximus/internal/application/port"
)

type noopRepo struct{}

// NewNoopRepo returns a Repository that drops every write.
func NewNoopRepo() port.Repository { return &noopRepo{} }

func (n *noopRepo) UpsertLatestPrice(ctx context.Context, key string, price float64, ts int64) error {
	return nil
}

func (n *noopRepo) InsertSelectedQuote(ctx context.Context, ts int64, provider string, inAmount, outAmount uint64, payload string) error {
	return nil
}

func (n *noopRepo) Close() error { return nil }
