package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stevesarmiento/maximus/internal/application/port"
)

type Repo struct {
	rdb       *redis.Client
	prefix    string
	ttl       time.Duration
	keyLatest string // prefix + ":latest"
	keyQuotes string // prefix + ":quotes"
}

type LatestPrice struct {
	Key   string  `json:"key"`
	Price float64 `json:"price"`
	Ts    int64   `json:"ts"`
}

func New(rdb *redis.Client, prefix string, ttl time.Duration) *Repo {
	return &Repo{
		rdb:       rdb,
		prefix:    prefix,
		ttl:       ttl,
		keyLatest: prefix + ":latest",
		keyQuotes: prefix + ":quotes",
	}
}

func (r *Repo) UpsertLatestPrice(ctx context.Context, key string, price float64, ts int64) error {
	if price <= 0 {
		return nil
	}
	lp := LatestPrice{Key: key, Price: price, Ts: ts}
	b, _ := json.Marshal(lp)

	// Hash: field = token key -> json
	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, r.keyLatest, key, string(b))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyLatest, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Repo) InsertSelectedQuote(ctx context.Context, ts int64, provider string, inAmount, outAmount uint64, payload string) error {
	// Stream: XADD <prefix>:quotes * ts provider in out payload
	_, err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.keyQuotes,
		Values: map[string]any{
			"ts_ms":      ts,
			"provider":   provider,
			"in_amount":  inAmount,
			"out_amount": outAmount,
			"payload":    payload,
		},
	}).Result()
	return err
}

func (r *Repo) Close() error { return r.rdb.Close() }

var _ port.Repository = (*Repo)(nil)
