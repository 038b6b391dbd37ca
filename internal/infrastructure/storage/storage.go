package storage

import (
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/stevesarmiento/maximus/internal/application/port"
	"github.com/stevesarmiento/maximus/internal/infrastructure/storage/postgres"
	"github.com/stevesarmiento/maximus/internal/infrastructure/storage/redis"
	"github.com/stevesarmiento/maximus/internal/infrastructure/storage/sqlite"
)

// Open builds the Repository named by driver. "noop" keeps streaming fully
// independent of any database and is the default.
func Open(driver, dsn, prefix string) (port.Repository, error) {
	switch driver {
	case "", "noop":
		return NewNoopRepo(), nil
	case "sqlite":
		return sqlite.New(dsn)
	case "postgres":
		return postgres.New(dsn)
	case "redis":
		opts, err := goredis.ParseURL(dsn)
		if err != nil {
			return nil, fmt.Errorf("storage: parse redis dsn: %w", err)
		}
		return redis.New(goredis.NewClient(opts), prefix, 24*time.Hour), nil
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", driver)
	}
}
