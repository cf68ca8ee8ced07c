// Package redisstore keeps the daily request ledger in Redis so several
// orchestrator replicas share one count per project.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/shotcast/internal/store"
)

// Config captures the connection parameters for the ledger.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Ledger implements store.RequestLedger with one counter per project and UTC day.
// Counters expire a day after the window closes.
type Ledger struct {
	rdb    redis.Cmdable
	prefix string
}

// NewClient builds a go-redis client from cfg.
func NewClient(cfg Config) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required")
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), nil
}

// NewLedger wraps rdb. prefix defaults to "shotcast:requests:".
func NewLedger(rdb redis.Cmdable, prefix string) (*Ledger, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if prefix == "" {
		prefix = "shotcast:requests:"
	}
	return &Ledger{rdb: rdb, prefix: prefix}, nil
}

// Key returns the counter key for projectID on the UTC day containing t.
func (l *Ledger) Key(projectID string, t time.Time) string {
	return l.prefix + projectID + ":" + t.UTC().Format(time.DateOnly)
}

// CountRequests returns the counter for the day that starts at from. Windows
// are always whole UTC days, so to only bounds the lookup.
func (l *Ledger) CountRequests(ctx context.Context, projectID string, from, _ time.Time) (int, error) {
	raw, err := l.rdb.Get(ctx, l.Key(projectID, from)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read request counter: %w", err)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: request counter %q", store.ErrMalformedRow, raw)
	}
	return n, nil
}

// RecordRequest increments the counter for rec's project and day.
func (l *Ledger) RecordRequest(ctx context.Context, rec store.RequestRecord) error {
	key := l.Key(rec.ProjectID, rec.CreatedAt)
	day := rec.CreatedAt.UTC().Truncate(24 * time.Hour)
	expireAt := day.Add(48 * time.Hour)

	pipe := l.rdb.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.ExpireAt(ctx, key, expireAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("increment request counter: %w", err)
	}
	return nil
}
