package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLedger keeps extraction outcomes in Redis so runs on different
// machines can see which files still need a retry.
//
// Keys:
//
//	{prefix}run:{id}  hash of file -> result JSON, one per run
//	{prefix}retry     set of files whose last outcome was timeout or rate_limited
type RedisLedger struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisLedger creates a ledger. Run hashes expire after ttl when it is
// positive.
func NewRedisLedger(client redis.UniversalClient, ttl time.Duration) *RedisLedger {
	return &RedisLedger{client: client, prefix: "labelgraph:extract:", ttl: ttl}
}

func (l *RedisLedger) runKey(runID string) string { return l.prefix + "run:" + runID }
func (l *RedisLedger) retryKey() string          { return l.prefix + "retry" }

// Record stores one result and updates the retry set.
func (l *RedisLedger) Record(ctx context.Context, runID string, r Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, l.runKey(runID), r.File, data)
		if l.ttl > 0 {
			pipe.Expire(ctx, l.runKey(runID), l.ttl)
		}
		switch r.Status {
		case StatusTimeout, StatusRateLimited:
			pipe.SAdd(ctx, l.retryKey(), r.File)
		case StatusSuccess:
			pipe.SRem(ctx, l.retryKey(), r.File)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ledger record %s: %w", r.File, err)
	}
	return nil
}

// Run returns the recorded results of a run in file order.
func (l *RedisLedger) Run(ctx context.Context, runID string) ([]Result, error) {
	vals, err := l.client.HGetAll(ctx, l.runKey(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("ledger run %s: %w", runID, err)
	}
	out := make([]Result, 0, len(vals))
	for _, v := range vals {
		var r Result
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			return nil, fmt.Errorf("decoding ledger entry: %w", err)
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Result) int { return strings.Compare(a.File, b.File) })
	return out, nil
}

// PendingRetries lists files whose latest outcome should be retried.
func (l *RedisLedger) PendingRetries(ctx context.Context) ([]string, error) {
	files, err := l.client.SMembers(ctx, l.retryKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("ledger retries: %w", err)
	}
	slices.Sort(files)
	return files, nil
}
