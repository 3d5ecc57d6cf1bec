// Package lowbalance keeps the set of students whose prepaid hours are
// running out.
package lowbalance

import (
	"context"
	"sort"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis set holding flagged student ids.
const DefaultKey = "students:low_balance"

// Tracker flags students at or below a threshold.
type Tracker struct {
	client    *redis.Client
	key       string
	threshold int
}

func NewTracker(client *redis.Client, threshold int) *Tracker {
	return &Tracker{client: client, key: DefaultKey, threshold: threshold}
}

// Threshold is the balance at or below which a student is flagged.
func (t *Tracker) Threshold() int { return t.threshold }

// Observe updates the set from fresh balances and returns the ids newly
// flagged by this call.
func (t *Tracker) Observe(ctx context.Context, balances map[string]int) ([]string, error) {
	var low, ok []string
	for id, hours := range balances {
		if hours <= t.threshold {
			low = append(low, id)
		} else {
			ok = append(ok, id)
		}
	}

	var flagged []string
	if len(low) > 0 {
		added := make([]*redis.IntCmd, len(low))
		pipe := t.client.TxPipeline()
		for i, id := range low {
			added[i] = pipe.SAdd(ctx, t.key, id)
		}
		if len(ok) > 0 {
			pipe.SRem(ctx, t.key, toAny(ok)...)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
		for i, cmd := range added {
			if cmd.Val() == 1 {
				flagged = append(flagged, low[i])
			}
		}
	} else if len(ok) > 0 {
		if err := t.client.SRem(ctx, t.key, toAny(ok)...).Err(); err != nil {
			return nil, err
		}
	}
	sort.Strings(flagged)
	return flagged, nil
}

// Members lists flagged student ids in sorted order.
func (t *Tracker) Members(ctx context.Context) ([]string, error) {
	ids, err := t.client.SMembers(ctx, t.key).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// Forget drops a student, e.g. after deletion.
func (t *Tracker) Forget(ctx context.Context, studentID string) error {
	return t.client.SRem(ctx, t.key, studentID).Err()
}

func toAny(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
