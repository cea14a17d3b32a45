package counter

import (
	"context"
	"strconv"

	"github.com/stashpoint/settled/internal/pkg/cache"
)

const (
	webhookOutcomesKey = "settle:counters:webhook"
	retryOutcomesKey   = "settle:counters:retry"
)

// AddWebhookOutcome increments the pending counter for a webhook ingestion
// outcome (applied / duplicate / rejected) in Redis. Best effort: callers
// ignore the error so metrics never block ingestion.
func AddWebhookOutcome(outcome string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookOutcomesKey, outcome, 1).Err()
}

// AddRetryOutcome increments the counter for a retry-pass result
// (completed / failed / manual_review / skipped).
func AddRetryOutcome(outcome string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, retryOutcomesKey, outcome, 1).Err()
}

// Snapshot returns the current counter values for the health endpoint.
func Snapshot() (map[string]int64, error) {
	ctx := context.Background()
	rdb := cache.GetClient()

	out := map[string]int64{}
	for prefix, key := range map[string]string{"webhook": webhookOutcomesKey, "retry": retryOutcomesKey} {
		data, err := rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		for field, v := range data {
			n, perr := strconv.ParseInt(v, 10, 64)
			if perr != nil {
				continue
			}
			out[prefix+"_"+field] = n
		}
	}
	return out, nil
}
