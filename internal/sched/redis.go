package sched

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"hail/internal/types"
)

const (
	delayQueueKey = "sched:due"
	// claimBatch bounds how many due members one poll claims.
	claimBatch = 64
)

// Redis is a sorted-set delay queue: score is the due time in unix
// milliseconds, the member doubles as a per-(handler, order) dedup key so a
// rescheduled wakeup replaces the pending one instead of piling up. A member
// is claimed by ZREM before invocation, so concurrent pollers never double
// fire; a crash mid-invocation drops that wakeup, which the dispatch
// handlers tolerate because every entry point re-derives state on entry.
type Redis struct {
	client *redis.Client
	reg    *Registry
	poll   time.Duration
	log    zerolog.Logger
}

func NewRedis(client *redis.Client, reg *Registry, poll time.Duration, log zerolog.Logger) *Redis {
	if poll <= 0 {
		poll = time.Second
	}
	return &Redis{client: client, reg: reg, poll: poll, log: log}
}

func (r *Redis) ScheduleAfter(ctx context.Context, delay time.Duration, handler string, orderID types.ID) error {
	due := time.Now().Add(delay)
	member := handler + "|" + string(orderID)
	// LT keeps the earlier deadline when the same wakeup is already pending.
	return r.client.ZAddLT(ctx, delayQueueKey, redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: member,
	}).Err()
}

// Run polls for due members until the context is canceled.
func (r *Redis) Run(ctx context.Context) {
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.drainDue(ctx); err != nil && ctx.Err() == nil {
				r.log.Error().Err(err).Msg("delay queue poll failed")
			}
		}
	}
}

func (r *Redis) drainDue(ctx context.Context) error {
	now := time.Now().UnixMilli()
	members, err := r.client.ZRangeByScore(ctx, delayQueueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   formatScore(now),
		Count: claimBatch,
	}).Result()
	if err != nil {
		return err
	}
	for _, member := range members {
		removed, err := r.client.ZRem(ctx, delayQueueKey, member).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue // another worker claimed it
		}
		handler, orderID, ok := splitMember(member)
		if !ok {
			r.log.Warn().Str("member", member).Msg("malformed delay queue member dropped")
			continue
		}
		_ = r.reg.Invoke(ctx, handler, types.ID(orderID))
	}
	return nil
}

func splitMember(member string) (handler, orderID string, ok bool) {
	i := strings.IndexByte(member, '|')
	if i <= 0 || i == len(member)-1 {
		return "", "", false
	}
	return member[:i], member[i+1:], true
}

func formatScore(unixMilli int64) string {
	return strconv.FormatInt(unixMilli, 10)
}
