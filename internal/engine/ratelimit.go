package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// dailyCapLuaScript atomically checks the day's counter against the cap
// and increments only when under it. Returns {allowed, current}.
const dailyCapLuaScript = `
local key = KEYS[1]
local cap = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")
if current >= cap then
    return {0, current}
end

local newCount = redis.call("INCR", key)
if newCount == 1 then
    redis.call("EXPIRE", key, ttl)
end
return {1, newCount}
`

// DailyCap enforces a per-campaign daily send cap backed by Redis. With a
// nil client every campaign is treated as uncapped, as is any campaign
// whose daily_limit is zero.
type DailyCap struct {
	client *redis.Client
	script *redis.Script
	now    func() time.Time
}

func NewDailyCap(client *redis.Client) *DailyCap {
	return &DailyCap{
		client: client,
		script: redis.NewScript(dailyCapLuaScript),
		now:    time.Now,
	}
}

func (c *DailyCap) key(campaignID uuid.UUID) string {
	day := c.now().UTC().Format("2006-01-02")
	return fmt.Sprintf("outreach:daily_cap:%s:%s", campaignID, day)
}

// Take consumes one send slot for the campaign's current UTC day.
// Returns false when the cap is exhausted. Keys expire an hour past the
// day boundary so clock skew between workers cannot orphan a counter.
func (c *DailyCap) Take(ctx context.Context, campaignID uuid.UUID, limit int) (bool, error) {
	if c.client == nil || limit <= 0 {
		return true, nil
	}
	res, err := c.script.Run(ctx, c.client, []string{c.key(campaignID)}, limit, int(25*time.Hour/time.Second)).Slice()
	if err != nil {
		return false, fmt.Errorf("daily cap check: %w", err)
	}
	allowed, ok := res[0].(int64)
	if !ok {
		return false, fmt.Errorf("daily cap check: unexpected reply %v", res)
	}
	return allowed == 1, nil
}

// Used returns the campaign's consumed slots for the current UTC day.
func (c *DailyCap) Used(ctx context.Context, campaignID uuid.UUID) (int, error) {
	if c.client == nil {
		return 0, nil
	}
	n, err := c.client.Get(ctx, c.key(campaignID)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}
