package reminder

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/event-reminders/backend/internal/logger"
)

// Claimer grants a short lease on a reminder so that processors running in
// different processes do not dispatch it at the same time.
type Claimer interface {
	Claim(ctx context.Context, reminderID string) (bool, error)
	Release(ctx context.Context, reminderID string)
}

// NopClaimer always grants the claim. The processing set is then the only
// guard, which protects a single process.
type NopClaimer struct{}

func (NopClaimer) Claim(context.Context, string) (bool, error) { return true, nil }
func (NopClaimer) Release(context.Context, string)             {}

// RedisClaimer leases reminders with SET NX PX.
type RedisClaimer struct {
	client *redis.Client
	ttl    time.Duration
	owner  string
	log    *logger.Logger
}

// NewRedisClaimer creates a claimer whose leases expire after ttl. owner
// identifies this process in the lease value.
func NewRedisClaimer(client *redis.Client, ttl time.Duration, owner string) *RedisClaimer {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisClaimer{client: client, ttl: ttl, owner: owner, log: logger.Named("processor")}
}

func claimKey(reminderID string) string {
	return "reminder-claim:" + reminderID
}

// Claim implements Claimer.
func (c *RedisClaimer) Claim(ctx context.Context, reminderID string) (bool, error) {
	return c.client.SetNX(ctx, claimKey(reminderID), c.owner, c.ttl).Result()
}

// releaseScript deletes the lease only while this process still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Release implements Claimer. A failed release is logged; the lease then
// expires after its ttl.
func (c *RedisClaimer) Release(ctx context.Context, reminderID string) {
	if err := releaseScript.Run(ctx, c.client, []string{claimKey(reminderID)}, c.owner).Err(); err != nil {
		c.log.Warnw("Failed to release reminder claim", "reminder_id", reminderID, "owner", c.owner, "error", err)
	}
}
