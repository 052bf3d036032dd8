package notify

import (
	"context"
	"fmt"

	"github.com/UniQw/transferq/internal/keys"
	"github.com/UniQw/transferq/task"
	"github.com/redis/go-redis/v9"
)

// Redis publishes notifications as JSON on a per-owner pub/sub channel.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedis creates a publisher; channels are named <prefix>:notify:<uid>.
func NewRedis(rdb redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "transferq"
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

// Channel returns the channel notifications of uid are published on.
func (r *Redis) Channel(uid uint64) string { return keys.Notify(r.prefix, uid) }

func (r *Redis) Notify(ctx context.Context, n task.Notification) error {
	if err := r.rdb.Publish(ctx, r.Channel(n.UID), encodeJSON(n)).Err(); err != nil {
		return fmt.Errorf("notify: redis publish task %d: %w", n.TaskID, err)
	}
	return nil
}
