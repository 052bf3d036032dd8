package transferq

import (
	"github.com/UniQw/transferq/internal/metrics"
	"github.com/UniQw/transferq/internal/notify"
	"github.com/UniQw/transferq/internal/store"
	"github.com/UniQw/transferq/internal/verify"
	"github.com/UniQw/transferq/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Store is the durable task table used by a Server.
type Store = store.Store

// NewRedisStore keeps task records in Redis under namespace.
func NewRedisStore(rdb redis.UniversalClient, namespace string) Store {
	return store.NewRedis(rdb, namespace)
}

// NewSQLStore keeps task records in a relational table, creating it if needed.
func NewSQLStore(db *gorm.DB) (Store, error) {
	return store.NewSQL(db)
}

// Notification is one task lifecycle event.
type Notification = task.Notification

// Notifier delivers notifications to an external sink.
type Notifier = notify.Notifier

// Publisher is the subset of an AMQP channel used by the AMQP notifier.
type Publisher = notify.Publisher

// NewRedisNotifier publishes notifications on per-uid Redis channels.
func NewRedisNotifier(rdb redis.UniversalClient, prefix string) *notify.Redis {
	return notify.NewRedis(rdb, prefix)
}

// NewAMQPNotifier publishes notifications to an AMQP exchange, keyed by kind.
func NewAMQPNotifier(ch Publisher, exchange string) *notify.AMQP {
	return notify.NewAMQP(ch, exchange)
}

// Verifier validates task configs before they are persisted.
type Verifier = verify.Verifier

// DefaultVerifier returns the built-in verifier chain.
func DefaultVerifier() Verifier { return verify.Default() }

// Metrics holds the Prometheus collectors of a Server.
type Metrics = metrics.Metrics

// NewMetrics registers the server collectors with reg under namespace.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	return metrics.New(namespace, reg)
}
