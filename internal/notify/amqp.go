package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/UniQw/transferq/task"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the part of *amqp.Channel used for publishing.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQP publishes notifications to an exchange with routing key task.<kind>.
type AMQP struct {
	mu       sync.Mutex
	ch       Publisher
	exchange string
}

// NewAMQP creates a publisher on ch.
func NewAMQP(ch Publisher, exchange string) *AMQP {
	return &AMQP{ch: ch, exchange: exchange}
}

// RoutingKey returns the routing key used for kind.
func RoutingKey(kind task.NotifyKind) string { return "task." + kind.String() }

func (a *AMQP) Notify(ctx context.Context, n task.Notification) error {
	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         encodeJSON(n),
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}
	if n.Kind == task.NotifyProgress {
		msg.DeliveryMode = amqp.Transient
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ch.PublishWithContext(ctx, a.exchange, RoutingKey(n.Kind), false, false, msg); err != nil {
		return fmt.Errorf("notify: amqp publish task %d: %w", n.TaskID, err)
	}
	return nil
}
