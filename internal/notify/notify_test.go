package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/UniQw/transferq/task"
	mrd "github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type kinds struct {
	mu  sync.Mutex
	got []task.NotifyKind
}

func (k *kinds) add(n task.Notification) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.got = append(k.got, n.Kind)
}

func (k *kinds) list() []task.NotifyKind {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]task.NotifyKind(nil), k.got...)
}

func TestHub_SubscribeNotifyUnsubscribe(t *testing.T) {
	h := NewHub()
	t.Cleanup(h.Close)
	got := &kinds{}
	id := h.Subscribe(7, got.add)
	other := h.Subscribe(8, func(task.Notification) { t.Error("wrong task notified") })
	require.Equal(t, 1, h.Subscribers(7))

	require.NoError(t, h.Notify(context.Background(), task.Notification{TaskID: 7, Kind: task.NotifyPause}))
	require.NoError(t, h.Notify(context.Background(), task.Notification{TaskID: 7, Kind: task.NotifyResume}))
	require.Eventually(t, func() bool { return len(got.list()) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []task.NotifyKind{task.NotifyPause, task.NotifyResume}, got.list())

	require.True(t, h.Unsubscribe(7, id))
	require.False(t, h.Unsubscribe(7, id))
	require.NoError(t, h.Notify(context.Background(), task.Notification{TaskID: 7, Kind: task.NotifyComplete}))

	h.Drop(8)
	require.False(t, h.Unsubscribe(8, other))
	h.Close()
	require.Len(t, got.list(), 2)
}

func TestHub_NotifyDoesNotWaitForCallbacks(t *testing.T) {
	h := NewHub()
	release := make(chan struct{})
	got := &kinds{}
	h.Subscribe(3, func(n task.Notification) {
		<-release
		got.add(n)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, k := range []task.NotifyKind{task.NotifyProgress, task.NotifyPause, task.NotifyRemove} {
			_ = h.Notify(context.Background(), task.Notification{TaskID: 3, Kind: k})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a busy callback")
	}

	close(release)
	h.Close()
	require.Equal(t, []task.NotifyKind{task.NotifyProgress, task.NotifyPause, task.NotifyRemove}, got.list())
	require.NoError(t, h.Notify(context.Background(), task.Notification{TaskID: 3, Kind: task.NotifyComplete}))
	require.Len(t, got.list(), 3, "closed hub drops notifications")
}

type failing struct{ err error }

func (f failing) Notify(context.Context, task.Notification) error { return f.err }

func TestMulti_JoinsErrors(t *testing.T) {
	h := NewHub()
	var calls atomic.Int32
	h.Subscribe(1, func(task.Notification) { calls.Add(1) })
	boom := errors.New("boom")
	err := Multi{failing{boom}, nil, h}.Notify(context.Background(), task.Notification{TaskID: 1})
	require.ErrorIs(t, err, boom)
	require.NoError(t, Multi{h}.Notify(context.Background(), task.Notification{TaskID: 1}))
	h.Close()
	require.EqualValues(t, 2, calls.Load(), "a failing sink does not stop the others")
}

func TestRedis_Publishes(t *testing.T) {
	s := mrd.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	pub := NewRedis(rdb, "")
	sub := rdb.Subscribe(ctx, pub.Channel(42))
	defer sub.Close()
	_, err := sub.Receive(ctx) // subscription confirmation
	require.NoError(t, err)

	require.NoError(t, pub.Notify(ctx, task.Notification{Kind: task.NotifyComplete, TaskID: 9, UID: 42}))

	select {
	case msg := <-sub.Channel():
		require.Equal(t, "transferq:notify:42", msg.Channel)
		var n task.Notification
		require.NoError(t, sonic.Unmarshal([]byte(msg.Payload), &n))
		require.Equal(t, uint32(9), n.TaskID)
		require.Equal(t, task.NotifyComplete, n.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

type fakeChannel struct {
	mu   sync.Mutex
	keys []string
	msgs []amqp.Publishing
	err  error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, exchange+"/"+key)
	f.msgs = append(f.msgs, msg)
	return nil
}

func TestAMQP_Publishes(t *testing.T) {
	ch := &fakeChannel{}
	a := NewAMQP(ch, "transferq.events")
	require.NoError(t, a.Notify(context.Background(), task.Notification{Kind: task.NotifyFail, TaskID: 3, Reason: task.ReasonIoError}))
	require.NoError(t, a.Notify(context.Background(), task.Notification{Kind: task.NotifyProgress, TaskID: 3}))

	require.Equal(t, []string{"transferq.events/task.fail", "transferq.events/task.progress"}, ch.keys)
	require.Equal(t, "application/json", ch.msgs[0].ContentType)
	require.Equal(t, amqp.Persistent, ch.msgs[0].DeliveryMode)
	require.Equal(t, amqp.Transient, ch.msgs[1].DeliveryMode)
	var n task.Notification
	require.NoError(t, sonic.Unmarshal(ch.msgs[0].Body, &n))
	require.Equal(t, task.ReasonIoError, n.Reason)

	ch.err = errors.New("closed")
	require.Error(t, a.Notify(context.Background(), task.Notification{TaskID: 3}))
}
