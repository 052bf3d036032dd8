package runtime

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/UniQw/transferq/internal/metrics"
	"github.com/UniQw/transferq/internal/notify"
	"github.com/UniQw/transferq/internal/qos"
	"github.com/UniQw/transferq/internal/store"
	"github.com/UniQw/transferq/internal/verify"
	"github.com/UniQw/transferq/internal/worker"
	"github.com/UniQw/transferq/task"
	"github.com/google/uuid"
)

// ErrStopped is returned by calls made while the runtime is not running.
var ErrStopped = errors.New("runtime: not running")

// Per-app quotas of quota-occupying tasks.
const (
	MaxFrontendTasks   = 2001
	MaxBackgroundTasks = 1001
)

// Logger is a minimal logging interface used internally by the runtime.
// It mirrors the public logger in the root package to avoid an import cycle.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...any) {}
func (noopLogger) Infof(string, ...any)  {}
func (noopLogger) Warnf(string, ...any)  {}
func (noopLogger) Errorf(string, ...any) {}

// AppPolicy decides whether BackGround-mode tasks of uid may run in app state st.
type AppPolicy func(uid uint64, st task.AppState) bool

type Config struct {
	MaxFrontendTasks   int
	MaxBackgroundTasks int
	// MaxRetry bounds the retries of a task whose faults are retryable.
	MaxRetry int
	// RetryBackoffMax caps the exponential retry delay.
	RetryBackoffMax time.Duration
	QueueSize       int
	SweepInterval   time.Duration
	// Retention is the age after which finished records may be purged.
	Retention time.Duration
	// Survival is the age after which unfinished tasks are failed.
	Survival time.Duration
	// PurgeThreshold is the record count above which the sweep purges.
	PurgeThreshold   int
	PurgeBatch       int
	ProgressInterval time.Duration
	Verifier         verify.Verifier
	AppPolicy        AppPolicy
	Notifier         notify.Notifier
	Metrics          *metrics.Metrics
	Logger           Logger
}

func (c *Config) defaults() {
	if c.MaxFrontendTasks <= 0 {
		c.MaxFrontendTasks = MaxFrontendTasks
	}
	if c.MaxBackgroundTasks <= 0 {
		c.MaxBackgroundTasks = MaxBackgroundTasks
	}
	if c.MaxRetry < 0 {
		c.MaxRetry = 0
	} else if c.MaxRetry == 0 {
		c.MaxRetry = 3
	}
	if c.RetryBackoffMax <= 0 {
		c.RetryBackoffMax = 30 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Hour
	}
	if c.Retention <= 0 {
		c.Retention = 7 * 24 * time.Hour
	}
	if c.Survival <= 0 {
		c.Survival = 30 * 24 * time.Hour
	}
	if c.PurgeThreshold <= 0 {
		c.PurgeThreshold = 1000
	}
	if c.PurgeBatch <= 0 {
		c.PurgeBatch = 500
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = 500 * time.Millisecond
	}
	if c.Verifier == nil {
		c.Verifier = verify.Default()
	}
	if c.AppPolicy == nil {
		c.AppPolicy = func(uint64, task.AppState) bool { return true }
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
}

// unit is an admitted task with a live transfer unit.
type unit struct {
	h   *worker.Handle
	rec *store.Record
}

// Runtime is the task manager: a single goroutine consumes events in order and
// owns every piece of scheduling state below.
type Runtime struct {
	st       store.Store
	cfg      Config
	exec     worker.Executor
	hub      *notify.Hub
	notifier notify.Notifier
	log      Logger
	metrics  *metrics.Metrics

	events  chan event
	wg      sync.WaitGroup
	units   sync.WaitGroup
	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc

	// owned by the loop goroutine
	apps      map[uint64]*qos.App
	sched     *qos.Scheduler
	capacity  qos.Capacity
	pressure  int
	running   map[uint32]*unit
	draining  map[uuid.UUID]uint32
	drained   map[uint32]int // cancelled units per task not yet reported
	net       netState
	accounts  accountState
	appStates map[uint64]task.AppState
	seq       uint32
	rng       *rand.Rand
}

// New creates a runtime on top of st that executes transfers with exec.
func New(st store.Store, cfg Config, exec worker.Executor) *Runtime {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	hub := notify.NewHub()
	var n notify.Notifier = hub
	if cfg.Notifier != nil {
		n = notify.Multi{hub, cfg.Notifier}
	}
	capacity, _ := qos.NewCapacity(0)
	return &Runtime{
		st:        st,
		cfg:       cfg,
		exec:      exec,
		hub:       hub,
		notifier:  n,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
		events:    make(chan event, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		apps:      make(map[uint64]*qos.App),
		sched:     qos.NewScheduler(),
		capacity:  capacity,
		running:   make(map[uint32]*unit),
		draining:  make(map[uuid.UUID]uint32),
		drained:   make(map[uint32]int),
		net:       newNetState(),
		appStates: make(map[uint64]task.AppState),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start restores persisted tasks and launches the event loop and the sweeper.
func (rt *Runtime) Start() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.started {
		rt.log.Warnf("runtime already started; ignoring Start()")
		return nil
	}
	if err := rt.restore(); err != nil {
		return err
	}
	rt.started = true
	rt.log.Infof("runtime starting: apps=%d frontend_quota=%d background_quota=%d",
		len(rt.apps), rt.cfg.MaxFrontendTasks, rt.cfg.MaxBackgroundTasks)

	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		rt.loop()
	}()

	// Sweeper: the loop does the work, the ticker only asks for it.
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		ticker := time.NewTicker(rt.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rt.ctx.Done():
				return
			case <-ticker.C:
				rt.post(sweepEv{})
			}
		}
	}()

	rt.post(rescheduleEv{})
	return nil
}

// Stop cancels the internal context and waits for the loop and every transfer unit to exit.
// Tasks that were running stay persisted as running and are restored as waiting.
func (rt *Runtime) Stop() {
	rt.mu.Lock()
	if !rt.started {
		rt.log.Warnf("runtime not started; ignoring Stop()")
		rt.mu.Unlock()
		return
	}
	rt.started = false
	rt.mu.Unlock()
	rt.log.Infof("runtime stopping")

	rt.cancel()
	rt.wg.Wait()
	rt.units.Wait()
	rt.hub.Close()
}

func (rt *Runtime) isStarted() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.started
}

func (rt *Runtime) loop() {
	for {
		select {
		case <-rt.ctx.Done():
			return
		case ev := <-rt.events:
			rt.metrics.Event(ev.kind())
			rt.dispatch(ev)
		}
	}
}

// post enqueues an event without waiting for it to be handled.
func (rt *Runtime) post(ev event) {
	select {
	case rt.events <- ev:
	case <-rt.ctx.Done():
	}
}

// submit enqueues a request event on behalf of a caller.
func (rt *Runtime) submit(ctx context.Context, ev event) error {
	if !rt.isStarted() {
		return ErrStopped
	}
	select {
	case rt.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-rt.ctx.Done():
		return ErrStopped
	}
}

func await[T any](ctx context.Context, rt *Runtime, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-rt.ctx.Done():
		return zero, ErrStopped
	}
}

func (rt *Runtime) dispatch(ev event) {
	switch e := ev.(type) {
	case constructEv:
		id, err := rt.handleConstruct(e.uid, e.cfg)
		e.reply <- constructReply{id: id, err: err}
	case commandEv:
		e.reply <- rt.handleCommand(e)
	case searchEv:
		ids, err := rt.handleSearch(e.uid, e.filter)
		e.reply <- searchReply{ids: ids, err: err}
	case getEv:
		info, err := rt.handleGet(e.uid, e.id)
		e.reply <- getReply{info: info, err: err}
	case subscribeEv:
		id, err := rt.handleSubscribe(e.uid, e.id, e.fn)
		e.reply <- subscribeReply{id: id, err: err}
	case unsubscribeEv:
		e.reply <- rt.handleUnsubscribe(e.uid, e.id, e.sub)
	case statsEv:
		e.reply <- rt.stats(e.uid)
	case netEv:
		rt.handleNet(e)
	case accountEv:
		rt.handleAccount(e)
	case appStateEv:
		rt.handleAppState(e)
	case memoryEv:
		rt.handleMemory(e.level)
	case progressEv:
		rt.handleProgress(e)
	case headersEv:
		rt.handleHeaders(e)
	case doneEv:
		rt.handleDone(e)
	case sweepEv:
		rt.handleSweep(time.Now())
	case rescheduleEv:
		rt.reschedule()
	default:
		rt.log.Warnf("unknown event %T", ev)
	}
}

// restore rebuilds in-memory state from the store. Tasks persisted as running
// lost their transfer unit with the previous process and wait again.
func (rt *Runtime) restore() error {
	seq, err := rt.st.MaxPriority(rt.ctx)
	if err != nil {
		return err
	}
	rt.seq = seq
	active, err := rt.st.LoadActive(rt.ctx)
	if err != nil {
		return err
	}
	for _, q := range active {
		app := rt.app(q.UID)
		app.Inc(q.Mode)
		if q.State == task.StateRunning || q.State == task.StateRetrying {
			if err := rt.st.UpdateState(rt.ctx, q.TaskID, task.StateWaiting, task.ReasonDefault); err != nil {
				rt.log.Errorf("restore: reset to waiting failed: id=%d err=%v", q.TaskID, err)
				continue
			}
			q.State = task.StateWaiting
		}
		if q.State == task.StateWaiting {
			app.Insert(entryOf(q))
		}
	}
	if len(active) > 0 {
		rt.log.Infof("restored %d active tasks", len(active))
	}
	return nil
}

func (rt *Runtime) app(uid uint64) *qos.App {
	a, ok := rt.apps[uid]
	if !ok {
		a = qos.NewApp(uid)
		rt.apps[uid] = a
	}
	return a
}

// tidy drops an app that holds nothing any more.
func (rt *Runtime) tidy(uid uint64) {
	if a, ok := rt.apps[uid]; ok && a.Empty() {
		delete(rt.apps, uid)
	}
}

func (rt *Runtime) limit(m task.Mode) int {
	if m == task.ModeFrontEnd {
		return rt.cfg.MaxFrontendTasks
	}
	return rt.cfg.MaxBackgroundTasks
}

func entryOf(q *store.QosInfo) *qos.Entry {
	return &qos.Entry{
		TaskID:   q.TaskID,
		UID:      q.UID,
		Action:   q.Action,
		Mode:     q.Mode,
		Priority: q.Priority,
		State:    q.State,
		MaxSpeed: q.MaxSpeed,
		Network:  q.Network,
		Metered:  q.Metered,
		Roaming:  q.Roaming,
		Tries:    q.Tries,
	}
}

func (rt *Runtime) emit(kind task.NotifyKind, q *store.QosInfo, p task.Progress, reason task.Reason, hdr map[string][]string) {
	n := task.Notification{
		Kind:     kind,
		TaskID:   q.TaskID,
		UID:      q.UID,
		Bundle:   q.Bundle,
		Action:   q.Action,
		Version:  q.Version,
		Progress: p,
		Reason:   reason,
		Headers:  hdr,
		At:       time.Now(),
	}
	if err := rt.notifier.Notify(rt.ctx, n); err != nil {
		rt.log.Warnf("notify %s failed: id=%d err=%v", kind, q.TaskID, err)
	}
}
