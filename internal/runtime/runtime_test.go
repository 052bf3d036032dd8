package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/UniQw/transferq/internal/hctx"
	"github.com/UniQw/transferq/internal/store"
	"github.com/UniQw/transferq/internal/worker"
	"github.com/UniQw/transferq/task"
	mrd "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) store.Store {
	t.Helper()
	s := mrd.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return store.NewRedis(rdb, "rt")
}

func startRuntime(t *testing.T, st store.Store, cfg Config, exec worker.Executor) *Runtime {
	t.Helper()
	rt := New(st, cfg, exec)
	require.NoError(t, rt.Start())
	t.Cleanup(rt.Stop)
	return rt
}

// blocking transfers run until cancelled.
func blocking(ctx context.Context, _ *task.Config) error {
	<-ctx.Done()
	return ctx.Err()
}

func instant(context.Context, *task.Config) error { return nil }

func download(mode task.Mode) task.Config {
	return task.Config{
		Action: task.ActionDownload,
		Mode:   mode,
		URL:    "https://example.com/file.bin",
		Files:  []task.FileSpec{{Path: "/data/file.bin"}},
	}
}

func stateOf(t *testing.T, st store.Store, id uint32) task.State {
	t.Helper()
	r, err := st.GetTask(context.Background(), id)
	require.NoError(t, err)
	return r.State
}

func eventuallyState(t *testing.T, st store.Store, id uint32, want task.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		r, err := st.GetTask(context.Background(), id)
		return err == nil && r.State == want
	}, 3*time.Second, 10*time.Millisecond, "task %d never reached %s", id, want)
}

// flush waits until every event posted before it has been handled.
func flush(t *testing.T, rt *Runtime) Stats {
	t.Helper()
	s, err := rt.Stats(context.Background(), 0)
	require.NoError(t, err)
	return s
}

func offline(t *testing.T, rt *Runtime) {
	t.Helper()
	rt.NetAvailable(1)
	rt.NetLost(1)
	flush(t, rt)
}

func seed(t *testing.T, st store.Store, id uint32, uid uint64, s task.State, a task.Action, ctime time.Time) {
	t.Helper()
	ms := ctime.UnixMilli()
	require.NoError(t, st.InsertTask(context.Background(), &store.Record{
		TaskID:   id,
		UID:      uid,
		Action:   a,
		Mode:     task.ModeBackGround,
		Version:  task.API10,
		Priority: id,
		State:    s,
		Ctime:    ms,
		Mtime:    ms,
		Config:   task.Config{Action: a, Mode: task.ModeBackGround, URL: "https://example.com/x"},
	}))
}

type recorder struct {
	mu  sync.Mutex
	got []task.NotifyKind
}

func (r *recorder) fn(n task.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n.Kind)
}

// wait blocks until k is delivered.
func (r *recorder) wait(t *testing.T, k task.NotifyKind) {
	t.Helper()
	require.Eventually(t, func() bool { return r.has(k) }, 3*time.Second, 5*time.Millisecond, "%s never delivered", k)
}

func (r *recorder) has(k task.NotifyKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.got {
		if g == k {
			return true
		}
	}
	return false
}

func TestRuntime_StartStop_Idempotent(t *testing.T) {
	rt := New(newStore(t), Config{}, instant)
	require.NoError(t, rt.Start())
	require.NoError(t, rt.Start())
	rt.Stop()
	rt.Stop()

	_, err := rt.Construct(context.Background(), 1, download(task.ModeFrontEnd))
	require.ErrorIs(t, err, ErrStopped)
}

func TestRuntime_ConstructRunsToCompletion(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	rt := startRuntime(t, st, Config{}, instant)

	id, err := rt.Construct(ctx, 100, download(task.ModeFrontEnd))
	require.NoError(t, err)
	require.Equal(t, task.StateInitialized, stateOf(t, st, id))

	rec := &recorder{}
	_, err = rt.Subscribe(ctx, 100, id, rec.fn)
	require.NoError(t, err)

	require.NoError(t, rt.Command(ctx, task.CmdStart, 100, id))
	eventuallyState(t, st, id, task.StateCompleted)
	flush(t, rt)
	rec.wait(t, task.NotifyComplete)

	info, err := rt.GetTask(ctx, 100, id)
	require.NoError(t, err)
	require.Equal(t, task.StateCompleted, info.Progress.State)
	require.Equal(t, task.API10, info.Version)

	s, err := rt.Stats(ctx, 100)
	require.NoError(t, err)
	require.Zero(t, s.Frontend, "finished tasks release the quota")
	require.Zero(t, s.Apps)
}

func TestRuntime_ConstructRejectsInvalidConfig(t *testing.T) {
	rt := startRuntime(t, newStore(t), Config{}, instant)
	cfg := download(task.ModeFrontEnd)
	cfg.URL = "ftp://example.com/x"
	_, err := rt.Construct(context.Background(), 1, cfg)
	require.Equal(t, task.ParameterCheck, task.CodeOf(err))
}

func TestRuntime_Quota(t *testing.T) {
	ctx := context.Background()
	rt := startRuntime(t, newStore(t), Config{MaxBackgroundTasks: 2, MaxFrontendTasks: 1}, blocking)

	a, err := rt.Construct(ctx, 7, download(task.ModeBackGround))
	require.NoError(t, err)
	_, err = rt.Construct(ctx, 7, download(task.ModeBackGround))
	require.NoError(t, err)
	_, err = rt.Construct(ctx, 7, download(task.ModeBackGround))
	require.Equal(t, task.TaskEnqueueErr, task.CodeOf(err))

	// quotas are per app and per mode
	_, err = rt.Construct(ctx, 8, download(task.ModeBackGround))
	require.NoError(t, err)
	f, err := rt.Construct(ctx, 7, download(task.ModeFrontEnd))
	require.NoError(t, err)

	// moving into a full mode is rejected
	require.Equal(t, task.TaskEnqueueErr, task.CodeOf(rt.SetMode(ctx, 7, a, task.ModeFrontEnd)))

	require.NoError(t, rt.Command(ctx, task.CmdRemove, 7, f))
	require.NoError(t, rt.SetMode(ctx, 7, a, task.ModeFrontEnd))
	st, err := rt.Stats(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, 1, st.Frontend)
	require.Equal(t, 1, st.Background)

	_, err = rt.Construct(ctx, 7, download(task.ModeBackGround))
	require.NoError(t, err)
}

func TestRuntime_Ownership(t *testing.T) {
	ctx := context.Background()
	rt := startRuntime(t, newStore(t), Config{}, blocking)
	id, err := rt.Construct(ctx, 1, download(task.ModeFrontEnd))
	require.NoError(t, err)

	_, err = rt.GetTask(ctx, 2, id)
	require.Equal(t, task.TaskNotFound, task.CodeOf(err))
	require.Equal(t, task.TaskNotFound, task.CodeOf(rt.Command(ctx, task.CmdStart, 2, id)))
	require.Equal(t, task.TaskNotFound, task.CodeOf(rt.Command(ctx, task.CmdPause, 1, id+1)))
	_, err = rt.Subscribe(ctx, 2, id, func(task.Notification) {})
	require.Equal(t, task.TaskNotFound, task.CodeOf(err))

	ids, err := rt.Search(ctx, 2, task.AnyFilter())
	require.NoError(t, err)
	require.Empty(t, ids)
	ids, err = rt.Search(ctx, 1, task.AnyFilter())
	require.NoError(t, err)
	require.Equal(t, []uint32{id}, ids)
}

func TestRuntime_ParameterChecks(t *testing.T) {
	ctx := context.Background()
	rt := startRuntime(t, newStore(t), Config{}, blocking)
	id, err := rt.Construct(ctx, 1, download(task.ModeFrontEnd))
	require.NoError(t, err)

	require.Equal(t, task.ParameterCheck, task.CodeOf(rt.SetMode(ctx, 1, id, task.ModeAny)))
	require.Equal(t, task.ParameterCheck, task.CodeOf(rt.SetMaxSpeed(ctx, 1, id, -1)))
	require.Equal(t, task.ParameterCheck, task.CodeOf(rt.MemoryLevelChanged(ctx, 8)))
	require.Equal(t, task.ParameterCheck, task.CodeOf(rt.MemoryLevelChanged(ctx, -1)))
	_, err = rt.Subscribe(ctx, 1, id, nil)
	require.Equal(t, task.ParameterCheck, task.CodeOf(err))
}

// Every command against every persisted state, with the network down so no
// transfer interferes.
func TestRuntime_CommandGrid(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	rt := startRuntime(t, st, Config{}, blocking)
	offline(t, rt)

	id := uint32(1000)
	for _, action := range []task.Action{task.ActionDownload, task.ActionUpload} {
		for _, from := range task.AllStates {
			for _, cmd := range task.AllCommands {
				id++
				seed(t, st, id, 5, from, action, time.Now())
				var err error
				switch cmd {
				case task.CmdSetMode:
					err = rt.SetMode(ctx, 5, id, task.ModeFrontEnd)
				case task.CmdSetMaxSpeed:
					err = rt.SetMaxSpeed(ctx, 5, id, 1024)
				default:
					err = rt.Command(ctx, cmd, 5, id)
				}
				next, ok := task.Transition(cmd, from, action)
				if !ok {
					require.Equal(t, task.TaskStateErr, task.CodeOf(err), "%s %s on %s", action, cmd, from)
					require.Equal(t, from, stateOf(t, st, id))
					continue
				}
				require.NoError(t, err, "%s %s on %s", action, cmd, from)
				require.Equal(t, next, stateOf(t, st, id), "%s %s on %s", action, cmd, from)
			}
		}
	}
}

func TestRuntime_PauseResume(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	rt := startRuntime(t, st, Config{}, blocking)

	id, err := rt.Construct(ctx, 3, download(task.ModeFrontEnd))
	require.NoError(t, err)
	rec := &recorder{}
	_, err = rt.Subscribe(ctx, 3, id, rec.fn)
	require.NoError(t, err)
	require.NoError(t, rt.Command(ctx, task.CmdStart, 3, id))
	eventuallyState(t, st, id, task.StateRunning)

	require.NoError(t, rt.Command(ctx, task.CmdPause, 3, id))
	require.Equal(t, task.StatePaused, stateOf(t, st, id))
	rec.wait(t, task.NotifyPause)
	require.Eventually(t, func() bool {
		s := flush(t, rt)
		return s.Draining == 0 && s.Running == 0
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, rt.Command(ctx, task.CmdResume, 3, id))
	rec.wait(t, task.NotifyResume)
	eventuallyState(t, st, id, task.StateRunning)

	require.NoError(t, rt.Command(ctx, task.CmdRemove, 3, id))
	rec.wait(t, task.NotifyRemove)
	_, err = rt.Subscribe(ctx, 3, id, rec.fn)
	require.Equal(t, task.TaskStateErr, task.CodeOf(err))
}

// slowTeardown transfers 1000 bytes on their first run, then block until
// cancelled and take hold to return.
type slowTeardown struct {
	hold time.Duration

	live atomic.Int32
	peak atomic.Int32
	mu   sync.Mutex
	offs []int64
}

func (d *slowTeardown) exec(ctx context.Context, _ *task.Config) error {
	n := d.live.Add(1)
	defer d.live.Add(-1)
	for {
		p := d.peak.Load()
		if n <= p || d.peak.CompareAndSwap(p, n) {
			break
		}
	}
	s, _ := hctx.From(ctx)
	d.mu.Lock()
	d.offs = append(d.offs, s.Processed())
	first := len(d.offs) == 1
	d.mu.Unlock()
	if first {
		s.Add(1000)
	}
	<-ctx.Done()
	time.Sleep(d.hold)
	return ctx.Err()
}

func (d *slowTeardown) starts() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.offs...)
}

func TestRuntime_RestartWaitsForDrain(t *testing.T) {
	for _, c := range []struct {
		name        string
		halt, again task.Command
		halted      task.State
	}{
		{"PauseResume", task.CmdPause, task.CmdResume, task.StatePaused},
		{"StopStart", task.CmdStop, task.CmdStart, task.StateStopped},
	} {
		t.Run(c.name, func(t *testing.T) {
			ctx := context.Background()
			st := newStore(t)
			d := &slowTeardown{hold: 200 * time.Millisecond}
			rt := startRuntime(t, st, Config{}, d.exec)

			id, err := rt.Construct(ctx, 5, download(task.ModeFrontEnd))
			require.NoError(t, err)
			require.NoError(t, rt.Command(ctx, task.CmdStart, 5, id))
			require.Eventually(t, func() bool {
				info, err := rt.GetTask(ctx, 5, id)
				return err == nil && info.Progress.Processed == 1000
			}, 3*time.Second, 10*time.Millisecond)

			require.NoError(t, rt.Command(ctx, c.halt, 5, id))
			require.Equal(t, 1, flush(t, rt).Draining)
			require.NoError(t, rt.Command(ctx, c.again, 5, id))
			s := flush(t, rt)
			require.Equal(t, 1, s.Draining)
			require.Zero(t, s.Running, "no second run while the first drains")

			eventuallyState(t, st, id, task.StateRunning)
			require.Eventually(t, func() bool { return len(d.starts()) == 2 }, 3*time.Second, 10*time.Millisecond)
			require.Equal(t, []int64{0, 1000}, d.starts(), "second run resumes at the drained offset")
			require.EqualValues(t, 1, d.peak.Load())
		})
	}
}

func TestRuntime_DrainKeepsHaltedState(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	d := &slowTeardown{hold: 50 * time.Millisecond}
	rt := startRuntime(t, st, Config{}, d.exec)

	p, err := rt.Construct(ctx, 6, download(task.ModeFrontEnd))
	require.NoError(t, err)
	r, err := rt.Construct(ctx, 6, download(task.ModeFrontEnd))
	require.NoError(t, err)
	for _, id := range []uint32{p, r} {
		require.NoError(t, rt.Command(ctx, task.CmdStart, 6, id))
	}
	require.Eventually(t, func() bool { return len(d.starts()) == 2 }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		a, errA := rt.GetTask(ctx, 6, p)
		b, errB := rt.GetTask(ctx, 6, r)
		return errA == nil && errB == nil && a.Progress.Processed+b.Progress.Processed == 1000
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, rt.Command(ctx, task.CmdPause, 6, p))
	require.NoError(t, rt.Command(ctx, task.CmdRemove, 6, r))
	require.Equal(t, 2, flush(t, rt).Draining)
	removed, err := st.GetTask(ctx, r)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return flush(t, rt).Draining == 0 }, 3*time.Second, 10*time.Millisecond)

	paused, err := st.GetTask(ctx, p)
	require.NoError(t, err)
	require.Equal(t, task.StatePaused, paused.Progress.State)
	info, err := rt.GetTask(ctx, 6, p)
	require.NoError(t, err)
	require.Equal(t, task.StatePaused, info.Progress.State)

	// the drain of a removed task writes nothing
	after, err := st.GetTask(ctx, r)
	require.NoError(t, err)
	require.Equal(t, task.StateRemoved, after.State)
	require.Equal(t, removed.Progress, after.Progress)
	require.Equal(t, removed.Mtime, after.Mtime)
}

func TestRuntime_RejectedConstructPersistsNothing(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	rt := startRuntime(t, st, Config{MaxFrontendTasks: 1}, blocking)

	_, err := rt.Construct(ctx, 9, download(task.ModeFrontEnd))
	require.NoError(t, err)
	n, err := st.Count(ctx)
	require.NoError(t, err)

	_, err = rt.Construct(ctx, 9, download(task.ModeFrontEnd))
	require.Equal(t, task.TaskEnqueueErr, task.CodeOf(err))
	bad := download(task.ModeBackGround)
	bad.URL = "ftp://example.com/x"
	_, err = rt.Construct(ctx, 9, bad)
	require.Equal(t, task.ParameterCheck, task.CodeOf(err))

	after, err := st.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, n, after)
}

func TestRuntime_StoppedUploadCannotRestart(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	rt := startRuntime(t, st, Config{}, blocking)

	up := download(task.ModeFrontEnd)
	up.Action = task.ActionUpload
	up.Method = "PUT"
	uid, err := rt.Construct(ctx, 4, up)
	require.NoError(t, err)
	did, err := rt.Construct(ctx, 4, download(task.ModeFrontEnd))
	require.NoError(t, err)

	for _, id := range []uint32{uid, did} {
		require.NoError(t, rt.Command(ctx, task.CmdStart, 4, id))
		require.NoError(t, rt.Command(ctx, task.CmdStop, 4, id))
		require.Equal(t, task.StateStopped, stateOf(t, st, id))
	}
	require.Equal(t, task.TaskStateErr, task.CodeOf(rt.Command(ctx, task.CmdStart, 4, uid)))
	require.NoError(t, rt.Command(ctx, task.CmdStart, 4, did))
	eventuallyState(t, st, did, task.StateRunning)
}

func TestRuntime_RetryThenComplete(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	var calls atomic.Int32
	exec := func(context.Context, *task.Config) error {
		if calls.Add(1) == 1 {
			return &worker.Fault{Reason: task.ReasonConnectError, Retryable: true, Err: errors.New("refused")}
		}
		return nil
	}
	rt := startRuntime(t, st, Config{RetryBackoffMax: 10 * time.Millisecond}, exec)

	cfg := download(task.ModeFrontEnd)
	cfg.Retry = true
	id, err := rt.Construct(ctx, 9, cfg)
	require.NoError(t, err)
	rec := &recorder{}
	_, err = rt.Subscribe(ctx, 9, id, rec.fn)
	require.NoError(t, err)
	require.NoError(t, rt.Command(ctx, task.CmdStart, 9, id))

	eventuallyState(t, st, id, task.StateCompleted)
	flush(t, rt)
	require.Equal(t, int32(2), calls.Load())
	rec.wait(t, task.NotifyFaultOccur)
	rec.wait(t, task.NotifyComplete)
	r, err := st.GetTask(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 1, r.Tries)
}

func TestRuntime_FailWithoutRetry(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	exec := func(context.Context, *task.Config) error {
		return &worker.Fault{Reason: task.ReasonProtocolError, Retryable: true, Err: errors.New("bad status")}
	}
	rt := startRuntime(t, st, Config{}, exec)

	// retry is off in the config, so a retryable fault still fails
	id, err := rt.Construct(ctx, 9, download(task.ModeFrontEnd))
	require.NoError(t, err)
	rec := &recorder{}
	_, err = rt.Subscribe(ctx, 9, id, rec.fn)
	require.NoError(t, err)
	require.NoError(t, rt.Command(ctx, task.CmdStart, 9, id))

	eventuallyState(t, st, id, task.StateFailed)
	flush(t, rt)
	r, err := st.GetTask(ctx, id)
	require.NoError(t, err)
	require.Equal(t, task.ReasonProtocolError, r.Reason)
	require.Zero(t, r.Tries)
	rec.wait(t, task.NotifyFail)
}

func TestRuntime_NetworkGatesAdmission(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	rt := startRuntime(t, st, Config{}, blocking)
	offline(t, rt)

	cfg := download(task.ModeFrontEnd)
	cfg.Network = task.NetWifi
	id, err := rt.Construct(ctx, 2, cfg)
	require.NoError(t, err)
	require.NoError(t, rt.Command(ctx, task.CmdStart, 2, id))
	flush(t, rt)
	require.Equal(t, task.StateWaiting, stateOf(t, st, id))

	rt.NetAvailable(2)
	rt.NetCapabilityChanged(2, task.NetInfo{Type: task.NetWifi})
	eventuallyState(t, st, id, task.StateRunning)

	// a cellular network does not satisfy a wifi-only task
	rt.NetAvailable(3)
	rt.NetCapabilityChanged(3, task.NetInfo{Type: task.NetCellular, Metered: true})
	flush(t, rt)
	r, err := st.GetTask(ctx, id)
	require.NoError(t, err)
	require.Equal(t, task.StateWaiting, r.State)
	require.Equal(t, task.ReasonUnsupportedNetworkType, r.Reason)

	rt.NetLost(3)
	eventuallyState(t, st, id, task.StateRunning)
}

func TestRuntime_AccountAndAppPolicy(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	policy := func(_ uint64, s task.AppState) bool { return s != task.AppTerminated }
	rt := startRuntime(t, st, Config{AppPolicy: policy}, blocking)

	uid := uint64(UIDsPerAccount + 10) // account 1
	id, err := rt.Construct(ctx, uid, download(task.ModeBackGround))
	require.NoError(t, err)
	require.NoError(t, rt.Command(ctx, task.CmdStart, uid, id))
	eventuallyState(t, st, id, task.StateRunning)

	rt.AccountChanged(0, nil)
	flush(t, rt)
	r, err := st.GetTask(ctx, id)
	require.NoError(t, err)
	require.Equal(t, task.StateWaiting, r.State)
	require.Equal(t, task.ReasonAccountStopped, r.Reason)

	rt.AccountChanged(0, []uint64{1})
	eventuallyState(t, st, id, task.StateRunning)

	rt.AppStateChanged(uid, task.AppTerminated)
	flush(t, rt)
	r, err = st.GetTask(ctx, id)
	require.NoError(t, err)
	require.Equal(t, task.ReasonAppBackgroundOrTerminate, r.Reason)
}

func TestRuntime_MemoryLevelShrinksCapacity(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	rt := startRuntime(t, st, Config{}, blocking)

	for i := 0; i < 12; i++ {
		id, err := rt.Construct(ctx, 1, download(task.ModeFrontEnd))
		require.NoError(t, err)
		require.NoError(t, rt.Command(ctx, task.CmdStart, 1, id))
	}
	require.Eventually(t, func() bool { return flush(t, rt).Running == 12 }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, rt.MemoryLevelChanged(ctx, 7))
	require.Eventually(t, func() bool {
		s := flush(t, rt)
		return s.Running == 10 && s.Draining == 0 && s.Pressure == 7
	}, 3*time.Second, 10*time.Millisecond)

	f := task.AnyFilter()
	f.State = task.StateWaiting
	waiting, err := rt.Search(ctx, 1, f)
	require.NoError(t, err)
	require.Len(t, waiting, 2)
	for _, id := range waiting {
		r, err := st.GetTask(ctx, id)
		require.NoError(t, err)
		require.Equal(t, task.ReasonRunningTaskMeetLimits, r.Reason)
	}
	s := flush(t, rt)
	require.Equal(t, map[string]int{"high": 0, "middle": 4, "low": 6}, s.Levels)

	require.NoError(t, rt.MemoryLevelChanged(ctx, 0))
	require.Eventually(t, func() bool { return flush(t, rt).Running == 12 }, 3*time.Second, 10*time.Millisecond)
}

func TestRuntime_RestoreResetsRunning(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	seed(t, st, 50, 6, task.StateRunning, task.ActionDownload, time.Now())
	seed(t, st, 51, 6, task.StatePaused, task.ActionDownload, time.Now())

	rt := startRuntime(t, st, Config{}, blocking)
	eventuallyState(t, st, 50, task.StateRunning)
	require.Equal(t, task.StatePaused, stateOf(t, st, 51))

	s, err := rt.Stats(ctx, 6)
	require.NoError(t, err)
	require.Equal(t, 1, s.Background)

	id, err := rt.Construct(ctx, 6, download(task.ModeBackGround))
	require.NoError(t, err)
	r, err := st.GetTask(ctx, id)
	require.NoError(t, err)
	require.Greater(t, r.Priority, uint32(51), "priorities continue after restored ones")
}

func TestRuntime_SweepExpiresAndPurges(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	old := time.Now().Add(-31 * 24 * time.Hour)
	seed(t, st, 60, 6, task.StateWaiting, task.ActionDownload, old)
	seed(t, st, 61, 6, task.StateCompleted, task.ActionDownload, old)
	seed(t, st, 62, 6, task.StateFailed, task.ActionDownload, old)
	seed(t, st, 63, 6, task.StateCompleted, task.ActionDownload, time.Now())

	rt := startRuntime(t, st, Config{PurgeThreshold: 1}, blocking)
	require.NoError(t, rt.Sweep(ctx))
	flush(t, rt)

	r, err := st.GetTask(ctx, 60)
	require.NoError(t, err)
	require.Equal(t, task.StateFailed, r.State)
	require.Equal(t, task.ReasonTaskSurvivalOneMonth, r.Reason)

	for _, id := range []uint32{61, 62} {
		ok, err := st.ContainsTask(ctx, id)
		require.NoError(t, err)
		require.False(t, ok, "task %d should be purged", id)
	}
	ok, err := st.ContainsTask(ctx, 63)
	require.NoError(t, err)
	require.True(t, ok, "recent records are kept")
}
