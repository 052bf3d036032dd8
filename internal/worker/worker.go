// Package worker runs the transfer unit of one admitted task.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/UniQw/transferq/internal/hctx"
	"github.com/UniQw/transferq/internal/limiter"
	"github.com/UniQw/transferq/task"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ErrNoHandler indicates there is no handler for the task action; the task fails without retry.
var ErrNoHandler = errors.New("no handler")

// Fault classifies a transfer error.
type Fault struct {
	Reason    task.Reason
	Retryable bool
	Err       error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return f.Reason.String()
	}
	return f.Reason.String() + ": " + f.Err.Error()
}

func (f *Fault) Unwrap() error { return f.Err }

// Classify returns the reason and retryability of a transfer error.
// Unclassified errors are permanent OthersError faults.
func Classify(err error) (task.Reason, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f.Reason, f.Retryable
	}
	return task.ReasonOthersError, false
}

// Executor runs the transfer described by cfg until it finishes or ctx is done.
type Executor func(ctx context.Context, cfg *task.Config) error

// Sink receives the events of running units. Calls come from worker goroutines.
type Sink interface {
	Progress(id uint32, run uuid.UUID, p task.Progress)
	Headers(id uint32, run uuid.UUID, h map[string][]string)
	// Done is called exactly once per unit, also after cancellation.
	Done(id uint32, run uuid.UUID, p task.Progress, err error)
}

// Spec describes one run of a task.
type Spec struct {
	TaskID uint32
	Config *task.Config
	// Speed is the initial cap in bytes per second; 0 means no cap.
	Speed int64
	// Delay postpones the start of the transfer, used for retry backoff.
	Delay time.Duration
	// Resume is the progress persisted by earlier runs.
	Resume task.Progress
	// ProgressInterval bounds how often Progress events are emitted.
	ProgressInterval time.Duration
}

// Handle controls a running unit.
type Handle struct {
	ID     uuid.UUID
	TaskID uint32

	cancel  context.CancelFunc
	done    chan struct{}
	limiter *limiter.SpeedLimiter
	state   *hctx.State
}

// Start launches the unit in its own goroutine tracked by wg.
func Start(parent context.Context, wg *sync.WaitGroup, spec Spec, exec Executor, sink Sink) *Handle {
	ctx, cancel := context.WithCancel(parent)
	lim := limiter.New(spec.Speed)
	h := &Handle{
		ID:      uuid.New(),
		TaskID:  spec.TaskID,
		cancel:  cancel,
		done:    make(chan struct{}),
		limiter: lim,
	}
	st := hctx.New(spec.TaskID, lim, spec.Resume)
	lim.Reset(st.Processed())

	every := spec.ProgressInterval
	if every <= 0 {
		every = 500 * time.Millisecond
	}
	gate := rate.NewLimiter(rate.Every(every), 1)
	st.OnProgress = func(s *hctx.State) {
		if gate.Allow() {
			sink.Progress(spec.TaskID, h.ID, s.Snapshot(task.StateRunning))
		}
	}
	st.OnHeaders = func(hdr map[string][]string) { sink.Headers(spec.TaskID, h.ID, hdr) }
	h.state = st

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(h.done)
		defer cancel()
		err := h.run(ctx, spec, exec)
		sink.Done(spec.TaskID, h.ID, st.Snapshot(task.StateRunning), err)
	}()
	return h
}

func (h *Handle) run(ctx context.Context, spec Spec, exec Executor) (err error) {
	if spec.Delay > 0 {
		t := time.NewTimer(spec.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	if exec == nil {
		return ErrNoHandler
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker: handler panic: %v", r)
		}
	}()
	err = exec(hctx.WithState(ctx, h.state), spec.Config)
	if err == nil && ctx.Err() != nil {
		// a handler that swallowed cancellation did not finish the transfer
		return ctx.Err()
	}
	return err
}

// Cancel asks the unit to stop. It returns immediately; Done reports the end.
func (h *Handle) Cancel() { h.cancel() }

// Done is closed after the unit reported its terminal event.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Finished reports whether the unit has ended.
func (h *Handle) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// SetSpeed changes the cap of the running unit.
func (h *Handle) SetSpeed(speed int64) { h.limiter.SetLimit(speed) }

// Speed returns the current cap of the unit.
func (h *Handle) Speed() int64 { return h.limiter.Limit() }

// AddCount records transferred bytes on behalf of the handler.
func (h *Handle) AddCount(n int64) int64 { return h.state.Add(n) }

// Reset restarts the speed measurement window at the current byte count.
func (h *Handle) Reset() { h.limiter.Reset(h.state.Processed()) }

// Progress returns a snapshot of the unit's progress reported as st.
func (h *Handle) Progress(st task.State) task.Progress { return h.state.Snapshot(st) }
