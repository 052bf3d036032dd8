package runtime

import (
	"errors"
	"time"

	"github.com/UniQw/transferq/internal/qos"
	"github.com/UniQw/transferq/internal/store"
	"github.com/UniQw/transferq/internal/worker"
	"github.com/UniQw/transferq/task"
	"github.com/google/uuid"
)

// reschedule runs one scheduler pass and applies its changes. Evictions come
// first so freed slots are visible to the starts of the same pass.
func (rt *Runtime) reschedule() {
	changes := rt.sched.Reschedule(qos.Input{
		Apps:       rt.apps,
		Capacity:   rt.capacity,
		Occupied:   len(rt.draining),
		Eligible:   rt.eligible,
		Foreground: rt.foreground,
	})
	for _, ch := range changes {
		switch ch.Kind {
		case qos.Evict:
			rt.evict(ch)
		case qos.Respeed:
			if u, ok := rt.running[ch.TaskID]; ok {
				u.h.SetSpeed(ch.Speed)
			}
		case qos.Start:
			rt.launch(ch)
		}
	}
	rt.metrics.Pass(levelNames(rt.sched.LevelCounts()))
}

func (rt *Runtime) entry(uid uint64, id uint32) *qos.Entry {
	if app, ok := rt.apps[uid]; ok {
		return app.Get(id)
	}
	return nil
}

// release cancels the unit of id, if any, and parks it as draining until it reports back.
func (rt *Runtime) release(id uint32) {
	if u, ok := rt.running[id]; ok {
		u.h.Cancel()
		delete(rt.running, id)
		rt.draining[u.h.ID] = id
		rt.drained[id]++
	}
	rt.sched.Forget(id)
}

func (rt *Runtime) evict(ch qos.Change) {
	rt.release(ch.TaskID)
	rt.metrics.Evicted(ch.Reason.String())
	e := rt.entry(ch.UID, ch.TaskID)
	if e == nil || e.State == task.StateWaiting {
		return
	}
	if err := rt.st.UpdateState(rt.ctx, ch.TaskID, task.StateWaiting, ch.Reason); err != nil {
		rt.log.Errorf("evict: persist failed: id=%d err=%v", ch.TaskID, err)
		return
	}
	e.State = task.StateWaiting
	rt.metrics.Transition(task.StateWaiting.String())
	rt.log.Debugf("task evicted: id=%d reason=%s", ch.TaskID, ch.Reason)
}

func (rt *Runtime) launch(ch qos.Change) {
	e := rt.entry(ch.UID, ch.TaskID)
	if e == nil {
		rt.sched.Forget(ch.TaskID)
		return
	}
	if rt.drained[ch.TaskID] > 0 {
		// the previous run still holds the id; the drain reschedules
		rt.sched.Forget(ch.TaskID)
		rt.log.Debugf("launch deferred: id=%d previous run draining", ch.TaskID)
		return
	}
	rec, err := rt.st.GetTask(rt.ctx, ch.TaskID)
	if err != nil {
		rt.sched.Forget(ch.TaskID)
		rt.log.Errorf("launch: load failed: id=%d err=%v", ch.TaskID, err)
		return
	}
	if e.State == task.StateWaiting {
		if err := rt.st.UpdateState(rt.ctx, ch.TaskID, task.StateRunning, task.ReasonDefault); err != nil {
			rt.sched.Forget(ch.TaskID)
			rt.log.Errorf("launch: persist failed: id=%d err=%v", ch.TaskID, err)
			return
		}
		e.State = task.StateRunning
		rec.State = task.StateRunning
		rt.metrics.Transition(task.StateRunning.String())
	}
	rt.startUnit(rec, ch.Speed, 0)
	rt.log.Debugf("task started: id=%d level=%s speed=%d", ch.TaskID, ch.Level, ch.Speed)
}

func (rt *Runtime) startUnit(rec *store.Record, speed int64, delay time.Duration) {
	h := worker.Start(rt.ctx, &rt.units, worker.Spec{
		TaskID:           rec.TaskID,
		Config:           &rec.Config,
		Speed:            speed,
		Delay:            delay,
		Resume:           rec.Progress,
		ProgressInterval: rt.cfg.ProgressInterval,
	}, rt.exec, sink{rt})
	rt.running[rec.TaskID] = &unit{h: h, rec: rec}
}

// current returns the unit of id if run is its live run.
func (rt *Runtime) current(id uint32, run uuid.UUID) (*unit, bool) {
	u, ok := rt.running[id]
	if !ok || u.h.ID != run {
		return nil, false
	}
	return u, true
}

func (rt *Runtime) handleProgress(ev progressEv) {
	u, ok := rt.current(ev.id, ev.run)
	if !ok {
		return
	}
	u.rec.Progress = ev.p
	if err := rt.st.UpdateProgress(rt.ctx, ev.id, ev.p); err != nil {
		rt.log.Warnf("persist progress failed: id=%d err=%v", ev.id, err)
	}
	rt.emit(task.NotifyProgress, u.rec.Qos(), ev.p, task.ReasonDefault, nil)
}

func (rt *Runtime) handleHeaders(ev headersEv) {
	u, ok := rt.current(ev.id, ev.run)
	if !ok {
		return
	}
	rt.emit(task.NotifyHeaderReceive, u.rec.Qos(), u.rec.Progress, task.ReasonDefault, ev.h)
}

func (rt *Runtime) handleDone(ev doneEv) {
	if id, ok := rt.draining[ev.run]; ok {
		// a cancelled unit freed its slot; keep its offset for the next run
		delete(rt.draining, ev.run)
		if rt.drained[id]--; rt.drained[id] <= 0 {
			delete(rt.drained, id)
		}
		rt.persistDrained(id, ev.p)
		rt.reschedule()
		return
	}
	u, ok := rt.current(ev.id, ev.run)
	if !ok {
		return
	}
	delete(rt.running, ev.id)
	q := u.rec.Qos()

	if ev.err == nil {
		rt.finish(q, task.StateCompleted, task.ReasonDefault, ev.p)
		rt.metrics.Transfer("completed")
		rt.reschedule()
		return
	}

	reason, retryable := worker.Classify(ev.err)
	e := rt.entry(q.UID, q.TaskID)
	if retryable && u.rec.Config.Retry && e != nil && e.Tries < rt.cfg.MaxRetry {
		tries := e.Tries + 1
		ev.p.State = task.StateRetrying
		if err := rt.persistRetry(q.TaskID, tries, reason, ev.p); err != nil {
			rt.log.Errorf("retry: persist failed: id=%d err=%v", q.TaskID, err)
			rt.sched.Forget(q.TaskID)
			rt.reschedule()
			return
		}
		e.Tries = tries
		e.State = task.StateRetrying
		u.rec.Tries = tries
		u.rec.State = task.StateRetrying
		u.rec.Reason = reason
		u.rec.Progress = ev.p
		rt.metrics.Transition(task.StateRetrying.String())
		rt.metrics.Transfer("retried")
		rt.emit(task.NotifyFaultOccur, q, ev.p, reason, nil)
		speed := int64(0)
		if a, ok := rt.sched.Admitted(q.TaskID); ok {
			speed = a.Speed
		}
		delay := rt.backoff(tries)
		rt.log.Infof("task retrying: id=%d tries=%d delay=%s reason=%s err=%v", q.TaskID, tries, delay, reason, ev.err)
		rt.startUnit(u.rec, speed, delay)
		return
	}

	rt.log.Warnf("task failed: id=%d reason=%s err=%v", q.TaskID, reason, ev.err)
	rt.finish(q, task.StateFailed, reason, ev.p)
	rt.metrics.Transfer("failed")
	rt.reschedule()
}

// persistDrained stores the offset a cancelled unit reached, tagged with the
// state the task was moved to. Finished tasks keep their final progress.
func (rt *Runtime) persistDrained(id uint32, p task.Progress) {
	q, err := rt.st.GetQosInfo(rt.ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			rt.log.Warnf("drain: load failed: id=%d err=%v", id, err)
		}
		return
	}
	if q.State.Terminal() {
		return
	}
	p.State = q.State
	if err := rt.st.UpdateProgress(rt.ctx, id, p); err != nil {
		rt.log.Warnf("persist progress failed: id=%d err=%v", id, err)
	}
}

func (rt *Runtime) persistRetry(id uint32, tries int, reason task.Reason, p task.Progress) error {
	if err := rt.st.UpdateTries(rt.ctx, id, tries); err != nil {
		return err
	}
	if err := rt.st.UpdateProgress(rt.ctx, id, p); err != nil {
		return err
	}
	return rt.st.UpdateState(rt.ctx, id, task.StateRetrying, reason)
}

// backoff is 1s shifted left by tries, capped by RetryBackoffMax.
func (rt *Runtime) backoff(tries int) time.Duration {
	if tries > 16 {
		return rt.cfg.RetryBackoffMax
	}
	d := time.Second << uint(tries)
	if d > rt.cfg.RetryBackoffMax {
		d = rt.cfg.RetryBackoffMax
	}
	return d
}

// finish moves an admitted task into a terminal state and frees its quota.
func (rt *Runtime) finish(q *store.QosInfo, st task.State, reason task.Reason, p task.Progress) {
	p.State = st
	if err := rt.st.UpdateProgress(rt.ctx, q.TaskID, p); err != nil {
		rt.log.Warnf("persist progress failed: id=%d err=%v", q.TaskID, err)
	}
	rt.sched.Forget(q.TaskID)
	if err := rt.st.UpdateState(rt.ctx, q.TaskID, st, reason); err != nil {
		// the entry stays schedulable and runs again
		rt.log.Errorf("finish: persist failed: id=%d state=%s err=%v", q.TaskID, st, err)
		return
	}
	rt.metrics.Transition(st.String())
	if app, ok := rt.apps[q.UID]; ok {
		if app.Remove(q.TaskID) {
			app.Dec(q.Mode)
		}
		rt.tidy(q.UID)
	}
	switch st {
	case task.StateCompleted:
		rt.emit(task.NotifyComplete, q, p, reason, nil)
	case task.StateFailed:
		rt.emit(task.NotifyFail, q, p, reason, nil)
		rt.emit(task.NotifyFaultOccur, q, p, reason, nil)
	}
}
