package runtime

import (
	"context"
	"time"

	"github.com/UniQw/transferq/task"
)

// Sweep asks the loop to run one maintenance pass now.
func (rt *Runtime) Sweep(ctx context.Context) error {
	return rt.submit(ctx, sweepEv{})
}

// handleSweep fails unfinished tasks that outlived the survival period and
// purges old finished records once the table grows past the threshold.
func (rt *Runtime) handleSweep(now time.Time) {
	active, err := rt.st.LoadActive(rt.ctx)
	if err != nil {
		rt.log.Errorf("sweep: load active failed: %v", err)
		return
	}
	expired := 0
	deadline := now.Add(-rt.cfg.Survival).UnixMilli()
	for _, q := range active {
		if q.Ctime >= deadline {
			continue
		}
		p := rt.progressOf(q.TaskID, task.StateFailed)
		rt.release(q.TaskID)
		p.State = task.StateFailed
		if err := rt.st.UpdateState(rt.ctx, q.TaskID, task.StateFailed, task.ReasonTaskSurvivalOneMonth); err != nil {
			rt.log.Errorf("sweep: expire failed: id=%d err=%v", q.TaskID, err)
			continue
		}
		rt.metrics.Transition(task.StateFailed.String())
		if app, ok := rt.apps[q.UID]; ok {
			app.Remove(q.TaskID)
			app.Dec(q.Mode)
			rt.tidy(q.UID)
		}
		rt.emit(task.NotifyFail, q, p, task.ReasonTaskSurvivalOneMonth, nil)
		expired++
	}
	if expired > 0 {
		rt.log.Infof("sweep: expired %d tasks", expired)
		rt.reschedule()
	}

	n, err := rt.st.Count(rt.ctx)
	if err != nil {
		rt.log.Errorf("sweep: count failed: %v", err)
		return
	}
	if n <= int64(rt.cfg.PurgeThreshold) {
		return
	}
	purged, err := rt.st.Purge(rt.ctx, now.Add(-rt.cfg.Retention), rt.cfg.PurgeBatch)
	if err != nil {
		rt.log.Errorf("sweep: purge failed: %v", err)
		return
	}
	rt.metrics.Purged(purged)
	if purged > 0 {
		rt.log.Infof("sweep: purged %d records of %d", purged, n)
	}
}
