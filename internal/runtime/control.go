package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/UniQw/transferq/internal/notify"
	"github.com/UniQw/transferq/internal/qos"
	"github.com/UniQw/transferq/internal/store"
	"github.com/UniQw/transferq/task"
	"github.com/google/uuid"
)

// Construct creates a task for uid and returns its id.
func (rt *Runtime) Construct(ctx context.Context, uid uint64, cfg task.Config) (uint32, error) {
	reply := make(chan constructReply, 1)
	if err := rt.submit(ctx, constructEv{uid: uid, cfg: cfg, reply: reply}); err != nil {
		return 0, err
	}
	r, err := await(ctx, rt, reply)
	if err != nil {
		return 0, err
	}
	return r.id, r.err
}

// Command applies a state command to the task id owned by uid.
// CmdSetMode and CmdSetMaxSpeed have their own methods.
func (rt *Runtime) Command(ctx context.Context, cmd task.Command, uid uint64, id uint32) error {
	return rt.command(ctx, commandEv{cmd: cmd, uid: uid, id: id})
}

// SetMode moves the task to mode m.
func (rt *Runtime) SetMode(ctx context.Context, uid uint64, id uint32, m task.Mode) error {
	return rt.command(ctx, commandEv{cmd: task.CmdSetMode, uid: uid, id: id, mode: m})
}

// SetMaxSpeed caps the task at speed bytes per second; 0 removes the cap.
func (rt *Runtime) SetMaxSpeed(ctx context.Context, uid uint64, id uint32, speed int64) error {
	return rt.command(ctx, commandEv{cmd: task.CmdSetMaxSpeed, uid: uid, id: id, speed: speed})
}

func (rt *Runtime) command(ctx context.Context, ev commandEv) error {
	ev.reply = make(chan error, 1)
	if err := rt.submit(ctx, ev); err != nil {
		return err
	}
	err, werr := await(ctx, rt, ev.reply)
	if werr != nil {
		return werr
	}
	return err
}

// Search returns the ids of uid's tasks matching f.
func (rt *Runtime) Search(ctx context.Context, uid uint64, f task.Filter) ([]uint32, error) {
	reply := make(chan searchReply, 1)
	if err := rt.submit(ctx, searchEv{uid: uid, filter: f, reply: reply}); err != nil {
		return nil, err
	}
	r, err := await(ctx, rt, reply)
	if err != nil {
		return nil, err
	}
	return r.ids, r.err
}

// GetTask returns the task id owned by uid.
func (rt *Runtime) GetTask(ctx context.Context, uid uint64, id uint32) (*task.Info, error) {
	reply := make(chan getReply, 1)
	if err := rt.submit(ctx, getEv{uid: uid, id: id, reply: reply}); err != nil {
		return nil, err
	}
	r, err := await(ctx, rt, reply)
	if err != nil {
		return nil, err
	}
	return r.info, r.err
}

// Subscribe registers fn for every notification of the task id owned by uid.
func (rt *Runtime) Subscribe(ctx context.Context, uid uint64, id uint32, fn notify.Callback) (uuid.UUID, error) {
	if fn == nil {
		return uuid.Nil, task.ParameterCheck
	}
	reply := make(chan subscribeReply, 1)
	if err := rt.submit(ctx, subscribeEv{uid: uid, id: id, fn: fn, reply: reply}); err != nil {
		return uuid.Nil, err
	}
	r, err := await(ctx, rt, reply)
	if err != nil {
		return uuid.Nil, err
	}
	return r.id, r.err
}

// Unsubscribe removes a subscription created by Subscribe.
func (rt *Runtime) Unsubscribe(ctx context.Context, uid uint64, id uint32, sub uuid.UUID) error {
	reply := make(chan error, 1)
	if err := rt.submit(ctx, unsubscribeEv{uid: uid, id: id, sub: sub, reply: reply}); err != nil {
		return err
	}
	err, werr := await(ctx, rt, reply)
	if werr != nil {
		return werr
	}
	return err
}

// Stats reports loop state; quota counters are those of uid.
func (rt *Runtime) Stats(ctx context.Context, uid uint64) (Stats, error) {
	reply := make(chan Stats, 1)
	if err := rt.submit(ctx, statsEv{uid: uid, reply: reply}); err != nil {
		return Stats{}, err
	}
	return await(ctx, rt, reply)
}

func (rt *Runtime) handleConstruct(uid uint64, cfg task.Config) (uint32, error) {
	if err := rt.cfg.Verifier.Verify(&cfg); err != nil {
		return 0, task.CodeOf(err).AsError()
	}
	if cfg.Version == 0 {
		cfg.Version = task.API10
	}
	app := rt.app(uid)
	if app.Count(cfg.Mode) >= rt.limit(cfg.Mode) {
		rt.tidy(uid)
		rt.log.Warnf("construct rejected, quota full: uid=%d mode=%s", uid, cfg.Mode)
		return 0, task.TaskEnqueueErr
	}
	id, err := rt.newTaskID()
	if err != nil {
		rt.tidy(uid)
		rt.log.Errorf("construct: allocate id failed: uid=%d err=%v", uid, err)
		return 0, task.Other
	}
	now := time.Now().UnixMilli()
	sizes := make([]int64, len(cfg.Files))
	for i := range sizes {
		sizes[i] = -1
	}
	rec := &store.Record{
		TaskID:   id,
		UID:      uid,
		Bundle:   cfg.Bundle,
		Action:   cfg.Action,
		Mode:     cfg.Mode,
		Version:  cfg.Version,
		Priority: rt.seq + 1,
		State:    task.StateInitialized,
		Reason:   task.ReasonDefault,
		Ctime:    now,
		Mtime:    now,
		MaxSpeed: cfg.MaxSpeed,
		Config:   cfg,
		Progress: task.Progress{State: task.StateInitialized, Index: int(cfg.Index), Sizes: sizes},
	}
	if err := rt.st.InsertTask(rt.ctx, rec); err != nil {
		rt.tidy(uid)
		rt.log.Errorf("construct: insert failed: uid=%d id=%d err=%v", uid, id, err)
		return 0, task.Other
	}
	rt.seq++
	app.Inc(cfg.Mode)
	rt.metrics.Transition(task.StateInitialized.String())
	rt.log.Debugf("task constructed: uid=%d id=%d action=%s mode=%s", uid, id, cfg.Action, cfg.Mode)
	return id, nil
}

// newTaskID draws random ids until one is free.
func (rt *Runtime) newTaskID() (uint32, error) {
	for i := 0; i < 16; i++ {
		id := rt.rng.Uint32()
		if id == 0 {
			continue
		}
		ok, err := rt.st.ContainsTask(rt.ctx, id)
		if err != nil {
			return 0, err
		}
		if !ok {
			return id, nil
		}
	}
	return 0, errors.New("runtime: no free task id")
}

// lookup returns the task id if uid owns it.
func (rt *Runtime) lookup(uid uint64, id uint32) (*store.QosInfo, error) {
	q, err := rt.st.GetQosInfo(rt.ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, task.TaskNotFound
	}
	if err != nil {
		rt.log.Errorf("lookup task failed: id=%d err=%v", id, err)
		return nil, task.Other
	}
	if q.UID != uid {
		return nil, task.TaskNotFound
	}
	return q, nil
}

func (rt *Runtime) handleCommand(ev commandEv) error {
	switch ev.cmd {
	case task.CmdSetMode:
		if ev.mode != task.ModeFrontEnd && ev.mode != task.ModeBackGround {
			return task.ParameterCheck
		}
	case task.CmdSetMaxSpeed:
		if ev.speed < 0 {
			return task.ParameterCheck
		}
	}
	q, err := rt.lookup(ev.uid, ev.id)
	if err != nil {
		return err
	}
	next, ok := task.Transition(ev.cmd, q.State, q.Action)
	if !ok {
		return task.TaskStateErr
	}
	switch ev.cmd {
	case task.CmdSetMode:
		return rt.setMode(q, ev.mode)
	case task.CmdSetMaxSpeed:
		return rt.setMaxSpeed(q, ev.speed)
	}

	from := q.State
	app := rt.app(q.UID)
	entering := next.Counted() && !from.Counted()
	if entering && app.Count(q.Mode) >= rt.limit(q.Mode) {
		rt.tidy(q.UID)
		return task.TaskEnqueueErr
	}
	reason := task.ReasonUserOperation
	if next == task.StateWaiting {
		reason = task.ReasonDefault
	}
	// progress must be taken before the unit is released
	p := rt.progressOf(q.TaskID, next)
	if err := rt.st.UpdateState(rt.ctx, q.TaskID, next, reason); err != nil {
		rt.tidy(q.UID)
		rt.log.Errorf("%s: persist failed: id=%d err=%v", ev.cmd, q.TaskID, err)
		return task.Other
	}
	rt.metrics.Transition(next.String())
	switch {
	case entering:
		app.Inc(q.Mode)
	case from.Counted() && !next.Counted():
		app.Dec(q.Mode)
	}
	if next.Schedulable() {
		if app.Get(q.TaskID) == nil {
			q.State = next
			app.Insert(entryOf(q))
		}
	} else {
		rt.release(q.TaskID)
		app.Remove(q.TaskID)
	}
	rt.tidy(q.UID)
	rt.log.Debugf("task %s: id=%d %s -> %s", ev.cmd, q.TaskID, from, next)

	p.State = next
	switch ev.cmd {
	case task.CmdPause:
		rt.emit(task.NotifyPause, q, p, reason, nil)
	case task.CmdResume:
		rt.emit(task.NotifyResume, q, p, reason, nil)
	case task.CmdRemove:
		rt.emit(task.NotifyRemove, q, p, reason, nil)
		rt.hub.Drop(q.TaskID)
	}
	rt.reschedule()
	return nil
}

func (rt *Runtime) setMode(q *store.QosInfo, m task.Mode) error {
	if q.Mode == m {
		return nil
	}
	app := rt.app(q.UID)
	if q.State.Counted() && app.Count(m) >= rt.limit(m) {
		rt.tidy(q.UID)
		return task.TaskEnqueueErr
	}
	if err := rt.st.UpdateMode(rt.ctx, q.TaskID, m); err != nil {
		rt.tidy(q.UID)
		rt.log.Errorf("set mode: persist failed: id=%d err=%v", q.TaskID, err)
		return task.Other
	}
	if q.State.Counted() {
		app.Dec(q.Mode)
		app.Inc(m)
	}
	if e := app.Get(q.TaskID); e != nil {
		// re-insert so the entry moves to its new mode ranking
		app.Remove(q.TaskID)
		e.Mode = m
		app.Insert(e)
	}
	if u, ok := rt.running[q.TaskID]; ok {
		u.rec.Mode = m
	}
	rt.tidy(q.UID)
	rt.reschedule()
	return nil
}

func (rt *Runtime) setMaxSpeed(q *store.QosInfo, speed int64) error {
	if err := rt.st.UpdateMaxSpeed(rt.ctx, q.TaskID, speed); err != nil {
		rt.log.Errorf("set max speed: persist failed: id=%d err=%v", q.TaskID, err)
		return task.Other
	}
	if app, ok := rt.apps[q.UID]; ok {
		if e := app.Get(q.TaskID); e != nil {
			e.MaxSpeed = speed
		}
	}
	if u, ok := rt.running[q.TaskID]; ok {
		u.rec.MaxSpeed = speed
	}
	rt.reschedule()
	return nil
}

// progressOf returns the freshest known progress of id.
func (rt *Runtime) progressOf(id uint32, st task.State) task.Progress {
	if u, ok := rt.running[id]; ok {
		return u.h.Progress(st)
	}
	rec, err := rt.st.GetTask(rt.ctx, id)
	if err != nil {
		return task.Progress{State: st}
	}
	return rec.Progress
}

func (rt *Runtime) handleSearch(uid uint64, f task.Filter) ([]uint32, error) {
	ids, err := rt.st.SearchTask(rt.ctx, uid, f)
	if err != nil {
		rt.log.Errorf("search failed: uid=%d err=%v", uid, err)
		return nil, task.Other
	}
	return ids, nil
}

func (rt *Runtime) handleGet(uid uint64, id uint32) (*task.Info, error) {
	rec, err := rt.st.GetTask(rt.ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, task.TaskNotFound
	}
	if err != nil {
		rt.log.Errorf("get task failed: id=%d err=%v", id, err)
		return nil, task.Other
	}
	if rec.UID != uid {
		return nil, task.TaskNotFound
	}
	if u, ok := rt.running[id]; ok {
		rec.Progress = u.h.Progress(rec.State)
	}
	return rec.Info(), nil
}

func (rt *Runtime) handleSubscribe(uid uint64, id uint32, fn notify.Callback) (uuid.UUID, error) {
	q, err := rt.lookup(uid, id)
	if err != nil {
		return uuid.Nil, err
	}
	if q.State == task.StateRemoved {
		return uuid.Nil, task.TaskStateErr
	}
	return rt.hub.Subscribe(id, fn), nil
}

func (rt *Runtime) handleUnsubscribe(uid uint64, id uint32, sub uuid.UUID) error {
	if _, err := rt.lookup(uid, id); err != nil {
		return err
	}
	rt.hub.Unsubscribe(id, sub)
	return nil
}

func (rt *Runtime) stats(uid uint64) Stats {
	s := Stats{
		Pressure: rt.pressure,
		Admitted: rt.sched.Len(),
		Running:  len(rt.running),
		Draining: len(rt.draining),
		Apps:     len(rt.apps),
		Levels:   levelNames(rt.sched.LevelCounts()),
	}
	if app, ok := rt.apps[uid]; ok {
		s.Frontend = app.Count(task.ModeFrontEnd)
		s.Background = app.Count(task.ModeBackGround)
	}
	return s
}

func levelNames(m map[qos.Level]int) map[string]int {
	out := make(map[string]int, len(m))
	for l, n := range m {
		out[l.String()] = n
	}
	return out
}
