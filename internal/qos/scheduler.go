package qos

import (
	"sort"

	"github.com/UniQw/transferq/task"
)

// ChangeKind is the kind of a scheduling delta.
type ChangeKind uint8

const (
	// Start admits a task that was not running.
	Start ChangeKind = iota
	// Respeed changes the speed of a task that keeps running.
	Respeed
	// Evict takes a running task back to waiting.
	Evict
)

func (k ChangeKind) String() string {
	switch k {
	case Start:
		return "start"
	case Respeed:
		return "respeed"
	case Evict:
		return "evict"
	}
	return "unknown"
}

// Change is one element of the delta produced by a scheduling pass.
type Change struct {
	Kind   ChangeKind
	TaskID uint32
	UID    uint64
	Level  Level
	// Speed is the effective cap in bytes per second; 0 means no cap.
	Speed int64
	// Reason is set for evictions.
	Reason task.Reason
}

// Assignment is the admission of one task.
type Assignment struct {
	UID   uint64
	Level Level
	Speed int64
}

// Input is everything a scheduling pass looks at.
type Input struct {
	Apps     map[uint64]*App
	Capacity Capacity
	// Occupied is the number of slots held by units that were told to stop
	// but have not reported back yet.
	Occupied int
	// Eligible reports whether an entry may run right now and, if not, why.
	// A nil Eligible admits everything.
	Eligible func(*Entry) (bool, task.Reason)
	// Foreground reports whether the app owning uid is in the foreground.
	Foreground func(uid uint64) bool
}

// Scheduler turns the ranked apps into a set of admitted tasks and reports the
// difference to the previous pass. It is not safe for concurrent use.
type Scheduler struct {
	prev map[uint32]Assignment
}

// NewScheduler creates a Scheduler with nothing admitted.
func NewScheduler() *Scheduler {
	return &Scheduler{prev: make(map[uint32]Assignment)}
}

// Forget drops a task from the admitted set without emitting an eviction.
// Callers use it when they stopped the task themselves.
func (s *Scheduler) Forget(id uint32) { delete(s.prev, id) }

// Admitted returns the current assignment of a task.
func (s *Scheduler) Admitted(id uint32) (Assignment, bool) {
	a, ok := s.prev[id]
	return a, ok
}

// Len is the number of admitted tasks.
func (s *Scheduler) Len() int { return len(s.prev) }

// LevelCounts returns the number of admitted tasks per speed tier.
func (s *Scheduler) LevelCounts() map[Level]int {
	out := map[Level]int{High: 0, Middle: 0, Low: 0}
	for _, a := range s.prev {
		out[a.Level]++
	}
	return out
}

type slot struct {
	e     *Entry
	level Level
	speed int64
}

// Reschedule recomputes admissions and returns evictions, speed changes and
// starts, in that order. Running it twice on unchanged input yields no changes
// the second time.
func (s *Scheduler) Reschedule(in Input) []Change {
	ordered, ineligible, present := order(in)

	desired := make([]slot, 0, in.Capacity.Total())
	want := make(map[uint32]struct{}, in.Capacity.Total())
	for pos, e := range ordered {
		lvl, ok := in.Capacity.tier(pos)
		if !ok {
			break
		}
		desired = append(desired, slot{e: e, level: lvl, speed: effectiveSpeed(lvl, e.MaxSpeed)})
		want[e.TaskID] = struct{}{}
	}

	var evicts, respeeds, starts []Change
	for id, a := range s.prev {
		if _, ok := want[id]; ok {
			continue
		}
		reason := task.ReasonRunningTaskMeetLimits
		if r, ok := ineligible[id]; ok {
			reason = r
		} else if !present[id] {
			reason = task.ReasonDefault
		}
		evicts = append(evicts, Change{Kind: Evict, TaskID: id, UID: a.UID, Level: a.Level, Speed: a.Speed, Reason: reason})
	}
	sort.Slice(evicts, func(i, j int) bool { return evicts[i].TaskID < evicts[j].TaskID })

	next := make(map[uint32]Assignment, len(desired))
	retained := 0
	for _, d := range desired {
		old, ok := s.prev[d.e.TaskID]
		if !ok {
			continue
		}
		retained++
		next[d.e.TaskID] = Assignment{UID: d.e.UID, Level: d.level, Speed: d.speed}
		if old.Level != d.level || old.Speed != d.speed {
			respeeds = append(respeeds, Change{Kind: Respeed, TaskID: d.e.TaskID, UID: d.e.UID, Level: d.level, Speed: d.speed})
		}
	}

	// evicted units keep their slots until they report back
	budget := in.Capacity.Total() - retained - in.Occupied - len(evicts)
	for _, d := range desired {
		if _, ok := s.prev[d.e.TaskID]; ok {
			continue
		}
		if budget <= 0 {
			break
		}
		budget--
		next[d.e.TaskID] = Assignment{UID: d.e.UID, Level: d.level, Speed: d.speed}
		starts = append(starts, Change{Kind: Start, TaskID: d.e.TaskID, UID: d.e.UID, Level: d.level, Speed: d.speed})
	}
	s.prev = next

	out := make([]Change, 0, len(evicts)+len(respeeds)+len(starts))
	out = append(out, evicts...)
	out = append(out, respeeds...)
	return append(out, starts...)
}

// order lists eligible entries in admission order: FrontEnd before BackGround,
// foreground apps before the rest, and apps of the same group interleaved by
// rank so that no app starves another at equal priority.
func order(in Input) ([]*Entry, map[uint32]task.Reason, map[uint32]bool) {
	uids := make([]uint64, 0, len(in.Apps))
	for uid := range in.Apps {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	ineligible := make(map[uint32]task.Reason)
	present := make(map[uint32]bool)
	var out []*Entry
	for _, mode := range []task.Mode{task.ModeFrontEnd, task.ModeBackGround} {
		for _, fg := range []bool{true, false} {
			var lists [][]*Entry
			for _, uid := range uids {
				if isFg := in.Foreground != nil && in.Foreground(uid); isFg != fg {
					continue
				}
				var l []*Entry
				for _, e := range in.Apps[uid].Entries() {
					if e.Mode != mode {
						continue
					}
					present[e.TaskID] = true
					if in.Eligible != nil {
						if ok, r := in.Eligible(e); !ok {
							ineligible[e.TaskID] = r
							continue
						}
					}
					l = append(l, e)
				}
				if len(l) > 0 {
					lists = append(lists, l)
				}
			}
			for r := 0; ; r++ {
				var row []*Entry
				for _, l := range lists {
					if r < len(l) {
						row = append(row, l[r])
					}
				}
				if len(row) == 0 {
					break
				}
				sort.SliceStable(row, func(i, j int) bool {
					if row[i].Priority != row[j].Priority {
						return row[i].Priority < row[j].Priority
					}
					return row[i].UID < row[j].UID
				})
				out = append(out, row...)
			}
		}
	}
	return out, ineligible, present
}

// effectiveSpeed combines a tier cap with a per-task cap; 0 means unlimited
// on either side.
func effectiveSpeed(l Level, maxSpeed int64) int64 {
	tier := l.Speed()
	switch {
	case tier == 0:
		return maxSpeed
	case maxSpeed <= 0:
		return tier
	case maxSpeed < tier:
		return maxSpeed
	}
	return tier
}
