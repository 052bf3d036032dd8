package qos

import (
	"sort"

	"github.com/UniQw/transferq/task"
)

// Entry is the scheduling view of one waiting or admitted task.
type Entry struct {
	TaskID   uint32
	UID      uint64
	Action   task.Action
	Mode     task.Mode
	Priority uint32
	State    task.State
	MaxSpeed int64
	Network  task.NetType
	Metered  bool
	Roaming  bool
	Tries    int
}

// before orders FrontEnd ahead of BackGround, then lower priority first.
func (e *Entry) before(o *Entry) bool {
	if e.Mode != o.Mode {
		return e.Mode == task.ModeFrontEnd
	}
	return e.Priority < o.Priority
}

// App aggregates the schedulable tasks of one uid together with the per-mode
// count of its quota-occupying tasks.
type App struct {
	UID     uint64
	entries []*Entry
	counts  [2]int
}

// NewApp creates an empty App.
func NewApp(uid uint64) *App { return &App{UID: uid} }

// Insert places e at its ranked position; equal keys keep insertion order.
func (a *App) Insert(e *Entry) {
	i := sort.Search(len(a.entries), func(i int) bool { return e.before(a.entries[i]) })
	a.entries = append(a.entries, nil)
	copy(a.entries[i+1:], a.entries[i:])
	a.entries[i] = e
}

// Remove drops the entry with the given id. It reports false if absent.
func (a *App) Remove(id uint32) bool {
	for i, e := range a.entries {
		if e.TaskID == id {
			a.entries = append(a.entries[:i], a.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the entry with the given id or nil.
func (a *App) Get(id uint32) *Entry {
	for _, e := range a.entries {
		if e.TaskID == id {
			return e
		}
	}
	return nil
}

// Entries returns the ranked entries. The slice must not be modified.
func (a *App) Entries() []*Entry { return a.entries }

// Len is the number of schedulable entries.
func (a *App) Len() int { return len(a.entries) }

// Count is the number of quota-occupying tasks of mode m.
func (a *App) Count(m task.Mode) int {
	if m > task.ModeFrontEnd {
		return 0
	}
	return a.counts[m]
}

// Inc records one more quota-occupying task of mode m.
func (a *App) Inc(m task.Mode) {
	if m <= task.ModeFrontEnd {
		a.counts[m]++
	}
}

// Dec records one less quota-occupying task of mode m. It never goes below zero.
func (a *App) Dec(m task.Mode) {
	if m <= task.ModeFrontEnd && a.counts[m] > 0 {
		a.counts[m]--
	}
}

// Empty reports whether the app holds no entries and no counted tasks.
func (a *App) Empty() bool {
	return len(a.entries) == 0 && a.counts[0] == 0 && a.counts[1] == 0
}
