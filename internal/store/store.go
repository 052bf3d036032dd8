// Package store persists task records. Implementations must be safe for
// concurrent readers; the service issues every write from a single goroutine.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/UniQw/transferq/task"
	"github.com/bytedance/sonic"
)

// ErrNotFound is returned when no record exists for a task id.
var ErrNotFound = errors.New("store: task not found")

// ErrDuplicate is returned when inserting a task id that already exists.
var ErrDuplicate = errors.New("store: duplicate task id")

// Record is the persisted form of one task.
type Record struct {
	TaskID   uint32
	UID      uint64
	Bundle   string
	Action   task.Action
	Mode     task.Mode
	Version  task.Version
	Priority uint32
	State    task.State
	Reason   task.Reason
	// Ctime and Mtime are unix milliseconds.
	Ctime    int64
	Mtime    int64
	MaxSpeed int64
	Tries    int
	Config   task.Config
	Progress task.Progress
}

// QosInfo is the subset of a record the scheduler needs.
type QosInfo struct {
	TaskID   uint32
	UID      uint64
	Bundle   string
	Action   task.Action
	Mode     task.Mode
	Version  task.Version
	State    task.State
	Reason   task.Reason
	Priority uint32
	MaxSpeed int64
	Network  task.NetType
	Metered  bool
	Roaming  bool
	Tries    int
	Ctime    int64
}

// Qos returns the scheduling view of the record.
func (r *Record) Qos() *QosInfo {
	return &QosInfo{
		TaskID:   r.TaskID,
		UID:      r.UID,
		Bundle:   r.Bundle,
		Action:   r.Action,
		Mode:     r.Mode,
		Version:  r.Version,
		State:    r.State,
		Reason:   r.Reason,
		Priority: r.Priority,
		MaxSpeed: r.MaxSpeed,
		Network:  r.Config.Network,
		Metered:  r.Config.Metered,
		Roaming:  r.Config.Roaming,
		Tries:    r.Tries,
		Ctime:    r.Ctime,
	}
}

// Info returns the caller-facing view of the record.
func (r *Record) Info() *task.Info {
	return &task.Info{
		TaskID:   r.TaskID,
		UID:      r.UID,
		Bundle:   r.Bundle,
		Action:   r.Action,
		Mode:     r.Mode,
		Version:  r.Version,
		Priority: r.Priority,
		State:    r.State,
		Reason:   r.Reason,
		Ctime:    time.UnixMilli(r.Ctime),
		Mtime:    time.UnixMilli(r.Mtime),
		MaxSpeed: r.MaxSpeed,
		Tries:    r.Tries,
		Config:   r.Config,
		Progress: r.Progress,
	}
}

// Store is the durable task table.
type Store interface {
	// InsertTask persists a new record. It returns ErrDuplicate if the id exists.
	InsertTask(ctx context.Context, r *Record) error
	GetTask(ctx context.Context, id uint32) (*Record, error)
	GetQosInfo(ctx context.Context, id uint32) (*QosInfo, error)
	ContainsTask(ctx context.Context, id uint32) (bool, error)
	// UpdateState writes state, reason and modification time atomically.
	UpdateState(ctx context.Context, id uint32, st task.State, reason task.Reason) error
	UpdateMode(ctx context.Context, id uint32, m task.Mode) error
	UpdateMaxSpeed(ctx context.Context, id uint32, speed int64) error
	UpdateProgress(ctx context.Context, id uint32, p task.Progress) error
	UpdateTries(ctx context.Context, id uint32, tries int) error
	// SearchTask returns the ids of uid's tasks matching f, oldest first.
	SearchTask(ctx context.Context, uid uint64, f task.Filter) ([]uint32, error)
	// AppInfos returns every uid owning at least one task.
	AppInfos(ctx context.Context) ([]uint64, error)
	// LoadActive returns every task in a quota-occupying state.
	LoadActive(ctx context.Context) ([]*QosInfo, error)
	// MaxPriority returns the highest priority ever stored, or 0.
	MaxPriority(ctx context.Context) (uint32, error)
	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)
	// Purge deletes up to limit finished records last modified before the cutoff.
	Purge(ctx context.Context, before time.Time, limit int) (int, error)
	Close() error
}

// matches applies a search filter to already loaded fields.
func matches(f task.Filter, bundle string, st task.State, a task.Action, m task.Mode) bool {
	if f.Bundle != "" && f.Bundle != bundle {
		return false
	}
	if f.State != task.StateAny && f.State != st {
		return false
	}
	if f.Action != task.ActionAny && f.Action != a {
		return false
	}
	if f.Mode != task.ModeAny && f.Mode != m {
		return false
	}
	return true
}

// encodeJSON encodes value using stdlib json.Marshal for lower latency in encoding.
func encodeJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func decodeJSON(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	return sonic.Unmarshal(b, v)
}

func nowMs() int64 { return time.Now().UnixMilli() }
