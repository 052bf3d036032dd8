package task

import (
	"errors"
	"strings"
)

// ErrUnknownValue is returned when a textual enum value cannot be parsed.
var ErrUnknownValue = errors.New("task: unknown value")

// State is the lifecycle state of a task. The numeric values are persisted
// and must never change.
type State uint8

const (
	// StateInitialized is a freshly constructed task that was never started.
	StateInitialized State = 0x00
	// StateWaiting is a started task waiting for admission by the scheduler.
	StateWaiting State = 0x10
	// StateRunning is an admitted task with a live transfer unit.
	StateRunning State = 0x20
	// StateRetrying is an admitted task re-running after a retryable fault.
	StateRetrying State = 0x21
	// StatePaused is a task paused by its owner.
	StatePaused State = 0x30
	// StateStopped is a task stopped by its owner.
	StateStopped State = 0x31
	// StateCompleted is a task whose transfer finished successfully.
	StateCompleted State = 0x40
	// StateFailed is a task whose transfer failed permanently.
	StateFailed State = 0x41
	// StateRemoved is a task removed by its owner. Terminal.
	StateRemoved State = 0x50
	// StateAny matches every state in a search filter. It is never stored.
	StateAny State = 0x61
)

// AllStates lists every storable state in a stable order.
var AllStates = []State{
	StateInitialized, StateWaiting, StateRunning, StateRetrying,
	StatePaused, StateStopped, StateCompleted, StateFailed, StateRemoved,
}

var stateNames = map[State]string{
	StateInitialized: "initialized",
	StateWaiting:     "waiting",
	StateRunning:     "running",
	StateRetrying:    "retrying",
	StatePaused:      "paused",
	StateStopped:     "stopped",
	StateCompleted:   "completed",
	StateFailed:      "failed",
	StateRemoved:     "removed",
	StateAny:         "any",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Counted reports whether a task in this state occupies per-app quota.
func (s State) Counted() bool {
	switch s {
	case StateInitialized, StateWaiting, StateRunning, StateRetrying:
		return true
	}
	return false
}

// Schedulable reports whether a task in this state is visible to the scheduler.
func (s State) Schedulable() bool {
	switch s {
	case StateWaiting, StateRunning, StateRetrying:
		return true
	}
	return false
}

// Terminal reports whether the task will never run again without an owner command.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateRemoved:
		return true
	}
	return false
}

// ParseState converts a name such as "running" into a State.
func ParseState(s string) (State, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for st, n := range stateNames {
		if n == s {
			return st, nil
		}
	}
	return 0, ErrUnknownValue
}

// Action is the transfer direction.
type Action uint8

const (
	ActionDownload Action = 0
	ActionUpload   Action = 1
	// ActionAny matches both directions in a search filter.
	ActionAny Action = 2
)

func (a Action) String() string {
	switch a {
	case ActionDownload:
		return "download"
	case ActionUpload:
		return "upload"
	case ActionAny:
		return "any"
	}
	return "unknown"
}

// ParseAction converts "download", "upload" or "any" into an Action.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "download":
		return ActionDownload, nil
	case "upload":
		return ActionUpload, nil
	case "any":
		return ActionAny, nil
	}
	return 0, ErrUnknownValue
}

// Mode decides the scheduling class of a task.
type Mode uint8

const (
	ModeBackGround Mode = 0
	ModeFrontEnd   Mode = 1
	// ModeAny matches both modes in a search filter.
	ModeAny Mode = 2
)

func (m Mode) String() string {
	switch m {
	case ModeBackGround:
		return "background"
	case ModeFrontEnd:
		return "frontend"
	case ModeAny:
		return "any"
	}
	return "unknown"
}

// ParseMode converts "background", "frontend" or "any" into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "background":
		return ModeBackGround, nil
	case "frontend":
		return ModeFrontEnd, nil
	case "any":
		return ModeAny, nil
	}
	return 0, ErrUnknownValue
}

// Version is the client API generation that created the task.
type Version uint8

const (
	API9  Version = 1
	API10 Version = 2
)

// NetType is a network requirement or a network classification.
type NetType uint8

const (
	NetAny      NetType = 0
	NetWifi     NetType = 1
	NetCellular NetType = 2
)

func (n NetType) String() string {
	switch n {
	case NetAny:
		return "any"
	case NetWifi:
		return "wifi"
	case NetCellular:
		return "cellular"
	}
	return "unknown"
}

// AppState is the foreground classification of an application.
type AppState uint8

const (
	AppBackground AppState = 0
	AppForeground AppState = 1
	AppTerminated AppState = 2
)

func (a AppState) String() string {
	switch a {
	case AppBackground:
		return "background"
	case AppForeground:
		return "foreground"
	case AppTerminated:
		return "terminated"
	}
	return "unknown"
}
