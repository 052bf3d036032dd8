package task

import "time"

// NotifyKind identifies a task notification.
type NotifyKind uint8

const (
	NotifyComplete NotifyKind = iota
	NotifyFail
	NotifyPause
	NotifyResume
	NotifyRemove
	NotifyProgress
	NotifyHeaderReceive
	NotifyFaultOccur
)

var notifyNames = [...]string{
	"complete", "fail", "pause", "resume", "remove", "progress", "header_receive", "fault_occur",
}

func (k NotifyKind) String() string {
	if int(k) < len(notifyNames) {
		return notifyNames[k]
	}
	return "unknown"
}

// Notification is emitted to subscribers when a task changes observably.
type Notification struct {
	Kind     NotifyKind          `json:"kind"`
	TaskID   uint32              `json:"task_id"`
	UID      uint64              `json:"uid"`
	Bundle   string              `json:"bundle,omitempty"`
	Action   Action              `json:"action"`
	Version  Version             `json:"version"`
	Progress Progress            `json:"progress"`
	Reason   Reason              `json:"reason,omitempty"`
	Headers  map[string][]string `json:"headers,omitempty"`
	At       time.Time           `json:"at"`
}
