// Package task holds the data model shared by the transferq service and its
// callers: task configuration, lifecycle enums, progress and notifications.
package task

import "time"

// FileSpec names one local file taking part in a transfer.
type FileSpec struct {
	// Name is the multipart form field name (upload only).
	Name string `json:"name,omitempty"`
	// Path is the local path the transfer reads from or writes to.
	Path string `json:"path"`
	// FileName is the file name announced to the remote side.
	FileName string `json:"file_name,omitempty"`
	// MimeType is announced for uploads.
	MimeType string `json:"mime_type,omitempty"`
}

// Form is a plain multipart form field sent alongside uploaded files.
type Form struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NotificationConfig customizes the user-visible notification of a task.
type NotificationConfig struct {
	Title   string `json:"title,omitempty"`
	Text    string `json:"text,omitempty"`
	Disable bool   `json:"disable,omitempty"`
}

// Config is the immutable description of a transfer job supplied at creation.
type Config struct {
	Action      Action            `json:"action"`
	Mode        Mode              `json:"mode"`
	Version     Version           `json:"version"`
	Bundle      string            `json:"bundle"`
	URL         string            `json:"url"`
	Method      string            `json:"method,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	Token       string            `json:"token,omitempty"`
	Proxy       string            `json:"proxy,omitempty"`
	Data        string            `json:"data,omitempty"`
	Forms       []Form            `json:"forms,omitempty"`
	Files       []FileSpec        `json:"files,omitempty"`
	// Index selects the file an upload starts with.
	Index uint32 `json:"index,omitempty"`
	// Begins and Ends bound a ranged download; Ends of -1 means to the end.
	Begins int64 `json:"begins,omitempty"`
	Ends   int64 `json:"ends,omitempty"`
	// Network restricts admission to a network type.
	Network      NetType            `json:"network,omitempty"`
	Metered      bool               `json:"metered,omitempty"`
	Roaming      bool               `json:"roaming,omitempty"`
	Retry        bool               `json:"retry,omitempty"`
	Redirect     bool               `json:"redirect,omitempty"`
	Multipart    bool               `json:"multipart,omitempty"`
	Notification NotificationConfig `json:"notification,omitempty"`
	// MaxSpeed caps the transfer in bytes per second; 0 means no cap.
	MaxSpeed int64             `json:"max_speed,omitempty"`
	Extras   map[string]string `json:"extras,omitempty"`
}

// Progress is the persisted transfer progress of a task.
type Progress struct {
	State     State             `json:"state"`
	Index     int               `json:"index"`
	Processed int64             `json:"processed"`
	Sizes     []int64           `json:"sizes,omitempty"`
	Extras    map[string]string `json:"extras,omitempty"`
}

// Info is the read model returned by task lookups.
type Info struct {
	TaskID   uint32    `json:"task_id"`
	UID      uint64    `json:"uid"`
	Bundle   string    `json:"bundle"`
	Action   Action    `json:"action"`
	Mode     Mode      `json:"mode"`
	Version  Version   `json:"version"`
	Priority uint32    `json:"priority"`
	State    State     `json:"state"`
	Reason   Reason    `json:"reason"`
	Ctime    time.Time `json:"ctime"`
	Mtime    time.Time `json:"mtime"`
	MaxSpeed int64     `json:"max_speed"`
	Tries    int       `json:"tries"`
	Config   Config    `json:"config"`
	Progress Progress  `json:"progress"`
}

// Filter narrows task searches. Zero times leave the range open; StateAny,
// ActionAny and ModeAny match everything.
type Filter struct {
	Bundle string
	After  time.Time
	Before time.Time
	State  State
	Action Action
	Mode   Mode
}

// AnyFilter returns a filter matching every task of the caller.
func AnyFilter() Filter {
	return Filter{State: StateAny, Action: ActionAny, Mode: ModeAny}
}

// NetInfo describes an available network.
type NetInfo struct {
	Type    NetType `json:"type"`
	Metered bool    `json:"metered"`
	Roaming bool    `json:"roaming"`
}
