package transferq

import (
	rtm "github.com/UniQw/transferq/internal/runtime"
	"github.com/UniQw/transferq/task"
)

// ErrNotRunning is returned by client calls made while the server is stopped.
var ErrNotRunning = rtm.ErrStopped

// CodeOf returns the service error code carried by err: ErrOk for nil and
// Other for errors that carry no code.
func CodeOf(err error) task.Code { return task.CodeOf(err) }
