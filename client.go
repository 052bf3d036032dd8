package transferq

import (
	"context"

	rtm "github.com/UniQw/transferq/internal/runtime"
	"github.com/UniQw/transferq/task"
	"github.com/google/uuid"
)

// Client is the control surface of a Server. Every call is one task manager
// event; errors are task.Code values, or ErrNotRunning and context errors.
type Client struct {
	rt *rtm.Runtime
}

// Stats describes the scheduler and the quota usage of one app.
type Stats = rtm.Stats

// Construct validates cfg and creates a task owned by uid in state Initialized.
// It returns TaskEnqueueErr when uid already has the maximum of unfinished
// tasks in cfg.Mode.
func (c *Client) Construct(ctx context.Context, uid uint64, cfg task.Config) (uint32, error) {
	return c.rt.Construct(ctx, uid, cfg)
}

// Start queues the task for admission.
func (c *Client) Start(ctx context.Context, uid uint64, id uint32) error {
	return c.rt.Command(ctx, task.CmdStart, uid, id)
}

// Pause suspends the task; Resume queues it again.
func (c *Client) Pause(ctx context.Context, uid uint64, id uint32) error {
	return c.rt.Command(ctx, task.CmdPause, uid, id)
}

// Resume queues a paused task.
func (c *Client) Resume(ctx context.Context, uid uint64, id uint32) error {
	return c.rt.Command(ctx, task.CmdResume, uid, id)
}

// Stop ends the task. Stopped downloads may be started again.
func (c *Client) Stop(ctx context.Context, uid uint64, id uint32) error {
	return c.rt.Command(ctx, task.CmdStop, uid, id)
}

// Remove removes the task from any state and drops its subscriptions.
func (c *Client) Remove(ctx context.Context, uid uint64, id uint32) error {
	return c.rt.Command(ctx, task.CmdRemove, uid, id)
}

// SetMode moves the task to FrontEnd or BackGround.
func (c *Client) SetMode(ctx context.Context, uid uint64, id uint32, m task.Mode) error {
	return c.rt.SetMode(ctx, uid, id, m)
}

// SetMaxSpeed caps the task at bps bytes per second; 0 removes the cap.
func (c *Client) SetMaxSpeed(ctx context.Context, uid uint64, id uint32, bps int64) error {
	return c.rt.SetMaxSpeed(ctx, uid, id, bps)
}

// Search returns the ids of uid's tasks matching f, oldest first.
func (c *Client) Search(ctx context.Context, uid uint64, f task.Filter) ([]uint32, error) {
	return c.rt.Search(ctx, uid, f)
}

// GetTask returns the task with its config and latest progress.
func (c *Client) GetTask(ctx context.Context, uid uint64, id uint32) (*task.Info, error) {
	return c.rt.GetTask(ctx, uid, id)
}

// Subscribe calls fn for every notification of the task until Unsubscribe or
// removal. Callbacks run in order on one delivery goroutine shared by all
// subscriptions, so a slow fn delays the others but never the task manager.
func (c *Client) Subscribe(ctx context.Context, uid uint64, id uint32, fn func(Notification)) (uuid.UUID, error) {
	if fn == nil {
		return uuid.Nil, task.ParameterCheck
	}
	return c.rt.Subscribe(ctx, uid, id, fn)
}

// Unsubscribe removes a subscription returned by Subscribe.
func (c *Client) Unsubscribe(ctx context.Context, uid uint64, id uint32, sub uuid.UUID) error {
	return c.rt.Unsubscribe(ctx, uid, id, sub)
}

// Stats reports the scheduler state and the quota usage of uid.
func (c *Client) Stats(ctx context.Context, uid uint64) (Stats, error) {
	return c.rt.Stats(ctx, uid)
}

// IsNotFound reports whether err means the task does not exist for the caller.
func IsNotFound(err error) bool {
	return task.CodeOf(err) == task.TaskNotFound
}
