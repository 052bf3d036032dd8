package transferq

import (
	"context"

	"github.com/UniQw/transferq/internal/worker"
	"github.com/UniQw/transferq/task"
)

// HandlerFunc performs the transfer described by cfg. It returns nil once the
// transfer is complete and must return promptly after ctx is done.
type HandlerFunc func(ctx context.Context, cfg *task.Config) error

// Middleware is a function that wraps a HandlerFunc to provide cross-cutting concerns.
type Middleware func(HandlerFunc) HandlerFunc

type handler struct {
	exec HandlerFunc
}

// Mux routes transfers to their handlers based on the task action.
type Mux struct {
	handlers    map[task.Action]handler
	middlewares []Middleware
}

// NewMux creates a new Mux.
func NewMux() *Mux {
	return &Mux{
		handlers:    make(map[task.Action]handler),
		middlewares: []Middleware{},
	}
}

// Handle registers the handler for an action. A later call replaces it.
func (m *Mux) Handle(action task.Action, fn func(context.Context, *task.Config) error) {
	m.handlers[action] = handler{
		exec: fn,
	}
}

// Use adds middleware(s) to the mux. Middlewares are executed in the order they are added.
func (m *Mux) Use(mw Middleware) {
	m.middlewares = append(m.middlewares, mw)
}

func (m *Mux) wrapHandler(h HandlerFunc) HandlerFunc {
	for i := len(m.middlewares) - 1; i >= 0; i-- {
		h = m.middlewares[i](h)
	}
	return h
}

// executor resolves the handler of each run. Tasks with no handler fail
// permanently.
func (m *Mux) executor() worker.Executor {
	return func(ctx context.Context, cfg *task.Config) error {
		h, ok := m.handlers[cfg.Action]
		if !ok {
			return &worker.Fault{Reason: task.ReasonBuildRequestFailed, Err: worker.ErrNoHandler}
		}
		return m.wrapHandler(h.exec)(ctx, cfg)
	}
}
