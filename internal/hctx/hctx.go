package hctx

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/UniQw/transferq/internal/limiter"
	"github.com/UniQw/transferq/task"
)

// State holds per-execution transfer state shared between a running handler
// and the worker that launched it.
type State struct {
	TaskID  uint32
	Limiter *limiter.SpeedLimiter
	// OnProgress is called after every change of the byte count.
	OnProgress func(*State)
	// OnHeaders is called when the handler reports response headers.
	OnHeaders func(map[string][]string)

	processed atomic.Int64
	mu        sync.Mutex
	index     int
	sizes     []int64
	extras    map[string]string
}

// New creates a fresh handler state container resuming at p.
func New(id uint32, l *limiter.SpeedLimiter, p task.Progress) *State {
	s := &State{TaskID: id, Limiter: l, index: p.Index, sizes: append([]int64(nil), p.Sizes...)}
	s.processed.Store(p.Processed)
	if len(p.Extras) > 0 {
		s.extras = make(map[string]string, len(p.Extras))
		for k, v := range p.Extras {
			s.extras[k] = v
		}
	}
	return s
}

// Add records n more transferred bytes and returns the running total.
func (s *State) Add(n int64) int64 {
	total := s.processed.Add(n)
	if s.OnProgress != nil {
		s.OnProgress(s)
	}
	return total
}

// Processed returns the running byte count.
func (s *State) Processed() int64 { return s.processed.Load() }

// SetFile records the index and total size of the file being transferred.
func (s *State) SetFile(index int, size int64) {
	s.mu.Lock()
	s.index = index
	for len(s.sizes) <= index {
		s.sizes = append(s.sizes, -1)
	}
	s.sizes[index] = size
	s.mu.Unlock()
	if s.OnProgress != nil {
		s.OnProgress(s)
	}
}

// SetExtra attaches a key/value pair to the reported progress.
func (s *State) SetExtra(k, v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.extras == nil {
		s.extras = make(map[string]string)
	}
	s.extras[k] = v
}

// Snapshot returns the progress as last reported, tagged with state st.
func (s *State) Snapshot(st task.State) task.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := task.Progress{
		State:     st,
		Index:     s.index,
		Processed: s.processed.Load(),
		Sizes:     append([]int64(nil), s.sizes...),
	}
	if len(s.extras) > 0 {
		p.Extras = make(map[string]string, len(s.extras))
		for k, v := range s.extras {
			p.Extras[k] = v
		}
	}
	return p
}

type ctxKey struct{}

// WithState returns a child context carrying the given handler state.
func WithState(parent context.Context, s *State) context.Context {
	return context.WithValue(parent, ctxKey{}, s)
}

// From extracts the handler state from context if present.
func From(ctx context.Context) (*State, bool) {
	v := ctx.Value(ctxKey{})
	if v == nil {
		return nil, false
	}
	st, ok := v.(*State)
	return st, ok
}
