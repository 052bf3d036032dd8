package transferq

import (
	"context"
	"errors"
	"io"

	"github.com/UniQw/transferq/internal/hctx"
	"github.com/UniQw/transferq/internal/worker"
	"github.com/UniQw/transferq/task"
)

// Fault wraps a transfer error with its reason. Retryable faults are retried
// when the task enables retry; every other error fails the task.
func Fault(reason task.Reason, retryable bool, err error) error {
	return &worker.Fault{Reason: reason, Retryable: retryable, Err: err}
}

// IsFault reports whether err wraps an error built by Fault.
func IsFault(err error) bool {
	var f *worker.Fault
	return errors.As(err, &f)
}

// AddProgress records n transferred bytes and returns the total.
// It is a no-op if the context is not provided by the transferq runtime.
func AddProgress(ctx context.Context, n int64) int64 {
	st, ok := hctx.From(ctx)
	if !ok || st == nil {
		return 0
	}
	return st.Add(n)
}

// Processed returns the bytes transferred so far, including earlier runs.
// Handlers resume from this offset.
func Processed(ctx context.Context) int64 {
	st, ok := hctx.From(ctx)
	if !ok || st == nil {
		return 0
	}
	return st.Processed()
}

// Throttle blocks while the task is above its current speed cap.
func Throttle(ctx context.Context) error {
	st, ok := hctx.From(ctx)
	if !ok || st == nil || st.Limiter == nil {
		return nil
	}
	return st.Limiter.Wait(ctx, st.Processed())
}

// SetFile marks file index as the one being transferred and records its size; -1 marks it unknown.
func SetFile(ctx context.Context, index int, size int64) {
	st, ok := hctx.From(ctx)
	if !ok || st == nil {
		return
	}
	st.SetFile(index, size)
}

// SetExtra encodes v using the default JSON encoder and attaches it to the
// task progress under key. It is safe to call multiple times; last wins.
func SetExtra(ctx context.Context, key string, v any) error {
	st, ok := hctx.From(ctx)
	if !ok || st == nil {
		return nil
	}
	var enc Encoder = &JSONEncoder{}
	b, err := enc.Encode(v)
	if err != nil {
		return err
	}
	st.SetExtra(key, string(b))
	return nil
}

// ReportHeaders forwards the response headers of the transfer to subscribers.
func ReportHeaders(ctx context.Context, h map[string][]string) {
	st, ok := hctx.From(ctx)
	if !ok || st == nil || st.OnHeaders == nil {
		return
	}
	st.OnHeaders(h)
}

// LimitReader returns a reader that counts bytes read from r as progress and
// blocks while the task is above its speed cap. Outside the runtime r is
// returned unchanged.
func LimitReader(ctx context.Context, r io.Reader) io.Reader {
	st, ok := hctx.From(ctx)
	if !ok || st == nil {
		return r
	}
	return &limitedReader{ctx: ctx, r: r, st: st}
}

type limitedReader struct {
	ctx context.Context
	r   io.Reader
	st  *hctx.State
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.st.Limiter != nil {
		if err := l.st.Limiter.Wait(l.ctx, l.st.Processed()); err != nil {
			return 0, err
		}
	}
	n, err := l.r.Read(p)
	if n > 0 {
		l.st.Add(int64(n))
	}
	return n, err
}
