package transferq

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/UniQw/transferq/internal/hctx"
	"github.com/UniQw/transferq/internal/limiter"
	"github.com/UniQw/transferq/task"
	"github.com/stretchr/testify/require"
)

func TestHandlerCtx_NoState_NoPanic(t *testing.T) {
	ctx := context.Background()
	// should be no-op and no panic
	require.Zero(t, AddProgress(ctx, 10))
	require.Zero(t, Processed(ctx))
	require.NoError(t, Throttle(ctx))
	SetFile(ctx, 0, 10)
	require.NoError(t, SetExtra(ctx, "k", map[string]int{"a": 1}))
	ReportHeaders(ctx, map[string][]string{"a": {"b"}})
	r := strings.NewReader("abc")
	require.Same(t, r, LimitReader(ctx, r))
}

func TestHandlerCtx_WithState_ProgressAndExtras(t *testing.T) {
	st := hctx.New(1, limiter.New(0), task.Progress{Processed: 5})
	var headers map[string][]string
	st.OnHeaders = func(h map[string][]string) { headers = h }
	ctx := hctx.WithState(context.Background(), st)

	require.Equal(t, int64(5), Processed(ctx))
	require.Equal(t, int64(15), AddProgress(ctx, 10))

	n, err := io.Copy(io.Discard, LimitReader(ctx, strings.NewReader("hello")))
	require.NoError(t, err)
	require.Equal(t, int64(5), n)
	require.Equal(t, int64(20), Processed(ctx))

	SetFile(ctx, 1, 99)
	require.NoError(t, SetExtra(ctx, "meta", map[string]any{"ok": true}))
	p := st.Snapshot(task.StateRunning)
	require.Equal(t, 1, p.Index)
	require.Equal(t, int64(99), p.Sizes[1])
	require.JSONEq(t, `{"ok":true}`, p.Extras["meta"])

	ReportHeaders(ctx, map[string][]string{"ETag": {"x"}})
	require.Equal(t, []string{"x"}, headers["ETag"])
}

func TestHandlerCtx_ThrottleHonorsCancel(t *testing.T) {
	lim := limiter.New(100)
	st := hctx.New(1, lim, task.Progress{})
	lim.Reset(0)
	ctx, cancel := context.WithTimeout(hctx.WithState(context.Background(), st), 20*time.Millisecond)
	defer cancel()

	// a full window's worth of bytes forces a wait that outlasts the deadline
	AddProgress(ctx, 100)
	require.ErrorIs(t, Throttle(ctx), context.DeadlineExceeded)
}

func TestFault_IsFaultSurvivesWrapping(t *testing.T) {
	err := Fault(task.ReasonDNS, true, io.ErrUnexpectedEOF)
	require.True(t, IsFault(err))
	require.True(t, IsFault(fmt.Errorf("get: %w", err)))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.False(t, IsFault(io.EOF))
}
