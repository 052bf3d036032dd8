package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/UniQw/transferq"
	"github.com/UniQw/transferq/task"
)

// Download fetches cfg.URL into the first file of cfg. A rerun continues from
// the bytes already written with a Range request.
func (h *Handlers) Download(ctx context.Context, cfg *task.Config) error {
	if len(cfg.Files) == 0 {
		return transferq.Fault(task.ReasonBuildRequestFailed, false, errors.New("transfer: no target file"))
	}
	c, err := h.clientFor(cfg)
	if err != nil {
		return err
	}
	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := newRequest(ctx, cfg, method)
	if err != nil {
		return err
	}
	offset := transferq.Processed(ctx)
	start := cfg.Begins + offset
	ranged := start > 0 || cfg.Ends > 0
	if ranged {
		if cfg.Ends > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, cfg.Ends))
		} else {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
		}
	}

	resp, err := c.Do(req)
	if err != nil {
		return netFault(ctx, err)
	}
	defer resp.Body.Close()
	transferq.ReportHeaders(ctx, resp.Header)

	switch {
	case resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode == http.StatusOK && !ranged:
	case resp.StatusCode == http.StatusOK:
		return transferq.Fault(task.ReasonUnsupportedRangeRequest, false,
			errors.New("transfer: server ignored range request"))
	default:
		return statusFault(resp)
	}

	size := int64(-1)
	if resp.ContentLength >= 0 {
		size = offset + resp.ContentLength
	}
	transferq.SetFile(ctx, 0, size)

	path := cfg.Files[0].Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fileFault(err)
	}
	flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if offset > 0 {
		flag = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return fileFault(err)
	}
	defer f.Close()

	w := &fileWriter{f: f}
	if _, err := io.Copy(w, transferq.LimitReader(ctx, resp.Body)); err != nil {
		if w.err != nil {
			return fileFault(w.err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return transferq.Fault(task.ReasonRequestError, true, err)
	}
	if err := f.Sync(); err != nil {
		return fileFault(err)
	}
	return nil
}

// fileWriter remembers write errors so they can be told apart from read errors.
type fileWriter struct {
	f   *os.File
	err error
}

func (w *fileWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		w.err = err
	}
	return n, err
}
