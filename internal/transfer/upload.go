package transfer

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/UniQw/transferq"
	"github.com/UniQw/transferq/task"
)

// Upload sends the files of cfg starting at cfg.Index, one request per file,
// or all of them in a single multipart body when cfg.Multipart is set.
// Bytes already counted by an earlier run are resent but not counted again.
func (h *Handlers) Upload(ctx context.Context, cfg *task.Config) error {
	c, err := h.clientFor(cfg)
	if err != nil {
		return err
	}
	method := cfg.Method
	if method == "" {
		method = http.MethodPut
	}
	m := &meter{ctx: ctx, skip: transferq.Processed(ctx)}
	if cfg.Multipart {
		return h.uploadMultipart(ctx, c, cfg, method, m)
	}
	for i := int(cfg.Index); i < len(cfg.Files); i++ {
		if err := h.uploadFile(ctx, c, cfg, method, i, m); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handlers) uploadFile(ctx context.Context, c *http.Client, cfg *task.Config, method string, i int, m *meter) error {
	fs := cfg.Files[i]
	f, size, err := openSource(fs.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	transferq.SetFile(ctx, i, size)

	req, err := newRequest(ctx, cfg, method)
	if err != nil {
		return err
	}
	if fs.MimeType != "" {
		req.Header.Set("Content-Type", fs.MimeType)
	}
	req.Body = io.NopCloser(m.wrap(f))
	req.ContentLength = size
	return send(ctx, c, req)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

type source struct {
	spec task.FileSpec
	f    *os.File
	size int64
}

func (h *Handlers) uploadMultipart(ctx context.Context, c *http.Client, cfg *task.Config, method string, m *meter) error {
	var srcs []source
	defer func() {
		for _, s := range srcs {
			s.f.Close()
		}
	}()
	for i := int(cfg.Index); i < len(cfg.Files); i++ {
		f, size, err := openSource(cfg.Files[i].Path)
		if err != nil {
			return err
		}
		srcs = append(srcs, source{spec: cfg.Files[i], f: f, size: size})
	}

	req, err := newRequest(ctx, cfg, method)
	if err != nil {
		return err
	}
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Body = pr

	done := make(chan struct{})
	go func() {
		defer close(done)
		pw.CloseWithError(writeParts(ctx, cfg, mw, srcs, m))
	}()
	err = send(ctx, c, req)
	pr.Close()
	<-done
	return err
}

func writeParts(ctx context.Context, cfg *task.Config, mw *multipart.Writer, srcs []source, m *meter) error {
	for _, form := range cfg.Forms {
		if err := mw.WriteField(form.Name, form.Value); err != nil {
			return err
		}
	}
	for i, s := range srcs {
		transferq.SetFile(ctx, int(cfg.Index)+i, s.size)
		name := s.spec.Name
		if name == "" {
			name = "file"
		}
		fileName := s.spec.FileName
		if fileName == "" {
			fileName = filepath.Base(s.spec.Path)
		}
		contentType := s.spec.MimeType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			quoteEscaper.Replace(name), quoteEscaper.Replace(fileName)))
		hdr.Set("Content-Type", contentType)
		part, err := mw.CreatePart(hdr)
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, m.wrap(s.f)); err != nil {
			return err
		}
	}
	return mw.Close()
}

func openSource(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, transferq.Fault(task.ReasonUploadFileError, false, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, transferq.Fault(task.ReasonUploadFileError, false, err)
	}
	return f, st.Size(), nil
}

func send(ctx context.Context, c *http.Client, req *http.Request) error {
	resp, err := c.Do(req)
	if err != nil {
		if transferq.IsFault(err) {
			// a source file failed while the body was streamed
			return err
		}
		return netFault(ctx, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	transferq.ReportHeaders(ctx, resp.Header)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusFault(resp)
	}
	return nil
}

// meter counts uploaded bytes as progress, skipping the bytes counted by
// earlier runs, and throttles to the task speed cap.
type meter struct {
	ctx  context.Context
	skip int64
}

func (m *meter) wrap(r io.Reader) io.Reader { return &meteredReader{m: m, r: r} }

type meteredReader struct {
	m *meter
	r io.Reader
}

func (r *meteredReader) Read(p []byte) (int, error) {
	if err := transferq.Throttle(r.m.ctx); err != nil {
		return 0, err
	}
	n, err := r.r.Read(p)
	counted := int64(n)
	if r.m.skip > 0 {
		s := min(r.m.skip, counted)
		r.m.skip -= s
		counted -= s
	}
	if counted > 0 {
		transferq.AddProgress(r.m.ctx, counted)
	}
	if err != nil && err != io.EOF {
		err = transferq.Fault(task.ReasonUploadFileError, false, err)
	}
	return n, err
}
