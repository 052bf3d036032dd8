// Package transfer provides HTTP download and upload handlers for a transferq Mux.
package transfer

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/http"
	"net/url"
	"syscall"

	"github.com/UniQw/transferq"
	"github.com/UniQw/transferq/task"
)

var errRedirect = errors.New("transfer: redirect not allowed")

// Handlers runs transfers with an HTTP client.
type Handlers struct {
	client *http.Client
}

// New returns handlers using c, or http.DefaultClient when c is nil.
func New(c *http.Client) *Handlers {
	if c == nil {
		c = http.DefaultClient
	}
	return &Handlers{client: c}
}

// Register installs the download and upload handlers on mux.
func (h *Handlers) Register(mux *transferq.Mux) {
	mux.Handle(task.ActionDownload, h.Download)
	mux.Handle(task.ActionUpload, h.Upload)
}

// clientFor applies the redirect and proxy settings of cfg to a copy of the base client.
func (h *Handlers) clientFor(cfg *task.Config) (*http.Client, error) {
	c := *h.client
	if !cfg.Redirect {
		c.CheckRedirect = func(*http.Request, []*http.Request) error { return errRedirect }
	}
	if cfg.Proxy == "" {
		return &c, nil
	}
	p, err := url.Parse(cfg.Proxy)
	if err != nil {
		return nil, transferq.Fault(task.ReasonBuildClientFailed, false, err)
	}
	base, ok := c.Transport.(*http.Transport)
	if c.Transport == nil {
		base, ok = http.DefaultTransport.(*http.Transport)
	}
	if !ok {
		return nil, transferq.Fault(task.ReasonBuildClientFailed, false, errors.New("transfer: proxy needs an *http.Transport"))
	}
	t := base.Clone()
	t.Proxy = http.ProxyURL(p)
	c.Transport = t
	return &c, nil
}

func newRequest(ctx context.Context, cfg *task.Config, method string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, nil)
	if err != nil {
		return nil, transferq.Fault(task.ReasonBuildRequestFailed, false, err)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// netFault classifies an error returned by http.Client.Do.
func netFault(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var (
		dnsErr  *net.DNSError
		certErr *tls.CertificateVerificationError
		hdrErr  tls.RecordHeaderError
		unkErr  x509.UnknownAuthorityError
		opErr   *net.OpError
		netErr  net.Error
	)
	switch {
	case errors.Is(err, errRedirect):
		return transferq.Fault(task.ReasonRedirectError, false, err)
	case errors.As(err, &dnsErr):
		return transferq.Fault(task.ReasonDNS, true, err)
	case errors.As(err, &certErr), errors.As(err, &hdrErr), errors.As(err, &unkErr):
		return transferq.Fault(task.ReasonSSL, false, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return transferq.Fault(task.ReasonContinuousTaskTimeout, true, err)
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return transferq.Fault(task.ReasonTCP, true, err)
	}
	return transferq.Fault(task.ReasonConnectError, true, err)
}

// statusFault maps an unexpected response status; server errors are retryable.
func statusFault(resp *http.Response) error {
	err := errors.New("transfer: unexpected status " + resp.Status)
	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		return transferq.Fault(task.ReasonUnsupportedRangeRequest, false, err)
	}
	return transferq.Fault(task.ReasonProtocolError, resp.StatusCode >= 500, err)
}

// fileFault classifies a local file error.
func fileFault(err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return transferq.Fault(task.ReasonInsufficientSpace, false, err)
	}
	return transferq.Fault(task.ReasonIoError, false, err)
}
