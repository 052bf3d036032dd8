// Package verify checks task configurations before they are persisted.
package verify

import (
	"net"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/UniQw/transferq/task"
)

// Limits applied by the default chain.
const (
	MaxURLLen              = 8192
	MaxTitleLen            = 256
	MaxDescriptionLen      = 1024
	MinTokenLen            = 8
	MaxTokenLen            = 2048
	MaxProxyLen            = 512
	MaxNotificationTitle   = 1024
	MaxNotificationTextLen = 3072
)

// Verifier validates one aspect of a configuration. A failure is a task.Code.
type Verifier interface {
	Verify(cfg *task.Config) error
}

// Func adapts a function to Verifier.
type Func func(cfg *task.Config) error

func (f Func) Verify(cfg *task.Config) error { return f(cfg) }

// Chain runs verifiers in order and stops at the first failure.
type Chain []Verifier

func (c Chain) Verify(cfg *task.Config) error {
	if cfg == nil {
		return task.ParameterCheck
	}
	for _, v := range c {
		if err := v.Verify(cfg); err != nil {
			return err
		}
	}
	return nil
}

// Default returns the standard checks in evaluation order.
func Default() Chain {
	return Chain{
		Func(Kind),
		Func(URL),
		Func(Method),
		Func(Title),
		Func(Description),
		Func(Token),
		Func(Proxy),
		Func(Notification),
		Func(Files),
		Func(Range),
	}
}

// Kind rejects wildcard actions and modes.
func Kind(cfg *task.Config) error {
	if cfg.Action != task.ActionDownload && cfg.Action != task.ActionUpload {
		return task.ParameterCheck
	}
	if cfg.Mode != task.ModeBackGround && cfg.Mode != task.ModeFrontEnd {
		return task.ParameterCheck
	}
	return nil
}

// URL requires an absolute http or https URL of bounded length.
func URL(cfg *task.Config) error {
	if cfg.URL == "" || len(cfg.URL) > MaxURLLen {
		return task.ParameterCheck
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" {
		return task.ParameterCheck
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return task.ParameterCheck
	}
	return nil
}

// Method accepts GET/POST for downloads and PUT/POST for uploads; empty picks the default.
func Method(cfg *task.Config) error {
	m := strings.ToUpper(strings.TrimSpace(cfg.Method))
	if m == "" {
		return nil
	}
	switch cfg.Action {
	case task.ActionDownload:
		if m == "GET" || m == "POST" {
			return nil
		}
	case task.ActionUpload:
		if m == "PUT" || m == "POST" {
			return nil
		}
	}
	return task.ParameterCheck
}

func Title(cfg *task.Config) error {
	if len(cfg.Title) > MaxTitleLen {
		return task.ParameterCheck
	}
	return nil
}

func Description(cfg *task.Config) error {
	if len(cfg.Description) > MaxDescriptionLen {
		return task.ParameterCheck
	}
	return nil
}

// Token is optional; when present its length is bounded on both sides.
func Token(cfg *task.Config) error {
	if cfg.Token == "" {
		return nil
	}
	if len(cfg.Token) < MinTokenLen || len(cfg.Token) > MaxTokenLen {
		return task.ParameterCheck
	}
	return nil
}

// Proxy is optional; when present it must be http://host:port.
func Proxy(cfg *task.Config) error {
	if cfg.Proxy == "" {
		return nil
	}
	if len(cfg.Proxy) > MaxProxyLen {
		return task.ParameterCheck
	}
	u, err := url.Parse(cfg.Proxy)
	if err != nil || u.Scheme != "http" {
		return task.ParameterCheck
	}
	if _, port, err := net.SplitHostPort(u.Host); err != nil || port == "" {
		return task.ParameterCheck
	}
	return nil
}

func Notification(cfg *task.Config) error {
	if len(cfg.Notification.Title) > MaxNotificationTitle || len(cfg.Notification.Text) > MaxNotificationTextLen {
		return task.ParameterCheck
	}
	return nil
}

// Files requires one target for downloads and at least one source for uploads,
// each with a clean local path.
func Files(cfg *task.Config) error {
	switch cfg.Action {
	case task.ActionDownload:
		if len(cfg.Files) != 1 {
			return task.ParameterCheck
		}
	case task.ActionUpload:
		if len(cfg.Files) == 0 || int(cfg.Index) >= len(cfg.Files) {
			return task.ParameterCheck
		}
	}
	for _, f := range cfg.Files {
		if f.Path == "" {
			return task.FileOperationErr
		}
		for _, part := range strings.Split(filepath.ToSlash(f.Path), "/") {
			if part == ".." {
				return task.FileOperationErr
			}
		}
	}
	return nil
}

// Range validates the byte range of a download.
func Range(cfg *task.Config) error {
	if cfg.Begins < 0 {
		return task.ParameterCheck
	}
	if cfg.Ends != 0 && cfg.Ends != -1 && cfg.Ends < cfg.Begins {
		return task.ParameterCheck
	}
	return nil
}
