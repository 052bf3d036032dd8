package transferq

import "github.com/UniQw/transferq/task"

// Option is a function that configures a task during NewDownload or NewUpload.
type Option func(*task.Config)

// Mode sets the scheduling mode. Tasks default to BackGround.
func Mode(m task.Mode) Option {
	return func(c *task.Config) {
		c.Mode = m
	}
}

// Bundle sets the owning bundle name reported with notifications.
func Bundle(name string) Option {
	return func(c *task.Config) {
		c.Bundle = name
	}
}

// Title sets the title and description shown by the notification layer.
func Title(title, description string) Option {
	return func(c *task.Config) {
		c.Title = title
		c.Description = description
	}
}

// Header adds one request header.
func Header(key, value string) Option {
	return func(c *task.Config) {
		if c.Headers == nil {
			c.Headers = make(map[string]string)
		}
		c.Headers[key] = value
	}
}

// Method overrides the request method.
func Method(m string) Option {
	return func(c *task.Config) {
		c.Method = m
	}
}

// Retry lets retryable faults restart the transfer.
func Retry() Option {
	return func(c *task.Config) {
		c.Retry = true
	}
}

// Network restricts the task to a network type. metered and roaming permit
// such networks.
func Network(t task.NetType, metered, roaming bool) Option {
	return func(c *task.Config) {
		c.Network = t
		c.Metered = metered
		c.Roaming = roaming
	}
}

// MaxSpeed caps the task at bytes per second; 0 means no cap.
func MaxSpeed(bps int64) Option {
	return func(c *task.Config) {
		c.MaxSpeed = bps
	}
}

// Range limits a download to bytes [begins, ends]; ends < 0 means to the end.
func Range(begins, ends int64) Option {
	return func(c *task.Config) {
		c.Begins = begins
		c.Ends = ends
	}
}

// Multipart sends uploads as multipart/form-data with the given form fields.
func Multipart(forms ...task.Form) Option {
	return func(c *task.Config) {
		c.Multipart = true
		c.Forms = append(c.Forms, forms...)
	}
}

// Token protects the task with a caller secret.
func Token(tok string) Option {
	return func(c *task.Config) {
		c.Token = tok
	}
}

// NewDownload returns the config of a download of url into path.
func NewDownload(url, path string, opts ...Option) task.Config {
	c := task.Config{
		Action:   task.ActionDownload,
		Mode:     task.ModeBackGround,
		Version:  task.API10,
		URL:      url,
		Method:   "GET",
		Files:    []task.FileSpec{{Path: path}},
		Ends:     -1,
		Redirect: true,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// NewUpload returns the config of an upload of files to url. The first file is sent.
func NewUpload(url string, files []task.FileSpec, opts ...Option) task.Config {
	c := task.Config{
		Action:   task.ActionUpload,
		Mode:     task.ModeBackGround,
		Version:  task.API10,
		URL:      url,
		Method:   "PUT",
		Files:    append([]task.FileSpec(nil), files...),
		Ends:     -1,
		Redirect: true,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
