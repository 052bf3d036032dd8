package verify

import (
	"strings"
	"testing"

	"github.com/UniQw/transferq/task"
	"github.com/stretchr/testify/require"
)

func download() *task.Config {
	return &task.Config{
		Action: task.ActionDownload,
		Mode:   task.ModeBackGround,
		URL:    "https://example.com/big.bin",
		Files:  []task.FileSpec{{Path: "/data/big.bin"}},
		Ends:   -1,
	}
}

func upload() *task.Config {
	return &task.Config{
		Action: task.ActionUpload,
		Mode:   task.ModeFrontEnd,
		URL:    "http://example.com/up",
		Method: "put",
		Files:  []task.FileSpec{{Path: "/data/a"}, {Path: "/data/b"}},
		Index:  1,
	}
}

func TestDefault_AcceptsValid(t *testing.T) {
	require.NoError(t, Default().Verify(download()))
	require.NoError(t, Default().Verify(upload()))
}

func TestDefault_Rejects(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*task.Config)
		want task.Code
	}{
		{"any action", func(c *task.Config) { c.Action = task.ActionAny }, task.ParameterCheck},
		{"any mode", func(c *task.Config) { c.Mode = task.ModeAny }, task.ParameterCheck},
		{"empty url", func(c *task.Config) { c.URL = "" }, task.ParameterCheck},
		{"ftp url", func(c *task.Config) { c.URL = "ftp://example.com/x" }, task.ParameterCheck},
		{"long url", func(c *task.Config) { c.URL = "https://e.com/" + strings.Repeat("a", MaxURLLen) }, task.ParameterCheck},
		{"put download", func(c *task.Config) { c.Method = "PUT" }, task.ParameterCheck},
		{"long title", func(c *task.Config) { c.Title = strings.Repeat("t", MaxTitleLen+1) }, task.ParameterCheck},
		{"long description", func(c *task.Config) { c.Description = strings.Repeat("d", MaxDescriptionLen+1) }, task.ParameterCheck},
		{"short token", func(c *task.Config) { c.Token = "abc" }, task.ParameterCheck},
		{"https proxy", func(c *task.Config) { c.Proxy = "https://proxy:8080" }, task.ParameterCheck},
		{"proxy without port", func(c *task.Config) { c.Proxy = "http://proxy" }, task.ParameterCheck},
		{"long notification", func(c *task.Config) { c.Notification.Text = strings.Repeat("n", MaxNotificationTextLen+1) }, task.ParameterCheck},
		{"two download targets", func(c *task.Config) { c.Files = append(c.Files, task.FileSpec{Path: "/x"}) }, task.ParameterCheck},
		{"empty path", func(c *task.Config) { c.Files[0].Path = "" }, task.FileOperationErr},
		{"escaping path", func(c *task.Config) { c.Files[0].Path = "/data/../etc/passwd" }, task.FileOperationErr},
		{"inverted range", func(c *task.Config) { c.Begins = 10; c.Ends = 5 }, task.ParameterCheck},
		{"negative begin", func(c *task.Config) { c.Begins = -1 }, task.ParameterCheck},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := download()
			tc.mut(cfg)
			require.ErrorIs(t, Default().Verify(cfg), tc.want)
		})
	}
}

func TestFiles_Upload(t *testing.T) {
	cfg := upload()
	cfg.Index = 2
	require.ErrorIs(t, Files(cfg), task.ParameterCheck)
	cfg.Files = nil
	cfg.Index = 0
	require.ErrorIs(t, Files(cfg), task.ParameterCheck)
}

func TestChain_ShortCircuits(t *testing.T) {
	calls := 0
	count := Func(func(*task.Config) error { calls++; return nil })
	fail := Func(func(*task.Config) error { return task.Permission })
	c := Chain{count, fail, count}
	require.ErrorIs(t, c.Verify(download()), task.Permission)
	require.Equal(t, 1, calls)
	require.ErrorIs(t, c.Verify(nil), task.ParameterCheck)
	require.NoError(t, Chain{}.Verify(download()))
}
