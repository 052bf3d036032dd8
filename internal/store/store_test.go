package store

import (
	"context"
	"testing"
	"time"

	"github.com/UniQw/transferq/task"
	"github.com/stretchr/testify/require"
)

func rec(id uint32, uid uint64, ctime int64, st task.State, a task.Action, m task.Mode) *Record {
	return &Record{
		TaskID:   id,
		UID:      uid,
		Bundle:   "com.example.app",
		Action:   a,
		Mode:     m,
		Version:  task.API10,
		Priority: id,
		State:    st,
		Ctime:    ctime,
		Config: task.Config{
			Action:  a,
			Mode:    m,
			URL:     "https://example.com/f",
			Network: task.NetWifi,
			Metered: true,
		},
	}
}

// runContract exercises the behaviour every Store implementation must share.
func runContract(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("InsertGet", func(t *testing.T) {
		r := rec(1, 10, 1000, task.StateInitialized, task.ActionDownload, task.ModeFrontEnd)
		r.Config.Headers = map[string]string{"X-A": "1"}
		require.NoError(t, s.InsertTask(ctx, r))
		require.ErrorIs(t, s.InsertTask(ctx, r), ErrDuplicate)

		got, err := s.GetTask(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, uint64(10), got.UID)
		require.Equal(t, task.StateInitialized, got.State)
		require.Equal(t, task.ModeFrontEnd, got.Mode)
		require.Equal(t, "1", got.Config.Headers["X-A"])
		require.Equal(t, int64(1000), got.Mtime)

		q, err := s.GetQosInfo(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, task.NetWifi, q.Network)
		require.True(t, q.Metered)
		require.False(t, q.Roaming)
		require.Equal(t, uint32(1), q.Priority)

		ok, err := s.ContainsTask(ctx, 1)
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = s.ContainsTask(ctx, 999)
		require.NoError(t, err)
		require.False(t, ok)

		_, err = s.GetTask(ctx, 999)
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetQosInfo(ctx, 999)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Updates", func(t *testing.T) {
		require.NoError(t, s.UpdateState(ctx, 1, task.StateWaiting, task.ReasonUserOperation))
		require.NoError(t, s.UpdateMode(ctx, 1, task.ModeBackGround))
		require.NoError(t, s.UpdateMaxSpeed(ctx, 1, 4096))
		require.NoError(t, s.UpdateTries(ctx, 1, 2))
		require.NoError(t, s.UpdateProgress(ctx, 1, task.Progress{State: task.StateRunning, Processed: 77, Sizes: []int64{100}}))

		got, err := s.GetTask(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, task.StateWaiting, got.State)
		require.Equal(t, task.ReasonUserOperation, got.Reason)
		require.Equal(t, task.ModeBackGround, got.Mode)
		require.Equal(t, int64(4096), got.MaxSpeed)
		require.Equal(t, 2, got.Tries)
		require.Equal(t, int64(77), got.Progress.Processed)
		require.Greater(t, got.Mtime, int64(1000))

		require.ErrorIs(t, s.UpdateState(ctx, 999, task.StateWaiting, task.ReasonDefault), ErrNotFound)
		require.ErrorIs(t, s.UpdateMode(ctx, 999, task.ModeFrontEnd), ErrNotFound)
	})

	t.Run("SearchFilters", func(t *testing.T) {
		require.NoError(t, s.InsertTask(ctx, rec(2, 10, 2000, task.StateCompleted, task.ActionUpload, task.ModeFrontEnd)))
		require.NoError(t, s.InsertTask(ctx, rec(3, 10, 3000, task.StateWaiting, task.ActionDownload, task.ModeFrontEnd)))
		require.NoError(t, s.InsertTask(ctx, rec(4, 11, 2500, task.StateWaiting, task.ActionDownload, task.ModeFrontEnd)))

		all, err := s.SearchTask(ctx, 10, task.AnyFilter())
		require.NoError(t, err)
		require.Equal(t, []uint32{1, 2, 3}, all, "oldest first, other owners excluded")

		f := task.AnyFilter()
		f.State = task.StateWaiting
		got, err := s.SearchTask(ctx, 10, f)
		require.NoError(t, err)
		require.Equal(t, []uint32{1, 3}, got)

		f = task.AnyFilter()
		f.Action = task.ActionUpload
		got, err = s.SearchTask(ctx, 10, f)
		require.NoError(t, err)
		require.Equal(t, []uint32{2}, got)

		f = task.AnyFilter()
		f.Mode = task.ModeBackGround
		got, err = s.SearchTask(ctx, 10, f)
		require.NoError(t, err)
		require.Equal(t, []uint32{1}, got)

		f = task.AnyFilter()
		f.After = time.UnixMilli(1500)
		f.Before = time.UnixMilli(2000)
		got, err = s.SearchTask(ctx, 10, f)
		require.NoError(t, err)
		require.Equal(t, []uint32{2}, got, "time bounds are inclusive")

		f = task.AnyFilter()
		f.Bundle = "other.bundle"
		got, err = s.SearchTask(ctx, 10, f)
		require.NoError(t, err)
		require.Empty(t, got)

		got, err = s.SearchTask(ctx, 12345, task.AnyFilter())
		require.NoError(t, err)
		require.Empty(t, got)
	})

	t.Run("Aggregates", func(t *testing.T) {
		uids, err := s.AppInfos(ctx)
		require.NoError(t, err)
		require.ElementsMatch(t, []uint64{10, 11}, uids)

		active, err := s.LoadActive(ctx)
		require.NoError(t, err)
		var activeIDs []uint32
		for _, q := range active {
			activeIDs = append(activeIDs, q.TaskID)
		}
		require.ElementsMatch(t, []uint32{1, 3, 4}, activeIDs)

		p, err := s.MaxPriority(ctx)
		require.NoError(t, err)
		require.Equal(t, uint32(4), p)

		n, err := s.Count(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(4), n)
	})

	t.Run("Purge", func(t *testing.T) {
		old := rec(5, 12, 100, task.StateFailed, task.ActionDownload, task.ModeBackGround)
		old.Mtime = 100
		require.NoError(t, s.InsertTask(ctx, old))

		n, err := s.Purge(ctx, time.UnixMilli(1500), 10)
		require.NoError(t, err)
		require.Equal(t, 1, n, "only finished rows older than the cutoff go")
		_, err = s.GetTask(ctx, 5)
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetTask(ctx, 1)
		require.NoError(t, err, "active rows survive regardless of age")

		// row 2 finished at ctime 2000 but its mtime is its insert mtime
		n, err = s.Purge(ctx, time.UnixMilli(2001), 10)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		got, err := s.SearchTask(ctx, 10, task.AnyFilter())
		require.NoError(t, err)
		require.Equal(t, []uint32{1, 3}, got)

		n, err = s.Purge(ctx, time.Now(), 0)
		require.NoError(t, err)
		require.Zero(t, n)

		uids, err := s.AppInfos(ctx)
		require.NoError(t, err)
		require.NotContains(t, uids, uint64(12))
	})

	t.Run("FinishedMtimeFrozen", func(t *testing.T) {
		require.NoError(t, s.InsertTask(ctx, rec(6, 13, 100, task.StateRunning, task.ActionDownload, task.ModeBackGround)))
		require.NoError(t, s.UpdateState(ctx, 6, task.StateRemoved, task.ReasonUserOperation))
		done, err := s.GetTask(ctx, 6)
		require.NoError(t, err)

		time.Sleep(5 * time.Millisecond)
		require.NoError(t, s.UpdateProgress(ctx, 6, task.Progress{State: task.StateRemoved, Processed: 9}))
		got, err := s.GetTask(ctx, 6)
		require.NoError(t, err)
		require.Equal(t, int64(9), got.Progress.Processed)
		require.Equal(t, done.Mtime, got.Mtime, "late writes keep the terminal mtime")

		before, err := s.GetTask(ctx, 3)
		require.NoError(t, err)
		require.NoError(t, s.UpdateProgress(ctx, 3, task.Progress{State: task.StateWaiting, Processed: 1}))
		after, err := s.GetTask(ctx, 3)
		require.NoError(t, err)
		require.GreaterOrEqual(t, after.Mtime, before.Mtime)
		require.Greater(t, after.Mtime, int64(3000))

		_, err = s.Purge(ctx, time.UnixMilli(done.Mtime+1), 10)
		require.NoError(t, err)
		_, err = s.GetTask(ctx, 6)
		require.ErrorIs(t, err, ErrNotFound, "retention counts from the terminal transition")
	})

	require.NoError(t, s.Close())
}
