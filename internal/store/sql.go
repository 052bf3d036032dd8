package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/UniQw/transferq/task"
	"gorm.io/gorm"
)

// taskRow is the relational form of a record.
type taskRow struct {
	TaskID   uint32 `gorm:"column:task_id;primaryKey;autoIncrement:false"`
	UID      uint64 `gorm:"column:uid;not null;index:idx_request_task_uid_ctime,priority:1"`
	Bundle   string `gorm:"column:bundle;size:256"`
	Action   uint8  `gorm:"column:action;not null"`
	Mode     uint8  `gorm:"column:mode;not null"`
	Version  uint8  `gorm:"column:version"`
	Priority uint32 `gorm:"column:priority;not null"`
	State    uint8  `gorm:"column:state;not null;index"`
	Reason   uint8  `gorm:"column:reason"`
	Ctime    int64  `gorm:"column:ctime;not null;index:idx_request_task_uid_ctime,priority:2"`
	Mtime    int64  `gorm:"column:mtime;not null;index"`
	MaxSpeed int64  `gorm:"column:max_speed"`
	Tries    int    `gorm:"column:tries"`
	Network  uint8  `gorm:"column:network"`
	Metered  bool   `gorm:"column:metered"`
	Roaming  bool   `gorm:"column:roaming"`
	Config   []byte `gorm:"column:config"`
	Progress []byte `gorm:"column:progress"`
}

func (taskRow) TableName() string { return "request_task" }

func toRow(r *Record) *taskRow {
	return &taskRow{
		TaskID:   r.TaskID,
		UID:      r.UID,
		Bundle:   r.Bundle,
		Action:   uint8(r.Action),
		Mode:     uint8(r.Mode),
		Version:  uint8(r.Version),
		Priority: r.Priority,
		State:    uint8(r.State),
		Reason:   uint8(r.Reason),
		Ctime:    r.Ctime,
		Mtime:    r.Mtime,
		MaxSpeed: r.MaxSpeed,
		Tries:    r.Tries,
		Network:  uint8(r.Config.Network),
		Metered:  r.Config.Metered,
		Roaming:  r.Config.Roaming,
		Config:   encodeJSON(r.Config),
		Progress: encodeJSON(r.Progress),
	}
}

func (row *taskRow) qos() *QosInfo {
	return &QosInfo{
		TaskID:   row.TaskID,
		UID:      row.UID,
		Bundle:   row.Bundle,
		Action:   task.Action(row.Action),
		Mode:     task.Mode(row.Mode),
		Version:  task.Version(row.Version),
		State:    task.State(row.State),
		Reason:   task.Reason(row.Reason),
		Priority: row.Priority,
		MaxSpeed: row.MaxSpeed,
		Network:  task.NetType(row.Network),
		Metered:  row.Metered,
		Roaming:  row.Roaming,
		Tries:    row.Tries,
		Ctime:    row.Ctime,
	}
}

var (
	// ints, not uint8: gorm binds a []uint8 as one blob instead of expanding it
	countedStates  = []int{int(task.StateInitialized), int(task.StateWaiting), int(task.StateRunning), int(task.StateRetrying)}
	terminalStates = []int{int(task.StateCompleted), int(task.StateFailed), int(task.StateRemoved)}
)

// SQL stores records in a relational table through gorm.
type SQL struct {
	db *gorm.DB
}

// NewSQL creates the table if needed and returns the store.
func NewSQL(db *gorm.DB) (*SQL, error) {
	if err := db.AutoMigrate(&taskRow{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &SQL{db: db}, nil
}

func (s *SQL) InsertTask(ctx context.Context, r *Record) error {
	if r.Mtime == 0 {
		r.Mtime = r.Ctime
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&taskRow{}).Where("task_id = ?", r.TaskID).Count(&n).Error; err != nil {
			return fmt.Errorf("store: insert task %d: %w", r.TaskID, err)
		}
		if n > 0 {
			return ErrDuplicate
		}
		if err := tx.Create(toRow(r)).Error; err != nil {
			return fmt.Errorf("store: insert task %d: %w", r.TaskID, err)
		}
		return nil
	})
}

func (s *SQL) find(ctx context.Context, id uint32) (*taskRow, error) {
	var row taskRow
	err := s.db.WithContext(ctx).Where("task_id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get task %d: %w", id, err)
	}
	return &row, nil
}

func (s *SQL) GetTask(ctx context.Context, id uint32) (*Record, error) {
	row, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	r := &Record{
		TaskID:   row.TaskID,
		UID:      row.UID,
		Bundle:   row.Bundle,
		Action:   task.Action(row.Action),
		Mode:     task.Mode(row.Mode),
		Version:  task.Version(row.Version),
		Priority: row.Priority,
		State:    task.State(row.State),
		Reason:   task.Reason(row.Reason),
		Ctime:    row.Ctime,
		Mtime:    row.Mtime,
		MaxSpeed: row.MaxSpeed,
		Tries:    row.Tries,
	}
	if err := decodeJSON(row.Config, &r.Config); err != nil {
		return nil, fmt.Errorf("store: decode config %d: %w", id, err)
	}
	if err := decodeJSON(row.Progress, &r.Progress); err != nil {
		return nil, fmt.Errorf("store: decode progress %d: %w", id, err)
	}
	return r, nil
}

func (s *SQL) GetQosInfo(ctx context.Context, id uint32) (*QosInfo, error) {
	row, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	return row.qos(), nil
}

func (s *SQL) ContainsTask(ctx context.Context, id uint32) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&taskRow{}).Where("task_id = ?", id).Count(&n).Error; err != nil {
		return false, fmt.Errorf("store: contains %d: %w", id, err)
	}
	return n > 0, nil
}

// update sets fields of a record. mtime of a finished record stays at its
// terminal transition so retention is measured from there.
func (s *SQL) update(ctx context.Context, id uint32, fields map[string]any) error {
	fields["mtime"] = gorm.Expr("CASE WHEN state IN ? THEN mtime ELSE ? END", terminalStates, nowMs())
	res := s.db.WithContext(ctx).Model(&taskRow{}).Where("task_id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("store: update task %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQL) UpdateState(ctx context.Context, id uint32, st task.State, reason task.Reason) error {
	res := s.db.WithContext(ctx).Model(&taskRow{}).Where("task_id = ?", id).
		Updates(map[string]any{"state": uint8(st), "reason": uint8(reason), "mtime": nowMs()})
	if res.Error != nil {
		return fmt.Errorf("store: update task %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQL) UpdateMode(ctx context.Context, id uint32, m task.Mode) error {
	return s.update(ctx, id, map[string]any{"mode": uint8(m)})
}

func (s *SQL) UpdateMaxSpeed(ctx context.Context, id uint32, speed int64) error {
	return s.update(ctx, id, map[string]any{"max_speed": speed})
}

func (s *SQL) UpdateProgress(ctx context.Context, id uint32, p task.Progress) error {
	return s.update(ctx, id, map[string]any{"progress": encodeJSON(p)})
}

func (s *SQL) UpdateTries(ctx context.Context, id uint32, tries int) error {
	return s.update(ctx, id, map[string]any{"tries": tries})
}

func (s *SQL) SearchTask(ctx context.Context, uid uint64, f task.Filter) ([]uint32, error) {
	q := s.db.WithContext(ctx).Model(&taskRow{}).Where("uid = ?", uid)
	if f.Bundle != "" {
		q = q.Where("bundle = ?", f.Bundle)
	}
	if !f.After.IsZero() {
		q = q.Where("ctime >= ?", f.After.UnixMilli())
	}
	if !f.Before.IsZero() {
		q = q.Where("ctime <= ?", f.Before.UnixMilli())
	}
	if f.State != task.StateAny {
		q = q.Where("state = ?", uint8(f.State))
	}
	if f.Action != task.ActionAny {
		q = q.Where("action = ?", uint8(f.Action))
	}
	if f.Mode != task.ModeAny {
		q = q.Where("mode = ?", uint8(f.Mode))
	}
	var ids []uint32
	if err := q.Order("ctime ASC, task_id ASC").Pluck("task_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("store: search uid %d: %w", uid, err)
	}
	return ids, nil
}

func (s *SQL) AppInfos(ctx context.Context) ([]uint64, error) {
	var uids []uint64
	if err := s.db.WithContext(ctx).Model(&taskRow{}).Distinct("uid").Order("uid").Pluck("uid", &uids).Error; err != nil {
		return nil, fmt.Errorf("store: app infos: %w", err)
	}
	return uids, nil
}

func (s *SQL) LoadActive(ctx context.Context) ([]*QosInfo, error) {
	var rows []taskRow
	err := s.db.WithContext(ctx).
		Omit("config", "progress").
		Where("state IN ?", countedStates).
		Order("priority ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: load active: %w", err)
	}
	out := make([]*QosInfo, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].qos())
	}
	return out, nil
}

func (s *SQL) MaxPriority(ctx context.Context) (uint32, error) {
	var p uint32
	if err := s.db.WithContext(ctx).Model(&taskRow{}).Select("COALESCE(MAX(priority), 0)").Scan(&p).Error; err != nil {
		return 0, fmt.Errorf("store: max priority: %w", err)
	}
	return p, nil
}

func (s *SQL) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&taskRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

func (s *SQL) Purge(ctx context.Context, before time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	var ids []uint32
	err := s.db.WithContext(ctx).Model(&taskRow{}).
		Where("state IN ? AND mtime < ?", terminalStates, before.UnixMilli()).
		Order("mtime ASC").
		Limit(limit).
		Pluck("task_id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("store: purge range: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("task_id IN ?", ids).Delete(&taskRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("store: purge: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
