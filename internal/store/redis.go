package store

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/UniQw/transferq/internal/keys"
	"github.com/UniQw/transferq/task"
	"github.com/redis/go-redis/v9"
)

// insertScript creates a record and its index entries unless the id exists.
var insertScript = redis.NewScript(
	// language=Lua
	`
	-- KEYS: task, index, uid index, uids, active, terminal, seq
	-- ARGV: id, uid, ctime, counted, terminal, mtime, priority, field/value pairs...
	if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
	local fields = {}
	for i = 8, #ARGV do fields[#fields + 1] = ARGV[i] end
	redis.call('HSET', KEYS[1], unpack(fields))
	redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
	redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
	redis.call('SADD', KEYS[4], ARGV[2])
	if ARGV[4] == '1' then redis.call('SADD', KEYS[5], ARGV[1]) end
	if ARGV[5] == '1' then redis.call('ZADD', KEYS[6], ARGV[6], ARGV[1]) end
	local cur = tonumber(redis.call('GET', KEYS[7]) or '0')
	if tonumber(ARGV[7]) > cur then redis.call('SET', KEYS[7], ARGV[7]) end
	return 1
	`,
)

// stateScript moves a record to a new state and keeps the state indexes in step.
var stateScript = redis.NewScript(
	// language=Lua
	`
	-- KEYS: task, active, terminal
	-- ARGV: id, state, reason, mtime, counted, terminal
	if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
	redis.call('HSET', KEYS[1], 'state', ARGV[2], 'reason', ARGV[3], 'mtime', ARGV[4])
	if ARGV[5] == '1' then
		redis.call('SADD', KEYS[2], ARGV[1])
	else
		redis.call('SREM', KEYS[2], ARGV[1])
	end
	if ARGV[6] == '1' then
		redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
	else
		redis.call('ZREM', KEYS[3], ARGV[1])
	end
	return 1
	`,
)

// fieldsScript sets fields of an existing record. Finished records keep the
// mtime of their terminal transition.
var fieldsScript = redis.NewScript(
	// language=Lua
	`
	-- KEYS: task, terminal
	-- ARGV: id, mtime, field, value, ...
	if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
	local kv = {}
	for i = 3, #ARGV do kv[#kv + 1] = ARGV[i] end
	if not redis.call('ZSCORE', KEYS[2], ARGV[1]) then
		kv[#kv + 1] = 'mtime'
		kv[#kv + 1] = ARGV[2]
	end
	redis.call('HSET', KEYS[1], unpack(kv))
	return 1
	`,
)

var qosFields = []string{
	"uid", "bundle", "action", "mode", "version", "state", "reason", "priority",
	"max_speed", "network", "metered", "roaming", "tries", "ctime",
}

// Redis keeps each record in a HASH with sorted-set indexes by owner and
// creation time.
type Redis struct {
	rdb redis.UniversalClient
	ns  keys.Namespace
}

// NewRedis creates a store in the given key namespace.
func NewRedis(rdb redis.UniversalClient, namespace string) *Redis {
	if namespace == "" {
		namespace = "tasks"
	}
	return &Redis{rdb: rdb, ns: keys.For(namespace)}
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (s *Redis) InsertTask(ctx context.Context, r *Record) error {
	id := strconv.FormatUint(uint64(r.TaskID), 10)
	if r.Mtime == 0 {
		r.Mtime = r.Ctime
	}
	args := []any{
		id, strconv.FormatUint(r.UID, 10), r.Ctime, flag(r.State.Counted()), flag(r.State.Terminal()), r.Mtime, r.Priority,
		"uid", r.UID,
		"bundle", r.Bundle,
		"action", uint8(r.Action),
		"mode", uint8(r.Mode),
		"version", uint8(r.Version),
		"priority", r.Priority,
		"state", uint8(r.State),
		"reason", uint8(r.Reason),
		"ctime", r.Ctime,
		"mtime", r.Mtime,
		"max_speed", r.MaxSpeed,
		"tries", r.Tries,
		"network", uint8(r.Config.Network),
		"metered", flag(r.Config.Metered),
		"roaming", flag(r.Config.Roaming),
		"config", encodeJSON(r.Config),
		"progress", encodeJSON(r.Progress),
	}
	ks := []string{s.ns.Task(r.TaskID), s.ns.Index, s.ns.UID(r.UID), s.ns.UIDs, s.ns.Active, s.ns.Terminal, s.ns.Seq}
	n, err := insertScript.Run(ctx, s.rdb, ks, args...).Int()
	if err != nil {
		return fmt.Errorf("store: insert task %d: %w", r.TaskID, err)
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *Redis) GetTask(ctx context.Context, id uint32) (*Record, error) {
	m, err := s.rdb.HGetAll(ctx, s.ns.Task(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("store: get task %d: %w", id, err)
	}
	if len(m) == 0 {
		return nil, ErrNotFound
	}
	vals := make([]any, len(qosFields))
	for i, f := range qosFields {
		if v, ok := m[f]; ok {
			vals[i] = v
		}
	}
	q := parseQos(id, vals)
	r := &Record{
		TaskID:   id,
		UID:      q.UID,
		Bundle:   q.Bundle,
		Action:   q.Action,
		Mode:     q.Mode,
		Version:  q.Version,
		Priority: q.Priority,
		State:    q.State,
		Reason:   q.Reason,
		Ctime:    q.Ctime,
		Mtime:    parseInt(m["mtime"]),
		MaxSpeed: q.MaxSpeed,
		Tries:    q.Tries,
	}
	if err := decodeJSON([]byte(m["config"]), &r.Config); err != nil {
		return nil, fmt.Errorf("store: decode config %d: %w", id, err)
	}
	if err := decodeJSON([]byte(m["progress"]), &r.Progress); err != nil {
		return nil, fmt.Errorf("store: decode progress %d: %w", id, err)
	}
	return r, nil
}

func (s *Redis) GetQosInfo(ctx context.Context, id uint32) (*QosInfo, error) {
	vals, err := s.rdb.HMGet(ctx, s.ns.Task(id), qosFields...).Result()
	if err != nil {
		return nil, fmt.Errorf("store: get qos %d: %w", id, err)
	}
	if vals[0] == nil {
		return nil, ErrNotFound
	}
	return parseQos(id, vals), nil
}

func (s *Redis) ContainsTask(ctx context.Context, id uint32) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.ns.Task(id)).Result()
	if err != nil {
		return false, fmt.Errorf("store: contains %d: %w", id, err)
	}
	return n == 1, nil
}

func (s *Redis) UpdateState(ctx context.Context, id uint32, st task.State, reason task.Reason) error {
	ks := []string{s.ns.Task(id), s.ns.Active, s.ns.Terminal}
	n, err := stateScript.Run(ctx, s.rdb, ks,
		id, uint8(st), uint8(reason), nowMs(), flag(st.Counted()), flag(st.Terminal())).Int()
	if err != nil {
		return fmt.Errorf("store: update state %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Redis) setFields(ctx context.Context, id uint32, kv ...any) error {
	args := append([]any{id, nowMs()}, kv...)
	n, err := fieldsScript.Run(ctx, s.rdb, []string{s.ns.Task(id), s.ns.Terminal}, args...).Int()
	if err != nil {
		return fmt.Errorf("store: update task %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Redis) UpdateMode(ctx context.Context, id uint32, m task.Mode) error {
	return s.setFields(ctx, id, "mode", uint8(m))
}

func (s *Redis) UpdateMaxSpeed(ctx context.Context, id uint32, speed int64) error {
	return s.setFields(ctx, id, "max_speed", speed)
}

func (s *Redis) UpdateProgress(ctx context.Context, id uint32, p task.Progress) error {
	return s.setFields(ctx, id, "progress", encodeJSON(p))
}

func (s *Redis) UpdateTries(ctx context.Context, id uint32, tries int) error {
	return s.setFields(ctx, id, "tries", tries)
}

func msBound(t time.Time, open string) string {
	if t.IsZero() {
		return open
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func (s *Redis) SearchTask(ctx context.Context, uid uint64, f task.Filter) ([]uint32, error) {
	members, err := s.rdb.ZRangeByScore(ctx, s.ns.UID(uid), &redis.ZRangeBy{
		Min: msBound(f.After, "-inf"),
		Max: msBound(f.Before, "+inf"),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("store: search uid %d: %w", uid, err)
	}
	if len(members) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.SliceCmd, len(members))
	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, m := range members {
			id, _ := strconv.ParseUint(m, 10, 32)
			cmds[i] = p.HMGet(ctx, s.ns.Task(uint32(id)), "bundle", "state", "action", "mode")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: search uid %d: %w", uid, err)
	}
	out := make([]uint32, 0, len(members))
	for i, m := range members {
		v := cmds[i].Val()
		if len(v) < 4 || v[1] == nil {
			continue
		}
		id, _ := strconv.ParseUint(m, 10, 32)
		if matches(f, str(v[0]), task.State(parseInt(v[1])), task.Action(parseInt(v[2])), task.Mode(parseInt(v[3]))) {
			out = append(out, uint32(id))
		}
	}
	return out, nil
}

func (s *Redis) AppInfos(ctx context.Context) ([]uint64, error) {
	members, err := s.rdb.SMembers(ctx, s.ns.UIDs).Result()
	if err != nil {
		return nil, fmt.Errorf("store: app infos: %w", err)
	}
	out := make([]uint64, 0, len(members))
	for _, m := range members {
		if uid, err := strconv.ParseUint(m, 10, 64); err == nil {
			out = append(out, uid)
		}
	}
	return out, nil
}

func (s *Redis) LoadActive(ctx context.Context) ([]*QosInfo, error) {
	members, err := s.rdb.SMembers(ctx, s.ns.Active).Result()
	if err != nil {
		return nil, fmt.Errorf("store: load active: %w", err)
	}
	ids := make([]uint32, 0, len(members))
	cmds := make([]*redis.SliceCmd, 0, len(members))
	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, m := range members {
			id, perr := strconv.ParseUint(m, 10, 32)
			if perr != nil {
				continue
			}
			ids = append(ids, uint32(id))
			cmds = append(cmds, p.HMGet(ctx, s.ns.Task(uint32(id)), qosFields...))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: load active: %w", err)
	}
	out := make([]*QosInfo, 0, len(ids))
	for i, id := range ids {
		v := cmds[i].Val()
		if len(v) == 0 || v[0] == nil {
			continue
		}
		out = append(out, parseQos(id, v))
	}
	return out, nil
}

func (s *Redis) MaxPriority(ctx context.Context) (uint32, error) {
	v, err := s.rdb.Get(ctx, s.ns.Seq).Uint64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: max priority: %w", err)
	}
	if v > math.MaxUint32 {
		return math.MaxUint32, nil
	}
	return uint32(v), nil
}

func (s *Redis) Count(ctx context.Context) (int64, error) {
	n, err := s.rdb.ZCard(ctx, s.ns.Index).Result()
	if err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

func (s *Redis) Purge(ctx context.Context, before time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	members, err := s.rdb.ZRangeByScore(ctx, s.ns.Terminal, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(before.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("store: purge range: %w", err)
	}
	if len(members) == 0 {
		return 0, nil
	}
	owners := make([]*redis.StringCmd, len(members))
	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, m := range members {
			id, _ := strconv.ParseUint(m, 10, 32)
			owners[i] = p.HGet(ctx, s.ns.Task(uint32(id)), "uid")
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("store: purge owners: %w", err)
	}
	touched := make(map[uint64]struct{})
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for i, m := range members {
			id, _ := strconv.ParseUint(m, 10, 32)
			p.Del(ctx, s.ns.Task(uint32(id)))
			p.ZRem(ctx, s.ns.Index, m)
			p.ZRem(ctx, s.ns.Terminal, m)
			if uid, perr := strconv.ParseUint(owners[i].Val(), 10, 64); perr == nil {
				p.ZRem(ctx, s.ns.UID(uid), m)
				touched[uid] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: purge: %w", err)
	}
	for uid := range touched {
		if n, cerr := s.rdb.ZCard(ctx, s.ns.UID(uid)).Result(); cerr == nil && n == 0 {
			_ = s.rdb.SRem(ctx, s.ns.UIDs, strconv.FormatUint(uid, 10)).Err()
		}
	}
	return len(members), nil
}

// Close is a no-op; the caller owns the Redis client.
func (s *Redis) Close() error { return nil }

func str(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	}
	return ""
}

func parseInt(v any) int64 {
	n, _ := strconv.ParseInt(str(v), 10, 64)
	return n
}

// parseQos decodes an HMGET reply ordered as qosFields.
func parseQos(id uint32, v []any) *QosInfo {
	uid, _ := strconv.ParseUint(str(v[0]), 10, 64)
	return &QosInfo{
		TaskID:   id,
		UID:      uid,
		Bundle:   str(v[1]),
		Action:   task.Action(parseInt(v[2])),
		Mode:     task.Mode(parseInt(v[3])),
		Version:  task.Version(parseInt(v[4])),
		State:    task.State(parseInt(v[5])),
		Reason:   task.Reason(parseInt(v[6])),
		Priority: uint32(parseInt(v[7])),
		MaxSpeed: parseInt(v[8]),
		Network:  task.NetType(parseInt(v[9])),
		Metered:  str(v[10]) == "1",
		Roaming:  str(v[11]) == "1",
		Tries:    int(parseInt(v[12])),
		Ctime:    parseInt(v[13]),
	}
}
