package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every backend failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrNotFound is returned when no session has the given id.
var ErrNotFound = errors.New("session not found")

// ErrExpired is returned when the session exists but is expired or inactive.
var ErrExpired = errors.New("session expired")

// ErrDuplicateID is returned when a generated id collides with a stored one.
var ErrDuplicateID = errors.New("session id already exists")

const (
	touchStatusMissing int64 = 0
	touchStatusOK      int64 = 1
	touchStatusExpired int64 = 2
)

// KEYS[1] principal index, KEYS[2] principals set, KEYS[3] new session, KEYS[4] sequence,
// KEYS[5] optional pre-auth session.
// ARGV[1] session key prefix, ARGV[2] id, ARGV[3] principal, ARGV[4] now ms, ARGV[5] ttl ms,
// ARGV[6] max sessions, ARGV[7] prevent flag, ARGV[8] ip, ARGV[9] user agent, ARGV[10] index prefix.
const createSessionScript = `
local prefix = ARGV[1]
local now = tonumber(ARGV[4])
local max_sessions = tonumber(ARGV[6])

if redis.call("EXISTS", KEYS[3]) == 1 then
  return {err="duplicate"}
end

local pre_sid = nil
if KEYS[5] then
  pre_sid = string.sub(KEYS[5], #prefix + 1)
end

local live = {}
for _, sid in ipairs(redis.call("ZRANGE", KEYS[1], 0, -1)) do
  local key = prefix .. sid
  local h = redis.call("HMGET", key, "exp", "last", "ttl")
  if not h[1] or h[1] == "1" then
    redis.call("ZREM", KEYS[1], sid)
  elseif now - tonumber(h[2]) > tonumber(h[3]) then
    redis.call("HSET", key, "exp", "1")
    redis.call("ZREM", KEYS[1], sid)
  elseif sid ~= pre_sid then
    table.insert(live, {sid, tonumber(h[2])})
  end
end

local evicted = {}
if max_sessions > 0 and #live >= max_sessions then
  if ARGV[7] == "1" then
    return {0, 0}
  end
  while #live >= max_sessions do
    -- ZRANGE order is insertion order, so strict < keeps the oldest on ties
    local victim = 1
    for i = 2, #live do
      if live[i][2] < live[victim][2] then
        victim = i
      end
    end
    local sid = live[victim][1]
    redis.call("HSET", prefix .. sid, "exp", "1")
    redis.call("ZREM", KEYS[1], sid)
    table.insert(evicted, sid)
    table.remove(live, victim)
  end
end

local rotated = 0
if pre_sid then
  local pre = redis.call("HMGET", KEYS[5], "pid", "exp")
  if pre[2] == "0" then
    redis.call("HSET", KEYS[5], "exp", "1")
    if pre[1] ~= "" then
      local pre_idx = ARGV[10] .. pre[1]
      redis.call("ZREM", pre_idx, pre_sid)
      if redis.call("ZCARD", pre_idx) == 0 then
        redis.call("SREM", KEYS[2], pre[1])
      end
    end
    rotated = 1
  end
end

local seq = tostring(redis.call("INCR", KEYS[4]))
redis.call("HSET", KEYS[3],
  "pid", ARGV[3], "created", ARGV[4], "last", ARGV[4], "ttl", ARGV[5],
  "exp", "0", "seq", seq, "ip", ARGV[8], "ua", ARGV[9])
redis.call("PEXPIRE", KEYS[3], ARGV[5])
redis.call("ZADD", KEYS[1], seq, ARGV[2])
redis.call("SADD", KEYS[2], ARGV[3])

local out = {1, rotated}
for _, sid in ipairs(evicted) do
  table.insert(out, sid)
end
return out
`

// KEYS[1] session, KEYS[2] principals set. ARGV[1] now ms, ARGV[2] index prefix, ARGV[3] id.
const touchSessionScript = `
local h = redis.call("HMGET", KEYS[1], "pid", "created", "last", "ttl", "exp", "ip", "ua", "seq")
if not h[5] then
  return {0}
end
if h[5] == "1" then
  return {2}
end
local now = tonumber(ARGV[1])
local last = tonumber(h[3])
if now - last > tonumber(h[4]) then
  redis.call("HSET", KEYS[1], "exp", "1")
  if h[1] ~= "" then
    local idx = ARGV[2] .. h[1]
    redis.call("ZREM", idx, ARGV[3])
    if redis.call("ZCARD", idx) == 0 then
      redis.call("SREM", KEYS[2], h[1])
    end
  end
  return {2}
end
if now > last then
  last = now
end
redis.call("HSET", KEYS[1], "last", tostring(last))
redis.call("PEXPIRE", KEYS[1], h[4])
return {1, h[1], h[2], tostring(last), h[4], h[6], h[7], h[8]}
`

// KEYS[1] session, KEYS[2] principals set. ARGV[1] index prefix, ARGV[2] id.
const expireSessionScript = `
local h = redis.call("HMGET", KEYS[1], "pid", "exp")
if not h[2] or h[2] == "1" then
  return 0
end
redis.call("HSET", KEYS[1], "exp", "1")
if h[1] ~= "" then
  local idx = ARGV[1] .. h[1]
  redis.call("ZREM", idx, ARGV[2])
  if redis.call("ZCARD", idx) == 0 then
    redis.call("SREM", KEYS[2], h[1])
  end
end
return 1
`

// KEYS[1] principal index, KEYS[2] principals set. ARGV[1] session key prefix, ARGV[2] principal.
const expireAllScript = `
local n = 0
for _, sid in ipairs(redis.call("ZRANGE", KEYS[1], 0, -1)) do
  local key = ARGV[1] .. sid
  if redis.call("HGET", key, "exp") == "0" then
    redis.call("HSET", key, "exp", "1")
    n = n + 1
  end
  redis.call("ZREM", KEYS[1], sid)
end
redis.call("SREM", KEYS[2], ARGV[2])
return n
`

var (
	createSessionLua = redis.NewScript(createSessionScript)
	touchSessionLua  = redis.NewScript(touchSessionScript)
	expireSessionLua = redis.NewScript(expireSessionScript)
	expireAllLua     = redis.NewScript(expireAllScript)
)

// Store is the Redis-backed session store.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a session [Store]. prefix namespaces every key; it defaults to "ss".
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "ss"
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) sessionPrefix() string { return s.prefix + ":s:" }
func (s *Store) indexPrefix() string   { return s.prefix + ":p:" }
func (s *Store) principalsKey() string { return s.prefix + ":principals" }
func (s *Store) seqKey() string        { return s.prefix + ":seq" }

func (s *Store) key(id string) string { return s.sessionPrefix() + id }

func (s *Store) indexKey(principalID string) string { return s.indexPrefix() + principalID }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}

// Create stores an authenticated session while enforcing the per-principal cap.
func (s *Store) Create(ctx context.Context, p CreateParams) (CreateResult, error) {
	if p.ID == "" || p.PrincipalID == "" {
		return CreateResult{}, errors.New("session: id and principal required")
	}
	if p.MaxInactive <= 0 {
		return CreateResult{}, errors.New("session: max inactive interval must be positive")
	}

	keys := []string{s.indexKey(p.PrincipalID), s.principalsKey(), s.key(p.ID), s.seqKey()}
	if p.PreAuthID != "" && p.PreAuthID != p.ID {
		keys = append(keys, s.key(p.PreAuthID))
	}
	prevent := "0"
	if p.PreventLogin {
		prevent = "1"
	}

	res, err := createSessionLua.Run(ctx, s.redis, keys,
		s.sessionPrefix(),
		p.ID,
		p.PrincipalID,
		p.Now.UnixMilli(),
		p.MaxInactive.Milliseconds(),
		p.MaxSessions,
		prevent,
		p.ClientIP,
		p.UserAgent,
		s.indexPrefix(),
	).Slice()
	if err != nil {
		if err.Error() == "duplicate" {
			return CreateResult{}, ErrDuplicateID
		}
		return CreateResult{}, unavailable(err)
	}
	if len(res) < 2 {
		return CreateResult{}, unavailable(errors.New("unexpected create result"))
	}

	created, _ := res[0].(int64)
	rotated, _ := res[1].(int64)
	out := CreateResult{Created: created == 1, Rotated: rotated == 1}
	for _, v := range res[2:] {
		if sid, ok := v.(string); ok {
			out.Evicted = append(out.Evicted, sid)
		}
	}
	return out, nil
}

// CreateAnonymous stores a pre-authentication session that no principal owns.
func (s *Store) CreateAnonymous(ctx context.Context, id string, now time.Time, maxInactive time.Duration) error {
	if id == "" || maxInactive <= 0 {
		return errors.New("session: id and positive max inactive interval required")
	}
	key := s.key(id)
	ms := strconv.FormatInt(now.UnixMilli(), 10)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"pid", "", "created", ms, "last", ms,
			"ttl", maxInactive.Milliseconds(), "exp", "0", "seq", 0, "ip", "", "ua", "")
		pipe.PExpire(ctx, key, maxInactive)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Touch refreshes the last-request time and returns the updated record.
// Expired or inactive sessions yield ErrExpired and stay expired.
func (s *Store) Touch(ctx context.Context, id string, now time.Time) (Record, error) {
	res, err := touchSessionLua.Run(ctx, s.redis,
		[]string{s.key(id), s.principalsKey()},
		now.UnixMilli(),
		s.indexPrefix(),
		id,
	).Slice()
	if err != nil {
		return Record{}, unavailable(err)
	}
	if len(res) == 0 {
		return Record{}, unavailable(errors.New("empty touch result"))
	}

	status, _ := res[0].(int64)
	switch status {
	case touchStatusMissing:
		return Record{}, ErrNotFound
	case touchStatusExpired:
		return Record{}, ErrExpired
	case touchStatusOK:
	default:
		return Record{}, unavailable(fmt.Errorf("unexpected touch status %d", status))
	}
	if len(res) != 8 {
		return Record{}, unavailable(errors.New("short touch result"))
	}

	fields := map[string]string{"exp": "0"}
	for i, name := range []string{"pid", "created", "last", "ttl", "ip", "ua", "seq"} {
		v, _ := res[i+1].(string)
		fields[name] = v
	}
	return decodeRecord(id, fields)
}

// Get reads a session without touching it. Expired tombstones are returned
// with Expired set.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return Record{}, unavailable(err)
	}
	if len(fields) == 0 {
		return Record{}, ErrNotFound
	}
	return decodeRecord(id, fields)
}

// Expire marks a session expired. It reports false when the session is
// missing or already expired.
func (s *Store) Expire(ctx context.Context, id string) (bool, error) {
	n, err := expireSessionLua.Run(ctx, s.redis,
		[]string{s.key(id), s.principalsKey()},
		s.indexPrefix(),
		id,
	).Int()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

// ExpireAllForPrincipal expires every indexed session of principalID in one
// atomic step and returns how many were live.
func (s *Store) ExpireAllForPrincipal(ctx context.Context, principalID string) (int, error) {
	n, err := expireAllLua.Run(ctx, s.redis,
		[]string{s.indexKey(principalID), s.principalsKey()},
		s.sessionPrefix(),
		principalID,
	).Int()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// ListForPrincipal returns the live sessions of principalID, most recent
// activity first. It never mutates the store.
func (s *Store) ListForPrincipal(ctx context.Context, principalID string, now time.Time) ([]Record, error) {
	ids, err := s.redis.ZRange(ctx, s.indexKey(principalID), 0, -1).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	records, err := s.fetch(ctx, ids)
	if err != nil {
		return nil, err
	}
	return liveSorted(records, now), nil
}

// ListAll returns the live sessions of every indexed principal, most recent
// activity first.
func (s *Store) ListAll(ctx context.Context, now time.Time) ([]Record, error) {
	principals, err := s.redis.SMembers(ctx, s.principalsKey()).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(principals) == 0 {
		return []Record{}, nil
	}

	cmds := make([]*redis.StringSliceCmd, len(principals))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, pid := range principals {
			cmds[i] = pipe.ZRange(ctx, s.indexKey(pid), 0, -1)
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}

	var ids []string
	for _, cmd := range cmds {
		ids = append(ids, cmd.Val()...)
	}
	records, err := s.fetch(ctx, ids)
	if err != nil {
		return nil, err
	}
	return liveSorted(records, now), nil
}

func (s *Store) fetch(ctx context.Context, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.key(id))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}

	out := make([]Record, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// reclaimed by Redis expiry after the index read
			continue
		}
		rec, err := decodeRecord(ids[i], fields)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func liveSorted(records []Record, now time.Time) []Record {
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if rec.Live(now) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastRequestAt.Equal(out[j].LastRequestAt) {
			return out[i].LastRequestAt.After(out[j].LastRequestAt)
		}
		return out[i].seq > out[j].seq
	})
	return out
}

func decodeRecord(id string, fields map[string]string) (Record, error) {
	created, err := strconv.ParseInt(fields["created"], 10, 64)
	if err != nil {
		return Record{}, unavailable(fmt.Errorf("corrupt created field: %v", err))
	}
	last, err := strconv.ParseInt(fields["last"], 10, 64)
	if err != nil {
		return Record{}, unavailable(fmt.Errorf("corrupt last field: %v", err))
	}
	ttl, err := strconv.ParseInt(fields["ttl"], 10, 64)
	if err != nil {
		return Record{}, unavailable(fmt.Errorf("corrupt ttl field: %v", err))
	}
	seq, _ := strconv.ParseInt(fields["seq"], 10, 64)

	return Record{
		ID:            id,
		PrincipalID:   fields["pid"],
		CreatedAt:     time.UnixMilli(created).UTC(),
		LastRequestAt: time.UnixMilli(last).UTC(),
		MaxInactive:   time.Duration(ttl) * time.Millisecond,
		Expired:       fields["exp"] == "1",
		ClientIP:      fields["ip"],
		UserAgent:     fields["ua"],
		seq:           seq,
	}, nil
}
