package token

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const purgeBatch = 256

// saveTokenLua inserts a token hash and its indexes, refusing duplicates.
// KEYS[1] token hash, KEYS[2] principal/type index, KEYS[3] type/email index, KEYS[4] expiry index
// ARGV: value, type, principal, email, created ms, expires ms
var saveTokenLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return {err='duplicate'}
end
redis.call('HSET', KEYS[1],
  'type', ARGV[2], 'pid', ARGV[3], 'email', ARGV[4],
  'created', ARGV[5], 'expires', ARGV[6], 'confirmed', '', 'used', '0')
redis.call('ZADD', KEYS[2], ARGV[5], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[5], ARGV[1])
redis.call('ZADD', KEYS[4], ARGV[6], ARGV[1])
return 1
`)

// confirmTokenLua is the used=false -> true compare-and-set.
// KEYS[1] token hash, KEYS[2] used index
// ARGV: now ms, expected type, value
var confirmTokenLua = redis.NewScript(`
local h = redis.call('HMGET', KEYS[1], 'type', 'used', 'expires')
if not h[1] then
  return {err='not_found'}
end
if h[2] == '1' then
  return {err='used'}
end
if tonumber(ARGV[1]) >= tonumber(h[3]) then
  return {err='expired'}
end
if h[1] ~= ARGV[2] then
  return {err='type_mismatch'}
end
redis.call('HSET', KEYS[1], 'used', '1', 'confirmed', ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[1], ARGV[3])
return redis.call('HGETALL', KEYS[1])
`)

// invalidateLiveLua marks every live member of a principal/type index used.
// KEYS[1] principal/type index, KEYS[2] used index
// ARGV: token hash prefix, now ms
var invalidateLiveLua = redis.NewScript(`
local n = 0
local members = redis.call('ZRANGE', KEYS[1], 0, -1)
for _, v in ipairs(members) do
  local k = ARGV[1] .. v
  local h = redis.call('HMGET', k, 'used', 'expires', 'created')
  if h[1] == '0' and tonumber(h[2]) > tonumber(ARGV[2]) then
    redis.call('HSET', k, 'used', '1')
    redis.call('ZADD', KEYS[2], h[3], v)
    n = n + 1
  end
end
return n
`)

// purgeByScoreLua deletes up to ARGV[5] tokens whose score in KEYS[1] is at
// most ARGV[4] (a ZRANGEBYSCORE bound) and unlinks them from every index.
// KEYS[1] driving index, KEYS[2] the other of expiry/used index
// ARGV: token hash prefix, principal index prefix, email index prefix, max bound, limit
var purgeByScoreLua = redis.NewScript(`
local victims = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[4], 'LIMIT', 0, tonumber(ARGV[5]))
local n = 0
for _, v in ipairs(victims) do
  local k = ARGV[1] .. v
  local h = redis.call('HMGET', k, 'pid', 'type', 'email')
  if h[1] then
    redis.call('ZREM', ARGV[2] .. h[1] .. ':' .. h[2], v)
    redis.call('ZREM', ARGV[3] .. h[2] .. ':' .. h[3], v)
    redis.call('DEL', k)
    n = n + 1
  end
  redis.call('ZREM', KEYS[1], v)
  redis.call('ZREM', KEYS[2], v)
end
return {n, #victims}
`)

// RedisStore keeps tokens as hashes with sorted-set indexes:
//
//	<prefix>:t:<value>           hash
//	<prefix>:pt:<principal>:<type> zset, score = created ms
//	<prefix>:et:<type>:<email>     zset, score = created ms
//	<prefix>:exp                   zset, score = expires ms
//	<prefix>:used                  zset, score = confirmed (or created) ms
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "vt"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) tokenPrefix() string          { return s.prefix + ":t:" }
func (s *RedisStore) principalIndexPrefix() string { return s.prefix + ":pt:" }
func (s *RedisStore) emailIndexPrefix() string     { return s.prefix + ":et:" }
func (s *RedisStore) tokenKey(value string) string { return s.tokenPrefix() + value }
func (s *RedisStore) expiryKey() string            { return s.prefix + ":exp" }
func (s *RedisStore) usedKey() string              { return s.prefix + ":used" }

func (s *RedisStore) principalIndexKey(principalID string, typ Type) string {
	return s.principalIndexPrefix() + principalID + ":" + string(typ)
}

func (s *RedisStore) emailIndexKey(email string, typ Type) string {
	return s.emailIndexPrefix() + string(typ) + ":" + NormalizeEmail(email)
}

func (s *RedisStore) Save(ctx context.Context, tok Token) error {
	if tok.Value == "" || !tok.Type.Valid() {
		return errors.New("token: value and valid type required")
	}
	keys := []string{
		s.tokenKey(tok.Value),
		s.principalIndexKey(tok.PrincipalID, tok.Type),
		s.emailIndexKey(tok.Email, tok.Type),
		s.expiryKey(),
	}
	_, err := saveTokenLua.Run(ctx, s.redis, keys,
		tok.Value,
		string(tok.Type),
		tok.PrincipalID,
		NormalizeEmail(tok.Email),
		tok.CreatedAt.UnixMilli(),
		tok.ExpiresAt.UnixMilli(),
	).Result()
	if err != nil {
		if err.Error() == "duplicate" {
			return ErrDuplicate
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Find(ctx context.Context, value string) (Token, error) {
	fields, err := s.redis.HGetAll(ctx, s.tokenKey(value)).Result()
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return Token{}, ErrNotFound
	}
	return decodeFields(value, fields)
}

func (s *RedisStore) Confirm(ctx context.Context, value string, expected Type, now time.Time) (Token, error) {
	res, err := confirmTokenLua.Run(ctx, s.redis,
		[]string{s.tokenKey(value), s.usedKey()},
		now.UnixMilli(),
		string(expected),
		value,
	).Result()
	if err != nil {
		switch err.Error() {
		case "not_found":
			return Token{}, ErrNotFound
		case "used":
			return Token{}, ErrUsed
		case "expired":
			return Token{}, ErrExpired
		case "type_mismatch":
			return Token{}, ErrTypeMismatch
		default:
			return Token{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	flat, ok := res.([]interface{})
	if !ok || len(flat)%2 != 0 {
		return Token{}, fmt.Errorf("%w: unexpected lua result type", ErrUnavailable)
	}
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		fields[k] = v
	}
	return decodeFields(value, fields)
}

func (s *RedisStore) InvalidateLive(ctx context.Context, principalID string, typ Type, now time.Time) (int, error) {
	n, err := invalidateLiveLua.Run(ctx, s.redis,
		[]string{s.principalIndexKey(principalID, typ), s.usedKey()},
		s.tokenPrefix(),
		now.UnixMilli(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

func (s *RedisStore) CountCreatedSince(ctx context.Context, principalID string, typ Type, since time.Time) (int, error) {
	return s.countSince(ctx, s.principalIndexKey(principalID, typ), since)
}

func (s *RedisStore) CountCreatedForEmailSince(ctx context.Context, email string, typ Type, since time.Time) (int, error) {
	return s.countSince(ctx, s.emailIndexKey(email, typ), since)
}

func (s *RedisStore) countSince(ctx context.Context, key string, since time.Time) (int, error) {
	n, err := s.redis.ZCount(ctx, key, strconv.FormatInt(since.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(n), nil
}

func (s *RedisStore) ListByPrincipal(ctx context.Context, principalID string, typ Type) ([]Token, error) {
	values, err := s.redis.ZRange(ctx, s.principalIndexKey(principalID, typ), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(values) == 0 {
		return []Token{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(values))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, v := range values {
			cmds[i] = pipe.HGetAll(ctx, s.tokenKey(v))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out := make([]Token, 0, len(values))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// purged between the index read and the fetch
			continue
		}
		tok, err := decodeFields(values[i], fields)
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	return out, nil
}

func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return s.purge(ctx, s.expiryKey(), s.usedKey(), strconv.FormatInt(now.UnixMilli(), 10))
}

func (s *RedisStore) DeleteUsedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	// exclusive bound: strictly older than cutoff
	return s.purge(ctx, s.usedKey(), s.expiryKey(), "("+strconv.FormatInt(cutoff.UnixMilli(), 10))
}

func (s *RedisStore) purge(ctx context.Context, driving, other, max string) (int, error) {
	total := 0
	for {
		res, err := purgeByScoreLua.Run(ctx, s.redis,
			[]string{driving, other},
			s.tokenPrefix(),
			s.principalIndexPrefix(),
			s.emailIndexPrefix(),
			max,
			purgeBatch,
		).Int64Slice()
		if err != nil {
			return total, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if len(res) != 2 {
			return total, fmt.Errorf("%w: unexpected lua result", ErrUnavailable)
		}
		total += int(res[0])
		if res[1] < purgeBatch {
			return total, nil
		}
	}
}

func decodeFields(value string, fields map[string]string) (Token, error) {
	created, err := parseMillis(fields["created"])
	if err != nil {
		return Token{}, fmt.Errorf("%w: created: %v", ErrUnavailable, err)
	}
	expires, err := parseMillis(fields["expires"])
	if err != nil {
		return Token{}, fmt.Errorf("%w: expires: %v", ErrUnavailable, err)
	}

	tok := Token{
		Value:       value,
		Type:        Type(fields["type"]),
		PrincipalID: fields["pid"],
		Email:       fields["email"],
		CreatedAt:   created,
		ExpiresAt:   expires,
		Used:        fields["used"] == "1",
	}
	if raw := fields["confirmed"]; raw != "" {
		confirmed, err := parseMillis(raw)
		if err != nil {
			return Token{}, fmt.Errorf("%w: confirmed: %v", ErrUnavailable, err)
		}
		tok.ConfirmedAt = &confirmed
	}
	return tok, nil
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
