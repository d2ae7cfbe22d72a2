package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	passcodeEmailPrefix = "otp:email:"
	passcodeCodePrefix  = "otp:code:"
)

// The per-email key holds "<code>:<created unix ms>". The per-code key is a
// sorted set of the emails holding that code, scored by creation time, so the
// most recent holder is found first. Each script runs atomically on the
// server so concurrent requests from any number of instances observe whole
// transitions only.
var (
	putPasscodeScript = redis.NewScript(`
local prev = redis.call('GET', KEYS[1])
if prev then
  local sep = string.find(prev, ':', 1, true)
  if sep then
    redis.call('ZREM', ARGV[4] .. string.sub(prev, 1, sep - 1), ARGV[1])
  end
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[5], ARGV[1])
if redis.call('PTTL', KEYS[2]) < tonumber(ARGV[3]) then
  redis.call('PEXPIRE', KEYS[2], ARGV[3])
end
return 1
`)

	findPasscodeByCodeScript = redis.NewScript(`
local members = redis.call('ZREVRANGE', KEYS[1], 0, -1)
for _, email in ipairs(members) do
  local value = redis.call('GET', ARGV[1] .. email)
  if value then
    local sep = string.find(value, ':', 1, true)
    if sep and string.sub(value, 1, sep - 1) == ARGV[2] then
      return {email, value}
    end
  end
end
return false
`)

	deletePasscodeByCodeScript = redis.NewScript(`
local value = redis.call('GET', KEYS[1])
if not value then return 0 end
local sep = string.find(value, ':', 1, true)
if not sep or string.sub(value, 1, sep - 1) ~= ARGV[2] then return 0 end
local created = tonumber(string.sub(value, sep + 1))
if not created or created <= tonumber(ARGV[3]) then return 0 end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`)

	deletePasscodeByEmailScript = redis.NewScript(`
local value = redis.call('GET', KEYS[1])
if not value then return 0 end
local sep = string.find(value, ':', 1, true)
if sep then
  redis.call('ZREM', ARGV[2] .. string.sub(value, 1, sep - 1), ARGV[1])
end
redis.call('DEL', KEYS[1])
return 1
`)
)

// RedisPasscodeStore keeps passcodes in Redis with native key expiry.
type RedisPasscodeStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisPasscodeStore constructs the store.
func NewRedisPasscodeStore(client *redis.Client, ttl time.Duration, now func() time.Time) *RedisPasscodeStore {
	if ttl <= 0 {
		ttl = DefaultPasscodeTTL
	}
	if now == nil {
		now = time.Now
	}
	return &RedisPasscodeStore{client: client, ttl: ttl, now: now}
}

// Put replaces the record held for rec.Email.
func (s *RedisPasscodeStore) Put(ctx context.Context, rec PasscodeRecord) error {
	if rec.Email == "" || rec.Code == "" {
		return fmt.Errorf("auth: put passcode: %w", ErrValidation)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	remaining := rec.ExpiresAt(s.ttl).Sub(s.now()).Milliseconds()
	if remaining < 1 {
		// Already expired: the replace still removes the previous record.
		return s.DeleteByEmail(ctx, rec.Email)
	}
	created := strconv.FormatInt(rec.CreatedAt.UnixMilli(), 10)
	err := putPasscodeScript.Run(ctx, s.client,
		[]string{passcodeEmailPrefix + rec.Email, passcodeCodePrefix + rec.Code},
		rec.Email, rec.Code+":"+created, remaining, passcodeCodePrefix, created,
	).Err()
	if err != nil {
		return fmt.Errorf("auth: put passcode: %w", err)
	}
	return nil
}

// FindByCode returns the live record currently holding code.
func (s *RedisPasscodeStore) FindByCode(ctx context.Context, code string) (*PasscodeRecord, error) {
	res, err := findPasscodeByCodeScript.Run(ctx, s.client,
		[]string{passcodeCodePrefix + code},
		passcodeEmailPrefix, code,
	).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("auth: find passcode by code: %w", err)
	}
	if len(res) != 2 {
		return nil, ErrNotFound
	}
	return s.decode(res[0], res[1])
}

// FindByEmail returns the live record held for email.
func (s *RedisPasscodeStore) FindByEmail(ctx context.Context, email string) (*PasscodeRecord, error) {
	value, err := s.client.Get(ctx, passcodeEmailPrefix+email).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("auth: find passcode by email: %w", err)
	}
	return s.decode(email, value)
}

// DeleteByEmail removes the record held for email, if any.
func (s *RedisPasscodeStore) DeleteByEmail(ctx context.Context, email string) error {
	err := deletePasscodeByEmailScript.Run(ctx, s.client,
		[]string{passcodeEmailPrefix + email},
		email, passcodeCodePrefix,
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("auth: delete passcode by email: %w", err)
	}
	return nil
}

// DeleteByCode removes the live record held for email if it still holds code.
func (s *RedisPasscodeStore) DeleteByCode(ctx context.Context, email, code string) (bool, error) {
	cutoff := s.now().Add(-s.ttl).UnixMilli()
	n, err := deletePasscodeByCodeScript.Run(ctx, s.client,
		[]string{passcodeEmailPrefix + email, passcodeCodePrefix + code},
		email, code, cutoff,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("auth: delete passcode by code: %w", err)
	}
	return n == 1, nil
}

func (s *RedisPasscodeStore) decode(email, value string) (*PasscodeRecord, error) {
	code, created, ok := strings.Cut(value, ":")
	if !ok {
		return nil, ErrNotFound
	}
	ms, err := strconv.ParseInt(created, 10, 64)
	if err != nil {
		return nil, ErrNotFound
	}
	rec := &PasscodeRecord{Email: email, Code: code, CreatedAt: time.UnixMilli(ms)}
	if !rec.Live(s.now(), s.ttl) {
		return nil, ErrNotFound
	}
	return rec, nil
}

var _ PasscodeStore = (*RedisPasscodeStore)(nil)
