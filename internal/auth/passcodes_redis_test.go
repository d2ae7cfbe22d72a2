package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisPasscodes(t testing.TB, clock *fakeClock) (*RedisPasscodeStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisPasscodeStore(client, DefaultPasscodeTTL, clock.Now), mr
}

func TestRedisPasscodePutAndFind(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store, mr := newRedisPasscodes(t, clock)

	require.NoError(t, store.Put(ctx, PasscodeRecord{Email: "a@x.io", Code: "123456", CreatedAt: clock.Now()}))

	rec, err := store.FindByEmail(ctx, "a@x.io")
	require.NoError(t, err)
	assert.Equal(t, "123456", rec.Code)
	assert.True(t, rec.CreatedAt.Equal(clock.Now()))

	rec, err = store.FindByCode(ctx, "123456")
	require.NoError(t, err)
	assert.Equal(t, "a@x.io", rec.Email)

	assert.Equal(t, DefaultPasscodeTTL, mr.TTL(passcodeEmailPrefix+"a@x.io"))
}

func TestRedisPasscodePutReplaces(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store, _ := newRedisPasscodes(t, clock)

	require.NoError(t, store.Put(ctx, PasscodeRecord{Email: "a@x.io", Code: "111111", CreatedAt: clock.Now()}))
	clock.Advance(time.Second)
	require.NoError(t, store.Put(ctx, PasscodeRecord{Email: "a@x.io", Code: "222222", CreatedAt: clock.Now()}))

	_, err := store.FindByCode(ctx, "111111")
	assert.ErrorIs(t, err, ErrNotFound)

	rec, err := store.FindByEmail(ctx, "a@x.io")
	require.NoError(t, err)
	assert.Equal(t, "222222", rec.Code)

	removed, err := store.DeleteByCode(ctx, "a@x.io", "111111")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRedisPasscodeLazyExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store, _ := newRedisPasscodes(t, clock)

	require.NoError(t, store.Put(ctx, PasscodeRecord{Email: "a@x.io", Code: "123456", CreatedAt: clock.Now()}))

	clock.Advance(599 * time.Second)
	_, err := store.FindByCode(ctx, "123456")
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = store.FindByCode(ctx, "123456")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.FindByEmail(ctx, "a@x.io")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisPasscodeServerExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store, mr := newRedisPasscodes(t, clock)

	require.NoError(t, store.Put(ctx, PasscodeRecord{Email: "a@x.io", Code: "123456", CreatedAt: clock.Now()}))
	mr.FastForward(DefaultPasscodeTTL)

	assert.False(t, mr.Exists(passcodeEmailPrefix+"a@x.io"))
	_, err := store.FindByCode(ctx, "123456")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisPasscodePutExpiredRecord(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store, _ := newRedisPasscodes(t, clock)

	require.NoError(t, store.Put(ctx, PasscodeRecord{Email: "a@x.io", Code: "111111", CreatedAt: clock.Now()}))
	stale := clock.Now().Add(-DefaultPasscodeTTL)
	require.NoError(t, store.Put(ctx, PasscodeRecord{Email: "a@x.io", Code: "222222", CreatedAt: stale}))

	_, err := store.FindByEmail(ctx, "a@x.io")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.FindByCode(ctx, "111111")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisPasscodeSharedCodeMostRecent(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store, _ := newRedisPasscodes(t, clock)

	require.NoError(t, store.Put(ctx, PasscodeRecord{Email: "a@x.io", Code: "424242", CreatedAt: clock.Now()}))
	clock.Advance(time.Second)
	require.NoError(t, store.Put(ctx, PasscodeRecord{Email: "b@x.io", Code: "424242", CreatedAt: clock.Now()}))

	rec, err := store.FindByCode(ctx, "424242")
	require.NoError(t, err)
	assert.Equal(t, "b@x.io", rec.Email)

	removed, err := store.DeleteByCode(ctx, "b@x.io", "424242")
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = store.FindByEmail(ctx, "b@x.io")
	assert.ErrorIs(t, err, ErrNotFound)

	rec, err = store.FindByCode(ctx, "424242")
	require.NoError(t, err)
	assert.Equal(t, "a@x.io", rec.Email)
}

func TestRedisPasscodeDeleteByCodeOnce(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store, _ := newRedisPasscodes(t, clock)

	require.NoError(t, store.Put(ctx, PasscodeRecord{Email: "a@x.io", Code: "123456", CreatedAt: clock.Now()}))

	removed, err := store.DeleteByCode(ctx, "a@x.io", "123456")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.DeleteByCode(ctx, "a@x.io", "123456")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRedisPasscodeDeleteByCodeChecksEmail(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store, _ := newRedisPasscodes(t, clock)

	require.NoError(t, store.Put(ctx, PasscodeRecord{Email: "a@x.io", Code: "424242", CreatedAt: clock.Now()}))
	clock.Advance(time.Second)
	require.NoError(t, store.Put(ctx, PasscodeRecord{Email: "b@x.io", Code: "424242", CreatedAt: clock.Now()}))

	removed, err := store.DeleteByCode(ctx, "c@x.io", "424242")
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = store.DeleteByCode(ctx, "a@x.io", "424242")
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = store.FindByEmail(ctx, "a@x.io")
	assert.ErrorIs(t, err, ErrNotFound)
	rec, err := store.FindByEmail(ctx, "b@x.io")
	require.NoError(t, err)
	assert.Equal(t, "424242", rec.Code)
}

func TestRedisPasscodeDeleteByCodeSkipsExpired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store, _ := newRedisPasscodes(t, clock)

	require.NoError(t, store.Put(ctx, PasscodeRecord{Email: "a@x.io", Code: "123456", CreatedAt: clock.Now()}))
	clock.Advance(DefaultPasscodeTTL)

	removed, err := store.DeleteByCode(ctx, "a@x.io", "123456")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRedisPasscodeDeleteByEmail(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store, mr := newRedisPasscodes(t, clock)

	require.NoError(t, store.Put(ctx, PasscodeRecord{Email: "a@x.io", Code: "123456", CreatedAt: clock.Now()}))
	require.NoError(t, store.DeleteByEmail(ctx, "a@x.io"))
	require.NoError(t, store.DeleteByEmail(ctx, "missing@x.io"))

	assert.False(t, mr.Exists(passcodeEmailPrefix+"a@x.io"))
	_, err := store.FindByCode(ctx, "123456")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisPasscodePutValidates(t *testing.T) {
	store, _ := newRedisPasscodes(t, newFakeClock())
	err := store.Put(context.Background(), PasscodeRecord{Email: "a@x.io"})
	assert.ErrorIs(t, err, ErrValidation)
}
