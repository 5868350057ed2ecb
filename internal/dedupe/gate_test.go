package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T, processingTTL, dedupeTTL time.Duration, failOpen bool) (*Gate, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewGate(rdb, processingTTL, dedupeTTL, failOpen), mr
}

func TestKeyIsStableAndIdentitySensitive(t *testing.T) {
	k1 := Key("crt-1", 42, "call-1")
	k2 := Key("crt-1", 42, "call-1")
	k3 := Key("crt-1", 42, "call-2")

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Len(t, k1, 40)
}

func TestCheckAdmitsNewRequestAndMarksProcessing(t *testing.T) {
	gate, _ := newTestGate(t, time.Minute, 5*time.Minute, true)
	ctx := context.Background()

	d := gate.Check(ctx, "crt-1", 42, "call-1")
	assert.True(t, d.Admit)
	assert.Equal(t, "new", d.Reason)

	rec, err := gate.Load(ctx, d.Key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusProcessing, rec.Status)
	assert.Equal(t, "crt-1", rec.CRTObjectID)
	assert.Equal(t, 42, rec.CustomerID)
}

func TestCheckRejectsWhileProcessing(t *testing.T) {
	gate, _ := newTestGate(t, time.Minute, 5*time.Minute, true)
	ctx := context.Background()

	first := gate.Check(ctx, "crt-1", 42, "call-1")
	require.True(t, first.Admit)

	second := gate.Check(ctx, "crt-1", 42, "call-1")
	assert.False(t, second.Admit)
	assert.Equal(t, string(StatusProcessing), second.Reason)
}

func TestCheckRejectsRecentlyProcessed(t *testing.T) {
	gate, _ := newTestGate(t, time.Minute, 5*time.Minute, true)
	ctx := context.Background()

	d := gate.Check(ctx, "crt-1", 42, "call-1")
	require.True(t, d.Admit)
	gate.Complete(ctx, d.Key, Result{OK: true, Status: "sent", HTTPCode: 200})

	dup := gate.Check(ctx, "crt-1", 42, "call-1")
	assert.False(t, dup.Admit)
	assert.Equal(t, string(StatusProcessed), dup.Reason)
}

func TestCheckRejectsFreshFailureThenAdmitsRetry(t *testing.T) {
	gate, _ := newTestGate(t, 30*time.Millisecond, 5*time.Minute, true)
	ctx := context.Background()

	d := gate.Check(ctx, "crt-1", 42, "call-1")
	require.True(t, d.Admit)
	gate.Complete(ctx, d.Key, Result{OK: false, Status: "upstream_failed"})

	// Inside the short window the failure still blocks.
	blocked := gate.Check(ctx, "crt-1", 42, "call-1")
	assert.False(t, blocked.Admit)
	assert.Equal(t, string(StatusFailed), blocked.Reason)

	time.Sleep(40 * time.Millisecond)

	retry := gate.Check(ctx, "crt-1", 42, "call-1")
	assert.True(t, retry.Admit)
}

func TestMarkWaitingAdmitsNextCallback(t *testing.T) {
	gate, _ := newTestGate(t, time.Minute, 5*time.Minute, true)
	ctx := context.Background()

	d := gate.Check(ctx, "crt-1", 42, "call-1")
	require.True(t, d.Admit)
	gate.MarkWaiting(ctx, d.Key)

	rec, err := gate.Load(ctx, d.Key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusWaiting, rec.Status)

	// The phone2 callback carries the same identity and must get through.
	next := gate.Check(ctx, "crt-1", 42, "call-1")
	assert.True(t, next.Admit)
}

func TestCheckFailOpenWhenStoreUnavailable(t *testing.T) {
	gate, mr := newTestGate(t, time.Minute, 5*time.Minute, true)
	mr.Close()

	d := gate.Check(context.Background(), "crt-1", 42, "call-1")
	assert.True(t, d.Admit)
	assert.Equal(t, "store_unavailable", d.Reason)
}

func TestCheckFailClosedWhenConfigured(t *testing.T) {
	gate, mr := newTestGate(t, time.Minute, 5*time.Minute, false)
	mr.Close()

	d := gate.Check(context.Background(), "crt-1", 42, "call-1")
	assert.False(t, d.Admit)
	assert.Equal(t, "store_unavailable", d.Reason)
}

func TestMalformedRecordDoesNotBlock(t *testing.T) {
	gate, mr := newTestGate(t, time.Minute, 5*time.Minute, true)

	key := Key("crt-1", 42, "call-1")
	require.NoError(t, mr.Set("dedupe:"+key, "{broken"))

	d := gate.Check(context.Background(), "crt-1", 42, "call-1")
	assert.True(t, d.Admit)
}
