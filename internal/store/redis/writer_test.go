package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feed-engine/internal/model"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "index:latest:Gold", LatestKey("Gold"))
	assert.Equal(t, "pub:index:RSI_Gold_mtm", Channel("RSI_Gold_mtm"))
}

func TestEncodeRecord(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	s, err := EncodeRecord(model.SeriesRecord{ID: "Gold", Name: "Gold", CurrentPrice: 1901.5, UpdatedAt: ts})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &got))
	assert.Equal(t, "Gold", got["id"])
	assert.Equal(t, 1901.5, got["current_price"])
	assert.Equal(t, "2025-03-01T11:00:00Z", got["updated_at"])
}

// Port 1 on loopback refuses connections immediately.
func unreachable() WriterConfig {
	return WriterConfig{Addr: "127.0.0.1:1", MaxFailures: 2, ResetTimeout: time.Hour}
}

func TestNew_FailsWhenUnreachable(t *testing.T) {
	_, err := New(unreachable())
	assert.Error(t, err)
}

func TestUpsert_TripsBreaker(t *testing.T) {
	w := newWriter(unreachable())
	defer w.Close()
	ctx := context.Background()
	rec := model.SeriesRecord{ID: "Gold", Name: "Gold", CurrentPrice: 1900, UpdatedAt: time.Now()}

	require.Error(t, w.Upsert(ctx, rec))
	require.Error(t, w.Upsert(ctx, rec))
	assert.Equal(t, StateOpen, w.Breaker().CurrentState())

	err := w.Upsert(ctx, rec)
	assert.True(t, errors.Is(err, ErrCircuitOpen), "got %v", err)
}

func TestReconnect_KeepsBreakerOpenOnFailure(t *testing.T) {
	w := newWriter(unreachable())
	defer w.Close()
	ctx := context.Background()
	rec := model.SeriesRecord{ID: "Silver", Name: "Silver", CurrentPrice: 30, UpdatedAt: time.Now()}
	w.Upsert(ctx, rec)
	w.Upsert(ctx, rec)

	start := time.Now()
	err := w.Reconnect(ctx)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorIs(t, err, model.ErrSinkUnavailable)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "an open breaker must not dial")
	assert.Equal(t, StateOpen, w.Breaker().CurrentState())
	assert.Equal(t, "redis", w.Name())
}

func TestReconnect_DialsWhileClosed(t *testing.T) {
	w := newWriter(unreachable())
	defer w.Close()
	ctx := context.Background()
	w.Upsert(ctx, model.SeriesRecord{ID: "Gold", Name: "Gold", CurrentPrice: 1900, UpdatedAt: time.Now()})
	require.Equal(t, StateClosed, w.Breaker().CurrentState())

	err := w.Reconnect(ctx)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrCircuitOpen), "got %v", err)
}

func TestUpsert_OpenBreakerIsSinkUnavailable(t *testing.T) {
	w := newWriter(unreachable())
	defer w.Close()
	ctx := context.Background()
	rec := model.SeriesRecord{ID: "Gold", Name: "Gold", CurrentPrice: 1900, UpdatedAt: time.Now()}

	assert.False(t, errors.Is(w.Upsert(ctx, rec), model.ErrSinkUnavailable), "a real write failure is not a refusal")
	w.Upsert(ctx, rec)
	assert.ErrorIs(t, w.Upsert(ctx, rec), model.ErrSinkUnavailable)
}
