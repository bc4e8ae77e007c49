package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "predictbot/pkg/logx"
)

func TestSpec(t *testing.T) {
	assert.Equal(t, "0 22 * * *", Config{Hour: 22}.Spec())
	assert.Equal(t, "5 0 * * *", Config{Hour: 0, Minute: 5}.Spec())
}

func TestNextAfter(t *testing.T) {
	msk, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)
	cfg := Config{Timezone: "Europe/Moscow", Hour: 22}

	before := time.Date(2024, 3, 1, 21, 59, 0, 0, msk)
	next, err := NextAfter(cfg, before)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 22, 0, 0, 0, msk), next)

	after := time.Date(2024, 3, 1, 22, 0, 30, 0, msk)
	next, err = NextAfter(cfg, after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 2, 22, 0, 0, 0, msk), next)

	// evaluated in the configured zone, not the caller's
	utc := time.Date(2024, 3, 1, 18, 30, 0, 0, time.UTC) // 21:30 MSK
	next, err = NextAfter(cfg, utc)
	require.NoError(t, err)
	assert.True(t, next.Equal(time.Date(2024, 3, 1, 19, 0, 0, 0, time.UTC)))

	_, err = NextAfter(Config{Timezone: "Nowhere/Land"}, before)
	assert.Error(t, err)
}

func TestServiceApplyRebuilds(t *testing.T) {
	s := New(Config{Enabled: true, Timezone: "UTC", Hour: 22}, func(context.Context) {}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Stop(context.Background())

	next, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, 22, next.Hour())
	assert.Equal(t, time.UTC, next.Location())

	require.NoError(t, s.Apply(Config{Enabled: true, Timezone: "Europe/Moscow", Hour: 7, Minute: 15}))
	next, ok = s.Next()
	require.True(t, ok)
	assert.Equal(t, 7, next.Hour())
	assert.Equal(t, 15, next.Minute())
	assert.Equal(t, "Europe/Moscow", next.Location().String())

	require.NoError(t, s.Apply(Config{Enabled: false, Timezone: "UTC"}))
	_, ok = s.Next()
	assert.False(t, ok)
}

func TestServiceRejectsBadTimezone(t *testing.T) {
	s := New(Config{Enabled: true, Timezone: "Nowhere/Land"}, func(context.Context) {}, logx.Nop())
	assert.Error(t, s.Start(context.Background()))
}
