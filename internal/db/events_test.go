package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestRecordAndListEvents(t *testing.T) {
	store := openTestStore(t, testNow)
	ctx := context.Background()
	cmd := 100

	require.NoError(t, store.RecordEvent(ctx, Event{Kind: "perf", RequestID: "req-1", CmdID: &cmd, Message: "app launch"}))
	require.NoError(t, store.RecordEvent(ctx, Event{Kind: "limit", Client: "power", JSON: `{"cpu_max_freq":1200000}`}))
	require.NoError(t, store.RecordEvent(ctx, Event{Kind: "enabled"}))

	events, err := store.ListEvents(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)

	first := events[0]
	assert.Equal(t, "perf", first.Kind)
	assert.Equal(t, "req-1", first.RequestID)
	require.NotNil(t, first.CmdID)
	assert.Equal(t, 100, *first.CmdID)
	assert.Equal(t, "app launch", first.Message)
	assert.True(t, first.Timestamp.Equal(testNow))

	second := events[1]
	assert.Nil(t, second.CmdID)
	assert.Equal(t, "power", second.Client)
	assert.JSONEq(t, `{"cpu_max_freq":1200000}`, second.JSON)

	after, err := store.ListEvents(ctx, first.ID, 10)
	require.NoError(t, err)
	assert.Len(t, after, 2)

	tail, err := store.ListEventsTail(ctx, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "limit", tail[0].Kind)
	assert.Equal(t, "enabled", tail[1].Kind)
}

func TestRecordEventValidation(t *testing.T) {
	store := openTestStore(t, testNow)
	ctx := context.Background()

	assert.EqualError(t, store.RecordEvent(ctx, Event{Kind: "  "}), "event kind is required")

	var nilStore *Store
	assert.EqualError(t, nilStore.RecordEvent(ctx, Event{Kind: "perf"}), "db store is nil")

	_, err := store.ListEventsTail(ctx, 0)
	assert.EqualError(t, err, "limit must be positive")
	_, err = store.ListEvents(ctx, 0, -1)
	assert.EqualError(t, err, "limit must be positive")
}
