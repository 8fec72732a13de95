package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boostd/boostd/internal/models"
)

func TestReportStoresBatches(t *testing.T) {
	store := openTestStore(t, testNow)
	ctx := context.Background()
	expiry := testNow.Add(3 * time.Second)

	require.NoError(t, store.Report(ctx, []models.ReportEntry{
		{ResourceID: 10000, Value: 3, Expiry: expiry},
		{ResourceID: 10001, Value: 60, Expiry: expiry},
	}))
	require.NoError(t, store.Report(ctx, []models.ReportEntry{
		{ResourceID: 10000, Value: 0, Expiry: models.Forever},
	}))
	require.NoError(t, store.Report(ctx, nil))

	rows, err := store.ListReportsTail(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, int64(1), rows[0].Batch)
	assert.Equal(t, int64(1), rows[1].Batch)
	assert.Equal(t, int64(2), rows[2].Batch)

	assert.Equal(t, 10001, rows[1].ResourceID)
	assert.Equal(t, int64(60), rows[1].Value)
	require.NotNil(t, rows[1].Expiry)
	assert.True(t, rows[1].Expiry.Equal(expiry))

	assert.Nil(t, rows[2].Expiry, "held values have no expiry")
	assert.True(t, rows[2].Timestamp.Equal(testNow))

	tail, err := store.ListReportsTail(ctx, 1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, rows[2].ID, tail[0].ID)
}

func TestReportNilStore(t *testing.T) {
	var store *Store
	err := store.Report(context.Background(), []models.ReportEntry{{ResourceID: 10000}})
	assert.EqualError(t, err, "db store is nil")
}
