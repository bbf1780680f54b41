package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"market-gateway/src/logger"
	"market-gateway/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArchive(t *testing.T, queue int) *SQLArchive {
	t.Helper()
	cfg := models.MStorageConfig{
		DBType:    "sqlite",
		DBPath:    filepath.Join(t.TempDir(), "candles.db"),
		QueueSize: queue,
	}
	a := NewSQLiteArchive(cfg, logger.NewNop())
	require.NoError(t, a.Initialize())
	t.Cleanup(func() { a.Close() })
	return a
}

func countRows(t *testing.T, a *SQLArchive, table string) int {
	t.Helper()
	var n int
	require.NoError(t, a.DB.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestSQLiteArchive_RunFlushesOnShutdown(t *testing.T) {
	a := newTestArchive(t, 16)
	now := time.Now().Unix()

	a.Save(models.MCandle{Symbol: "NSE:TCS-EQ", BucketStart: now - 600, Open: 1, High: 2, Low: 1, Close: 2, Volume: 10})
	a.Save(models.MCandle{Symbol: "NSE:TCS-EQ", BucketStart: now - 300, Open: 2, High: 3, Low: 2, Close: 3, Volume: 5})
	a.Save(models.MCandle{Symbol: "NSE:INFY-EQ", BucketStart: now - 300, Open: 7, High: 7, Low: 7, Close: 7})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Run(ctx))

	assert.Equal(t, 3, countRows(t, a, "candles"))
	assert.Equal(t, 2, countRows(t, a, "instruments"))

	var code, marker string
	require.NoError(t, a.DB.QueryRow("SELECT code, marker FROM instruments WHERE symbol = ?", "NSE:INFY-EQ").Scan(&code, &marker))
	assert.Equal(t, "INFY", code)
	assert.Equal(t, "EQ", marker)
}

func TestSQLiteArchive_UpsertsSameBucket(t *testing.T) {
	a := newTestArchive(t, 16)
	require.NoError(t, a.writeBatch([]models.MCandle{{Symbol: "NSE:SBIN-EQ", BucketStart: 100, Close: 1}}))
	require.NoError(t, a.writeBatch([]models.MCandle{{Symbol: "NSE:SBIN-EQ", BucketStart: 100, Close: 2}}))

	var closePrice float64
	require.NoError(t, a.DB.QueryRow("SELECT close FROM candles WHERE symbol = ? AND bucket_start = ?", "NSE:SBIN-EQ", 100).Scan(&closePrice))
	assert.Equal(t, 2.0, closePrice)
	assert.Equal(t, 1, countRows(t, a, "candles"))
}

func TestSQLiteArchive_CleanupOldData(t *testing.T) {
	a := newTestArchive(t, 16)
	old := time.Now().AddDate(0, 0, -40).Unix()
	recent := time.Now().Unix()
	require.NoError(t, a.writeBatch([]models.MCandle{
		{Symbol: "NSE:ITC-EQ", BucketStart: old},
		{Symbol: "NSE:ITC-EQ", BucketStart: recent},
	}))

	require.NoError(t, a.CleanupOldData(30))
	assert.Equal(t, 1, countRows(t, a, "candles"))
}

func TestSQLiteArchive_SaveNeverBlocks(t *testing.T) {
	a := newTestArchive(t, 1)
	a.Save(models.MCandle{Symbol: "NSE:A-EQ", BucketStart: 1})
	a.Save(models.MCandle{Symbol: "NSE:A-EQ", BucketStart: 2})
	a.Save(models.MCandle{Symbol: "NSE:A-EQ", BucketStart: 3})
	assert.Equal(t, int64(2), a.Dropped())
}

func TestNewArchive(t *testing.T) {
	a, err := NewArchive(models.MStorageConfig{DBType: "none"}, logger.NewNop())
	require.NoError(t, err)
	assert.IsType(t, NopArchive{}, a)

	_, err = NewArchive(models.MStorageConfig{DBType: "mongo"}, logger.NewNop())
	assert.Error(t, err)

	_, err = NewPostgresArchive(models.MStorageConfig{}, "bad-name;", logger.NewNop())
	assert.Error(t, err)
}

func TestSplitKey(t *testing.T) {
	ex, code, marker := splitKey("NSE:BAJAJ-AUTO-EQ")
	assert.Equal(t, "NSE", ex)
	assert.Equal(t, "BAJAJ-AUTO", code)
	assert.Equal(t, "EQ", marker)
}
