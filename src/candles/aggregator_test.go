package candles

import (
	"sync"
	"testing"
	"time"

	"market-gateway/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRecorder struct {
	mu      sync.Mutex
	candles []models.MCandle
}

func (m *memRecorder) RecordCandle(c models.MCandle) {
	m.mu.Lock()
	m.candles = append(m.candles, c)
	m.mu.Unlock()
}

const day = int64(1741146300) // 2025-03-05 09:15:00 IST

func tick(offset int64, price, volume float64) models.MTick {
	return models.MTick{Symbol: "NSE:TCS-EQ", LastPrice: price, DayVolume: volume, EventTime: day + offset}
}

func TestIngest_CandleCloseExample(t *testing.T) {
	rec := &memRecorder{}
	agg := NewAggregator(time.Minute, rec)

	closed, cur := agg.Ingest(tick(5, 100, 0))
	assert.Nil(t, closed)
	assert.Equal(t, day, cur.BucketStart)

	closed, _ = agg.Ingest(tick(40, 105, 0))
	assert.Nil(t, closed)

	closed, cur = agg.Ingest(tick(70, 102, 0))
	require.NotNil(t, closed)
	assert.Equal(t, models.MCandle{Symbol: "NSE:TCS-EQ", BucketStart: day, Open: 100, High: 105, Low: 100, Close: 105}, *closed)
	assert.Equal(t, day+60, cur.BucketStart)
	assert.Equal(t, 102.0, cur.Open)

	require.Len(t, rec.candles, 1, "closing is the only write path")
	assert.Equal(t, *closed, rec.candles[0])
}

func TestIngest_VolumeDelta(t *testing.T) {
	agg := NewAggregator(time.Minute, nil)

	_, cur := agg.Ingest(tick(1, 100, 1000))
	assert.Equal(t, 0.0, cur.Volume, "first observation only sets the baseline")

	_, cur = agg.Ingest(tick(2, 100, 1050))
	assert.Equal(t, 50.0, cur.Volume)

	_, cur = agg.Ingest(tick(3, 100, 1020))
	assert.Equal(t, 50.0, cur.Volume, "regression contributes zero")

	_, cur = agg.Ingest(tick(4, 100, 1060))
	assert.Equal(t, 60.0, cur.Volume, "delta is against the highest value seen")
}

func TestIngest_VolumeBaselineResetsOnNewDay(t *testing.T) {
	agg := NewAggregator(time.Minute, nil)
	agg.Location = time.FixedZone("IST", 5*3600+1800)

	agg.Ingest(tick(1, 100, 1000))
	agg.Ingest(tick(2, 100, 5000))

	_, cur := agg.Ingest(tick(86400, 100, 300))
	assert.Equal(t, 300.0, cur.Volume, "cumulative volume restarts at the new day")
}

func TestIngest_LateTickNeverReopens(t *testing.T) {
	rec := &memRecorder{}
	agg := NewAggregator(time.Minute, rec)

	agg.Ingest(tick(5, 100, 10))
	closed, _ := agg.Ingest(tick(65, 101, 20))
	require.NotNil(t, closed)

	closed, cur := agg.Ingest(tick(30, 50, 25))
	assert.Nil(t, closed)
	assert.Equal(t, day+60, cur.BucketStart)
	assert.Equal(t, 101.0, cur.Low, "late price ignored")
	assert.Equal(t, 10.0, cur.Volume)

	_, cur = agg.Ingest(tick(70, 101, 27))
	assert.Equal(t, 12.0, cur.Volume, "late tick moved the baseline to 25")

	assert.Len(t, rec.candles, 1)
	assert.Equal(t, 100.0, rec.candles[0].Low)
}

func TestIngest_CloseListenersInOrder(t *testing.T) {
	agg := NewAggregator(time.Minute, nil)
	var got []int64
	agg.OnClose(func(c models.MCandle) { got = append(got, c.BucketStart) })

	for i := int64(0); i < 4; i++ {
		agg.Ingest(tick(i*60+1, 100, 0))
	}
	assert.Equal(t, []int64{day, day + 60, day + 120}, got)
}

func TestSeed_ResamplesIntoBuckets(t *testing.T) {
	agg := NewAggregator(5*time.Minute, nil)

	var raw []models.MRawCandle
	for i := int64(0); i < 12; i++ {
		p := float64(100 + i)
		raw = append(raw, models.MRawCandle{Timestamp: day + i*60, Open: p, High: p + 1, Low: p - 1, Close: p + 0.5, Volume: 10})
	}

	closed := agg.Seed("NSE:TCS-EQ", raw)
	require.Len(t, closed, 2)
	assert.Equal(t, models.MCandle{Symbol: "NSE:TCS-EQ", BucketStart: day, Open: 100, High: 105, Low: 99, Close: 104.5, Volume: 50}, closed[0])
	assert.Equal(t, day+300, closed[1].BucketStart)

	cur, ok := agg.Current("NSE:TCS-EQ")
	require.True(t, ok)
	assert.Equal(t, day+600, cur.BucketStart)
	assert.Equal(t, 20.0, cur.Volume)

	// Live ticks continue the seeded open candle.
	_, live := agg.Ingest(models.MTick{Symbol: "NSE:TCS-EQ", LastPrice: 200, EventTime: day + 700})
	assert.Equal(t, 200.0, live.High)
	assert.Equal(t, 110.0, live.Open)
}

func TestSeed_LiveDataWins(t *testing.T) {
	agg := NewAggregator(time.Minute, nil)
	agg.Ingest(tick(125, 300, 0)) // open candle at day+120

	raw := []models.MRawCandle{
		{Timestamp: day, Open: 1, High: 1, Low: 1, Close: 1},
		{Timestamp: day + 60, Open: 2, High: 2, Low: 2, Close: 2},
		{Timestamp: day + 120, Open: 3, High: 3, Low: 3, Close: 3},
	}
	closed := agg.Seed("NSE:TCS-EQ", raw)

	require.Len(t, closed, 2)
	assert.Equal(t, day+60, closed[1].BucketStart)

	cur, _ := agg.Current("NSE:TCS-EQ")
	assert.Equal(t, 300.0, cur.Open)
}

func TestFlushClosesEndedBuckets(t *testing.T) {
	rec := &memRecorder{}
	agg := NewAggregator(time.Minute, rec)
	agg.Ingest(tick(5, 100, 0))

	assert.Empty(t, agg.Flush(day+59))
	flushed := agg.Flush(day + 60)
	require.Len(t, flushed, 1)
	assert.Len(t, rec.candles, 1)

	_, ok := agg.Current("NSE:TCS-EQ")
	assert.False(t, ok)

	// A straggler for the flushed bucket does not reopen it.
	closed, cur := agg.Ingest(tick(30, 1, 0))
	assert.Nil(t, closed)
	assert.Equal(t, models.MCandle{}, cur)
}

func TestBucketStart(t *testing.T) {
	agg := NewAggregator(5*time.Minute, nil)
	assert.Equal(t, int64(0), agg.BucketStart(299))
	assert.Equal(t, int64(300), agg.BucketStart(300))
	assert.Equal(t, int64(-300), agg.BucketStart(-1))
}
