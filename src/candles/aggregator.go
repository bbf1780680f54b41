package candles

import (
	"sort"
	"sync"
	"time"

	"market-gateway/src/models"
)

// -----------------------------------------------------------------------------

// CandleRecorder stores closed candles.
type CandleRecorder interface {
	RecordCandle(candle models.MCandle)
}

// symbolAggregate holds the open candle and volume baseline of one symbol.
type symbolAggregate struct {
	mu         sync.Mutex
	open       *models.MCandle
	maxVolume  float64 // highest cumulative day volume seen
	volumeDay  string
	hasVolume  bool
	lastClosed int64 // bucket start of the newest closed candle
	hasClosed  bool
}

// volumeDelta returns the traded volume a tick adds. The first observation
// sets the baseline; a new trading day starts again from zero.
func (s *symbolAggregate) volumeDelta(dayVolume float64, day string) float64 {
	if !s.hasVolume {
		s.maxVolume, s.volumeDay, s.hasVolume = dayVolume, day, true
		return 0
	}
	if day != s.volumeDay {
		s.maxVolume, s.volumeDay = 0, day
	}
	if dayVolume <= s.maxVolume {
		return 0
	}
	d := dayVolume - s.maxVolume
	s.maxVolume = dayVolume
	return d
}

func (s *symbolAggregate) markClosed(bucket int64) {
	s.lastClosed = bucket
	s.hasClosed = true
}

func (s *symbolAggregate) isClosed(bucket int64) bool {
	return s.hasClosed && bucket <= s.lastClosed
}

// -----------------------------------------------------------------------------
// Aggregator turns ticks into time-bucketed OHLCV candles, one open candle per
// symbol. Symbols are aggregated independently under per-symbol locks.
// -----------------------------------------------------------------------------

type Aggregator struct {
	Interval int64          // bucket width in seconds
	Location *time.Location // trading day boundary for volume baselines

	recorder CandleRecorder

	mu      sync.RWMutex
	symbols map[string]*symbolAggregate

	listenersMu sync.RWMutex
	listeners   []func(models.MCandle)
}

// -----------------------------------------------------------------------------

func NewAggregator(interval time.Duration, recorder CandleRecorder) *Aggregator {
	secs := int64(interval / time.Second)
	if secs <= 0 {
		secs = 60
	}
	return &Aggregator{
		Interval: secs,
		Location: time.UTC,
		recorder: recorder,
		symbols:  make(map[string]*symbolAggregate),
	}
}

// -----------------------------------------------------------------------------

// OnClose registers fn to be called with every candle closed by Ingest, in
// bucket order per symbol.
func (a *Aggregator) OnClose(fn func(models.MCandle)) {
	a.listenersMu.Lock()
	a.listeners = append(a.listeners, fn)
	a.listenersMu.Unlock()
}

// -----------------------------------------------------------------------------

// BucketStart floors ts to the aggregation interval.
func (a *Aggregator) BucketStart(ts int64) int64 {
	b := ts - ts%a.Interval
	if ts < 0 && ts%a.Interval != 0 {
		b -= a.Interval
	}
	return b
}

// -----------------------------------------------------------------------------

// Ingest folds tick into its symbol's open candle. When the tick starts a new
// bucket the previous candle is closed, recorded and returned. Ticks for a
// bucket older than the open candle only move the volume baseline. Volume
// counts growth of the day's cumulative volume past its high-water mark.
func (a *Aggregator) Ingest(tick models.MTick) (closed *models.MCandle, current models.MCandle) {
	agg := a.get(tick.Symbol)
	bucket := a.BucketStart(tick.EventTime)

	agg.mu.Lock()
	defer agg.mu.Unlock()

	volume := agg.volumeDelta(tick.DayVolume, time.Unix(tick.EventTime, 0).In(a.Location).Format(time.DateOnly))

	switch {
	case agg.isClosed(bucket):
		// late tick, closed buckets are immutable

	case agg.open == nil:
		agg.open = newCandle(tick.Symbol, bucket, tick.LastPrice, volume)

	case bucket < agg.open.BucketStart:
		// late tick for a bucket older than the open candle

	case bucket == agg.open.BucketStart:
		c := agg.open
		if tick.LastPrice > c.High {
			c.High = tick.LastPrice
		}
		if tick.LastPrice < c.Low {
			c.Low = tick.LastPrice
		}
		c.Close = tick.LastPrice
		c.Volume += volume

	default:
		done := *agg.open
		closed = &done
		agg.open = newCandle(tick.Symbol, bucket, tick.LastPrice, volume)
		agg.markClosed(done.BucketStart)
		a.emit(done)
	}

	if agg.open == nil {
		return closed, models.MCandle{}
	}
	return closed, *agg.open
}

// -----------------------------------------------------------------------------

// Seed resamples backfilled raw candles (any resolution finer than Interval)
// into interval buckets. Buckets older than the last one are returned as
// closed. The last bucket becomes the open candle when the symbol has none;
// otherwise it is returned as closed unless live data already owns it.
func (a *Aggregator) Seed(symbol string, raw []models.MRawCandle) []models.MCandle {
	if len(raw) == 0 {
		return nil
	}
	rows := make([]models.MRawCandle, len(raw))
	copy(rows, raw)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Timestamp < rows[j].Timestamp })

	var buckets []models.MCandle
	for _, r := range rows {
		bucket := a.BucketStart(r.Timestamp)
		n := len(buckets)
		if n == 0 || buckets[n-1].BucketStart != bucket {
			buckets = append(buckets, models.MCandle{
				Symbol:      symbol,
				BucketStart: bucket,
				Open:        r.Open,
				High:        r.High,
				Low:         r.Low,
				Close:       r.Close,
				Volume:      r.Volume,
			})
			continue
		}
		c := &buckets[n-1]
		if r.High > c.High {
			c.High = r.High
		}
		if r.Low < c.Low {
			c.Low = r.Low
		}
		c.Close = r.Close
		c.Volume += r.Volume
	}

	agg := a.get(symbol)
	agg.mu.Lock()
	defer agg.mu.Unlock()

	last := buckets[len(buckets)-1]
	closed := buckets[:len(buckets)-1]

	switch {
	case agg.open == nil && !agg.isClosed(last.BucketStart):
		seeded := last
		agg.open = &seeded
	case agg.open == nil || last.BucketStart < agg.open.BucketStart:
		closed = buckets
	}

	// Live data wins for any bucket it already covers.
	if agg.open != nil {
		cut := len(closed)
		for cut > 0 && closed[cut-1].BucketStart >= agg.open.BucketStart {
			cut--
		}
		closed = closed[:cut]
	}

	out := make([]models.MCandle, len(closed))
	copy(out, closed)
	return out
}

// -----------------------------------------------------------------------------

// Current returns the open candle for symbol.
func (a *Aggregator) Current(symbol string) (models.MCandle, bool) {
	a.mu.RLock()
	agg, ok := a.symbols[symbol]
	a.mu.RUnlock()
	if !ok {
		return models.MCandle{}, false
	}

	agg.mu.Lock()
	defer agg.mu.Unlock()
	if agg.open == nil {
		return models.MCandle{}, false
	}
	return *agg.open, true
}

// -----------------------------------------------------------------------------

// Flush closes every open candle whose bucket ended at or before now. Used on
// shutdown and at session end so the last candle reaches history.
func (a *Aggregator) Flush(now int64) []models.MCandle {
	a.mu.RLock()
	all := make([]*symbolAggregate, 0, len(a.symbols))
	for _, agg := range a.symbols {
		all = append(all, agg)
	}
	a.mu.RUnlock()

	var out []models.MCandle
	for _, agg := range all {
		agg.mu.Lock()
		if agg.open != nil && agg.open.BucketStart+a.Interval <= now {
			done := *agg.open
			agg.open = nil
			agg.markClosed(done.BucketStart)
			a.emit(done)
			out = append(out, done)
		}
		agg.mu.Unlock()
	}
	return out
}

// -----------------------------------------------------------------------------

func (a *Aggregator) get(symbol string) *symbolAggregate {
	a.mu.RLock()
	agg, ok := a.symbols[symbol]
	a.mu.RUnlock()
	if ok {
		return agg
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if agg, ok := a.symbols[symbol]; ok {
		return agg
	}
	agg = &symbolAggregate{}
	a.symbols[symbol] = agg
	return agg
}

// -----------------------------------------------------------------------------

// emit runs with the symbol lock held so closes stay in bucket order.
func (a *Aggregator) emit(c models.MCandle) {
	if a.recorder != nil {
		a.recorder.RecordCandle(c)
	}
	a.listenersMu.RLock()
	defer a.listenersMu.RUnlock()
	for _, fn := range a.listeners {
		fn(c)
	}
}

// -----------------------------------------------------------------------------

func newCandle(symbol string, bucket int64, price, volume float64) *models.MCandle {
	return &models.MCandle{
		Symbol:      symbol,
		BucketStart: bucket,
		Open:        price,
		High:        price,
		Low:         price,
		Close:       price,
		Volume:      volume,
	}
}
