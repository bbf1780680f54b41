package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"market-gateway/src/helpers"
	"market-gateway/src/interfaces"
	"market-gateway/src/logger"
	"market-gateway/src/models"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// -----------------------------------------------------------------------------

// CandleSeeder folds raw backfilled candles into aggregation buckets.
type CandleSeeder interface {
	Seed(symbol string, raw []models.MRawCandle) []models.MCandle
}

// RangeProvider maps a date to the trading window worth fetching.
type RangeProvider interface {
	HistoryRange(date time.Time) (from, to time.Time, ok bool)
}

// Delivery receives the history snapshot once a request completes. err is
// non-nil when the fetch failed; the snapshot then holds whatever live data
// exists.
type Delivery func(symbol models.MSymbol, ticks []models.MTick, candles []models.MCandle, err error)

// BackfillOptions tunes the worker pool and upstream pacing.
type BackfillOptions struct {
	Workers    int
	QueueSize  int
	Resolution string
	RatePerSec float64
	Retries    int
	RetryDelay time.Duration
	Timeout    time.Duration
}

type backfillJob struct {
	symbol  models.MSymbol
	date    time.Time
	deliver Delivery
}

// -----------------------------------------------------------------------------
// Backfiller seeds history from the upstream REST API on a worker pool, so a
// slow fetch never stalls live tick dispatch.
// -----------------------------------------------------------------------------

type Backfiller struct {
	Logger *logger.Logger
	opts   BackfillOptions

	fetcher interfaces.IHistoryFetcher
	store   *Store
	seeder  CandleSeeder
	ranges  RangeProvider
	errors  *helpers.ErrorHandler

	limiter *rate.Limiter
	group   singleflight.Group
	jobs    chan backfillJob

	mu     sync.Mutex
	filled map[string]struct{} // symbol|date already seeded
}

// -----------------------------------------------------------------------------

func NewBackfiller(opts BackfillOptions, fetcher interfaces.IHistoryFetcher, store *Store, seeder CandleSeeder, ranges RangeProvider, log *logger.Logger) *Backfiller {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Resolution == "" {
		opts.Resolution = "1"
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}

	return &Backfiller{
		Logger:  log,
		opts:    opts,
		fetcher: fetcher,
		store:   store,
		seeder:  seeder,
		ranges:  ranges,
		errors:  helpers.NewErrorHandler(log),
		limiter: rate.NewLimiter(limit, 1),
		jobs:    make(chan backfillJob, opts.QueueSize),
		filled:  make(map[string]struct{}),
	}
}

// -----------------------------------------------------------------------------

// Run processes requests on the worker pool until ctx is cancelled.
func (b *Backfiller) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < b.opts.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case job := <-b.jobs:
					b.process(ctx, job)
				}
			}
		})
	}
	b.Logger.Info("Backfill workers started: %d", b.opts.Workers)
	return g.Wait()
}

// -----------------------------------------------------------------------------

// Request queues a backfill for symbol on date. deliver is called from a
// worker goroutine. A full queue is reported as a TransientIOError.
func (b *Backfiller) Request(ctx context.Context, symbol models.MSymbol, date time.Time, deliver Delivery) error {
	job := backfillJob{symbol: symbol, date: date, deliver: deliver}
	select {
	case b.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return helpers.NewTransientIO(fmt.Sprintf("backfill queue full for %s", symbol.Key()), nil)
	}
}

// -----------------------------------------------------------------------------

func (b *Backfiller) process(ctx context.Context, job backfillJob) {
	key := job.symbol.Key()
	flightKey := fillKey(key, job.date)

	_, err, shared := b.group.Do(flightKey, func() (interface{}, error) {
		return nil, b.fill(ctx, job.symbol, job.date)
	})
	if err != nil && !shared {
		b.errors.Handle(err, "backfill "+key)
	}

	if job.deliver != nil {
		job.deliver(job.symbol, b.store.Ticks(key), b.store.Candles(key), err)
	}
}

// -----------------------------------------------------------------------------

// fill fetches the trading window once per symbol and date. Failures leave the
// pair unfilled so a later request retries.
func (b *Backfiller) fill(ctx context.Context, symbol models.MSymbol, date time.Time) error {
	key := symbol.Key()
	flightKey := fillKey(key, date)

	b.mu.Lock()
	_, done := b.filled[flightKey]
	b.mu.Unlock()
	if done {
		return nil
	}

	from, to, ok := b.ranges.HistoryRange(date)
	if !ok {
		b.Logger.Debug("No trading window to backfill for %s on %s", key, date.Format("2006-01-02"))
		return nil
	}

	var raw []models.MRawCandle
	err := helpers.RetryWithBackoff(ctx, "fetch history "+key, b.opts.Retries, b.opts.RetryDelay, b.Logger, func() error {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		fetchCtx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
		defer cancel()

		var err error
		raw, err = b.fetcher.FetchRange(fetchCtx, key, from, to, b.opts.Resolution)
		return err
	})
	if err != nil {
		return err
	}

	ticks := RawToTicks(key, raw)
	b.store.MergeTicks(key, ticks)
	if b.seeder != nil {
		b.store.MergeCandles(key, b.seeder.Seed(key, raw))
	}

	b.mu.Lock()
	b.filled[flightKey] = struct{}{}
	b.mu.Unlock()

	b.Logger.Info("Backfilled %d points for %s", len(ticks), key)
	return nil
}

// -----------------------------------------------------------------------------

// RawToTicks converts upstream history rows to ticks. Day fields and volume
// accumulate across the rows so they keep their running-day meaning.
func RawToTicks(symbol string, raw []models.MRawCandle) []models.MTick {
	ticks := make([]models.MTick, 0, len(raw))
	var cumulative, dayOpen, dayHigh, dayLow float64
	for i, r := range raw {
		if i == 0 {
			dayOpen, dayHigh, dayLow = r.Open, r.High, r.Low
		}
		dayHigh = max(dayHigh, r.High)
		dayLow = min(dayLow, r.Low)
		cumulative += r.Volume

		ticks = append(ticks, models.MTick{
			Symbol:    symbol,
			LastPrice: r.Close,
			DayOpen:   dayOpen,
			DayHigh:   dayHigh,
			DayLow:    dayLow,
			DayVolume: cumulative,
			EventTime: r.Timestamp,
		})
	}
	return ticks
}

// -----------------------------------------------------------------------------

func fillKey(symbol string, date time.Time) string {
	return symbol + "|" + date.Format("2006-01-02")
}
