package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"market-gateway/src/helpers"
	"market-gateway/src/interfaces"
	"market-gateway/src/logger"
	"market-gateway/src/models"
)

const (
	defaultQueueSize  = 1024
	archiveBatchSize  = 500
	archiveFlushEvery = 2 * time.Second
	cleanupEvery      = time.Hour
)

// dialect holds the SQL that differs between database engines.
type dialect struct {
	driver        string
	setup         []string // best-effort session pragmas
	schema        []string
	insertCandle  string
	upsertSymbol  string
	deleteCandles string
}

// -----------------------------------------------------------------------------
// SQLArchive persists closed candles through database/sql. Writes are queued
// and batched on the Run goroutine so the tick path never touches the database.
// -----------------------------------------------------------------------------

type SQLArchive struct {
	Logger        *logger.Logger
	DB            *sql.DB
	RetentionDays int

	dsn     string
	dialect dialect
	queue   chan models.MCandle
	dropped atomic.Int64

	mu    sync.Mutex
	known map[string]struct{}
}

// -----------------------------------------------------------------------------

func newSQLArchive(d dialect, dsn string, opts models.MStorageConfig, log *logger.Logger) *SQLArchive {
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	return &SQLArchive{
		Logger:        log,
		RetentionDays: opts.RetentionDays,
		dsn:           dsn,
		dialect:       d,
		queue:         make(chan models.MCandle, size),
		known:         make(map[string]struct{}),
	}
}

// -----------------------------------------------------------------------------

func (a *SQLArchive) Initialize() error {
	db, err := sql.Open(a.dialect.driver, a.dsn)
	if err != nil {
		return &helpers.DatabaseError{GatewayError: helpers.GatewayError{Message: "open " + a.dialect.driver, Cause: err}}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return &helpers.DatabaseError{GatewayError: helpers.GatewayError{Message: "ping " + a.dialect.driver, Cause: err}}
	}
	a.DB = db

	for _, stmt := range a.dialect.setup {
		if _, err := db.Exec(stmt); err != nil {
			a.Logger.Warning("Failed to apply '%s': %v", stmt, err)
		}
	}
	for _, stmt := range a.dialect.schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create archive schema: %w", err)
		}
	}

	a.Logger.Info("Candle archive initialized (%s)", a.dialect.driver)
	return nil
}

// -----------------------------------------------------------------------------

// Save queues candle for the writer. When the queue is full the candle is
// dropped; the archive is best effort.
func (a *SQLArchive) Save(candle models.MCandle) {
	select {
	case a.queue <- candle:
	default:
		if n := a.dropped.Add(1); n%100 == 1 {
			a.Logger.Warning("Archive queue full, %d candles dropped so far", n)
		}
	}
}

// Dropped reports how many candles were discarded because the queue was full.
func (a *SQLArchive) Dropped() int64 {
	return a.dropped.Load()
}

// -----------------------------------------------------------------------------

// Run writes queued candles in batches until ctx is cancelled, then flushes
// whatever is still queued.
func (a *SQLArchive) Run(ctx context.Context) error {
	flush := time.NewTicker(archiveFlushEvery)
	defer flush.Stop()
	cleanup := time.NewTicker(cleanupEvery)
	defer cleanup.Stop()

	batch := make([]models.MCandle, 0, archiveBatchSize)
	write := func() {
		if len(batch) == 0 {
			return
		}
		if err := a.writeBatch(batch); err != nil {
			a.Logger.Error("Failed to archive %d candles: %v", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case c := <-a.queue:
					batch = append(batch, c)
					if len(batch) >= archiveBatchSize {
						write()
					}
				default:
					write()
					return nil
				}
			}

		case c := <-a.queue:
			batch = append(batch, c)
			if len(batch) >= archiveBatchSize {
				write()
			}

		case <-flush.C:
			write()

		case <-cleanup.C:
			if a.RetentionDays > 0 {
				if err := a.CleanupOldData(a.RetentionDays); err != nil {
					a.Logger.Error("Archive cleanup failed: %v", err)
				}
			}
		}
	}
}

// -----------------------------------------------------------------------------

func (a *SQLArchive) writeBatch(candles []models.MCandle) error {
	tx, err := a.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(a.dialect.insertCandle)
	if err != nil {
		return err
	}
	defer stmt.Close()

	var fresh []string
	a.mu.Lock()
	for _, c := range candles {
		if _, ok := a.known[c.Symbol]; !ok {
			a.known[c.Symbol] = struct{}{}
			fresh = append(fresh, c.Symbol)
		}
	}
	a.mu.Unlock()

	for _, c := range candles {
		if _, err := stmt.Exec(c.Symbol, c.BucketStart, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			a.forget(fresh)
			return err
		}
	}

	now := time.Now().UTC()
	for _, sym := range fresh {
		exchange, code, marker := splitKey(sym)
		if _, err := tx.Exec(a.dialect.upsertSymbol, sym, exchange, code, marker, now); err != nil {
			a.forget(fresh)
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		a.forget(fresh)
		return err
	}
	return nil
}

func (a *SQLArchive) forget(symbols []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range symbols {
		delete(a.known, s)
	}
}

// -----------------------------------------------------------------------------

func (a *SQLArchive) CleanupOldData(retentionDays int) error {
	if a.DB == nil {
		return nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Unix()
	a.Logger.Info("Cleaning up candles older than %d days (bucket_start < %d)", retentionDays, cutoff)

	res, err := a.DB.Exec(a.dialect.deleteCandles, cutoff)
	if err != nil {
		return fmt.Errorf("cleanup candles: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		a.Logger.Info("Cleanup completed (%d rows)", n)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (a *SQLArchive) Close() error {
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}

// -----------------------------------------------------------------------------
// Factory
// -----------------------------------------------------------------------------

// NewArchive builds the archive selected by storage.db_type.
func NewArchive(cfg models.MStorageConfig, log *logger.Logger) (interfaces.ICandleArchive, error) {
	switch strings.ToLower(cfg.DBType) {
	case "", "none":
		return NopArchive{}, nil
	case "sqlite":
		return NewSQLiteArchive(cfg, log), nil
	case "postgres":
		return NewPostgresArchive(cfg, "", log)
	default:
		return nil, &helpers.ConfigurationError{GatewayError: helpers.GatewayError{Message: fmt.Sprintf("unknown storage.db_type '%s'", cfg.DBType)}}
	}
}

// -----------------------------------------------------------------------------

// NopArchive discards candles.
type NopArchive struct{}

func (NopArchive) Initialize() error        { return nil }
func (NopArchive) Save(models.MCandle)      {}
func (NopArchive) CleanupOldData(int) error { return nil }
func (NopArchive) Close() error             { return nil }
func (NopArchive) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// -----------------------------------------------------------------------------

// splitKey breaks "EX:CODE-MARKER" into its parts. Missing parts are "".
func splitKey(key string) (exchange, code, marker string) {
	rest := key
	if i := strings.Index(rest, ":"); i >= 0 {
		exchange, rest = rest[:i], rest[i+1:]
	}
	if i := strings.LastIndex(rest, "-"); i >= 0 {
		return exchange, rest[:i], rest[i+1:]
	}
	return exchange, rest, ""
}
