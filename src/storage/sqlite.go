package storage

import (
	"market-gateway/src/logger"
	"market-gateway/src/models"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	driver: "sqlite",
	setup: []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	},
	schema: []string{
		`CREATE TABLE IF NOT EXISTS candles (
			symbol TEXT NOT NULL,
			bucket_start INTEGER NOT NULL,
			open REAL,
			high REAL,
			low REAL,
			close REAL,
			volume REAL,
			PRIMARY KEY (symbol, bucket_start)
		);`,
		`CREATE TABLE IF NOT EXISTS instruments (
			symbol TEXT PRIMARY KEY,
			exchange TEXT,
			code TEXT,
			marker TEXT,
			first_seen TIMESTAMP
		);`,
	},
	insertCandle: `
		INSERT INTO candles (symbol, bucket_start, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, bucket_start) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume
	`,
	upsertSymbol: `
		INSERT INTO instruments (symbol, exchange, code, marker, first_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (symbol) DO NOTHING
	`,
	deleteCandles: "DELETE FROM candles WHERE bucket_start < ?",
}

// -----------------------------------------------------------------------------

// NewSQLiteArchive archives candles into the SQLite file at cfg.DBPath.
func NewSQLiteArchive(cfg models.MStorageConfig, log *logger.Logger) *SQLArchive {
	return newSQLArchive(sqliteDialect, cfg.DBPath, cfg, log)
}
