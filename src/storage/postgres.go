package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"market-gateway/src/logger"
	"market-gateway/src/models"

	_ "github.com/lib/pq"
)

var schemaName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// -----------------------------------------------------------------------------

func postgresDialect(schema string) dialect {
	q := func(table string) string { return fmt.Sprintf(`"%s"."%s"`, schema, table) }
	return dialect{
		driver: "postgres",
		schema: []string{
			fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, schema),
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					symbol TEXT NOT NULL,
					bucket_start BIGINT NOT NULL,
					open DOUBLE PRECISION,
					high DOUBLE PRECISION,
					low DOUBLE PRECISION,
					close DOUBLE PRECISION,
					volume DOUBLE PRECISION,
					PRIMARY KEY (symbol, bucket_start)
				);`, q("candles")),
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					symbol TEXT PRIMARY KEY,
					exchange TEXT,
					code TEXT,
					marker TEXT,
					first_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
				);`, q("instruments")),
		},
		insertCandle: fmt.Sprintf(`
			INSERT INTO %s (symbol, bucket_start, open, high, low, close, volume)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (symbol, bucket_start) DO UPDATE SET
				open = EXCLUDED.open,
				high = EXCLUDED.high,
				low = EXCLUDED.low,
				close = EXCLUDED.close,
				volume = EXCLUDED.volume
		`, q("candles")),
		upsertSymbol: fmt.Sprintf(`
			INSERT INTO %s (symbol, exchange, code, marker, first_seen)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (symbol) DO NOTHING
		`, q("instruments")),
		deleteCandles: fmt.Sprintf(`DELETE FROM %s WHERE bucket_start < $1`, q("candles")),
	}
}

// -----------------------------------------------------------------------------

// NewPostgresArchive archives candles into a schema of the database at
// cfg.DBConnectionString. An empty schema defaults to the executable name.
func NewPostgresArchive(cfg models.MStorageConfig, schema string, log *logger.Logger) (*SQLArchive, error) {
	if schema == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to get executable name: %w", err)
		}
		name := filepath.Base(exe)
		schema = strings.ReplaceAll(strings.TrimSuffix(name, filepath.Ext(name)), "-", "_")
	}
	if !schemaName.MatchString(schema) {
		return nil, fmt.Errorf("invalid postgres schema name '%s'", schema)
	}

	return newSQLArchive(postgresDialect(schema), cfg.DBConnectionString, cfg, log), nil
}
