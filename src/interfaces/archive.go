package interfaces

import (
	"context"

	"market-gateway/src/models"
)

// -----------------------------------------------------------------------------
// ICandleArchive defines the contract for best-effort persistence of closed
// candles.
// -----------------------------------------------------------------------------

type ICandleArchive interface {

	// -----------------------------------------------------------------------------

	// Initialize sets up the database schema and tables.
	Initialize() error

	// -----------------------------------------------------------------------------

	// Save queues a closed candle for writing. Never blocks.
	Save(candle models.MCandle)

	// -----------------------------------------------------------------------------

	// Run drains the write queue until ctx is cancelled.
	Run(ctx context.Context) error

	// -----------------------------------------------------------------------------

	// CleanupOldData removes candles older than the retention policy.
	CleanupOldData(retentionDays int) error

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}
