package interfaces

import (
	"context"
	"time"

	"market-gateway/src/models"
)

// -----------------------------------------------------------------------------
// IUpstreamSink receives the net change in upstream interest from the router.
// -----------------------------------------------------------------------------

type IUpstreamSink interface {
	// ApplyDelta must not block on network I/O: it is called while router locks
	// are held.
	ApplyDelta(added, removed []models.MSymbol)
}

// -----------------------------------------------------------------------------
// IDialer opens a streaming connection to the upstream feed.
// -----------------------------------------------------------------------------

type IDialer interface {
	Dial(ctx context.Context, cred models.MCredential) (IConn, error)
}

// -----------------------------------------------------------------------------
// IConn is one live upstream streaming connection.
// -----------------------------------------------------------------------------

type IConn interface {

	// -----------------------------------------------------------------------------

	// Subscribe asks the upstream to start sending ticks for symbols.
	Subscribe(symbols []string) error

	// -----------------------------------------------------------------------------

	// Unsubscribe asks the upstream to stop sending ticks for symbols.
	Unsubscribe(symbols []string) error

	// -----------------------------------------------------------------------------

	// ReadMessage blocks until the next frame arrives or the connection fails.
	ReadMessage() ([]byte, error)

	// -----------------------------------------------------------------------------

	Close() error
}

// -----------------------------------------------------------------------------
// IHistoryFetcher retrieves raw intraday candles from the upstream REST API.
// -----------------------------------------------------------------------------

type IHistoryFetcher interface {
	FetchRange(ctx context.Context, symbol string, from, to time.Time, resolution string) ([]models.MRawCandle, error)
}

// -----------------------------------------------------------------------------
// ITickHandler consumes every tick that passes the active-symbol filter.
// -----------------------------------------------------------------------------

type ITickHandler interface {
	HandleTick(tick models.MTick)
}

// -----------------------------------------------------------------------------
// IFeedStatusListener is told about upstream connectivity transitions.
// -----------------------------------------------------------------------------

type IFeedStatusListener interface {
	OnFeedStatus(status string, detail string)
}
