package interfaces

import "market-gateway/src/models"

// -----------------------------------------------------------------------------
// ISessionNotifier delivers events to downstream sessions.
// -----------------------------------------------------------------------------

type ISessionNotifier interface {

	// -----------------------------------------------------------------------------

	// Send enqueues event for one session. Returns false if the session is gone
	// or was evicted.
	Send(sessionID string, event models.MEvent) bool

	// -----------------------------------------------------------------------------

	// Relay enqueues event for every current subscriber of symbol.
	Relay(symbol string, event models.MEvent)

	// -----------------------------------------------------------------------------

	// Broadcast enqueues event for every session.
	Broadcast(event models.MEvent)

	// -----------------------------------------------------------------------------

	SessionCount() int
}
