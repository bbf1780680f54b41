package heartbeat

import (
	"context"
	"time"

	"market-gateway/src/interfaces"
	"market-gateway/src/logger"
	"market-gateway/src/models"
)

// SessionClock reports whether the market is open at t.
type SessionClock interface {
	Now() time.Time
	IsTradingHours(t time.Time) bool
}

// -----------------------------------------------------------------------------
// Broadcaster sends a heartbeat to every session on a fixed interval,
// independent of market data traffic.
// -----------------------------------------------------------------------------

type Broadcaster struct {
	Logger   *logger.Logger
	Interval time.Duration

	sessions interfaces.ISessionNotifier
	clock    SessionClock
	auth     func() bool
	upstream func() bool
}

func NewBroadcaster(interval time.Duration, sessions interfaces.ISessionNotifier, clock SessionClock, auth, upstream func() bool, log *logger.Logger) *Broadcaster {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Broadcaster{
		Logger:   log,
		Interval: interval,
		sessions: sessions,
		clock:    clock,
		auth:     auth,
		upstream: upstream,
	}
}

// -----------------------------------------------------------------------------

// Build assembles the current heartbeat payload.
func (b *Broadcaster) Build() models.MHeartbeat {
	now := b.clock.Now()
	return models.MHeartbeat{
		Timestamp:         now.Unix(),
		TradingActive:     b.clock.IsTradingHours(now),
		SubscriberCount:   b.sessions.SessionCount(),
		AuthStatus:        b.auth != nil && b.auth(),
		UpstreamConnected: b.upstream != nil && b.upstream(),
	}
}

// -----------------------------------------------------------------------------

// Beat broadcasts one heartbeat immediately.
func (b *Broadcaster) Beat() {
	hb := b.Build()
	b.sessions.Broadcast(models.NewEvent(models.EventHeartbeat, hb))
	b.Logger.Debug("Heartbeat sent to %d sessions (trading=%v upstream=%v)", hb.SubscriberCount, hb.TradingActive, hb.UpstreamConnected)
}

// -----------------------------------------------------------------------------

func (b *Broadcaster) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.Beat()
		}
	}
}
