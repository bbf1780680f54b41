package gateway

import (
	"market-gateway/src/interfaces"
	"market-gateway/src/models"
)

// HandleTick runs on the feed reader goroutine for every tick of an active
// symbol: record, aggregate, relay.
func (g *Gateway) HandleTick(tick models.MTick) {
	g.Store.RecordTick(tick)

	closed, current := g.Aggregator.Ingest(tick)
	payload := models.MMarketData{Tick: tick}
	if current.Symbol != "" {
		payload.Candle = &current
	}
	g.Server.Relay(tick.Symbol, models.NewEvent(models.EventMarketData, payload))

	if closed != nil {
		g.relayClosed(*closed)
	}
}

// relayClosed tells subscribers about a candle that just closed.
func (g *Gateway) relayClosed(c models.MCandle) {
	g.Server.Relay(c.Symbol, models.NewEvent(models.EventCandleData, models.MCandleData{
		Symbol:  c.Symbol,
		Candles: []models.MCandle{c},
	}))
}

// -----------------------------------------------------------------------------
// statusRelay forwards upstream connectivity changes to every session.
// -----------------------------------------------------------------------------

type statusRelay struct {
	sessions interfaces.ISessionNotifier
}

func (s statusRelay) OnFeedStatus(status, detail string) {
	s.sessions.Broadcast(models.NewEvent(models.EventConnectionStatus, models.MConnectionStatus{
		Status: status,
		Detail: detail,
	}))
}
