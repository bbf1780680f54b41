package server

import (
	"encoding/json"
	"fmt"
	"strings"

	"market-gateway/src/helpers"
	"market-gateway/src/models"
)

// -----------------------------------------------------------------------------
// Client Message Handling
// -----------------------------------------------------------------------------

func (s *Server) HandleClientMessage(session *Session, message []byte) {
	var cmd models.MClientCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		s.Logger.Info("Session %s sent malformed message: %v", session.ID, err)
		s.sendError(session.ID, "invalid message format")
		return
	}

	switch cmd.Event {
	case models.CommandSubscribe:
		s.handleSubscribe(session, cmd.Data)
	case models.CommandUnsubscribeAll:
		s.handleUnsubscribeAll(session)
	case models.CommandGetTradingStatus:
		s.Send(session.ID, models.NewEvent(models.EventTradingStatus, s.status.TradingStatus()))
	default:
		s.sendError(session.ID, fmt.Sprintf("unknown event '%s'", cmd.Event))
	}
}

// -----------------------------------------------------------------------------

func (s *Server) handleSubscribe(session *Session, data json.RawMessage) {
	codes, err := parseCompanyCodes(data)
	if err != nil {
		s.sendError(session.ID, err.Error())
		return
	}
	if len(codes) == 0 {
		s.sendError(session.ID, "At least 1 valid company code must be provided")
		return
	}
	// Counted before duplicates collapse.
	if len(codes) > s.router.MaxPerClient {
		s.sendError(session.ID, helpers.NewValidationError("maximum %d symbols allowed, got %d", s.router.MaxPerClient, len(codes)).Error())
		return
	}

	symbols := s.catalog.ResolveAll(codes)
	if len(symbols) == 0 {
		s.sendError(session.ID, "At least 1 valid company code must be provided")
		return
	}

	if _, err := s.router.Subscribe(session.ID, symbols); err != nil {
		if !helpers.IsValidation(err) {
			s.Logger.Error("Subscribe failed for session %s: %v", session.ID, err)
		}
		s.sendError(session.ID, err.Error())
		return
	}

	keys := models.SymbolKeys(symbols)
	s.Send(session.ID, models.NewEvent(models.EventSubscriptionConfirm, models.MSubscriptionConfirm{
		Success: true,
		Symbols: keys,
		Count:   len(keys),
	}))
	s.Logger.Info("Session %s subscribed to %v", session.ID, keys)

	s.replayHistory(session.ID, symbols)
}

// -----------------------------------------------------------------------------

func (s *Server) handleUnsubscribeAll(session *Session) {
	delta := s.router.UnsubscribeAll(session.ID)
	s.Send(session.ID, models.NewEvent(models.EventSubscriptionConfirm, models.MSubscriptionConfirm{
		Success: true,
		Symbols: []string{},
		Count:   0,
	}))
	s.Logger.Info("Session %s unsubscribed from all (released %d upstream symbols)", session.ID, len(delta.Removed))
}

// -----------------------------------------------------------------------------

// replayHistory asks the backfiller for each symbol's session history and
// forwards the snapshot once it is available.
func (s *Server) replayHistory(sessionID string, symbols []models.MSymbol) {
	if s.backfill == nil {
		for _, sym := range symbols {
			s.deliverHistory(sessionID, sym, s.store.Ticks(sym.Key()), s.store.Candles(sym.Key()))
		}
		return
	}

	date := s.status.HistoryDate()
	for _, sym := range symbols {
		deliver := func(symbol models.MSymbol, ticks []models.MTick, candles []models.MCandle, err error) {
			if err != nil {
				s.Logger.Warning("History for %s incomplete: %v", symbol.Key(), err)
			}
			s.deliverHistory(sessionID, symbol, ticks, candles)
		}
		if err := s.backfill.Request(s.baseCtx, sym, date, deliver); err != nil {
			s.Logger.Warning("Backfill request for %s rejected: %v", sym.Key(), err)
			s.deliverHistory(sessionID, sym, s.store.Ticks(sym.Key()), s.store.Candles(sym.Key()))
		}
	}
}

// -----------------------------------------------------------------------------

func (s *Server) deliverHistory(sessionID string, symbol models.MSymbol, ticks []models.MTick, candles []models.MCandle) {
	key := symbol.Key()
	if len(ticks) > 0 {
		s.Send(sessionID, models.NewEvent(models.EventHistoricalData, models.MHistoricalData{Symbol: key, Ticks: ticks}))
	}
	if len(candles) > 0 {
		s.Send(sessionID, models.NewEvent(models.EventCandleData, models.MCandleData{Symbol: key, Candles: candles}))
	}
}

// -----------------------------------------------------------------------------

func (s *Server) sendError(sessionID, message string) {
	s.Send(sessionID, models.NewEvent(models.EventError, models.MErrorPayload{Message: message}))
}

// -----------------------------------------------------------------------------

// parseCompanyCodes accepts a list of non-blank string codes. Any other entry
// rejects the whole request.
func parseCompanyCodes(data json.RawMessage) ([]string, error) {
	var req struct {
		CompanyCodes json.RawMessage `json:"company_codes"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, helpers.NewValidationError("invalid subscribe payload")
		}
	}

	var raw []interface{}
	if len(req.CompanyCodes) == 0 || json.Unmarshal(req.CompanyCodes, &raw) != nil {
		return nil, helpers.NewValidationError("company_codes must be an array")
	}

	codes := make([]string, 0, len(raw))
	for i, v := range raw {
		code, ok := v.(string)
		if !ok || strings.TrimSpace(code) == "" {
			return nil, helpers.NewValidationError("company_codes[%d] must be a non-empty string", i)
		}
		codes = append(codes, code)
	}
	return codes, nil
}
