package models

import "encoding/json"

// Downstream event names.
const (
	EventWelcome             = "welcome"
	EventSubscriptionConfirm = "subscription_confirm"
	EventError               = "error"
	EventHistoricalData      = "historical_data"
	EventCandleData          = "candle_data"
	EventMarketData          = "market_data"
	EventHeartbeat           = "heartbeat"
	EventConnectionStatus    = "connection_status"
	EventTradingStatus       = "trading_status"
)

// Client command names.
const (
	CommandSubscribe        = "subscribe"
	CommandUnsubscribeAll   = "unsubscribe_all"
	CommandGetTradingStatus = "get_trading_status"
)

// -----------------------------------------------------------------------------

// MEvent is the envelope of every downstream message.
type MEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// NewEvent builds an envelope.
func NewEvent(name string, data interface{}) MEvent {
	return MEvent{Event: name, Data: data}
}

// MClientCommand is the envelope of every client message. Data is decoded per command.
type MClientCommand struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// -----------------------------------------------------------------------------
// Payloads
// -----------------------------------------------------------------------------

type MTradingStatus struct {
	TradingActive bool   `json:"trading_active"`
	IsMarketDay   bool   `json:"is_market_day"`
	TradingStart  string `json:"trading_start"`
	TradingEnd    string `json:"trading_end"`
	Timezone      string `json:"timezone"`
	AuthStatus    bool   `json:"auth_status"`
	CurrentTime   string `json:"current_time"`
}

type MWelcome struct {
	SessionID         string         `json:"session_id"`
	Symbols           []MSymbol      `json:"symbols"`
	MaxPerClient      int            `json:"max_per_client"`
	TradingStatus     MTradingStatus `json:"trading_session_status"`
	AuthStatus        bool           `json:"auth_status"`
	UpstreamConnected bool           `json:"upstream_connected"`
}

type MSubscriptionConfirm struct {
	Success bool     `json:"success"`
	Symbols []string `json:"symbols"`
	Count   int      `json:"count"`
}

type MErrorPayload struct {
	Message string `json:"message"`
}

type MHistoricalData struct {
	Symbol string  `json:"symbol"`
	Ticks  []MTick `json:"ticks"`
}

type MCandleData struct {
	Symbol  string    `json:"symbol"`
	Candles []MCandle `json:"candles"`
}

type MMarketData struct {
	Tick   MTick    `json:"tick"`
	Candle *MCandle `json:"candle,omitempty"`
}

type MHeartbeat struct {
	Timestamp         int64 `json:"timestamp"`
	TradingActive     bool  `json:"trading_active"`
	SubscriberCount   int   `json:"subscriber_count"`
	AuthStatus        bool  `json:"auth_status"`
	UpstreamConnected bool  `json:"upstream_connected"`
}

type MConnectionStatus struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}
