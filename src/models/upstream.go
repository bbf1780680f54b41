package models

import "encoding/json"

// MUpstreamFrame is the union of every message type the upstream feed sends.
type MUpstreamFrame struct {
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Message string `json:"message"`

	Symbol         string      `json:"symbol"`
	LTP            json.Number `json:"ltp"`
	Change         json.Number `json:"ch"`
	ChangePercent  json.Number `json:"chp"`
	VolTradedToday json.Number `json:"vol_traded_today"`
	OpenPrice      json.Number `json:"open_price"`
	HighPrice      json.Number `json:"high_price"`
	LowPrice       json.Number `json:"low_price"`
	PrevClosePrice json.Number `json:"prev_close_price"`
	BidPrice       json.Number `json:"bid_price"`
	AskPrice       json.Number `json:"ask_price"`
	LastTradedTime json.Number `json:"last_traded_time"`
}

// MUpstreamCommand is sent to the upstream feed to change its subscription set.
type MUpstreamCommand struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// MHistoryResponse is the upstream REST history payload.
type MHistoryResponse struct {
	Status  string      `json:"s"`
	Message string      `json:"message,omitempty"`
	Candles [][]float64 `json:"candles"`
}

// MProfileResponse is the upstream REST profile payload.
type MProfileResponse struct {
	Status  string          `json:"s"`
	Code    int             `json:"code"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}
