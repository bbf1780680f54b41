package models

// MTick is one normalized upstream price update.
// EventTime is in unix seconds; DayVolume is cumulative for the trading day.
type MTick struct {
	Symbol        string  `json:"symbol"`
	LastPrice     float64 `json:"ltp"`
	Change        float64 `json:"ch"`
	ChangePercent float64 `json:"chp"`
	DayOpen       float64 `json:"open_price"`
	DayHigh       float64 `json:"high_price"`
	DayLow        float64 `json:"low_price"`
	PrevClose     float64 `json:"prev_close_price"`
	DayVolume     float64 `json:"vol_traded_today"`
	Bid           float64 `json:"bid_price"`
	Ask           float64 `json:"ask_price"`
	EventTime     int64   `json:"last_traded_time"`
}

// -----------------------------------------------------------------------------

// MCandle is an OHLCV bar. BucketStart is in unix seconds.
type MCandle struct {
	Symbol      string  `json:"symbol"`
	BucketStart int64   `json:"timestamp"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
}

// -----------------------------------------------------------------------------

// MRawCandle is one upstream history row before normalization.
type MRawCandle struct {
	Timestamp int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}
