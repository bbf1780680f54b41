package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"market-gateway/src/models"
)

// FrameKind classifies an upstream message.
type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameTick
	FrameAck
	FrameError
)

// Frame is one parsed upstream message.
type Frame struct {
	Kind    FrameKind
	Tick    models.MTick
	Code    int
	Message string
}

// authErrorCodes are upstream error codes meaning the token is no longer valid.
var authErrorCodes = map[int]struct{}{
	401: {}, 403: {}, -15: {}, -16: {}, -17: {}, -300: {},
}

// IsAuthError reports whether an error frame rejects the credential.
func (f Frame) IsAuthError() bool {
	if f.Kind != FrameError {
		return false
	}
	_, ok := authErrorCodes[f.Code]
	return ok
}

// -----------------------------------------------------------------------------

// ParseFrames decodes one websocket message, which may hold a single frame
// object or an array of them.
func ParseFrames(data []byte, now func() time.Time) ([]Frame, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var raws []models.MUpstreamFrame
	if data[0] == '[' {
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, fmt.Errorf("failed to decode frame batch: %w", err)
		}
	} else {
		var raw models.MUpstreamFrame
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to decode frame: %w", err)
		}
		raws = append(raws, raw)
	}

	frames := make([]Frame, 0, len(raws))
	for _, raw := range raws {
		frames = append(frames, toFrame(raw, now))
	}
	return frames, nil
}

// -----------------------------------------------------------------------------

func toFrame(raw models.MUpstreamFrame, now func() time.Time) Frame {
	switch strings.ToLower(raw.Type) {
	case "error":
		return Frame{Kind: FrameError, Code: raw.Code, Message: raw.Message}
	case "sub", "unsub", "ack", "cn", "ful":
		return Frame{Kind: FrameAck, Code: raw.Code, Message: raw.Message}
	}

	if raw.Symbol == "" {
		return Frame{Kind: FrameUnknown, Message: raw.Message}
	}

	ts := int64(number(raw.LastTradedTime))
	if ts <= 0 {
		ts = now().Unix()
	}
	tick := models.MTick{
		Symbol:        raw.Symbol,
		LastPrice:     number(raw.LTP),
		Change:        number(raw.Change),
		ChangePercent: number(raw.ChangePercent),
		DayOpen:       number(raw.OpenPrice),
		DayHigh:       number(raw.HighPrice),
		DayLow:        number(raw.LowPrice),
		PrevClose:     number(raw.PrevClosePrice),
		DayVolume:     number(raw.VolTradedToday),
		Bid:           number(raw.BidPrice),
		Ask:           number(raw.AskPrice),
		EventTime:     NormalizeTimestamp(ts),
	}
	return Frame{Kind: FrameTick, Tick: tick}
}

// -----------------------------------------------------------------------------

// NormalizeTimestamp converts millisecond timestamps to seconds.
func NormalizeTimestamp(ts int64) int64 {
	if ts > 10_000_000_000 {
		return ts / 1000
	}
	return ts
}

// -----------------------------------------------------------------------------

func number(n json.Number) float64 {
	if n == "" {
		return 0
	}
	f, err := n.Float64()
	if err != nil {
		return 0
	}
	return f
}
