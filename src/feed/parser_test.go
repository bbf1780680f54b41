package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time { return time.Unix(1700000000, 0) }

func TestParseFrames(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		assertF func(t *testing.T, frames []Frame)
	}{
		{
			name:  "full tick",
			input: `{"symbol":"NSE:TCS-EQ","ltp":3500.5,"ch":10,"chp":0.28,"vol_traded_today":12345,"open_price":3490,"high_price":3510,"low_price":3480,"prev_close_price":3490.5,"bid_price":3500,"ask_price":3501,"last_traded_time":1741146305}`,
			assertF: func(t *testing.T, frames []Frame) {
				require.Len(t, frames, 1)
				f := frames[0]
				assert.Equal(t, FrameTick, f.Kind)
				assert.Equal(t, "NSE:TCS-EQ", f.Tick.Symbol)
				assert.Equal(t, 3500.5, f.Tick.LastPrice)
				assert.Equal(t, 12345.0, f.Tick.DayVolume)
				assert.Equal(t, 3490.5, f.Tick.PrevClose)
				assert.Equal(t, int64(1741146305), f.Tick.EventTime)
			},
		},
		{
			name:  "millisecond timestamp and quoted numbers",
			input: `{"symbol":"NSE:TCS-EQ","ltp":"101.25","last_traded_time":1741146305123}`,
			assertF: func(t *testing.T, frames []Frame) {
				assert.Equal(t, 101.25, frames[0].Tick.LastPrice)
				assert.Equal(t, int64(1741146305), frames[0].Tick.EventTime)
			},
		},
		{
			name:  "missing time uses clock",
			input: `{"symbol":"NSE:TCS-EQ","ltp":1}`,
			assertF: func(t *testing.T, frames []Frame) {
				assert.Equal(t, fixedNow().Unix(), frames[0].Tick.EventTime)
			},
		},
		{
			name:  "auth error frame",
			input: `{"type":"error","code":-16,"message":"token expired"}`,
			assertF: func(t *testing.T, frames []Frame) {
				assert.Equal(t, FrameError, frames[0].Kind)
				assert.True(t, frames[0].IsAuthError())
			},
		},
		{
			name:  "other error frame",
			input: `{"type":"error","code":-99,"message":"bad symbol"}`,
			assertF: func(t *testing.T, frames []Frame) {
				assert.False(t, frames[0].IsAuthError())
			},
		},
		{
			name:  "ack and batch",
			input: `[{"type":"sub","message":"ok"},{"symbol":"NSE:A-EQ","ltp":2}]`,
			assertF: func(t *testing.T, frames []Frame) {
				require.Len(t, frames, 2)
				assert.Equal(t, FrameAck, frames[0].Kind)
				assert.Equal(t, FrameTick, frames[1].Kind)
			},
		},
		{
			name:  "unknown without symbol",
			input: `{"message":"hello"}`,
			assertF: func(t *testing.T, frames []Frame) {
				assert.Equal(t, FrameUnknown, frames[0].Kind)
			},
		},
		{name: "garbage", input: `{"symbol":`, wantErr: true},
		{
			name:    "empty",
			input:   "  ",
			assertF: func(t *testing.T, frames []Frame) { assert.Empty(t, frames) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, err := ParseFrames([]byte(tt.input), fixedNow)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.assertF(t, frames)
		})
	}
}
