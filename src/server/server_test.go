package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"market-gateway/src/catalog"
	"market-gateway/src/history"
	"market-gateway/src/logger"
	"market-gateway/src/models"
	"market-gateway/src/router"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// Fixtures
// -----------------------------------------------------------------------------

type fakeStatus struct{}

func (fakeStatus) TradingStatus() models.MTradingStatus {
	return models.MTradingStatus{TradingActive: true, IsMarketDay: true, TradingStart: "09:15", TradingEnd: "15:30", AuthStatus: true}
}
func (fakeStatus) UpstreamConnected() bool { return true }
func (fakeStatus) HistoryDate() time.Time  { return time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC) }

// instantBackfill delivers whatever the store holds on the calling goroutine.
type instantBackfill struct {
	store *history.Store
}

func (b instantBackfill) Request(ctx context.Context, symbol models.MSymbol, date time.Time, deliver history.Delivery) error {
	deliver(symbol, b.store.Ticks(symbol.Key()), b.store.Candles(symbol.Key()), nil)
	return nil
}

type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type fixture struct {
	server *Server
	router *router.Router
	store  *history.Store
	http   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &models.MConfig{}
	cfg.Gateway.MaxPerClient = 6
	cfg.Gateway.SendQueueSize = 64
	cfg.Catalog.DefaultExchange = "NSE"
	cfg.Catalog.DefaultMarker = "EQ"

	cat := catalog.NewCatalog("NSE", "EQ")
	cat.Seed([]models.MSymbol{{Exchange: "NSE", Code: "RELIANCE", Marker: "EQ"}})
	rt := router.NewRouter(6, 8)
	store := history.NewStore(100)

	s := NewServer(cfg, cat, rt, store, instantBackfill{store: store}, fakeStatus{}, logger.NewNop())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		ts.Close()
	})
	return &fixture{server: s, router: rt, store: store, http: ts}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// next reads events until one named name arrives.
func next(t *testing.T, conn *websocket.Conn, name string) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var ev wireEvent
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Event == name {
			return ev.Data
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"event": event, "data": data}))
}

func subscribe(t *testing.T, conn *websocket.Conn, codes ...string) {
	send(t, conn, models.CommandSubscribe, map[string]interface{}{"company_codes": codes})
}

// -----------------------------------------------------------------------------
// Tests
// -----------------------------------------------------------------------------

func TestServer_WelcomeOnConnect(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	var welcome models.MWelcome
	require.NoError(t, json.Unmarshal(next(t, conn, models.EventWelcome), &welcome))
	assert.NotEmpty(t, welcome.SessionID)
	assert.Equal(t, 6, welcome.MaxPerClient)
	require.Len(t, welcome.Symbols, 1)
	assert.Equal(t, "RELIANCE", welcome.Symbols[0].Code)
	assert.True(t, welcome.AuthStatus)
	assert.True(t, welcome.UpstreamConnected)
	assert.Equal(t, 1, f.server.SessionCount())
}

func TestServer_SubscribeConfirmsAndReplaysHistory(t *testing.T) {
	f := newFixture(t)
	f.store.RecordTick(models.MTick{Symbol: "NSE:TCS-EQ", LastPrice: 3500, EventTime: 1000})
	f.store.RecordCandle(models.MCandle{Symbol: "NSE:TCS-EQ", BucketStart: 900, Open: 3490, High: 3505, Low: 3488, Close: 3500})

	conn := f.dial(t)
	next(t, conn, models.EventWelcome)
	subscribe(t, conn, " tcs ", "reliance", "TCS")

	var confirm models.MSubscriptionConfirm
	require.NoError(t, json.Unmarshal(next(t, conn, models.EventSubscriptionConfirm), &confirm))
	assert.True(t, confirm.Success)
	assert.ElementsMatch(t, []string{"NSE:TCS-EQ", "NSE:RELIANCE-EQ"}, confirm.Symbols)
	assert.Equal(t, 2, confirm.Count)

	var hist models.MHistoricalData
	require.NoError(t, json.Unmarshal(next(t, conn, models.EventHistoricalData), &hist))
	assert.Equal(t, "NSE:TCS-EQ", hist.Symbol)
	require.Len(t, hist.Ticks, 1)
	assert.Equal(t, 3500.0, hist.Ticks[0].LastPrice)

	var candles models.MCandleData
	require.NoError(t, json.Unmarshal(next(t, conn, models.EventCandleData), &candles))
	assert.Len(t, candles.Candles, 1)

	assert.Equal(t, 1, f.router.RefCount("NSE:TCS-EQ"))
	assert.Equal(t, 1, f.router.RefCount("NSE:RELIANCE-EQ"))
}

func TestServer_SubscribeRejections(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	next(t, conn, models.EventWelcome)

	subscribe(t, conn, "A", "B", "C", "D", "E", "F", "G")
	var errPayload models.MErrorPayload
	require.NoError(t, json.Unmarshal(next(t, conn, models.EventError), &errPayload))
	assert.Contains(t, errPayload.Message, "maximum 6")
	assert.Empty(t, f.router.ActiveSymbols())

	send(t, conn, models.CommandSubscribe, map[string]interface{}{"company_codes": "TCS"})
	require.NoError(t, json.Unmarshal(next(t, conn, models.EventError), &errPayload))
	assert.Contains(t, errPayload.Message, "must be an array")

	send(t, conn, models.CommandSubscribe, map[string]interface{}{"company_codes": []interface{}{}})
	require.NoError(t, json.Unmarshal(next(t, conn, models.EventError), &errPayload))
	assert.Contains(t, errPayload.Message, "At least 1")

	send(t, conn, models.CommandSubscribe, map[string]interface{}{"company_codes": []interface{}{"TCS", 1, "INFY"}})
	require.NoError(t, json.Unmarshal(next(t, conn, models.EventError), &errPayload))
	assert.Equal(t, "company_codes[1] must be a non-empty string", errPayload.Message)

	send(t, conn, models.CommandSubscribe, map[string]interface{}{"company_codes": []interface{}{"TCS", " "}})
	require.NoError(t, json.Unmarshal(next(t, conn, models.EventError), &errPayload))
	assert.Contains(t, errPayload.Message, "company_codes[1]")

	subscribe(t, conn, "A", "A", "B", "C", "D", "E", "F")
	require.NoError(t, json.Unmarshal(next(t, conn, models.EventError), &errPayload))
	assert.Contains(t, errPayload.Message, "maximum 6")
	assert.Empty(t, f.router.ActiveSymbols(), "nothing subscribed by rejected requests")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, json.Unmarshal(next(t, conn, models.EventError), &errPayload))
	assert.Equal(t, "invalid message format", errPayload.Message)
}

func TestServer_UnsubscribeAllAndTradingStatus(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	next(t, conn, models.EventWelcome)

	subscribe(t, conn, "INFY")
	next(t, conn, models.EventSubscriptionConfirm)
	require.True(t, f.router.IsActive("NSE:INFY-EQ"))

	send(t, conn, models.CommandUnsubscribeAll, map[string]interface{}{})
	var confirm models.MSubscriptionConfirm
	require.NoError(t, json.Unmarshal(next(t, conn, models.EventSubscriptionConfirm), &confirm))
	assert.Equal(t, 0, confirm.Count)
	assert.False(t, f.router.IsActive("NSE:INFY-EQ"))

	send(t, conn, models.CommandGetTradingStatus, map[string]interface{}{})
	var status models.MTradingStatus
	require.NoError(t, json.Unmarshal(next(t, conn, models.EventTradingStatus), &status))
	assert.True(t, status.TradingActive)
	assert.Equal(t, "09:15", status.TradingStart)
}

func TestServer_RelayOnlyReachesSubscribers(t *testing.T) {
	f := newFixture(t)
	a := f.dial(t)
	b := f.dial(t)
	next(t, a, models.EventWelcome)
	next(t, b, models.EventWelcome)

	subscribe(t, a, "SBIN")
	next(t, a, models.EventSubscriptionConfirm)
	subscribe(t, b, "TCS")
	next(t, b, models.EventSubscriptionConfirm)

	tick := models.MTick{Symbol: "NSE:SBIN-EQ", LastPrice: 612.5, EventTime: 1700000000}
	f.server.Relay("NSE:SBIN-EQ", models.NewEvent(models.EventMarketData, models.MMarketData{Tick: tick}))
	f.server.Broadcast(models.NewEvent(models.EventHeartbeat, models.MHeartbeat{Timestamp: 1}))

	var md models.MMarketData
	require.NoError(t, json.Unmarshal(next(t, a, models.EventMarketData), &md))
	assert.Equal(t, 612.5, md.Tick.LastPrice)

	// b sees the heartbeat but never the SBIN tick.
	require.NoError(t, b.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev wireEvent
	for {
		require.NoError(t, b.ReadJSON(&ev))
		require.NotEqual(t, models.EventMarketData, ev.Event)
		if ev.Event == models.EventHeartbeat {
			break
		}
	}
}

func TestServer_DisconnectReleasesSubscriptions(t *testing.T) {
	f := newFixture(t)
	a := f.dial(t)
	b := f.dial(t)
	next(t, a, models.EventWelcome)
	next(t, b, models.EventWelcome)

	subscribe(t, a, "HDFC")
	next(t, a, models.EventSubscriptionConfirm)
	subscribe(t, b, "HDFC")
	next(t, b, models.EventSubscriptionConfirm)
	require.Equal(t, 2, f.router.RefCount("NSE:HDFC-EQ"))

	a.Close()
	require.Eventually(t, func() bool { return f.router.RefCount("NSE:HDFC-EQ") == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, f.router.IsActive("NSE:HDFC-EQ"))

	b.Close()
	require.Eventually(t, func() bool { return f.router.RefCount("NSE:HDFC-EQ") == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, f.router.IsActive("NSE:HDFC-EQ"))
	assert.Equal(t, 0, f.server.SessionCount())
}

func TestServer_SlowConsumerIsEvicted(t *testing.T) {
	f := newFixture(t)

	// No pumps: the queue only drains if someone reads it.
	slow := &Session{ID: "slow", server: f.server, send: make(chan models.MEvent, 1)}
	require.True(t, f.server.OnConnect(slow))
	_, err := f.router.Subscribe("slow", []models.MSymbol{{Exchange: "NSE", Code: "ITC", Marker: "EQ"}})
	require.NoError(t, err)

	// The welcome already fills the queue.
	f.server.Relay("NSE:ITC-EQ", models.NewEvent(models.EventMarketData, models.MMarketData{}))

	assert.Equal(t, 0, f.server.SessionCount())
	assert.Equal(t, 0, f.router.RefCount("NSE:ITC-EQ"))
	assert.Equal(t, 0, f.router.SessionCount())
	assert.False(t, f.server.Send("slow", models.NewEvent(models.EventHeartbeat, nil)))
}

func TestServer_RESTEndpoints(t *testing.T) {
	f := newFixture(t)
	f.store.RecordTick(models.MTick{Symbol: "NSE:RELIANCE-EQ", LastPrice: 2900, EventTime: 10})

	resp, err := http.Get(f.http.URL + "/api/health")
	require.NoError(t, err)
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health["status"])

	resp, err = http.Get(f.http.URL + "/api/history/NSE:RELIANCE-EQ?kind=ticks")
	require.NoError(t, err)
	var hist models.MHistoricalData
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hist))
	resp.Body.Close()
	require.Len(t, hist.Ticks, 1)
	assert.Equal(t, 2900.0, hist.Ticks[0].LastPrice)

	resp, err = http.Get(f.http.URL + "/api/history/reliance?kind=bars")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	known := f.server.catalog.Len()
	resp, err = http.Get(f.http.URL + "/api/history/NOPE?kind=ticks")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, known, f.server.catalog.Len(), "lookups never register instruments")

	resp, err = http.Get(f.http.URL + "/api/symbols")
	require.NoError(t, err)
	var symbols struct {
		Symbols []models.MSymbol `json:"symbols"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&symbols))
	resp.Body.Close()
	assert.NotEmpty(t, symbols.Symbols)
}
