package main

import (
	"encoding/json"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"market-gateway/src/logger"
	"market-gateway/src/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// walk is the running state of one simulated instrument.
type walk struct {
	price, open, high, low, prevClose float64
	volume                            float64
}

// -----------------------------------------------------------------------------

type simulator struct {
	token  string
	period time.Duration
	log    *logger.Logger

	mu    sync.Mutex
	walks map[string]*walk
}

func newSimulator(token string, period time.Duration, log *logger.Logger) *simulator {
	return &simulator{token: token, period: period, log: log, walks: make(map[string]*walk)}
}

func (s *simulator) routes() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/api/profile", s.profile)
	r.GET("/api/history", s.history)
	r.GET("/feed", s.feed)
	return r
}

// -----------------------------------------------------------------------------
// Auth
// -----------------------------------------------------------------------------

// authorized accepts "Bearer jwt" and "Bearer client:jwt".
func (s *simulator) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if i := strings.Index(bearer, ":"); i >= 0 {
		bearer = bearer[i+1:]
	}
	return bearer == s.token
}

// -----------------------------------------------------------------------------
// REST
// -----------------------------------------------------------------------------

func (s *simulator) profile(c *gin.Context) {
	if !s.authorized(c.Request) {
		c.JSON(http.StatusUnauthorized, models.MProfileResponse{Status: "error", Code: -16, Message: "invalid token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"s": "ok", "code": 200, "data": gin.H{"name": "feedsim"}})
}

// -----------------------------------------------------------------------------

func (s *simulator) history(c *gin.Context) {
	if !s.authorized(c.Request) {
		c.JSON(http.StatusUnauthorized, models.MHistoryResponse{Status: "error", Message: "invalid token"})
		return
	}

	symbol := c.Query("symbol")
	from, errFrom := strconv.ParseInt(c.Query("range_from"), 10, 64)
	to, errTo := strconv.ParseInt(c.Query("range_to"), 10, 64)
	if symbol == "" || errFrom != nil || errTo != nil || to < from {
		c.JSON(http.StatusBadRequest, models.MHistoryResponse{Status: "error", Message: "symbol, range_from and range_to are required"})
		return
	}

	step := int64(60)
	if res, err := strconv.Atoi(c.DefaultQuery("resolution", "1")); err == nil && res > 0 {
		step = int64(res) * 60
	}

	rng := rand.New(rand.NewPCG(seed(symbol), uint64(from)))
	price := basePrice(symbol)
	rows := make([][]float64, 0, (to-from)/step+1)
	for ts := from - from%step; ts <= to; ts += step {
		open := price
		high, low := open, open
		for i := 0; i < 4; i++ {
			price = step1(rng, price)
			high = math.Max(high, price)
			low = math.Min(low, price)
		}
		rows = append(rows, []float64{float64(ts), round(open), round(high), round(low), round(price), float64(100 + rng.IntN(5000))})
	}
	c.JSON(http.StatusOK, models.MHistoryResponse{Status: "ok", Candles: rows})
}

// -----------------------------------------------------------------------------
// Websocket stream
// -----------------------------------------------------------------------------

func (s *simulator) feed(c *gin.Context) {
	if !s.authorized(c.Request) {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warning("upgrade failed: %v", err)
		return
	}
	s.log.Info("gateway connected from %s", c.ClientIP())

	var (
		writeMu sync.Mutex
		subMu   sync.Mutex
		subs    = make(map[string]struct{})
		done    = make(chan struct{})
	)
	write := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteJSON(v)
	}

	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd models.MUpstreamCommand
			if err := json.Unmarshal(data, &cmd); err != nil {
				_ = write(gin.H{"type": "error", "code": 400, "message": "bad command"})
				continue
			}
			subMu.Lock()
			for _, sym := range cmd.Symbols {
				if cmd.Action == "unsubscribe" {
					delete(subs, sym)
				} else {
					subs[sym] = struct{}{}
				}
			}
			n := len(subs)
			subMu.Unlock()
			_ = write(gin.H{"type": "sub", "code": 200, "message": cmd.Action + " ok, " + strconv.Itoa(n) + " active"})
		}
	}()

	ticker := time.NewTicker(s.period)
	defer func() {
		ticker.Stop()
		conn.Close()
		s.log.Info("gateway disconnected")
	}()

	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			subMu.Lock()
			symbols := make([]string, 0, len(subs))
			for sym := range subs {
				symbols = append(symbols, sym)
			}
			subMu.Unlock()
			if len(symbols) == 0 {
				continue
			}

			frames := make([]map[string]interface{}, 0, len(symbols))
			for _, sym := range symbols {
				frames = append(frames, s.nextTick(sym, now))
			}
			if err := write(frames); err != nil {
				return
			}
		}
	}
}

// -----------------------------------------------------------------------------

func (s *simulator) nextTick(symbol string, now time.Time) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.walks[symbol]
	if !ok {
		p := basePrice(symbol)
		w = &walk{price: p, open: p, high: p, low: p, prevClose: p}
		s.walks[symbol] = w
	}
	w.price = step1(rand.New(rand.NewPCG(seed(symbol), uint64(now.UnixNano()))), w.price)
	w.high = math.Max(w.high, w.price)
	w.low = math.Min(w.low, w.price)
	w.volume += float64(1 + rand.IntN(500))

	change := w.price - w.prevClose
	return map[string]interface{}{
		"symbol":           symbol,
		"ltp":              round(w.price),
		"ch":               round(change),
		"chp":              round(change / w.prevClose * 100),
		"vol_traded_today": w.volume,
		"open_price":       round(w.open),
		"high_price":       round(w.high),
		"low_price":        round(w.low),
		"prev_close_price": round(w.prevClose),
		"bid_price":        round(w.price - 0.05),
		"ask_price":        round(w.price + 0.05),
		"last_traded_time": now.UnixMilli(),
	}
}

// -----------------------------------------------------------------------------

func seed(symbol string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return h.Sum64()
}

func basePrice(symbol string) float64 {
	return 100 + float64(seed(symbol)%4900)
}

func step1(rng *rand.Rand, price float64) float64 {
	next := price * (1 + (rng.Float64()-0.5)*0.002)
	return math.Max(next, 0.05)
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}
