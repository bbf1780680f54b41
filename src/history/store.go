package history

import (
	"hash/fnv"
	"sort"
	"sync"

	"market-gateway/src/models"
	"market-gateway/src/utils"
)

const (
	DefaultCapacity   = 10000
	defaultShardCount = 32
)

// -----------------------------------------------------------------------------

type symbolHistory struct {
	ticks   *utils.RingBuffer[models.MTick]
	candles *utils.RingBuffer[models.MCandle]
}

type storeShard struct {
	mu      sync.RWMutex
	symbols map[string]*symbolHistory
}

// -----------------------------------------------------------------------------
// Store keeps bounded tick and candle history per symbol. Symbols are spread
// over lock-striped shards; every read returns a copy.
// -----------------------------------------------------------------------------

type Store struct {
	Capacity int
	shards   []*storeShard
}

// -----------------------------------------------------------------------------

func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Store{
		Capacity: capacity,
		shards:   make([]*storeShard, defaultShardCount),
	}
	for i := range s.shards {
		s.shards[i] = &storeShard{symbols: make(map[string]*symbolHistory)}
	}
	return s
}

// -----------------------------------------------------------------------------

func (s *Store) RecordTick(tick models.MTick) {
	sh := s.shard(tick.Symbol)
	sh.mu.Lock()
	s.entry(sh, tick.Symbol).ticks.Append(tick)
	sh.mu.Unlock()
}

// -----------------------------------------------------------------------------

func (s *Store) RecordCandle(candle models.MCandle) {
	sh := s.shard(candle.Symbol)
	sh.mu.Lock()
	s.entry(sh, candle.Symbol).candles.Append(candle)
	sh.mu.Unlock()
}

// -----------------------------------------------------------------------------

// Ticks returns the tick history of symbol, oldest first.
func (s *Store) Ticks(symbol string) []models.MTick {
	sh := s.shard(symbol)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if h, ok := sh.symbols[symbol]; ok {
		return h.ticks.GetAll()
	}
	return []models.MTick{}
}

// -----------------------------------------------------------------------------

// Candles returns the closed candle history of symbol, oldest first.
func (s *Store) Candles(symbol string) []models.MCandle {
	sh := s.shard(symbol)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if h, ok := sh.symbols[symbol]; ok {
		return h.candles.GetAll()
	}
	return []models.MCandle{}
}

// -----------------------------------------------------------------------------

func (s *Store) HasTicks(symbol string) bool {
	sh := s.shard(symbol)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	h, ok := sh.symbols[symbol]
	return ok && h.ticks.Size() > 0
}

// -----------------------------------------------------------------------------

// MergeTicks merges backfilled ticks with what live traffic already recorded,
// ordered by event time. On equal timestamps live ticks sort after history.
func (s *Store) MergeTicks(symbol string, ticks []models.MTick) {
	if len(ticks) == 0 {
		return
	}
	sh := s.shard(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	h := s.entry(sh, symbol)
	merged := make([]models.MTick, 0, len(ticks)+h.ticks.Size())
	merged = append(merged, ticks...)
	merged = append(merged, h.ticks.GetAll()...)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].EventTime < merged[j].EventTime })
	h.ticks.Replace(merged)
}

// -----------------------------------------------------------------------------

// MergeCandles merges backfilled candles by bucket. A bucket already present
// is kept as is.
func (s *Store) MergeCandles(symbol string, candles []models.MCandle) {
	if len(candles) == 0 {
		return
	}
	sh := s.shard(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	h := s.entry(sh, symbol)
	existing := h.candles.GetAll()
	have := make(map[int64]struct{}, len(existing))
	for _, c := range existing {
		have[c.BucketStart] = struct{}{}
	}

	merged := existing
	for _, c := range candles {
		if _, dup := have[c.BucketStart]; dup {
			continue
		}
		have[c.BucketStart] = struct{}{}
		merged = append(merged, c)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].BucketStart < merged[j].BucketStart })
	h.candles.Replace(merged)
}

// -----------------------------------------------------------------------------

// Symbols lists every symbol with recorded history.
func (s *Store) Symbols() []string {
	var out []string
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k := range sh.symbols {
			out = append(out, k)
		}
		sh.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}

// -----------------------------------------------------------------------------

func (s *Store) entry(sh *storeShard, symbol string) *symbolHistory {
	h, ok := sh.symbols[symbol]
	if !ok {
		h = &symbolHistory{
			ticks:   utils.NewRingBuffer[models.MTick](s.Capacity),
			candles: utils.NewRingBuffer[models.MCandle](s.Capacity),
		}
		sh.symbols[symbol] = h
	}
	return h
}

// -----------------------------------------------------------------------------

func (s *Store) shard(symbol string) *storeShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}
