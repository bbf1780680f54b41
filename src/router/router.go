package router

import (
	"hash/fnv"
	"sort"
	"sync"

	"market-gateway/src/helpers"
	"market-gateway/src/interfaces"
	"market-gateway/src/models"
)

const (
	DefaultMaxPerClient = 6
	DefaultShardCount   = 32
)

// -----------------------------------------------------------------------------
// Internal state
// -----------------------------------------------------------------------------

// symbolState is guarded by its shard's mutex. refCount always equals
// len(subscribers) and the symbol is upstream-active iff refCount > 0.
type symbolState struct {
	symbol      models.MSymbol
	refCount    int
	subscribers map[string]struct{}
}

type shard struct {
	mu      sync.Mutex
	symbols map[string]*symbolState
}

// sessionEntry is guarded by its own mutex, which is always taken before any
// shard mutex.
type sessionEntry struct {
	mu        sync.Mutex
	symbols   map[string]models.MSymbol
	destroyed bool
}

// -----------------------------------------------------------------------------
// Router
// -----------------------------------------------------------------------------

// Router owns the session -> symbols and symbol -> sessions maps and the
// per-symbol reference counts that decide upstream activity.
type Router struct {
	MaxPerClient int

	shards []*shard

	sessionsMu sync.RWMutex
	sessions   map[string]*sessionEntry

	sinkMu sync.RWMutex
	sink   interfaces.IUpstreamSink
}

// -----------------------------------------------------------------------------

func NewRouter(maxPerClient, shardCount int) *Router {
	if maxPerClient <= 0 {
		maxPerClient = DefaultMaxPerClient
	}
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}

	r := &Router{
		MaxPerClient: maxPerClient,
		shards:       make([]*shard, shardCount),
		sessions:     make(map[string]*sessionEntry),
	}
	for i := range r.shards {
		r.shards[i] = &shard{symbols: make(map[string]*symbolState)}
	}
	return r
}

// -----------------------------------------------------------------------------

// SetSink installs the receiver of upstream deltas.
func (r *Router) SetSink(sink interfaces.IUpstreamSink) {
	r.sinkMu.Lock()
	r.sink = sink
	r.sinkMu.Unlock()
}

// -----------------------------------------------------------------------------
// Session lifecycle
// -----------------------------------------------------------------------------

// OpenSession registers a session with an empty watchlist. Idempotent.
func (r *Router) OpenSession(sessionID string) {
	r.sessionsMu.Lock()
	defer r.sessionsMu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		r.sessions[sessionID] = &sessionEntry{symbols: make(map[string]models.MSymbol)}
	}
}

// -----------------------------------------------------------------------------

// OnSessionDestroyed removes the session from every subscriber set and forgets
// it. Calling it twice is harmless.
func (r *Router) OnSessionDestroyed(sessionID string) models.MDelta {
	r.sessionsMu.Lock()
	entry, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.sessionsMu.Unlock()
	if !ok {
		return models.MDelta{}
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.destroyed {
		return models.MDelta{}
	}
	entry.destroyed = true
	return r.replaceLocked(sessionID, entry, nil)
}

// -----------------------------------------------------------------------------
// Mutations
// -----------------------------------------------------------------------------

// Subscribe replaces the session's watchlist with symbols. Duplicates are
// collapsed. An empty list, a list longer than MaxPerClient or an unknown
// session is rejected with a ValidationError and nothing changes.
func (r *Router) Subscribe(sessionID string, symbols []models.MSymbol) (models.MDelta, error) {
	if len(symbols) == 0 {
		return models.MDelta{}, helpers.NewValidationError("no symbols to subscribe")
	}

	next := make(map[string]models.MSymbol, len(symbols))
	for _, s := range symbols {
		next[s.Key()] = s
	}
	if len(next) > r.MaxPerClient {
		return models.MDelta{}, helpers.NewValidationError("maximum %d symbols allowed, got %d", r.MaxPerClient, len(next))
	}

	entry := r.lookup(sessionID)
	if entry == nil {
		return models.MDelta{}, helpers.NewValidationError("unknown session %s", sessionID)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.destroyed {
		return models.MDelta{}, helpers.NewValidationError("session %s is closed", sessionID)
	}
	return r.replaceLocked(sessionID, entry, next), nil
}

// -----------------------------------------------------------------------------

// UnsubscribeAll empties the session's watchlist.
func (r *Router) UnsubscribeAll(sessionID string) models.MDelta {
	entry := r.lookup(sessionID)
	if entry == nil {
		return models.MDelta{}
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.destroyed {
		return models.MDelta{}
	}
	return r.replaceLocked(sessionID, entry, nil)
}

// -----------------------------------------------------------------------------

// replaceLocked moves the session from its current watchlist to next. The
// caller holds entry.mu. Touched shards are locked in ascending index order
// and stay locked while the delta is handed to the sink, so the refcount
// transition and the upstream hand-off are one atomic step per symbol.
func (r *Router) replaceLocked(sessionID string, entry *sessionEntry, next map[string]models.MSymbol) models.MDelta {
	var toAdd, toRemove []models.MSymbol
	for key, sym := range next {
		if _, ok := entry.symbols[key]; !ok {
			toAdd = append(toAdd, sym)
		}
	}
	for key, sym := range entry.symbols {
		if _, ok := next[key]; !ok {
			toRemove = append(toRemove, sym)
		}
	}
	if len(toAdd) == 0 && len(toRemove) == 0 {
		return models.MDelta{}
	}

	touched := make(map[int]struct{}, len(toAdd)+len(toRemove))
	for _, s := range toAdd {
		touched[r.shardIndex(s.Key())] = struct{}{}
	}
	for _, s := range toRemove {
		touched[r.shardIndex(s.Key())] = struct{}{}
	}
	order := make([]int, 0, len(touched))
	for idx := range touched {
		order = append(order, idx)
	}
	sort.Ints(order)

	for _, idx := range order {
		r.shards[idx].mu.Lock()
	}
	defer func() {
		for i := len(order) - 1; i >= 0; i-- {
			r.shards[order[i]].mu.Unlock()
		}
	}()

	var delta models.MDelta
	for _, sym := range toAdd {
		sh := r.shards[r.shardIndex(sym.Key())]
		st, ok := sh.symbols[sym.Key()]
		if !ok {
			st = &symbolState{symbol: sym, subscribers: make(map[string]struct{})}
			sh.symbols[sym.Key()] = st
		}
		st.subscribers[sessionID] = struct{}{}
		st.refCount++
		if st.refCount == 1 {
			delta.Added = append(delta.Added, sym)
		}
	}
	for _, sym := range toRemove {
		sh := r.shards[r.shardIndex(sym.Key())]
		st, ok := sh.symbols[sym.Key()]
		if !ok {
			continue
		}
		if _, member := st.subscribers[sessionID]; !member {
			continue
		}
		delete(st.subscribers, sessionID)
		st.refCount--
		if st.refCount == 0 {
			delete(sh.symbols, sym.Key())
			delta.Removed = append(delta.Removed, sym)
		}
	}

	sortSymbols(delta.Added)
	sortSymbols(delta.Removed)

	if !delta.Empty() {
		r.sinkMu.RLock()
		sink := r.sink
		r.sinkMu.RUnlock()
		if sink != nil {
			sink.ApplyDelta(delta.Added, delta.Removed)
		}
	}

	entry.symbols = make(map[string]models.MSymbol, len(next))
	for k, v := range next {
		entry.symbols[k] = v
	}
	return delta
}

// -----------------------------------------------------------------------------
// Queries
// -----------------------------------------------------------------------------

// Subscribers returns the ids of sessions currently subscribed to key, sorted.
func (r *Router) Subscribers(key string) []string {
	sh := r.shards[r.shardIndex(key)]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, ok := sh.symbols[key]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(st.subscribers))
	for id := range st.subscribers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// -----------------------------------------------------------------------------

func (r *Router) RefCount(key string) int {
	sh := r.shards[r.shardIndex(key)]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if st, ok := sh.symbols[key]; ok {
		return st.refCount
	}
	return 0
}

// -----------------------------------------------------------------------------

// IsActive reports whether the upstream should be streaming key.
func (r *Router) IsActive(key string) bool {
	return r.RefCount(key) > 0
}

// -----------------------------------------------------------------------------

// ActiveSymbols returns every symbol with a positive refcount, sorted by key.
func (r *Router) ActiveSymbols() []models.MSymbol {
	var out []models.MSymbol
	for _, sh := range r.shards {
		sh.mu.Lock()
		for _, st := range sh.symbols {
			if st.refCount > 0 {
				out = append(out, st.symbol)
			}
		}
		sh.mu.Unlock()
	}
	sortSymbols(out)
	return out
}

// -----------------------------------------------------------------------------

// SessionSymbols returns the session's watchlist sorted by key.
func (r *Router) SessionSymbols(sessionID string) []models.MSymbol {
	entry := r.lookup(sessionID)
	if entry == nil {
		return nil
	}

	entry.mu.Lock()
	out := make([]models.MSymbol, 0, len(entry.symbols))
	for _, s := range entry.symbols {
		out = append(out, s)
	}
	entry.mu.Unlock()

	sortSymbols(out)
	return out
}

// -----------------------------------------------------------------------------

func (r *Router) SessionCount() int {
	r.sessionsMu.RLock()
	defer r.sessionsMu.RUnlock()
	return len(r.sessions)
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (r *Router) lookup(sessionID string) *sessionEntry {
	r.sessionsMu.RLock()
	defer r.sessionsMu.RUnlock()
	return r.sessions[sessionID]
}

// -----------------------------------------------------------------------------

func (r *Router) shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(r.shards)))
}

// -----------------------------------------------------------------------------

func sortSymbols(symbols []models.MSymbol) {
	sort.Slice(symbols, func(i, j int) bool { return symbols[i].Key() < symbols[j].Key() })
}
