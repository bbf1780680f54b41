package catalog

import (
	"sort"
	"strings"
	"sync"

	"market-gateway/src/models"
)

// -----------------------------------------------------------------------------
// Catalog is the registry of known instruments. Entries are created lazily and
// never removed.
// -----------------------------------------------------------------------------

type Catalog struct {
	DefaultExchange string
	DefaultMarker   string

	mu     sync.RWMutex
	byCode map[string]models.MSymbol // normalized code -> symbol
	byKey  map[string]models.MSymbol // canonical key -> symbol
}

// -----------------------------------------------------------------------------

func NewCatalog(defaultExchange, defaultMarker string) *Catalog {
	if defaultExchange == "" {
		defaultExchange = "NSE"
	}
	if defaultMarker == "" {
		defaultMarker = "EQ"
	}
	return &Catalog{
		DefaultExchange: normalize(defaultExchange),
		DefaultMarker:   normalize(defaultMarker),
		byCode:          make(map[string]models.MSymbol),
		byKey:           make(map[string]models.MSymbol),
	}
}

// -----------------------------------------------------------------------------

// Seed registers static entries. Existing codes are left untouched.
func (c *Catalog) Seed(symbols []models.MSymbol) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range symbols {
		code := normalize(s.Code)
		if code == "" {
			continue
		}
		if _, ok := c.byCode[code]; ok {
			continue
		}
		c.register(c.fill(code, s.Exchange, s.Marker))
	}
}

// -----------------------------------------------------------------------------

// Resolve returns the known symbol for code or synthesizes and registers one
// from the hints (or the defaults when the hints are empty). Never fails.
func (c *Catalog) Resolve(code, exchangeHint, markerHint string) models.MSymbol {
	code = normalize(code)

	c.mu.RLock()
	sym, ok := c.byCode[code]
	c.mu.RUnlock()
	if ok {
		return sym
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if sym, ok := c.byCode[code]; ok {
		return sym
	}
	sym = c.fill(code, exchangeHint, markerHint)
	c.register(sym)
	return sym
}

// -----------------------------------------------------------------------------

// ResolveAll resolves codes in order, skipping blanks and duplicates.
func (c *Catalog) ResolveAll(codes []string) []models.MSymbol {
	seen := make(map[string]struct{}, len(codes))
	out := make([]models.MSymbol, 0, len(codes))
	for _, code := range codes {
		if normalize(code) == "" {
			continue
		}
		sym := c.Resolve(code, "", "")
		if _, dup := seen[sym.Key()]; dup {
			continue
		}
		seen[sym.Key()] = struct{}{}
		out = append(out, sym)
	}
	return out
}

// -----------------------------------------------------------------------------

// Lookup finds a symbol by its canonical key.
func (c *Catalog) Lookup(key string) (models.MSymbol, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sym, ok := c.byKey[key]
	return sym, ok
}

// -----------------------------------------------------------------------------

// Snapshot returns every known symbol sorted by key.
func (c *Catalog) Snapshot() []models.MSymbol {
	c.mu.RLock()
	out := make([]models.MSymbol, 0, len(c.byKey))
	for _, s := range c.byKey {
		out = append(out, s)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// -----------------------------------------------------------------------------

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byKey)
}

// -----------------------------------------------------------------------------

func (c *Catalog) fill(code, exchange, marker string) models.MSymbol {
	exchange = normalize(exchange)
	marker = normalize(marker)
	if exchange == "" {
		exchange = c.DefaultExchange
	}
	if marker == "" {
		marker = c.DefaultMarker
	}
	return models.MSymbol{Exchange: exchange, Code: code, Marker: marker}
}

// -----------------------------------------------------------------------------

func (c *Catalog) register(sym models.MSymbol) {
	c.byCode[sym.Code] = sym
	c.byKey[sym.Key()] = sym
}

// -----------------------------------------------------------------------------

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
