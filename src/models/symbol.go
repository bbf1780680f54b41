package models

import "fmt"

// MSymbol identifies one tradable instrument on the upstream feed.
type MSymbol struct {
	Exchange string `json:"exchange" yaml:"exchange" env:"EXCHANGE"`
	Code     string `json:"code" yaml:"code" env:"CODE"`
	Marker   string `json:"marker" yaml:"marker" env:"MARKER"`
}

// Key returns the canonical upstream identifier, e.g. NSE:RELIANCE-EQ.
func (s MSymbol) Key() string {
	return fmt.Sprintf("%s:%s-%s", s.Exchange, s.Code, s.Marker)
}

func (s MSymbol) String() string {
	return s.Key()
}

// -----------------------------------------------------------------------------

// MDelta is the net change in upstream interest produced by one router mutation.
type MDelta struct {
	Added   []MSymbol `json:"added"`
	Removed []MSymbol `json:"removed"`
}

// Empty reports whether the delta carries no upstream work.
func (d MDelta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// SymbolKeys converts symbols to their canonical keys, preserving order.
func SymbolKeys(symbols []MSymbol) []string {
	keys := make([]string, len(symbols))
	for i, s := range symbols {
		keys[i] = s.Key()
	}
	return keys
}
