package models

import (
	"sort"
	"strings"
	"time"
)

// Universe is a dated snapshot of the discovered symbol set.
//
// Symbols are case-sensitive, unique and sorted ascending.
type Universe struct {
	Date    time.Time
	Symbols []string
}

// ValidSymbol reports whether s can name a per-symbol artifact: non-empty,
// not a dot entry and free of path separators.
func ValidSymbol(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

// NewUniverse builds a Universe from raw symbols, trimming blanks,
// dropping invalid symbols, deduplicating and sorting.
func NewUniverse(date time.Time, symbols []string) Universe {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.TrimSpace(s)
		if !ValidSymbol(s) {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return Universe{Date: date, Symbols: out}
}

// Empty reports whether there is nothing to fetch.
func (u Universe) Empty() bool { return len(u.Symbols) == 0 }
