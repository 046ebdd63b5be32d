package router

import (
	"fmt"
	"strings"

	"github.com/fabian4/gateway-lite/internal/gwerr"
	"github.com/fabian4/gateway-lite/internal/model"
)

// Resolution strategies.
const (
	ModeExact  = "exact"  // "/{service}/{rest...}", keyed by first segment
	ModePrefix = "prefix" // raw prefix match, first configured entry wins
)

// Match is a resolved route plus the path to append to its upstream base URL.
type Match struct {
	Route       *model.RouteEntry
	ForwardPath string // no leading slash
}

// Resolver finds the route owning an inbound path.
type Resolver interface {
	Resolve(path string) (Match, error)
	Routes() []model.RouteEntry
}

// New builds the resolver for mode. Entries are copied; the table is immutable afterwards.
// Every entry needs an absolute upstream with a host.
func New(mode string, entries []model.RouteEntry) (Resolver, error) {
	rs := make([]model.RouteEntry, len(entries))
	copy(rs, entries)
	for i := range rs {
		if u := rs[i].Upstream; u == nil || u.Host == "" {
			return nil, fmt.Errorf("router: route %q has no upstream host", rs[i].Key)
		}
	}

	switch mode {
	case ModeExact, "":
		return newExactTable(rs)
	case ModePrefix:
		return newPrefixTable(rs), nil
	default:
		return nil, fmt.Errorf("router: unknown mode %q", mode)
	}
}

type exactTable struct {
	entries []model.RouteEntry
	byKey   map[string]*model.RouteEntry
}

func newExactTable(rs []model.RouteEntry) (*exactTable, error) {
	t := &exactTable{entries: rs, byKey: make(map[string]*model.RouteEntry, len(rs))}
	for i := range rs {
		k := rs[i].Key
		if _, dup := t.byKey[k]; dup {
			return nil, fmt.Errorf("router: duplicate key %q", k)
		}
		t.byKey[k] = &rs[i]
	}
	return t, nil
}

func (t *exactTable) Resolve(path string) (Match, error) {
	p := strings.TrimPrefix(path, "/")
	name, _, _ := strings.Cut(p, "/")
	r, ok := t.byKey[name]
	if !ok || name == "" {
		return Match{}, gwerr.New(gwerr.RouteNotFound, "", nil)
	}
	return Match{Route: r, ForwardPath: p}, nil
}

func (t *exactTable) Routes() []model.RouteEntry { return cloneEntries(t.entries) }

type prefixTable struct {
	entries  []model.RouteEntry
	prefixes []string // trimmed keys, same order as entries
}

func newPrefixTable(rs []model.RouteEntry) *prefixTable {
	t := &prefixTable{entries: rs, prefixes: make([]string, len(rs))}
	for i := range rs {
		t.prefixes[i] = strings.Trim(rs[i].Key, "/")
	}
	return t
}

// Resolve checks prefixes in configuration order. The check is a plain string
// prefix: "service1" also claims "service10/...".
func (t *prefixTable) Resolve(path string) (Match, error) {
	p := strings.TrimPrefix(path, "/")
	for i, pfx := range t.prefixes {
		if strings.HasPrefix(p, pfx) {
			return Match{Route: &t.entries[i], ForwardPath: p}, nil
		}
	}
	return Match{}, gwerr.New(gwerr.RouteNotFound, "", nil)
}

func (t *prefixTable) Routes() []model.RouteEntry { return cloneEntries(t.entries) }

func cloneEntries(rs []model.RouteEntry) []model.RouteEntry {
	out := make([]model.RouteEntry, len(rs))
	copy(out, rs)
	return out
}
