// Package headers implements the origin-matched header store.
//
// A Store maps (header name, header value) pairs to sets of origin patterns.
// Every outgoing request whose origin matches one of the patterns receives
// the header, unless the request already carries a header with that name.
// Names compare case-insensitively, values compare exactly.
//
// Mutations are all-or-nothing: input is validated completely before the
// store changes, and each successful mutation publishes a new immutable
// snapshot. Readers never observe a partially applied update.
package headers

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/youtube/cobalt-sub008/internal/origin"
	"github.com/youtube/cobalt-sub008/internal/shared/utils"
)

var (
	ErrNoPatterns      = errors.New("at least one origin pattern is required")
	ErrTooManyPatterns = fmt.Errorf("more than %d origin patterns", utils.MaxOriginPatterns)
)

// Entry is one (name, value) pair and the origins it applies to.
type Entry struct {
	Name     string
	Value    string
	Patterns []origin.Pattern
}

// Rules returns the normalized string form of every pattern.
func (e Entry) Rules() []string {
	out := make([]string, len(e.Patterns))
	for i, p := range e.Patterns {
		out[i] = p.String()
	}
	return out
}

// Header is a name and merged value ready to be attached to a request.
type Header struct {
	Name  string
	Value string
}

type valueRule struct {
	value    string
	patterns []origin.Pattern
}

// nameGroup holds every value stored under one case-insensitive name.
// wire is the casing of the first insertion.
type nameGroup struct {
	key    string
	wire   string
	values []valueRule
}

type snapshot struct {
	groups []nameGroup
}

// Store holds origin-matched headers for one profile.
type Store struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// NewStore creates an empty Store.
func NewStore() *Store {
	s := &Store{}
	s.snap.Store(&snapshot{})
	return s
}

// Set replaces the patterns of the (name, value) entry, creating it if needed.
func (s *Store) Set(name, value string, patterns []string) error {
	parsed, err := validate(name, value, patterns)
	if err != nil {
		return err
	}
	s.mutate(func(groups []nameGroup) []nameGroup {
		return upsert(groups, name, value, parsed, false)
	})
	return nil
}

// Add merges patterns into the (name, value) entry, creating it if needed.
func (s *Store) Add(name, value string, patterns []string) error {
	parsed, err := validate(name, value, patterns)
	if err != nil {
		return err
	}
	s.mutate(func(groups []nameGroup) []nameGroup {
		return upsert(groups, name, value, parsed, true)
	})
	return nil
}

// Find returns the entries matching name and value. A nil argument matches
// anything. Entries are returned in insertion order.
func (s *Store) Find(name, value *string) []Entry {
	var out []Entry
	for _, g := range s.snap.Load().groups {
		if name != nil && g.key != strings.ToLower(*name) {
			continue
		}
		for _, v := range g.values {
			if value != nil && v.value != *value {
				continue
			}
			out = append(out, Entry{
				Name:     g.wire,
				Value:    v.value,
				Patterns: append([]origin.Pattern(nil), v.patterns...),
			})
		}
	}
	return out
}

// Has reports whether any value is stored under name.
func (s *Store) Has(name string) bool {
	key := strings.ToLower(name)
	for _, g := range s.snap.Load().groups {
		if g.key == key {
			return true
		}
	}
	return false
}

// Clear removes entries under name. A nil value removes every value;
// otherwise only the exact value is removed. Clearing something absent is a
// no-op.
func (s *Store) Clear(name string, value *string) {
	key := strings.ToLower(name)
	s.mutate(func(groups []nameGroup) []nameGroup {
		out := groups[:0]
		for _, g := range groups {
			if g.key != key {
				out = append(out, g)
				continue
			}
			if value == nil {
				continue
			}
			kept := make([]valueRule, 0, len(g.values))
			for _, v := range g.values {
				if v.value != *value {
					kept = append(kept, v)
				}
			}
			if len(kept) > 0 {
				g.values = kept
				out = append(out, g)
			}
		}
		return out
	})
}

// ClearAll empties the store.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Store(&snapshot{})
}

// Len returns the number of stored (name, value) entries.
func (s *Store) Len() int {
	n := 0
	for _, g := range s.snap.Load().groups {
		n += len(g.values)
	}
	return n
}

// Match returns the headers that apply to requests for o. Values stored
// under one name are joined with "," in insertion order.
func (s *Store) Match(o origin.Origin) []Header {
	if o.IsZero() {
		return nil
	}
	var out []Header
	for _, g := range s.snap.Load().groups {
		var vals []string
		for _, v := range g.values {
			if matchesAny(v.patterns, o) {
				vals = append(vals, v.value)
			}
		}
		if len(vals) > 0 {
			out = append(out, Header{Name: g.wire, Value: strings.Join(vals, ",")})
		}
	}
	return out
}

// mutate applies fn to a private copy of the current groups and publishes
// the result. Writers are serialized.
func (s *Store) mutate(fn func([]nameGroup) []nameGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load().groups
	groups := make([]nameGroup, len(cur))
	for i, g := range cur {
		g.values = append([]valueRule(nil), g.values...)
		groups[i] = g
	}
	s.snap.Store(&snapshot{groups: fn(groups)})
}

func validate(name, value string, patterns []string) ([]origin.Pattern, error) {
	if err := utils.ValidateHeaderField(name, value); err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		return nil, ErrNoPatterns
	}
	if len(patterns) > utils.MaxOriginPatterns {
		return nil, ErrTooManyPatterns
	}
	parsed, err := origin.ParsePatterns(patterns)
	if err != nil {
		return nil, err
	}
	return dedupe(nil, parsed), nil
}

func upsert(groups []nameGroup, name, value string, patterns []origin.Pattern, merge bool) []nameGroup {
	key := strings.ToLower(name)
	for i := range groups {
		if groups[i].key != key {
			continue
		}
		for j := range groups[i].values {
			if groups[i].values[j].value != value {
				continue
			}
			if merge {
				groups[i].values[j].patterns = dedupe(groups[i].values[j].patterns, patterns)
			} else {
				groups[i].values[j].patterns = patterns
			}
			return groups
		}
		groups[i].values = append(groups[i].values, valueRule{value: value, patterns: patterns})
		return groups
	}
	return append(groups, nameGroup{
		key:    key,
		wire:   name,
		values: []valueRule{{value: value, patterns: patterns}},
	})
}

// dedupe appends the patterns of add not already in base, keeping order.
func dedupe(base, add []origin.Pattern) []origin.Pattern {
	out := append([]origin.Pattern(nil), base...)
	for _, p := range add {
		dup := false
		for _, q := range out {
			if p == q {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, p)
		}
	}
	return out
}

func matchesAny(patterns []origin.Pattern, o origin.Origin) bool {
	for _, p := range patterns {
		if p.Matches(o) {
			return true
		}
	}
	return false
}
