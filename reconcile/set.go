// Package reconcile keeps the joined/offline streamer sets in step with who is live.
package reconcile

import "sort"

// Set is a set of streamer logins.
type Set map[string]struct{}

// NewSet builds a Set from logins.
func NewSet(logins ...string) Set {
	s := make(Set, len(logins))
	for _, l := range logins {
		s[l] = struct{}{}
	}
	return s
}

func (s Set) Has(login string) bool {
	_, ok := s[login]
	return ok
}

// Minus returns s - other.
func (s Set) Minus(other Set) Set {
	out := Set{}
	for l := range s {
		if !other.Has(l) {
			out[l] = struct{}{}
		}
	}
	return out
}

// Intersect returns s ∩ other.
func (s Set) Intersect(other Set) Set {
	out := Set{}
	for l := range s {
		if other.Has(l) {
			out[l] = struct{}{}
		}
	}
	return out
}

// Union returns s ∪ other.
func (s Set) Union(other Set) Set {
	out := make(Set, len(s)+len(other))
	for l := range s {
		out[l] = struct{}{}
	}
	for l := range other {
		out[l] = struct{}{}
	}
	return out
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for l := range s {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func (s Set) clone() Set {
	out := make(Set, len(s))
	for l := range s {
		out[l] = struct{}{}
	}
	return out
}

// Diff compares what is joined against what is live.
func Diff(joined, live Set) (toJoin, nowOffline Set) {
	return live.Minus(joined), joined.Minus(live)
}
