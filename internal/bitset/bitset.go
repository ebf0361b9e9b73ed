// Package bitset provides the variable/generator/condition/driver-output
// sets used throughout the script compiler (§3: "each variable ... tracks
// the sets of generators that bind it, conditions that reference it").
// The original engine (bitset.c) hand-rolls a resizeable bit vector; here we
// back the same shape with pilosa's roaring bitmap, a production bitmap
// implementation that is a direct domain fit for a bitmap-index engine.
package bitset

import (
	"github.com/pilosa/pilosa/roaring"
)

// Set is a sparse set of non-negative integers (variable numbers, generator
// numbers, condition numbers or driver-output numbers, depending on context).
// The zero value is a valid, empty Set.
type Set struct {
	bm *roaring.Bitmap
}

// New returns an empty Set, optionally pre-populated with members.
func New(members ...int) *Set {
	s := &Set{bm: roaring.NewBitmap()}
	for _, m := range members {
		s.Add(m)
	}
	return s
}

func (s *Set) ensure() *roaring.Bitmap {
	if s.bm == nil {
		s.bm = roaring.NewBitmap()
	}
	return s.bm
}

// Add inserts n into the set.
func (s *Set) Add(n int) {
	s.ensure().Add(uint64(n))
}

// Remove deletes n from the set, if present.
func (s *Set) Remove(n int) {
	s.ensure().Remove(uint64(n))
}

// Contains reports whether n is a member.
func (s *Set) Contains(n int) bool {
	if s.bm == nil {
		return false
	}
	return s.bm.Contains(uint64(n))
}

// IsEmpty reports whether the set has no members.
func (s *Set) IsEmpty() bool {
	return s.bm == nil || s.bm.Count() == 0
}

// Count returns the number of members.
func (s *Set) Count() int {
	if s.bm == nil {
		return 0
	}
	return int(s.bm.Count())
}

// Slice returns the members in ascending order. The caller must not mutate
// the result's backing in a way that aliases the set.
func (s *Set) Slice() []int {
	if s.bm == nil {
		return nil
	}
	out := make([]int, 0, s.bm.Count())
	itr := s.bm.Iterator()
	itr.Seek(0)
	for {
		v, eof := itr.Next()
		if eof {
			break
		}
		out = append(out, int(v))
	}
	return out
}

// Min returns the smallest member and true, or (0, false) if empty. Used to
// find a partition's representative (§4.4 phase 2: "the minimum member index").
func (s *Set) Min() (int, bool) {
	if s.IsEmpty() {
		return 0, false
	}
	itr := s.bm.Iterator()
	itr.Seek(0)
	v, eof := itr.Next()
	if eof {
		return 0, false
	}
	return int(v), true
}

// Clone returns an independent copy.
func (s *Set) Clone() *Set {
	if s.bm == nil {
		return New()
	}
	return &Set{bm: s.bm.Clone()}
}

// UnionWith merges other into s in place.
func (s *Set) UnionWith(other *Set) {
	if other == nil || other.bm == nil {
		return
	}
	s.bm = s.ensure().Union(other.bm)
}

// Intersects reports whether s and other share any member.
func (s *Set) Intersects(other *Set) bool {
	if s.bm == nil || other == nil || other.bm == nil {
		return false
	}
	return s.bm.Intersect(other.bm).Count() > 0
}

// Minus returns a new Set containing members of s absent from other.
func (s *Set) Minus(other *Set) *Set {
	if s.bm == nil {
		return New()
	}
	if other == nil || other.bm == nil {
		return s.Clone()
	}
	return &Set{bm: s.bm.Difference(other.bm)}
}

// Equal reports whether s and other have the same members.
func (s *Set) Equal(other *Set) bool {
	a, b := s.Slice(), other.Slice()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Each calls fn once for every member, in ascending order.
func (s *Set) Each(fn func(n int)) {
	for _, n := range s.Slice() {
		fn(n)
	}
}
