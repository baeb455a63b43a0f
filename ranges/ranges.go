// Package ranges implements acknowledgement range bookkeeping.
//
// A range set is the canonical form of a collection of received message numbers:
// sorted, pairwise disjoint and non-adjacent closed intervals. The same set of numbers
// always yields the same range set regardless of input order or how the numbers were
// fed in (all at once or incrementally).
package ranges

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Range is a closed interval of message numbers [Lower, Upper].
type Range struct {
	Lower int64 `json:"lower"`
	Upper int64 `json:"upper"`
}

// Contains reports whether n lies within the range.
func (r Range) Contains(n int64) bool {
	return n >= r.Lower && n <= r.Upper
}

// Len returns the number of message numbers covered by the range.
func (r Range) Len() int64 {
	return r.Upper - r.Lower + 1
}

// String renders the range as "[lower,upper]".
func (r Range) String() string {
	return "[" + strconv.FormatInt(r.Lower, 10) + "," + strconv.FormatInt(r.Upper, 10) + "]"
}

// Merge folds an unordered collection of message numbers into the minimal sorted list
// of disjoint, non-adjacent ranges covering exactly those numbers.
//
// Duplicates are discarded and non-positive numbers are ignored. The input slice is
// not modified.
//
// Example:
//
//	Merge([]int64{3, 6, 1, 5, 8, 2}) // [1,3] [5,6] [8,8]
func Merge(numbers []int64) []Range {
	if len(numbers) == 0 {
		return nil
	}

	sorted := make([]int64, 0, len(numbers))
	for _, n := range numbers {
		if n > 0 {
			sorted = append(sorted, n)
		}
	}
	if len(sorted) == 0 {
		return nil
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	out := []Range{{Lower: sorted[0], Upper: sorted[0]}}
	for _, n := range sorted[1:] {
		cur := &out[len(out)-1]
		switch {
		case n == cur.Upper: // duplicate
		case n == cur.Upper+1:
			cur.Upper = n
		default:
			out = append(out, Range{Lower: n, Upper: n})
		}
	}
	return out
}

// Expand returns every message number covered by the given ranges, ascending.
func Expand(rs []Range) []int64 {
	var total int64
	for _, r := range rs {
		total += r.Len()
	}
	out := make([]int64, 0, total)
	for _, r := range rs {
		for n := r.Lower; n <= r.Upper; n++ {
			out = append(out, n)
		}
	}
	return out
}

// Set is a canonical acknowledgement range set. The zero value is an empty set.
type Set struct {
	ranges []Range
}

// NewSet builds a set from message numbers.
func NewSet(numbers ...int64) *Set {
	return &Set{ranges: Merge(numbers)}
}

// FromRanges builds a set from arbitrary (possibly overlapping or unsorted) ranges.
// Ranges with Lower > Upper or non-positive bounds are rejected.
func FromRanges(rs []Range) (*Set, error) {
	s := &Set{}
	if err := s.AddRanges(rs...); err != nil {
		return nil, err
	}
	return s, nil
}

// Ranges returns a copy of the canonical range list.
func (s *Set) Ranges() []Range {
	if s == nil || len(s.ranges) == 0 {
		return nil
	}
	out := make([]Range, len(s.ranges))
	copy(out, s.ranges)
	return out
}

// Add folds message numbers into the set.
func (s *Set) Add(numbers ...int64) {
	for _, r := range Merge(numbers) {
		s.insert(r)
	}
}

// AddRanges folds whole ranges into the set.
func (s *Set) AddRanges(rs ...Range) error {
	for _, r := range rs {
		if r.Lower <= 0 || r.Upper < r.Lower {
			return fmt.Errorf("invalid range %s", r)
		}
	}
	for _, r := range rs {
		s.insert(r)
	}
	return nil
}

// insert merges one valid range, keeping the list sorted, disjoint and non-adjacent.
func (s *Set) insert(r Range) {
	i := sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].Upper+1 >= r.Lower
	})

	j := i
	for j < len(s.ranges) && s.ranges[j].Lower <= r.Upper+1 {
		if s.ranges[j].Lower < r.Lower {
			r.Lower = s.ranges[j].Lower
		}
		if s.ranges[j].Upper > r.Upper {
			r.Upper = s.ranges[j].Upper
		}
		j++
	}

	merged := make([]Range, 0, len(s.ranges)-(j-i)+1)
	merged = append(merged, s.ranges[:i]...)
	merged = append(merged, r)
	merged = append(merged, s.ranges[j:]...)
	s.ranges = merged
}

// Contains reports whether message number n is in the set.
func (s *Set) Contains(n int64) bool {
	if s == nil {
		return false
	}
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].Upper >= n })
	return i < len(s.ranges) && s.ranges[i].Lower <= n
}

// IsComplete reports whether every number in 1..upTo is in the set.
func (s *Set) IsComplete(upTo int64) bool {
	if upTo <= 0 {
		return true
	}
	if s == nil || len(s.ranges) == 0 {
		return false
	}
	return s.ranges[0].Lower == 1 && s.ranges[0].Upper >= upTo
}

// Count returns how many message numbers the set covers.
func (s *Set) Count() int64 {
	if s == nil {
		return 0
	}
	var n int64
	for _, r := range s.ranges {
		n += r.Len()
	}
	return n
}

// Highest returns the largest number in the set, or 0 when empty.
func (s *Set) Highest() int64 {
	if s == nil || len(s.ranges) == 0 {
		return 0
	}
	return s.ranges[len(s.ranges)-1].Upper
}

// Expand returns every covered message number, ascending.
func (s *Set) Expand() []int64 {
	if s == nil {
		return []int64{}
	}
	return Expand(s.ranges)
}

// Empty reports whether the set covers no numbers.
func (s *Set) Empty() bool {
	return s == nil || len(s.ranges) == 0
}

// String renders the set in its persisted form, e.g. "[1,3][5,6]".
// An empty set renders as "".
func (s *Set) String() string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	for _, r := range s.ranges {
		b.WriteString(r.String())
	}
	return b.String()
}

// Parse reads the persisted form produced by Set.String.
// The result is canonicalised, so overlapping input ranges are merged.
func Parse(str string) (*Set, error) {
	s := &Set{}
	str = strings.TrimSpace(str)
	for str != "" {
		if str[0] != '[' {
			return nil, fmt.Errorf("malformed range string at %q", str)
		}
		end := strings.IndexByte(str, ']')
		if end < 0 {
			return nil, fmt.Errorf("unterminated range in %q", str)
		}
		lower, upper, ok := strings.Cut(str[1:end], ",")
		if !ok {
			return nil, fmt.Errorf("malformed range %q", str[:end+1])
		}
		lo, err := strconv.ParseInt(strings.TrimSpace(lower), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed range %q: %w", str[:end+1], err)
		}
		hi, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed range %q: %w", str[:end+1], err)
		}
		if err := s.AddRanges(Range{Lower: lo, Upper: hi}); err != nil {
			return nil, err
		}
		str = strings.TrimSpace(str[end+1:])
	}
	return s, nil
}
