package ranges

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge(t *testing.T) {
	tests := []struct {
		name     string
		input    []int64
		expected []Range
	}{
		{
			name:     "Empty input",
			input:    nil,
			expected: nil,
		},
		{
			name:     "Single number",
			input:    []int64{7},
			expected: []Range{{Lower: 7, Upper: 7}},
		},
		{
			name:     "Unordered with gaps",
			input:    []int64{3, 6, 1, 5, 8, 2},
			expected: []Range{{1, 3}, {5, 6}, {8, 8}},
		},
		{
			name:     "Duplicates collapse",
			input:    []int64{2, 2, 1, 1, 3, 3},
			expected: []Range{{1, 3}},
		},
		{
			name:     "Non-positive numbers ignored",
			input:    []int64{0, -4, 2},
			expected: []Range{{2, 2}},
		},
		{
			name:     "Only non-positive",
			input:    []int64{0, -1},
			expected: nil,
		},
		{
			name:     "Disjoint singletons",
			input:    []int64{10, 1, 5},
			expected: []Range{{1, 1}, {5, 5}, {10, 10}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Merge(tt.input))
		})
	}
}

func TestMerge_DoesNotModifyInput(t *testing.T) {
	input := []int64{3, 1, 2}
	Merge(input)
	assert.Equal(t, []int64{3, 1, 2}, input)
}

func TestMerge_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 200; iter++ {
		var input []int64
		want := map[int64]bool{}
		count := rng.Intn(40)
		for i := 0; i < count; i++ {
			n := int64(rng.Intn(60) + 1)
			input = append(input, n)
			want[n] = true
		}

		out := Merge(input)

		for i, r := range out {
			assert.LessOrEqual(t, r.Lower, r.Upper)
			if i > 0 {
				// sorted, disjoint and non-adjacent
				assert.Greater(t, r.Lower, out[i-1].Upper+1)
			}
		}

		expanded := Expand(out)
		assert.Len(t, expanded, len(want))
		for _, n := range expanded {
			assert.True(t, want[n], "number %d not in input", n)
		}

		assert.Equal(t, out, Merge(expanded), "merge must be idempotent")
	}
}

func TestSet_IncrementalMatchesBatch(t *testing.T) {
	numbers := []int64{9, 4, 1, 2, 7, 3, 8, 12, 4}

	incremental := &Set{}
	for _, n := range numbers {
		incremental.Add(n)
	}

	reversed := &Set{}
	for i := len(numbers) - 1; i >= 0; i-- {
		reversed.Add(numbers[i])
	}

	batch := NewSet(numbers...)

	assert.Equal(t, batch.Ranges(), incremental.Ranges())
	assert.Equal(t, batch.Ranges(), reversed.Ranges())
	assert.Equal(t, []Range{{1, 4}, {7, 9}, {12, 12}}, batch.Ranges())
}

func TestSet_AddRanges(t *testing.T) {
	s := NewSet(1, 2, 10)

	require.NoError(t, s.AddRanges(Range{Lower: 3, Upper: 5}, Range{Lower: 7, Upper: 9}))
	assert.Equal(t, []Range{{1, 5}, {7, 10}}, s.Ranges())

	require.NoError(t, s.AddRanges(Range{Lower: 6, Upper: 6}))
	assert.Equal(t, []Range{{1, 10}}, s.Ranges())

	assert.Error(t, s.AddRanges(Range{Lower: 5, Upper: 4}))
	assert.Error(t, s.AddRanges(Range{Lower: 0, Upper: 4}))
}

func TestSet_Queries(t *testing.T) {
	s := NewSet(1, 2, 3, 5, 6, 8)

	assert.True(t, s.Contains(1))
	assert.True(t, s.Contains(6))
	assert.False(t, s.Contains(4))
	assert.False(t, s.Contains(9))
	assert.Equal(t, int64(6), s.Count())
	assert.Equal(t, int64(8), s.Highest())
	assert.True(t, s.IsComplete(3))
	assert.False(t, s.IsComplete(5))
	assert.True(t, s.IsComplete(0))
	assert.Equal(t, []int64{1, 2, 3, 5, 6, 8}, s.Expand())

	var empty *Set
	assert.True(t, empty.Empty())
	assert.False(t, empty.Contains(1))
	assert.False(t, empty.IsComplete(1))
	assert.Equal(t, "", empty.String())
}

func TestSet_StringAndParse(t *testing.T) {
	s := NewSet(3, 6, 1, 5, 8, 2)
	assert.Equal(t, "[1,3][5,6][8,8]", s.String())

	parsed, err := Parse("[1,3][5,6][8,8]")
	require.NoError(t, err)
	assert.Equal(t, s.Ranges(), parsed.Ranges())

	empty, err := Parse("")
	require.NoError(t, err)
	assert.True(t, empty.Empty())

	overlapping, err := Parse("[1,4] [3,6]")
	require.NoError(t, err)
	assert.Equal(t, "[1,6]", overlapping.String())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "Missing bracket", input: "1,3]"},
		{name: "Unterminated", input: "[1,3"},
		{name: "No comma", input: "[13]"},
		{name: "Not a number", input: "[a,3]"},
		{name: "Inverted", input: "[5,3]"},
		{name: "Zero lower bound", input: "[0,3]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			assert.Error(t, err)
		})
	}
}
