package regeneration

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/mailsmith/internal/workflow"
)

func TestChangeRatio(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"both empty", "", "", 0},
		{"empty vs text", "", "abc", 1},
		{"identical", "the quick brown fox", "the quick brown fox", 0},
		{"whitespace only differs", "the  quick\nfox", "the quick fox", 0},
		{"disjoint", "alpha beta", "gamma delta", 1},
		{"one of four replaced", "a b c d", "a b x d", 0.25},
		{"insertion", "a b c", "a b c d", 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ChangeRatio(tt.a, tt.b), 1e-9)
		})
	}
}

func TestChangeRatio_SymmetricAndBounded(t *testing.T) {
	pairs := [][2]string{
		{"Dear John, thanks for the call", "Hi John, thanks again for the call today"},
		{"a a a b", "b a"},
		{"x", "y z x"},
		{"", "one two"},
	}
	for _, p := range pairs {
		ab, ba := ChangeRatio(p[0], p[1]), ChangeRatio(p[1], p[0])
		assert.InDelta(t, ab, ba, 1e-9)
		assert.GreaterOrEqual(t, ab, 0.0)
		assert.LessOrEqual(t, ab, 1.0)
	}
}

func words(n int, prefix string) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = prefix + string(rune('a'+i%26)) + strings.Repeat("x", i/26)
	}
	return out
}

func TestPolicy_SmallEditTakesLightPath(t *testing.T) {
	original := words(40, "w")
	edited := append([]string(nil), original...)
	edited[3], edited[17] = "changed", "also-changed"

	d, err := NewPolicy(DefaultThreshold).Decide(strings.Join(original, " "), strings.Join(edited, " "))
	require.NoError(t, err)
	assert.Equal(t, PathLight, d.Path)
	assert.Equal(t, []string{"refine"}, d.Stages)
	assert.InDelta(t, 0.05, d.ChangeRatio, 1e-9)
}

func TestPolicy_DisjointEditTakesFullPath(t *testing.T) {
	d, err := NewPolicy(DefaultThreshold).Decide(strings.Join(words(40, "w"), " "), strings.Join(words(40, "v"), " "))
	require.NoError(t, err)
	assert.Equal(t, PathFull, d.Path)
	assert.Equal(t, []string{"tone", "personalize", "refine"}, d.Stages)
	assert.InDelta(t, 1.0, d.ChangeRatio, 1e-9)
}

func TestPolicy_RatioAtThresholdTakesFullPath(t *testing.T) {
	d, err := NewPolicy(0.25).Decide("a b c d", "a b x d")
	require.NoError(t, err)
	assert.Equal(t, PathFull, d.Path)
}

func TestPolicy_EmptyEdit(t *testing.T) {
	_, err := NewPolicy(DefaultThreshold).Decide("Dear John", " \n\t ")
	require.Error(t, err)
	assert.Equal(t, workflow.KindEmptyDraft, workflow.KindOf(err))
}

func TestPolicy_DecisionStagesAreCopies(t *testing.T) {
	d, err := NewPolicy(DefaultThreshold).Decide("a", "b")
	require.NoError(t, err)
	d.Stages[0] = "mutated"
	assert.Equal(t, "tone", FullStages[0])
}

func TestNewPolicy_Defaults(t *testing.T) {
	assert.Equal(t, DefaultThreshold, NewPolicy(0).Threshold)
	assert.Equal(t, DefaultThreshold, NewPolicy(1.5).Threshold)
	assert.Equal(t, 0.5, NewPolicy(0.5).Threshold)
}
