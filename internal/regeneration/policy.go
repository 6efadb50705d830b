// Package regeneration decides how much of the pipeline to re-run after a
// user edits a draft.
package regeneration

import (
	"strings"

	"github.com/fyrsmithlabs/mailsmith/internal/workflow"
)

// DefaultThreshold is the change ratio at which the full path is taken.
const DefaultThreshold = 0.20

// Path names a regeneration route.
type Path string

const (
	PathLight Path = "light"
	PathFull  Path = "full"
)

// Stage names re-run by each path.
var (
	LightStages = []string{"refine"}
	FullStages  = []string{"tone", "personalize", "refine"}
)

// Decision is the outcome of Decide.
type Decision struct {
	Path        Path     `json:"path"`
	Stages      []string `json:"stages"`
	ChangeRatio float64  `json:"change_ratio"`
}

// Policy selects a regeneration path from the change between two drafts.
type Policy struct {
	Threshold float64
}

// NewPolicy returns a policy with the given threshold. Values outside
// (0, 1] select DefaultThreshold.
func NewPolicy(threshold float64) Policy {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return Policy{Threshold: threshold}
}

// Decide compares original with edited. Edits whose change ratio reaches the
// threshold take the full path; smaller edits only re-run refinement. An
// edited draft with no text is rejected.
func (p Policy) Decide(original, edited string) (Decision, error) {
	if strings.TrimSpace(edited) == "" {
		return Decision{}, workflow.EmptyDraftError("edited draft is empty")
	}

	ratio := ChangeRatio(original, edited)
	if ratio >= p.Threshold {
		return Decision{Path: PathFull, Stages: append([]string(nil), FullStages...), ChangeRatio: ratio}, nil
	}
	return Decision{Path: PathLight, Stages: append([]string(nil), LightStages...), ChangeRatio: ratio}, nil
}

// ChangeRatio returns 1 - LCS(a, b) / max(len(a), len(b)) over
// whitespace-separated tokens. It is symmetric, 0 for identical inputs and 1
// when no token is shared.
func ChangeRatio(a, b string) float64 {
	ta, tb := strings.Fields(a), strings.Fields(b)
	longest := max(len(ta), len(tb))
	if longest == 0 {
		return 0
	}
	return 1 - float64(lcs(ta, tb))/float64(longest)
}

// lcs computes the longest common subsequence length with two rolling rows.
func lcs(a, b []string) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
