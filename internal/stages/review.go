package stages

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailsmith/internal/generation"
	"github.com/fyrsmithlabs/mailsmith/internal/workflow"
)

const (
	minReviewWords   = 30
	greetingWindow   = 100
	closingWindow    = 150
	maxExclamations  = 3
	maxQuestionMarks = 5
)

var greetingWords = []string{"dear", "hi", "hello", "hey", "good morning", "good afternoon", "greetings"}

var closingWords = []string{"regards", "sincerely", "thanks", "thank you", "cheers", "best", "yours", "respectfully"}

// Review runs quick checks and asks the provider to fix what they find.
type Review struct{ caller }

// Name implements workflow.Stage.
func (*Review) Name() string { return NameReview }

// Run implements workflow.Stage.
func (r *Review) Run(ctx context.Context, s workflow.State) (workflow.State, error) {
	issues := QuickCheck(s.Draft)
	if len(issues) == 0 {
		return s, nil
	}
	s.SetMeta("review_issues", issues)

	out, err := r.complete(ctx, NameReview, generation.TaskReview, map[string]string{
		varIssues:           "- " + strings.Join(issues, "\n- "),
		generation.VarDraft: s.Draft,
	})
	if err != nil {
		if !degradable(ctx, err) {
			return s, err
		}
		r.logger.Warn("review failed, keeping draft", zap.Error(err))
		s.Warn("review could not be completed")
		return s, nil
	}
	if out != "" {
		s.Draft = out
	}
	return s, nil
}

// QuickCheck lists obvious problems with a draft.
func QuickCheck(draft string) []string {
	var issues []string
	if n := len(strings.Fields(draft)); n < minReviewWords {
		issues = append(issues, "email is too short")
	}
	lower := strings.ToLower(draft)
	if !containsAny(head(lower, greetingWindow), greetingWords) {
		issues = append(issues, "missing greeting")
	}
	if !containsAny(tail(lower, closingWindow), closingWords) {
		issues = append(issues, "missing closing")
	}
	if strings.Count(draft, "!") > maxExclamations {
		issues = append(issues, "too many exclamation marks")
	}
	if strings.Count(draft, "?") > maxQuestionMarks {
		issues = append(issues, "too many questions")
	}
	return issues
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
