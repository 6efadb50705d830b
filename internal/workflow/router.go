package workflow

import (
	"context"
	"strings"
)

// Decision is a router's verdict after a stage attempt.
type Decision string

const (
	DecisionContinue Decision = "continue"
	DecisionRetry    Decision = "retry"
	DecisionFallback Decision = "fallback"
)

// ParseDecision maps s onto the closed decision set. Anything unrecognized
// resolves to continue.
func ParseDecision(s string) Decision {
	switch Decision(strings.ToLower(strings.TrimSpace(s))) {
	case DecisionRetry:
		return DecisionRetry
	case DecisionFallback:
		return DecisionFallback
	default:
		return DecisionContinue
	}
}

// RouteInput is what a router sees after a stage attempt.
type RouteInput struct {
	Stage   string
	Attempt int
	State   State
	// Err is the failure of this attempt, nil on success.
	Err error
	// PrevErr is the failure of the previous attempt of the same stage.
	PrevErr error
}

// Route is a router's decision and the reason it gives.
type Route struct {
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason,omitempty"`
}

// Router chooses what happens after a stage attempt at a route point.
type Router interface {
	Route(ctx context.Context, in RouteInput) Route
}

// RouterFunc adapts a function to Router.
type RouterFunc func(ctx context.Context, in RouteInput) Route

// Route implements Router.
func (f RouterFunc) Route(ctx context.Context, in RouteInput) Route { return f(ctx, in) }

// HeuristicRouter is the deterministic default router.
type HeuristicRouter struct{}

// Route implements Router.
func (HeuristicRouter) Route(_ context.Context, in RouteInput) Route {
	if in.Err != nil {
		if in.PrevErr != nil && in.PrevErr.Error() == in.Err.Error() {
			return Route{Decision: DecisionFallback, Reason: "same failure twice"}
		}
		return Route{Decision: DecisionRetry, Reason: "stage failed"}
	}
	if strings.TrimSpace(in.State.Draft) == "" {
		return Route{Decision: DecisionRetry, Reason: "draft is empty"}
	}
	return Route{Decision: DecisionContinue}
}

// RouteRecord is a routing decision taken during a run.
type RouteRecord struct {
	Stage   string `json:"stage"`
	Attempt int    `json:"attempt"`
	Route
}
