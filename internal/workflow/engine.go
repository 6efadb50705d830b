package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/mailsmith/internal/workflow"

// DefaultRoutePoint is the stage after which the router is consulted when no
// route points are configured.
const DefaultRoutePoint = "draft"

// Config controls retries and routing.
type Config struct {
	// RetryBound is the number of retries allowed per stage.
	RetryBound int
	// RetryDelay is the fixed pause between attempts.
	RetryDelay time.Duration
	// RoutePoints lists the stages after which the router is consulted.
	RoutePoints []string
}

// Progress reports the engine's movement through a run.
type Progress struct {
	Stage   string `json:"stage"`
	Index   int    `json:"index"`
	Total   int    `json:"total"`
	Attempt int    `json:"attempt"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// ProgressCallback receives progress updates during a run.
type ProgressCallback func(Progress)

// Result describes a finished run.
type Result struct {
	State          State                    `json:"-"`
	Status         Status                   `json:"status"`
	Invocations    int                      `json:"invocations"`
	StageLatencies map[string]time.Duration `json:"stage_latencies"`
	Decisions      []RouteRecord            `json:"decisions,omitempty"`
	FallbackUsed   bool                     `json:"fallback_used"`
	FallbackReason FallbackReason           `json:"fallback_reason,omitempty"`
}

// FallbackReason says why a run ended on the fallback draft.
type FallbackReason string

const (
	// FallbackRouted means the router chose to fall back.
	FallbackRouted FallbackReason = "router"
	// FallbackRetriesExhausted means a route point kept failing or kept
	// being sent back for retry until its retry bound ran out.
	FallbackRetriesExhausted FallbackReason = "retries_exhausted"
)

// Engine runs stage sequences. It is safe for concurrent use; each Run
// keeps its own state.
type Engine struct {
	cfg      Config
	router   Router
	logger   *zap.Logger
	tracer   trace.Tracer
	progress ProgressCallback
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an engine. A nil router selects HeuristicRouter.
func NewEngine(cfg Config, router Router, logger *zap.Logger) *Engine {
	if router == nil {
		router = HeuristicRouter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RetryBound < 0 {
		cfg.RetryBound = 0
	}
	if len(cfg.RoutePoints) == 0 {
		cfg.RoutePoints = []string{DefaultRoutePoint}
	}
	return &Engine{
		cfg:    cfg,
		router: router,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		sleep:  sleepCtx,
	}
}

// OnProgress sets the progress callback.
func (e *Engine) OnProgress(cb ProgressCallback) {
	e.progress = cb
}

// MaxInvocations is the most stage attempts a run over n stages can make.
func (e *Engine) MaxInvocations(n int) int {
	return n * (e.cfg.RetryBound + 1)
}

// run carries the bookkeeping of one Run call.
type run struct {
	e      *Engine
	ctx    context.Context
	stages []Stage
	state  State
	res    *Result
	m      machine
	traces []TraceEntry
}

// Run executes stages in order over initial.
//
// On success the result status is Done and State.FinalDraft is set. On a
// fatal failure the partial state is returned in the result together with a
// *Error; the caller must not persist it.
func (e *Engine) Run(ctx context.Context, initial State, stages []Stage) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.Run",
		trace.WithAttributes(attribute.Int("stages", len(stages))))
	defer span.End()

	r := &run{
		e:      e,
		ctx:    ctx,
		stages: stages,
		state:  initial.Clone(),
		res: &Result{
			Status:         StatusPending,
			StageLatencies: make(map[string]time.Duration, len(stages)),
		},
		m: machine{status: StatusPending},
	}

	err := r.execute()
	if len(r.traces) > 0 {
		r.state.Trace = append(r.state.Trace, r.traces...)
	}
	r.res.State = r.state
	r.res.Status = r.m.status
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		Runs.WithLabelValues(string(StatusFailed)).Inc()
		return r.res, err
	}
	if r.res.FallbackUsed {
		Runs.WithLabelValues(string(StatusFallback)).Inc()
	} else {
		Runs.WithLabelValues(string(StatusDone)).Inc()
	}
	span.SetAttributes(
		attribute.Int("invocations", r.res.Invocations),
		attribute.Bool("fallback", r.res.FallbackUsed),
		attribute.String("fallback_reason", string(r.res.FallbackReason)),
	)
	return r.res, nil
}

func (r *run) execute() error {
	if len(r.stages) == 0 {
		return r.fail(ValidationError("no stages to run"))
	}
	if err := r.m.to(StatusRunning, 0); err != nil {
		return r.fail(FatalError("", err.Error(), ErrInvariant))
	}

	for i := range r.stages {
		if i > 0 {
			if err := r.m.to(StatusRunning, i); err != nil {
				return r.fail(FatalError(r.stages[i].Name(), err.Error(), ErrInvariant))
			}
		}
		fellBack, err := r.runStage(i)
		if err != nil {
			return r.fail(err)
		}
		if fellBack {
			return nil
		}
	}

	if strings.TrimSpace(r.state.FinalDraft) == "" {
		return r.fail(FatalError(r.stages[len(r.stages)-1].Name(), "", ErrNoFinalDraft))
	}
	if err := r.m.to(StatusDone, len(r.stages)-1); err != nil {
		return r.fail(FatalError("", err.Error(), ErrInvariant))
	}
	r.e.report(Progress{Index: len(r.stages), Total: len(r.stages), Status: StatusDone})
	return nil
}

// runStage drives one stage through its attempts. It reports whether the
// run finished through fallback.
func (r *run) runStage(i int) (bool, error) {
	stage := r.stages[i]
	name := stage.Name()
	last := i == len(r.stages)-1
	routed := r.e.isRoutePoint(name)
	input := r.state

	var prevErr error
	for attempt := 1; ; attempt++ {
		if err := r.ctx.Err(); err != nil {
			return false, FatalError(name, "run cancelled", err)
		}
		r.e.report(Progress{Stage: name, Index: i, Total: len(r.stages), Attempt: attempt, Status: StatusRunning})

		out, elapsed, err := r.attempt(stage, input)
		r.res.Invocations++
		r.res.StageLatencies[name] += elapsed
		if err == nil {
			err = checkInvariants(name, input, out, last)
			if err != nil {
				StageDuration.WithLabelValues(name, "fatal").Observe(elapsed.Seconds())
				r.trace(name, attempt, "invariant", input.Draft, err, elapsed)
				return false, err
			}
		}

		if err != nil {
			retry := isRetryable(r.ctx, err)
			outcome := "fatal"
			if retry {
				outcome = "retryable"
			}
			StageDuration.WithLabelValues(name, outcome).Observe(elapsed.Seconds())
			r.trace(name, attempt, outcome, input.Draft, err, elapsed)
			if !retry {
				return false, asFatal(name, err)
			}

			decision := DecisionRetry
			if routed {
				decision = r.route(name, attempt, input, err, prevErr).Decision
				if decision == DecisionContinue {
					// A failed stage has nothing to continue with.
					decision = DecisionRetry
				}
			}
			if decision == DecisionRetry && attempt > r.e.cfg.RetryBound {
				if !routed {
					return false, FatalError(name,
						fmt.Sprintf("retries exhausted after %d attempts", attempt), err)
				}
				return true, r.fallback(i, name, FallbackRetriesExhausted)
			}
			if decision == DecisionFallback {
				return true, r.fallback(i, name, FallbackRouted)
			}

			r.e.logger.Debug("retrying stage",
				zap.String("stage", name), zap.Int("attempt", attempt), zap.Error(err))
			prevErr = err
			if err := r.retry(i, name); err != nil {
				return false, err
			}
			continue
		}

		StageDuration.WithLabelValues(name, "ok").Observe(elapsed.Seconds())
		r.trace(name, attempt, "ok", out.Draft, nil, elapsed)

		if routed {
			rt := r.route(name, attempt, out, nil, prevErr)
			switch rt.Decision {
			case DecisionRetry:
				if attempt > r.e.cfg.RetryBound {
					r.state = out
					return true, r.fallback(i, name, FallbackRetriesExhausted)
				}
				prevErr = nil
				if err := r.retry(i, name); err != nil {
					return false, err
				}
				continue
			case DecisionFallback:
				r.state = out
				return true, r.fallback(i, name, FallbackRouted)
			}
		}

		r.state = out
		return false, nil
	}
}

// attempt runs the stage on a private copy of in.
func (r *run) attempt(stage Stage, in State) (out State, elapsed time.Duration, err error) {
	ctx, span := r.e.tracer.Start(r.ctx, "workflow.stage",
		trace.WithAttributes(attribute.String("stage", stage.Name())))
	defer span.End()

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = FatalError(stage.Name(), fmt.Sprintf("panic: %v", p), nil)
		}
		elapsed = time.Since(start)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	out, err = stage.Run(ctx, in.Clone())
	return out, 0, err
}

func (r *run) route(name string, attempt int, s State, err, prevErr error) Route {
	rt := r.e.router.Route(r.ctx, RouteInput{
		Stage: name, Attempt: attempt, State: s, Err: err, PrevErr: prevErr,
	})
	RouteDecisions.WithLabelValues(name, string(rt.Decision)).Inc()
	r.res.Decisions = append(r.res.Decisions, RouteRecord{Stage: name, Attempt: attempt, Route: rt})
	return rt
}

func (r *run) retry(i int, name string) error {
	StageRetries.WithLabelValues(name).Inc()
	if err := r.m.to(StatusRetrying, i); err != nil {
		return FatalError(name, err.Error(), ErrInvariant)
	}
	r.e.report(Progress{Stage: name, Index: i, Total: len(r.stages), Status: StatusRetrying})
	if err := r.e.sleep(r.ctx, r.e.cfg.RetryDelay); err != nil {
		return FatalError(name, "run cancelled", err)
	}
	if err := r.m.to(StatusRunning, i); err != nil {
		return FatalError(name, err.Error(), ErrInvariant)
	}
	return nil
}

// fallback skips the remaining stages and finalizes with the best draft
// available, or the template draft when there is none.
func (r *run) fallback(i int, name string, reason FallbackReason) error {
	if err := r.m.to(StatusFallback, i); err != nil {
		return FatalError(name, err.Error(), ErrInvariant)
	}
	draft := strings.TrimSpace(r.state.Draft)
	if draft == "" {
		draft = TemplateDraft(r.state.Parsed)
		r.state.Draft = draft
	}
	r.state.FinalDraft = draft
	r.state.SetMeta("fallback_used", true)
	r.state.SetMeta("fallback_reason", string(reason))
	r.state.Warn(fmt.Sprintf("fell back after stage %s (%s)", name, reason))
	r.res.FallbackUsed = true
	r.res.FallbackReason = reason

	r.e.logger.Info("pipeline fell back",
		zap.String("stage", name),
		zap.String("reason", string(reason)),
		zap.Int("invocations", r.res.Invocations))
	r.e.report(Progress{Stage: name, Index: i, Total: len(r.stages), Status: StatusFallback})

	if err := r.m.to(StatusDone, i); err != nil {
		return FatalError(name, err.Error(), ErrInvariant)
	}
	return nil
}

func (r *run) fail(err error) error {
	if r.m.status.CanTransition(StatusFailed) {
		r.m.status = StatusFailed
	}
	r.e.report(Progress{Status: StatusFailed, Total: len(r.stages), Message: err.Error()})
	r.e.logger.Warn("pipeline failed", zap.Error(err))
	return err
}

func (r *run) trace(name string, attempt int, outcome, draft string, err error, d time.Duration) {
	if !r.state.Diagnostics {
		return
	}
	entry := TraceEntry{Stage: name, Attempt: attempt, Outcome: outcome, Draft: draft, Duration: d}
	if err != nil {
		entry.Error = err.Error()
	}
	r.traces = append(r.traces, entry)
}

func (e *Engine) isRoutePoint(name string) bool {
	for _, p := range e.cfg.RoutePoints {
		if p == name {
			return true
		}
	}
	return false
}

func (e *Engine) report(p Progress) {
	if e.progress != nil {
		e.progress(p)
	}
}

// checkInvariants compares a stage's output with its input.
func checkInvariants(stage string, before, after State, last bool) error {
	switch {
	case after.Raw != before.Raw:
		return invariantError(stage, "raw request changed")
	case after.Owner != before.Owner:
		return invariantError(stage, "owner changed")
	case after.Tone != before.Tone:
		return invariantError(stage, "tone changed")
	case before.Intent != "" && after.Intent != before.Intent:
		return invariantError(stage, "intent overwritten (%s -> %s)", before.Intent, after.Intent)
	case after.Intent != "" && !after.Intent.Valid():
		return invariantError(stage, "unknown intent %q", after.Intent)
	case !last && after.FinalDraft != "":
		return invariantError(stage, "final draft set before the last stage")
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsFatal reports whether err is a run failure the caller should surface as a
// stage failure rather than a validation problem.
func IsFatal(err error) bool {
	var we *Error
	return errors.As(err, &we) && we.Kind == KindStageFatal
}
