package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/techdev-loop/leaderboard-sub002/internal/anomaly"
	"github.com/techdev-loop/leaderboard-sub002/internal/browser"
	"github.com/techdev-loop/leaderboard-sub002/internal/model"
	"github.com/techdev-loop/leaderboard-sub002/internal/oracle"
	"github.com/techdev-loop/leaderboard-sub002/internal/profile"
	"github.com/techdev-loop/leaderboard-sub002/internal/response"
)

// FailureKind classifies an unsuccessful evaluation.
type FailureKind string

const (
	FailureBudget     FailureKind = "budget"
	FailureTransport  FailureKind = "transport"
	FailureParse      FailureKind = "parse"
	FailureExhaustion FailureKind = "exhaustion"
	FailureInternal   FailureKind = "internal"
)

const (
	PhaseQuick   = "quick"
	PhaseExplore = "explore"
)

// Input is one site visit to evaluate.
type Input struct {
	Domain   string
	Page     browser.Page // may be nil; the oracle then sees no screenshot
	Result   *model.ExtractionResult
	Previous *model.ExtractionResult // last accepted result, for staleness checks
}

// Outcome is the structured result of Evaluate. Result is always usable:
// the corrected result on success, the best partial correction or the
// original otherwise.
type Outcome struct {
	ID          string
	Domain      string
	Decision    Decision
	Invoked     bool
	Success     bool
	Phase       string
	Iterations  int
	Confidence  float64
	Result      *model.ExtractionResult
	Corrected   bool
	Verified    bool
	Flagged     bool
	Report      anomaly.Report
	FailureKind FailureKind
	Failure     string
	Usage       oracle.Usage
	Elapsed     time.Duration
}

func (out *Outcome) label() string {
	switch {
	case out.Success:
		return "success"
	case !out.Invoked && out.FailureKind == "":
		return "skipped"
	}
	return string(out.FailureKind)
}

func (out *Outcome) fail(kind FailureKind, err error) {
	out.Success = false
	out.FailureKind = kind
	if err != nil {
		out.Failure = err.Error()
	}
}

// Evaluate runs the learning protocol for one site visit. It never returns
// an error and never panics; every failure is reported in the Outcome.
func (o *Orchestrator) Evaluate(ctx context.Context, in Input) (out Outcome) {
	start := time.Now()
	out = Outcome{ID: uuid.NewString(), Domain: profile.Key(in.Domain), Result: in.Result.Clone()}

	ctx, span := otel.Tracer("orchestrator").Start(ctx, "orchestrator.Evaluate")
	span.SetAttributes(attribute.String("evaluation.id", out.ID), attribute.String("evaluation.domain", out.Domain))

	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("orchestrator: evaluation panicked",
				zap.String("domain", out.Domain),
				zap.String("evaluation_id", out.ID),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			out.Result = in.Result.Clone()
			out.Success = false
			out.Corrected = false
			out.fail(FailureInternal, eris.Errorf("panic: %v", r))
			o.countAttempt(context.WithoutCancel(ctx), &out)
		}
		out.Elapsed = time.Since(start)
		o.metrics.Evaluation(out.label())
		span.SetAttributes(
			attribute.Bool("evaluation.invoked", out.Invoked),
			attribute.Bool("evaluation.success", out.Success),
			attribute.String("evaluation.reason", string(out.Decision.Reason)),
			attribute.Int("evaluation.iterations", out.Iterations),
			attribute.Float64("evaluation.cost_usd", out.Usage.CostUSD),
		)
		if out.FailureKind != "" {
			span.SetStatus(codes.Error, out.Failure)
		}
		span.End()
		zap.L().Info("orchestrator: evaluation finished",
			zap.String("domain", out.Domain),
			zap.String("evaluation_id", out.ID),
			zap.String("outcome", out.label()),
			zap.String("reason", string(out.Decision.Reason)),
			zap.String("phase", out.Phase),
			zap.Int("iterations", out.Iterations),
			zap.Float64("confidence", out.Confidence),
			zap.Float64("cost_usd", out.Usage.CostUSD),
			zap.Duration("elapsed", out.Elapsed),
		)
	}()

	if in.Result == nil {
		out.fail(FailureInternal, eris.New("orchestrator: no extraction result"))
		return out
	}
	out.Confidence = in.Result.Confidence

	p, err := o.profiles.Get(ctx, in.Domain)
	if err != nil {
		out.fail(FailureInternal, err)
		return out
	}

	working := out.Result
	out.Report = o.detector.AnalyzeResult(working, in.Previous)
	if out.Report.HasDuplicates() {
		for i := range working.Leaderboards {
			working.Leaderboards[i].Entries = o.detector.Deduplicate(working.Leaderboards[i].Entries)
		}
	}
	if out.Report.HasDuplicates() || out.Report.RequiresLearning {
		if updated, err := o.profiles.SetLearningInstructions(ctx, in.Domain, out.Report.Codes(), out.Report.Suggestions); err != nil {
			zap.L().Warn("orchestrator: learning instructions not saved", zap.String("domain", out.Domain), zap.Error(err))
		} else {
			p = updated
		}
	}

	out.Decision = o.ShouldInvoke(p, working, &out.Report)
	if !out.Decision.Invoke {
		return out
	}
	out.Invoked = true

	if p.Status == model.StatusNew || p.Status == model.StatusLayoutChanged {
		if updated, err := o.profiles.SetStatus(ctx, in.Domain, model.StatusLearning); err == nil {
			p = updated
		}
	}

	o.learn(ctx, in.Page, p, &out)
	return out
}

// learn runs Phase 1 and, when needed, Phase 2, then persists the result.
func (o *Orchestrator) learn(ctx context.Context, page browser.Page, p *model.SiteProfile, out *Outcome) {
	original := out.Result
	var best *response.Fields

	out.Phase = PhaseQuick
	image := o.screenshot(ctx, page, out.Domain)
	fields, parseErr, err := o.ask(ctx, out, oracle.Request{
		SystemPrompt: systemPrompt,
		UserMessage:  o.quickPrompt(p, original, out.Report),
		Domain:       out.Domain,
		Phase:        PhaseQuick,
		Image:        image,
	})
	if err != nil {
		o.callFailed(ctx, p, out, best, err)
		return
	}
	if parseErr == nil {
		best = &fields
		if fields.Confidence >= o.cfg.MinConfidence {
			o.succeed(ctx, page, p, out, fields)
			return
		}
	}

	if page == nil {
		o.exhausted(ctx, p, out, best, eris.New("orchestrator: no page to explore"))
		return
	}

	// Phase 2: each turn acts on the previous response and shows the result.
	out.Phase = PhaseExplore
	prev := fields
	prevParseErr := parseErr
	for iter := 1; iter <= o.cfg.MaxIterations; iter++ {
		if ctx.Err() != nil {
			o.exhausted(ctx, p, out, best, ctx.Err())
			return
		}
		out.Iterations = iter

		ec := exploreContext{Iteration: iter, MaxIterations: o.cfg.MaxIterations, PriorConfidence: prev.Confidence, PriorReasoning: prev.Reasoning}
		if prevParseErr != nil {
			ec.ParseError = prevParseErr.Error()
		}
		for _, cmd := range prev.Commands {
			if err := browser.Execute(ctx, page, cmd); err != nil {
				zap.L().Debug("orchestrator: command failed", zap.String("domain", out.Domain), zap.String("command", cmd.String()), zap.Error(err))
				ec.Failed = append(ec.Failed, cmd.String())
				continue
			}
			ec.Executed = append(ec.Executed, cmd.String())
		}
		if u, err := page.URL(ctx); err == nil {
			ec.URL = u
		}

		fields, parseErr, err = o.ask(ctx, out, oracle.Request{
			SystemPrompt: systemPrompt,
			UserMessage:  explorePrompt(ec),
			Domain:       out.Domain,
			Phase:        PhaseExplore,
			Image:        o.screenshot(ctx, page, out.Domain),
		})
		if err != nil {
			o.callFailed(ctx, p, out, best, err)
			return
		}
		if parseErr != nil {
			if prevParseErr != nil {
				o.parseFailed(ctx, p, out, best, parseErr)
				return
			}
			prev, prevParseErr = response.Fields{}, parseErr
			continue
		}

		if best == nil || fields.Confidence > best.Confidence {
			f := fields
			best = &f
		}
		if fields.Confidence >= o.cfg.MinConfidence {
			o.succeed(ctx, page, p, out, fields)
			return
		}
		if !response.WantsToContinue(fields, o.cfg.MinConfidence) {
			break
		}
		prev, prevParseErr = fields, nil
	}
	o.exhausted(ctx, p, out, best, eris.Errorf("orchestrator: confidence below %.0f after %d iterations", o.cfg.MinConfidence, out.Iterations))
}

// ask makes one oracle call and parses the reply. err is a call failure;
// parseErr means the call succeeded but the reply is unusable.
func (o *Orchestrator) ask(ctx context.Context, out *Outcome, req oracle.Request) (fields response.Fields, parseErr, err error) {
	req.Model = o.cfg.Model
	req.MaxTokens = o.cfg.MaxTokens
	if len(req.Image) > 0 {
		req.ImageMediaType = http.DetectContentType(req.Image)
	}

	resp, err := o.oracle.Call(ctx, req)
	if err != nil {
		var oe *oracle.Error
		if errors.As(err, &oe) && (oe.Usage.InputTokens > 0 || oe.Usage.OutputTokens > 0) {
			o.spend(ctx, out, oe.Usage)
		}
		return fields, nil, err
	}
	o.spend(ctx, out, resp.Usage)

	parsed := response.ExtractJSON(resp.Content)
	if !parsed.OK {
		return fields, parsed.Err, nil
	}
	v := response.Validate(parsed.Value)
	for _, w := range v.Warnings {
		zap.L().Debug("orchestrator: response warning", zap.String("domain", out.Domain), zap.String("warning", w))
	}
	if !v.Valid {
		return fields, eris.Errorf("response: %s", strings.Join(v.Errors, "; ")), nil
	}
	return response.ExtractFields(parsed.Value), nil, nil
}

func (o *Orchestrator) spend(ctx context.Context, out *Outcome, u oracle.Usage) {
	out.Usage.InputTokens += u.InputTokens
	out.Usage.OutputTokens += u.OutputTokens
	out.Usage.CostUSD += u.CostUSD
	if _, err := o.profiles.AddSpend(ctx, out.Domain, u.InputTokens, u.OutputTokens, u.CostUSD); err != nil {
		zap.L().Warn("orchestrator: site spend not recorded", zap.String("domain", out.Domain), zap.Error(err))
	}
}

func (o *Orchestrator) screenshot(ctx context.Context, page browser.Page, domain string) []byte {
	if page == nil {
		return nil
	}
	img, err := page.Screenshot(ctx)
	if err != nil {
		zap.L().Warn("orchestrator: screenshot failed", zap.String("domain", domain), zap.Error(err))
		return nil
	}
	return img
}

// succeed applies corrections and persists the learned rules and a fresh
// fingerprint.
func (o *Orchestrator) succeed(ctx context.Context, page browser.Page, p *model.SiteProfile, out *Outcome, f response.Fields) {
	out.Success = true
	out.Confidence = f.Confidence
	out.Result, out.Corrected = ApplyCorrections(out.Result, f)

	patch := learnedPatch(f, o.now())
	patch.ClearLearningInstructions = true
	if fp := o.fingerprint(ctx, page, p, f); fp != nil {
		patch.LayoutFingerprint = fp
	}

	var err error
	if f.Confidence >= o.cfg.VerifiedConfidence {
		_, err = o.profiles.MarkVerified(ctx, out.Domain, f.Confidence, patch)
		out.Verified = err == nil
	} else {
		if profile.CanTransition(p.Status, model.StatusPendingVerification) {
			patch.Status = profile.Ptr(model.StatusPendingVerification)
		}
		_, err = o.profiles.Update(ctx, out.Domain, patch)
	}
	if err != nil {
		zap.L().Error("orchestrator: learned rules not saved", zap.String("domain", out.Domain), zap.Error(err))
		out.Failure = err.Error()
	}
	o.markInactive(ctx, out.Domain, f)
}

func (o *Orchestrator) fingerprint(ctx context.Context, page browser.Page, p *model.SiteProfile, f response.Fields) *model.FingerprintRecord {
	if page == nil {
		return nil
	}
	keywords := append([]string(nil), p.Extraction.ProviderKeywords...)
	if f.Rules != nil {
		keywords = append(keywords, f.Rules.ProviderKeywords...)
	}
	for _, sw := range f.Switchers {
		keywords = append(keywords, sw.Name)
	}
	fp, err := o.fp.Generate(ctx, page, keywords)
	if err != nil {
		zap.L().Warn("orchestrator: fingerprint failed", zap.String("domain", p.Domain), zap.Error(err))
		return nil
	}
	return fp.Record()
}

func (o *Orchestrator) markInactive(ctx context.Context, domain string, f response.Fields) {
	for _, il := range f.Inactive {
		if _, err := o.profiles.MarkInactive(ctx, domain, il.Name, il.Reason); err != nil {
			zap.L().Warn("orchestrator: inactive leaderboard not saved", zap.String("domain", domain), zap.String("leaderboard", il.Name), zap.Error(err))
		}
	}
}

// callFailed handles an oracle call error. Budget and transport failures
// are not the site's fault and do not count as attempts.
func (o *Orchestrator) callFailed(ctx context.Context, p *model.SiteProfile, out *Outcome, best *response.Fields, err error) {
	kind := FailureTransport
	if oracle.IsBudget(err) {
		kind = FailureBudget
	}
	out.fail(kind, err)
	o.keepPartial(ctx, p, out, best)
	zap.L().Warn("orchestrator: oracle call failed",
		zap.String("domain", out.Domain),
		zap.String("failure", string(kind)),
		zap.String("oracle_kind", string(oracle.KindOf(err))),
		zap.Error(err),
	)
}

func (o *Orchestrator) parseFailed(ctx context.Context, p *model.SiteProfile, out *Outcome, best *response.Fields, err error) {
	out.fail(FailureParse, err)
	o.keepPartial(ctx, p, out, best)
	o.countAttempt(ctx, out)
}

func (o *Orchestrator) exhausted(ctx context.Context, p *model.SiteProfile, out *Outcome, best *response.Fields, err error) {
	out.fail(FailureExhaustion, err)
	o.keepPartial(ctx, p, out, best)
	o.countAttempt(ctx, out)
}

// keepPartial applies and persists the best response seen so far.
func (o *Orchestrator) keepPartial(ctx context.Context, p *model.SiteProfile, out *Outcome, best *response.Fields) {
	if best == nil {
		return
	}
	out.Result, out.Corrected = ApplyCorrections(out.Result, *best)
	out.Confidence = out.Result.Confidence

	patch := learnedPatch(*best, o.now())
	if patch.IsEmpty() {
		return
	}
	if _, err := o.profiles.Update(ctx, out.Domain, patch); err != nil {
		zap.L().Warn("orchestrator: partial rules not saved", zap.String("domain", out.Domain), zap.Error(err))
	}
	o.markInactive(ctx, out.Domain, *best)
}

// countAttempt records a failed learning attempt and flags the site once
// it has used them all.
func (o *Orchestrator) countAttempt(ctx context.Context, out *Outcome) {
	if o.profiles == nil {
		return
	}
	reached, p, err := o.profiles.IncrementAttempts(ctx, out.Domain)
	if err != nil {
		zap.L().Error("orchestrator: attempt not recorded", zap.String("domain", out.Domain), zap.Error(err))
		return
	}
	if !reached {
		return
	}
	reason := fmt.Sprintf("%d learning attempts without reaching confidence %.0f (last failure: %s)", p.Attempts, o.cfg.MinConfidence, out.FailureKind)
	if _, err := o.profiles.FlagForReview(ctx, out.Domain, reason); err != nil {
		zap.L().Error("orchestrator: flag for review failed", zap.String("domain", out.Domain), zap.Error(err))
		return
	}
	out.Flagged = true
}
