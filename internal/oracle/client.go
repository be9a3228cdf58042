// Package oracle is the only path to the remote vision model. Every call is
// gated by the budget ledger, paced, retried on transient failure and
// recorded as spend.
package oracle

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/techdev-loop/leaderboard-sub002/internal/budget"
	"github.com/techdev-loop/leaderboard-sub002/internal/metrics"
	"github.com/techdev-loop/leaderboard-sub002/internal/resilience"
)

// Budget is the subset of budget.Ledger the client needs.
type Budget interface {
	CheckBudget(ctx context.Context, domain string) (budget.Decision, error)
	TrackUsage(ctx context.Context, domain string, inputTokens, outputTokens int64, modelName string) (budget.Usage, error)
}

// Request is a single oracle call.
type Request struct {
	SystemPrompt   string
	UserMessage    string
	Domain         string
	Phase          string // quick, explore; used for attribution only
	Image          []byte
	ImageMediaType string
	MaxTokens      int
	Model          string
}

// Usage is the token and dollar cost of a call.
type Usage struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Response is the raw oracle text plus what it cost.
type Response struct {
	Content  string
	Model    string
	Usage    Usage
	Attempts int
	Elapsed  time.Duration
}

// Options configures a Client.
type Options struct {
	Model             string
	MaxTokensPerCall  int
	RequestsPerMinute int
	Retry             resilience.RetryConfig
	Metrics           *metrics.Metrics
}

// Client calls the oracle through a Transport. Construct one per process and
// inject it; a nil *Client or one without a transport is unavailable.
type Client struct {
	transport Transport
	budget    Budget
	opts      Options
	limiter   *rate.Limiter
}

// NewClient creates a Client. transport may be nil when no credentials are
// configured; calls then fail with KindUnavailable.
func NewClient(transport Transport, b Budget, opts Options) *Client {
	if opts.MaxTokensPerCall <= 0 {
		opts.MaxTokensPerCall = 4096
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	c := &Client{transport: transport, budget: b, opts: opts}
	if opts.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	return c
}

// Available reports whether calls can reach a provider.
func (c *Client) Available() bool {
	return c != nil && c.transport != nil && c.budget != nil
}

// Provider names the underlying transport.
func (c *Client) Provider() string {
	if !c.Available() {
		return "none"
	}
	return c.transport.Name()
}

// Call checks the budget, sends the request with retry, and records usage.
// All failures are *Error.
func (c *Client) Call(ctx context.Context, req Request) (*Response, error) {
	if !c.Available() {
		return nil, &Error{Kind: KindUnavailable, Err: eris.New("oracle: no transport configured")}
	}

	if req.Model == "" {
		req.Model = c.opts.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 || maxTokens > c.opts.MaxTokensPerCall {
		if maxTokens > c.opts.MaxTokensPerCall {
			zap.L().Warn("oracle: max tokens clamped to per-call ceiling",
				zap.String("domain", req.Domain),
				zap.Int("requested", maxTokens),
				zap.Int("ceiling", c.opts.MaxTokensPerCall),
			)
		}
		maxTokens = c.opts.MaxTokensPerCall
	}

	decision, err := c.budget.CheckBudget(ctx, req.Domain)
	if err != nil {
		// Without a readable ledger the call cannot be proven affordable.
		return nil, &Error{Kind: KindBudget, Reason: "ledger_unavailable", Err: err}
	}
	if !decision.Allowed {
		c.opts.Metrics.BudgetDenied(decision.Reason)
		return nil, &Error{Kind: KindBudget, Reason: decision.Reason}
	}

	ctx, span := otel.Tracer("oracle").Start(ctx, "oracle.Call")
	defer span.End()
	span.SetAttributes(
		attribute.String("oracle.provider", c.transport.Name()),
		attribute.String("oracle.model", req.Model),
		attribute.String("oracle.domain", req.Domain),
		attribute.String("oracle.phase", req.Phase),
		attribute.Int("oracle.max_tokens", maxTokens),
		attribute.Bool("oracle.has_image", len(req.Image) > 0),
	)

	treq := TransportRequest{
		Model:     req.Model,
		System:    req.SystemPrompt,
		User:      req.UserMessage,
		Image:     req.Image,
		MediaType: req.ImageMediaType,
		MaxTokens: maxTokens,
	}

	retry := c.opts.Retry
	attempts := 0
	userOnRetry := retry.OnRetry
	retry.OnRetry = func(attempt int, err error) {
		zap.L().Warn("oracle: retrying call",
			zap.String("provider", c.transport.Name()),
			zap.String("domain", req.Domain),
			zap.Int("attempt", attempt),
			zap.String("kind", string(KindOf(err))),
			zap.Error(err),
		)
		if userOnRetry != nil {
			userOnRetry(attempt, err)
		}
	}

	start := time.Now()
	tresp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*TransportResponse, error) {
		attempts++
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, &Error{Kind: KindCanceled, Err: err}
			}
		}
		resp, err := c.transport.Send(ctx, treq)
		if err != nil {
			oe := classify(err, 0)
			if oe.billed() {
				modelName := oe.model
				if modelName == "" {
					modelName = req.Model
				}
				oe.Usage.CostUSD = c.track(ctx, req.Domain, modelName, oe.Usage.InputTokens, oe.Usage.OutputTokens)
			}
			return nil, oe
		}
		return resp, nil
	})
	elapsed := time.Since(start)
	span.SetAttributes(attribute.Int("oracle.attempts", attempts))

	if err != nil {
		oe := classify(err, 0)
		span.SetStatus(codes.Error, oe.Error())
		c.opts.Metrics.OracleCall(c.transport.Name(), req.Phase, string(oe.Kind), oe.Usage.InputTokens, oe.Usage.OutputTokens, oe.Usage.CostUSD, elapsed)
		zap.L().Warn("oracle: call failed",
			zap.String("provider", c.transport.Name()),
			zap.String("domain", req.Domain),
			zap.String("kind", string(oe.Kind)),
			zap.Int("attempts", attempts),
			zap.Int64("billed_input_tokens", oe.Usage.InputTokens),
			zap.Int64("billed_output_tokens", oe.Usage.OutputTokens),
			zap.Float64("billed_cost_usd", oe.Usage.CostUSD),
			zap.Error(err),
		)
		return nil, oe
	}

	modelName := tresp.Model
	if modelName == "" {
		modelName = req.Model
	}
	usage := Usage{
		InputTokens:  tresp.InputTokens,
		OutputTokens: tresp.OutputTokens,
		CostUSD:      c.track(ctx, req.Domain, modelName, tresp.InputTokens, tresp.OutputTokens),
	}

	zap.L().Info("cost attribution",
		zap.String("provider", c.transport.Name()),
		zap.String("model", modelName),
		zap.String("domain", req.Domain),
		zap.String("phase", req.Phase),
		zap.Int64("input_tokens", usage.InputTokens),
		zap.Int64("output_tokens", usage.OutputTokens),
		zap.Float64("cost_usd", usage.CostUSD),
		zap.Int("attempts", attempts),
		zap.Duration("elapsed", elapsed),
	)
	c.opts.Metrics.OracleCall(c.transport.Name(), req.Phase, "success", usage.InputTokens, usage.OutputTokens, usage.CostUSD, elapsed)
	span.SetAttributes(
		attribute.Int64("oracle.input_tokens", usage.InputTokens),
		attribute.Int64("oracle.output_tokens", usage.OutputTokens),
		attribute.Float64("oracle.cost_usd", usage.CostUSD),
	)
	span.SetStatus(codes.Ok, "")

	return &Response{
		Content:  tresp.Content,
		Model:    modelName,
		Usage:    usage,
		Attempts: attempts,
		Elapsed:  elapsed,
	}, nil
}

// track records billed tokens in the ledger and returns their cost.
func (c *Client) track(ctx context.Context, domain, modelName string, inputTokens, outputTokens int64) float64 {
	spent, err := c.budget.TrackUsage(ctx, domain, inputTokens, outputTokens, modelName)
	if err != nil {
		zap.L().Error("oracle: usage not recorded", zap.String("domain", domain), zap.Error(err))
	}
	return spent.CostUSD
}
