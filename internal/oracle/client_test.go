package oracle

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/techdev-loop/leaderboard-sub002/internal/budget"
	"github.com/techdev-loop/leaderboard-sub002/internal/metrics"
	"github.com/techdev-loop/leaderboard-sub002/internal/resilience"
)

type mockTransport struct{ mock.Mock }

func (m *mockTransport) Name() string { return "mock" }

func (m *mockTransport) Send(ctx context.Context, req TransportRequest) (*TransportResponse, error) {
	args := m.Called(ctx, req)
	if r := args.Get(0); r != nil {
		return r.(*TransportResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockBudget struct{ mock.Mock }

func (m *mockBudget) CheckBudget(ctx context.Context, domain string) (budget.Decision, error) {
	args := m.Called(ctx, domain)
	return args.Get(0).(budget.Decision), args.Error(1)
}

func (m *mockBudget) TrackUsage(ctx context.Context, domain string, in, out int64, modelName string) (budget.Usage, error) {
	args := m.Called(ctx, domain, in, out, modelName)
	return args.Get(0).(budget.Usage), args.Error(1)
}

type sleepRecorder struct{ delays []time.Duration }

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func newTestClient(tr Transport, b Budget, sleeps *sleepRecorder) *Client {
	retry := resilience.FromOracleConfig(3, 100)
	retry.Sleep = sleeps.sleep
	return NewClient(tr, b, Options{
		Model:            "claude-sonnet-4-5-20250929",
		MaxTokensPerCall: 2048,
		Retry:            retry,
		Metrics:          metrics.New("test"),
	})
}

func allow(b *mockBudget) {
	b.On("CheckBudget", mock.Anything, "casino.example").Return(budget.Decision{Allowed: true}, nil)
}

func TestCall_Success(t *testing.T) {
	tr := &mockTransport{}
	b := &mockBudget{}
	allow(b)
	tr.On("Send", mock.Anything, mock.MatchedBy(func(r TransportRequest) bool {
		return r.MaxTokens == 1024 && r.Model == "claude-sonnet-4-5-20250929" && len(r.Image) == 3
	})).Return(&TransportResponse{Content: `{"confidence": 91}`, InputTokens: 1500, OutputTokens: 200}, nil).Once()
	b.On("TrackUsage", mock.Anything, "casino.example", int64(1500), int64(200), "claude-sonnet-4-5-20250929").
		Return(budget.Usage{InputTokens: 1500, OutputTokens: 200, CostUSD: 0.0075}, nil).Once()

	c := newTestClient(tr, b, &sleepRecorder{})
	resp, err := c.Call(context.Background(), Request{
		SystemPrompt: "sys",
		UserMessage:  "user",
		Domain:       "casino.example",
		Phase:        "quick",
		Image:        []byte{1, 2, 3},
		MaxTokens:    1024,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"confidence": 91}`, resp.Content)
	assert.Equal(t, 1, resp.Attempts)
	assert.InDelta(t, 0.0075, resp.Usage.CostUSD, 1e-9)
	tr.AssertExpectations(t)
	b.AssertExpectations(t)
}

func TestCall_ClampsMaxTokensToCeiling(t *testing.T) {
	tr := &mockTransport{}
	b := &mockBudget{}
	allow(b)
	tr.On("Send", mock.Anything, mock.MatchedBy(func(r TransportRequest) bool { return r.MaxTokens == 2048 })).
		Return(&TransportResponse{Content: "{}"}, nil).Once()
	b.On("TrackUsage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(budget.Usage{}, nil)

	c := newTestClient(tr, b, &sleepRecorder{})
	_, err := c.Call(context.Background(), Request{Domain: "casino.example", MaxTokens: 100000})
	require.NoError(t, err)
	tr.AssertExpectations(t)
}

func TestCall_BudgetDeniedFailsFast(t *testing.T) {
	tr := &mockTransport{}
	b := &mockBudget{}
	b.On("CheckBudget", mock.Anything, "casino.example").Return(budget.Decision{Reason: budget.ReasonDailyLimit}, nil)

	c := newTestClient(tr, b, &sleepRecorder{})
	_, err := c.Call(context.Background(), Request{Domain: "casino.example"})
	require.Error(t, err)

	var oe *Error
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, KindBudget, oe.Kind)
	assert.Equal(t, budget.ReasonDailyLimit, oe.Reason)
	assert.True(t, IsBudget(err))
	assert.False(t, oe.IsRetryable())
	tr.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	b.AssertNotCalled(t, "TrackUsage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCall_LedgerErrorIsBudgetKind(t *testing.T) {
	tr := &mockTransport{}
	b := &mockBudget{}
	b.On("CheckBudget", mock.Anything, "casino.example").Return(budget.Decision{}, errors.New("disk gone"))

	c := newTestClient(tr, b, &sleepRecorder{})
	_, err := c.Call(context.Background(), Request{Domain: "casino.example"})
	assert.Equal(t, KindBudget, KindOf(err))
	tr.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestCall_RetriesRateLimitWithLinearBackoff(t *testing.T) {
	tr := &mockTransport{}
	b := &mockBudget{}
	allow(b)
	tr.On("Send", mock.Anything, mock.Anything).
		Return(nil, &Error{Kind: KindRateLimited, StatusCode: http.StatusTooManyRequests}).Twice()
	tr.On("Send", mock.Anything, mock.Anything).
		Return(&TransportResponse{Content: "ok", InputTokens: 10, OutputTokens: 5}, nil).Once()
	b.On("TrackUsage", mock.Anything, "casino.example", int64(10), int64(5), mock.Anything).
		Return(budget.Usage{CostUSD: 0.001}, nil).Once()

	sleeps := &sleepRecorder{}
	c := newTestClient(tr, b, sleeps)
	resp, err := c.Call(context.Background(), Request{Domain: "casino.example"})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, sleeps.delays)
	b.AssertNumberOfCalls(t, "TrackUsage", 1)
}

func TestCall_ServerErrorExhaustsRetries(t *testing.T) {
	tr := &mockTransport{}
	b := &mockBudget{}
	allow(b)
	tr.On("Send", mock.Anything, mock.Anything).
		Return(nil, &Error{Kind: KindServer, StatusCode: http.StatusBadGateway}).Times(3)

	c := newTestClient(tr, b, &sleepRecorder{})
	_, err := c.Call(context.Background(), Request{Domain: "casino.example"})
	assert.Equal(t, KindServer, KindOf(err))
	tr.AssertNumberOfCalls(t, "Send", 3)
	b.AssertNotCalled(t, "TrackUsage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCall_NonRetryableFailsImmediately(t *testing.T) {
	for _, kind := range []Kind{KindAuth, KindBadRequest, KindTokenLimit} {
		t.Run(string(kind), func(t *testing.T) {
			tr := &mockTransport{}
			b := &mockBudget{}
			allow(b)
			tr.On("Send", mock.Anything, mock.Anything).Return(nil, &Error{Kind: kind}).Once()

			sleeps := &sleepRecorder{}
			c := newTestClient(tr, b, sleeps)
			_, err := c.Call(context.Background(), Request{Domain: "casino.example"})
			assert.Equal(t, kind, KindOf(err))
			tr.AssertNumberOfCalls(t, "Send", 1)
			assert.Empty(t, sleeps.delays)
		})
	}
}

func TestCall_TokenLimitStillRecordsBilledUsage(t *testing.T) {
	tr := &mockTransport{}
	b := &mockBudget{}
	allow(b)
	tr.On("Send", mock.Anything, mock.Anything).
		Return(nil, tokenLimit(&TransportResponse{InputTokens: 5000, OutputTokens: 2048})).Once()
	b.On("TrackUsage", mock.Anything, "casino.example", int64(5000), int64(2048), "claude-sonnet-4-5-20250929").
		Return(budget.Usage{InputTokens: 5000, OutputTokens: 2048, CostUSD: 0.04572}, nil).Once()

	sleeps := &sleepRecorder{}
	c := newTestClient(tr, b, sleeps)
	_, err := c.Call(context.Background(), Request{Domain: "casino.example"})
	require.Error(t, err)

	var oe *Error
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, KindTokenLimit, oe.Kind)
	assert.Equal(t, int64(5000), oe.Usage.InputTokens)
	assert.InDelta(t, 0.04572, oe.Usage.CostUSD, 1e-9)
	assert.Empty(t, sleeps.delays)
	b.AssertExpectations(t)
}

func TestCall_UnclassifiedTransportError(t *testing.T) {
	tr := &mockTransport{}
	b := &mockBudget{}
	allow(b)
	tr.On("Send", mock.Anything, mock.Anything).Return(nil, errors.New("weird failure")).Once()

	c := newTestClient(tr, b, &sleepRecorder{})
	_, err := c.Call(context.Background(), Request{Domain: "casino.example"})
	assert.Equal(t, KindUnknown, KindOf(err))
	tr.AssertNumberOfCalls(t, "Send", 1)
}

func TestCall_Unavailable(t *testing.T) {
	var nilClient *Client
	assert.False(t, nilClient.Available())
	_, err := nilClient.Call(context.Background(), Request{})
	assert.Equal(t, KindUnavailable, KindOf(err))

	c := NewClient(nil, &mockBudget{}, Options{})
	assert.False(t, c.Available())
	assert.Equal(t, "none", c.Provider())
	_, err = c.Call(context.Background(), Request{})
	assert.Equal(t, KindUnavailable, KindOf(err))
}

func TestKindForStatus(t *testing.T) {
	cases := map[int]Kind{
		429: KindRateLimited,
		401: KindAuth,
		403: KindAuth,
		413: KindTokenLimit,
		408: KindNetwork,
		500: KindServer,
		529: KindServer,
		400: KindBadRequest,
		404: KindBadRequest,
		200: KindUnknown,
	}
	for status, want := range cases {
		assert.Equal(t, want, kindForStatus(status), status)
	}
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil, 0))
	assert.Equal(t, KindCanceled, classify(context.Canceled, 0).Kind)
	assert.Equal(t, KindNetwork, classify(errors.New("read: connection reset by peer"), 0).Kind)
	assert.Equal(t, KindRateLimited, classify(errors.New("x"), 429).Kind)

	orig := &Error{Kind: KindAuth}
	assert.Same(t, orig, classify(orig, 500))
}

func TestErrorString(t *testing.T) {
	e := &Error{Kind: KindBudget, Reason: "monthly_budget_exceeded"}
	assert.Equal(t, "oracle: budget (monthly_budget_exceeded)", e.Error())

	e = &Error{Kind: KindServer, StatusCode: 503, Err: errors.New("overloaded")}
	assert.Equal(t, "oracle: server [503]: overloaded", e.Error())
	assert.True(t, e.IsRetryable())
	assert.True(t, resilience.IsTransient(e))
}
