package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/techdev-loop/leaderboard-sub002/internal/resilience"
)

// Kind classifies an oracle failure.
type Kind string

const (
	KindBudget      Kind = "budget"
	KindRateLimited Kind = "rate_limited"
	KindServer      Kind = "server"
	KindNetwork     Kind = "network"
	KindAuth        Kind = "auth"
	KindBadRequest  Kind = "bad_request"
	KindTokenLimit  Kind = "token_limit"
	KindUnavailable Kind = "unavailable"
	KindCanceled    Kind = "canceled"
	KindUnknown     Kind = "unknown"
)

// Error is returned by Client.Call for every failure.
type Error struct {
	Kind       Kind
	StatusCode int
	Reason     string // budget denial reason, when Kind is KindBudget
	Err        error

	// Usage is what the provider billed for a failed call, when it billed
	// anything. CostUSD is filled once the ledger has recorded it.
	Usage Usage
	model string
}

func (e *Error) billed() bool {
	return e.Usage.InputTokens > 0 || e.Usage.OutputTokens > 0
}

func (e *Error) Error() string {
	msg := "oracle: " + string(e.Kind)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" [%d]", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether the call may succeed if repeated. Only
// rate-limit, server and network failures qualify.
func (e *Error) IsRetryable() bool {
	switch e.Kind {
	case KindRateLimited, KindServer, KindNetwork:
		return true
	}
	return false
}

// KindOf extracts the failure kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindUnknown
}

// IsBudget reports whether err is a budget denial.
func IsBudget(err error) bool { return KindOf(err) == KindBudget }

// kindForStatus maps an HTTP status from a provider to a Kind.
func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusRequestEntityTooLarge:
		return KindTokenLimit
	case status == http.StatusRequestTimeout:
		return KindNetwork
	case status >= 500:
		return KindServer
	case status >= 400:
		return KindBadRequest
	}
	return KindUnknown
}

// classify wraps a transport error. status is 0 when the provider gave none.
func classify(err error, status int) *Error {
	if err == nil {
		return nil
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindCanceled, Err: err}
	}
	if status != 0 {
		return &Error{Kind: kindForStatus(status), StatusCode: status, Err: err}
	}
	if resilience.IsTransient(err) {
		return &Error{Kind: KindNetwork, Err: err}
	}
	return &Error{Kind: KindUnknown, Err: err}
}
