package knowledge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type FailureKind string

const (
	FailureQuota     FailureKind = "quota"
	FailureTimeout   FailureKind = "timeout"
	FailureMalformed FailureKind = "malformed"
	FailureTransport FailureKind = "transport"
	FailureCanceled  FailureKind = "canceled"
)

// SummarizationError reports a single failed summarization request. It is
// never fatal: the affected item keeps its raw text.
type SummarizationError struct {
	Kind   FailureKind
	ItemID string
	Err    error
}

func (e *SummarizationError) Error() string {
	target := "release summary"
	if e.ItemID != "" {
		target = "work item " + e.ItemID
	}
	return fmt.Sprintf("summarization of %s failed (%s): %v", target, e.Kind, e.Err)
}

func (e *SummarizationError) Unwrap() error { return e.Err }

var errEmptyResponse = errors.New("model returned an empty response")

// StatusError is returned by HTTP-backed providers on a non-2xx response.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s request failed (%d): %s", e.Provider, e.Code, e.Body)
}

// malformedError marks a response that arrived but could not be decoded.
type malformedError struct{ err error }

func (e *malformedError) Error() string { return "malformed response: " + e.err.Error() }
func (e *malformedError) Unwrap() error { return e.err }

// classify wraps err into a *SummarizationError, keeping an existing
// classification when the provider already produced one.
func classify(err error, itemID string) *SummarizationError {
	if err == nil {
		return nil
	}
	var se *SummarizationError
	if errors.As(err, &se) {
		if se.ItemID == "" && itemID != "" {
			return &SummarizationError{Kind: se.Kind, ItemID: itemID, Err: se.Err}
		}
		return se
	}
	return &SummarizationError{Kind: failureKind(err), ItemID: itemID, Err: err}
}

func failureKind(err error) FailureKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, context.Canceled):
		return FailureCanceled
	case errors.Is(err, errEmptyResponse):
		return FailureMalformed
	}
	var me *malformedError
	if errors.As(err, &me) {
		return FailureMalformed
	}
	var st *StatusError
	if errors.As(err, &st) {
		switch st.Code {
		case http.StatusTooManyRequests, http.StatusPaymentRequired:
			return FailureQuota
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return FailureTimeout
		}
		return FailureTransport
	}
	msg := err.Error()
	if strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "Error 429") {
		return FailureQuota
	}
	if strings.Contains(msg, "DEADLINE_EXCEEDED") {
		return FailureTimeout
	}
	return FailureTransport
}
