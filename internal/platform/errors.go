package platform

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"

	"github.com/google/go-github/v66/github"

	"github.com/sdaf-automation/sdaf-wizard/internal/failure"
)

// classify turns a go-github error into a failure.Error.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return failure.Transient(op, failure.ReasonRateLimited, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failure.Transient(op, failure.ReasonTimeout, err)
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch code := respErr.Response.StatusCode; {
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return failure.Unauthorized(op, err)
		case code == http.StatusNotFound:
			return failure.Permanent(op, failure.ReasonNotFound, err)
		case code == http.StatusConflict:
			return failure.Permanent(op, failure.ReasonConflict, err)
		case code == http.StatusUnprocessableEntity || code == http.StatusBadRequest:
			return failure.Permanent(op, failure.ReasonInvalidInput, err)
		case code == http.StatusRequestTimeout:
			return failure.Transient(op, failure.ReasonTimeout, err)
		case code == http.StatusTooManyRequests:
			return failure.Transient(op, failure.ReasonRateLimited, err)
		case code >= http.StatusInternalServerError:
			return failure.Transient(op, failure.ReasonUnavailable, err)
		}
		return failure.Permanent(op, failure.ReasonUnknown, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return failure.Transient(op, failure.ReasonTimeout, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return failure.Transient(op, failure.ReasonUnavailable, err)
	}
	return failure.Permanent(op, failure.ReasonUnknown, err)
}
