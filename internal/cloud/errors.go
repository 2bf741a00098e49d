package cloud

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"

	"github.com/sdaf-automation/sdaf-wizard/internal/failure"
)

// Azure answers with these while a freshly created principal or application
// has not replicated yet.
var notYetVisibleCodes = []string{
	"PrincipalNotFound",
	"Request_ResourceNotFound",
}

const notYetVisibleMessage = "does not reference a valid application object"

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := failure.As(err); ok {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return failure.Transient(op, failure.ReasonTimeout, err)
	}

	var authErr *azidentity.AuthenticationFailedError
	if errors.As(err, &authErr) {
		return failure.Unauthorized(op, err)
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return classifyStatus(op, respErr.StatusCode, respErr.ErrorCode, "", err)
	}

	var odataErr *odataerrors.ODataError
	if errors.As(err, &odataErr) {
		code, msg := "", ""
		if main := odataErr.GetErrorEscaped(); main != nil {
			if main.GetCode() != nil {
				code = *main.GetCode()
			}
			if main.GetMessage() != nil {
				msg = *main.GetMessage()
			}
		}
		return classifyStatus(op, odataErr.ResponseStatusCode, code, msg, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return failure.Transient(op, failure.ReasonTimeout, err)
	}
	return failure.Permanent(op, failure.ReasonUnknown, err)
}

func classifyStatus(op string, status int, code, msg string, err error) error {
	for _, c := range notYetVisibleCodes {
		if strings.EqualFold(code, c) {
			return failure.Transient(op, failure.ReasonNotYetVisible, err)
		}
	}
	if strings.Contains(msg, notYetVisibleMessage) {
		return failure.Transient(op, failure.ReasonNotYetVisible, err)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return failure.Unauthorized(op, err)
	case status == http.StatusNotFound:
		return failure.Permanent(op, failure.ReasonNotFound, err)
	case status == http.StatusConflict:
		return failure.Permanent(op, failure.ReasonConflict, err)
	case status == http.StatusBadRequest:
		return failure.Permanent(op, failure.ReasonInvalidInput, err)
	case status == http.StatusRequestTimeout:
		return failure.Transient(op, failure.ReasonTimeout, err)
	case status == http.StatusTooManyRequests:
		return failure.Transient(op, failure.ReasonRateLimited, err)
	case status >= http.StatusInternalServerError:
		return failure.Transient(op, failure.ReasonUnavailable, err)
	}
	return failure.Permanent(op, failure.ReasonUnknown, err)
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusNotFound
	}
	var odataErr *odataerrors.ODataError
	if errors.As(err, &odataErr) {
		return odataErr.ResponseStatusCode == http.StatusNotFound
	}
	return false
}
