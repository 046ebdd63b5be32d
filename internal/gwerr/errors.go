// Package gwerr defines the failure kinds the gateway can report to a caller.
package gwerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a gateway failure.
type Kind string

const (
	RouteNotFound             Kind = "route_not_found"
	AuthMissing               Kind = "auth_missing"
	AuthInvalid               Kind = "auth_invalid"
	RateLimited               Kind = "rate_limited"
	RequestTooLarge           Kind = "request_too_large"
	MethodNotAllowed          Kind = "method_not_allowed"
	UpstreamUnreachable       Kind = "upstream_unreachable"
	UpstreamTimeout           Kind = "upstream_timeout"
	UpstreamMalformedResponse Kind = "upstream_malformed_response"
	ClientClosed              Kind = "client_closed"
	Internal                  Kind = "internal"
)

// StatusClientClosedRequest is the non-standard status recorded when the caller
// went away before the upstream answered.
const StatusClientClosedRequest = 499

var kindInfo = map[Kind]struct {
	status  int
	message string
}{
	RouteNotFound:             {http.StatusNotFound, "Service not found"},
	AuthMissing:               {http.StatusUnauthorized, "Authorization token missing"},
	AuthInvalid:               {http.StatusUnauthorized, "Invalid or missing token"},
	RateLimited:               {http.StatusTooManyRequests, "Rate limit exceeded"},
	RequestTooLarge:           {http.StatusRequestEntityTooLarge, "Request body too large"},
	MethodNotAllowed:          {http.StatusMethodNotAllowed, "Method Not Allowed"},
	UpstreamUnreachable:       {http.StatusBadGateway, "Upstream service unavailable"},
	UpstreamTimeout:           {http.StatusGatewayTimeout, "Upstream service timed out"},
	UpstreamMalformedResponse: {http.StatusBadGateway, "Upstream returned a non-JSON response"},
	ClientClosed:              {StatusClientClosedRequest, "Client closed request"},
	Internal:                  {http.StatusInternalServerError, "Internal server error"},
}

// Status returns the HTTP status code reported for k.
func (k Kind) Status() int {
	if info, ok := kindInfo[k]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// Message returns the default caller-facing message for k.
func (k Kind) Message() string {
	if info, ok := kindInfo[k]; ok {
		return info.message
	}
	return kindInfo[Internal].message
}

// Error is a classified gateway failure.
type Error struct {
	Kind    Kind
	Route   string // route key, if resolved
	Message string // caller-facing; defaults to Kind.Message()
	Cause   error
}

// New returns an Error of kind k.
func New(k Kind, route string, cause error) *Error {
	return &Error{Kind: k, Route: route, Cause: cause}
}

func (e *Error) Error() string {
	msg := e.Detail()
	switch {
	case e.Route != "" && e.Cause != nil:
		return fmt.Sprintf("%s [route=%s]: %s: %v", e.Kind, e.Route, msg, e.Cause)
	case e.Route != "":
		return fmt.Sprintf("%s [route=%s]: %s", e.Kind, e.Route, msg)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Cause)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error with the same Kind, so errors.Is(err, gwerr.New(k, "", nil)) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Detail is the message placed in the JSON envelope.
func (e *Error) Detail() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.Message()
}

// Status is the HTTP status reported to the caller.
func (e *Error) Status() int { return e.Kind.Status() }

// KindOf extracts the Kind from err; unclassified errors are Internal.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return Internal
}

// From classifies err, wrapping unclassified errors as Internal.
func From(err error) *Error {
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	return New(Internal, "", err)
}
