package extractor

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the extractor. Callers match them with errors.Is.
var (
	// ErrInvalidInput covers a missing or unparsable URL, a disallowed scheme and a blocked address.
	ErrInvalidInput = errors.New("invalid input")

	// ErrBlockedAddress is returned when the dialer refuses to connect to a blocked address. It
	// matches ErrInvalidInput.
	ErrBlockedAddress = fmt.Errorf("%w: blocked address", ErrInvalidInput)

	ErrUpstreamUnreachable = errors.New("upstream unreachable")
	ErrTimeout             = errors.New("request timeout")
	ErrPayloadTooLarge     = errors.New("response body too large")
	ErrNotHTML             = errors.New("response is not an html document")

	// ErrNoMatch means the page was fetched and scanned but none of the candidates matched.
	ErrNoMatch = errors.New("no matching metadata")
)

// Kind is the wire name of an extraction failure.
type Kind string

const (
	KindInvalidInput        Kind = "invalid_input"
	KindUpstreamUnreachable Kind = "upstream_unreachable"
	KindTimeout             Kind = "timeout"
	KindPayloadTooLarge     Kind = "payload_too_large"
	KindNotHTML             Kind = "not_html"
	KindNoMatch             Kind = "no_match"
	KindUpstreamStatus      Kind = "upstream_status"
)

// ValidationError carries the reason a URL was rejected by the Validator.
type ValidationError struct {
	URL    string
	Reason Reason
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("url rejected: %s", e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// StatusError is returned by the Fetcher for a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Code)
}

// KindOf classifies err. Unknown errors are reported as upstream_unreachable.
func KindOf(err error) Kind {
	var statusErr *StatusError
	switch {
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrPayloadTooLarge):
		return KindPayloadTooLarge
	case errors.Is(err, ErrNotHTML):
		return KindNotHTML
	case errors.Is(err, ErrNoMatch):
		return KindNoMatch
	case errors.As(err, &statusErr):
		return KindUpstreamStatus
	default:
		return KindUpstreamUnreachable
	}
}
