package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/openai/openai-go"
)

// describeModelError turns a model-call failure into the human-readable
// message carried by the job's error event.
//
// Classification:
//   - API status errors (rate limits, auth, validation) surface the
//     status code and response body verbatim;
//   - transport-level failures (DNS, refused connections, timeouts)
//     surface a generic connection message;
//   - anything else passes through as-is.
//
// All of them are terminal for the job; there is no retry.
func describeModelError(err error) string {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		body := apierr.RawJSON()
		if body == "" {
			body = apierr.Message
		}
		return fmt.Sprintf("API error %d: %s", apierr.StatusCode, body)
	}

	if isTransportError(err) {
		return fmt.Sprintf("API connection error: %v", err)
	}

	return fmt.Sprintf("API error: %v", err)
}

// isTransportError reports whether the failure happened below the HTTP
// status layer.
func isTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
