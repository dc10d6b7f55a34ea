package resilience

import (
	"context"
	"io"
	"net/http"

	"github.com/rotisserie/eris"
)

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
}

// DoHTTP sends the request produced by build, retrying transport errors and
// transient statuses per cfg. build is called once per attempt so request
// bodies can be replayed. Non-transient statuses are returned to the caller
// without error; the caller decides what counts as success.
func DoHTTP(ctx context.Context, hc *http.Client, cfg RetryConfig, service string, build func(ctx context.Context) (*http.Request, error)) (*Response, error) {
	if cfg.OnRetry == nil {
		cfg.OnRetry = RetryLogger(service, "http")
	}
	return DoVal(ctx, cfg, func(ctx context.Context) (*Response, error) {
		req, err := build(ctx)
		if err != nil {
			return nil, eris.Wrapf(err, "%s: build request", service)
		}

		resp, err := hc.Do(req)
		if err != nil {
			return nil, NewTransientError(eris.Wrapf(err, "%s: send request", service), 0)
		}
		defer resp.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, NewTransientError(eris.Wrapf(err, "%s: read response body", service), resp.StatusCode)
		}

		if IsTransientHTTPStatus(resp.StatusCode) {
			return nil, NewTransientError(StatusError(service, resp.StatusCode, body), resp.StatusCode)
		}
		return &Response{StatusCode: resp.StatusCode, Body: body}, nil
	})
}

// StatusError formats an unexpected HTTP status with a bounded body excerpt.
func StatusError(service string, code int, body []byte) error {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return eris.Errorf("%s: unexpected status %d: %s", service, code, string(body))
}
