package transfer

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/italolelis/photo_downloader/internal/logctx"
)

const (
	DefaultRetryInitialInterval = time.Second
	DefaultRetryMaxInterval     = 30 * time.Second

	maxDrainBytes = 64 * 1024
)

var retryableStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

var idempotentMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
}

// RetryOptions configures a RetryTransport. MaxRetries counts attempts after
// the first one; zero disables retrying.
type RetryOptions struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// RetryTransport re-sends idempotent requests that hit a connection error or a
// throttling/5xx status, backing off exponentially between attempts. When the
// attempts run out the last response is handed to the caller unchanged.
type RetryTransport struct {
	next http.RoundTripper
	opts RetryOptions
}

func NewRetryTransport(next http.RoundTripper, opts RetryOptions) *RetryTransport {
	if next == nil {
		next = http.DefaultTransport
	}

	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	if opts.InitialInterval <= 0 {
		opts.InitialInterval = DefaultRetryInitialInterval
	}

	if opts.MaxInterval <= 0 {
		opts.MaxInterval = DefaultRetryMaxInterval
	}

	if opts.MaxInterval < opts.InitialInterval {
		opts.MaxInterval = opts.InitialInterval
	}

	return &RetryTransport{next: next, opts: opts}
}

func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.opts.MaxRetries == 0 || !replayable(req) {
		return t.next.RoundTrip(req)
	}

	ctx := req.Context()
	logger := logctx.LoggerFromContext(ctx)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.opts.InitialInterval
	b.MaxInterval = t.opts.MaxInterval

	maxTries := uint(t.opts.MaxRetries) + 1

	var attempt uint

	return backoff.Retry(ctx, func() (*http.Response, error) {
		attempt++

		attemptReq, err := rewind(req, attempt)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := t.next.RoundTrip(attemptReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}

			return nil, err
		}

		if !retryableStatuses[resp.StatusCode] || attempt >= maxTries {
			return resp, nil
		}

		wait := retryAfter(resp.Header.Get("Retry-After"), t.opts.MaxInterval)
		drain(resp.Body)

		statusErr := fmt.Errorf("retryable response status %s", resp.Status)
		if wait > 0 {
			return nil, errors.Join(statusErr, &backoff.RetryAfterError{Duration: wait})
		}

		return nil, statusErr
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(maxTries),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.DebugContext(ctx, "retrying request",
				"method", req.Method,
				"url", req.URL.Redacted(),
				"attempt", attempt,
				"backoff", next,
				"err", err)
		}),
	)
}

func replayable(req *http.Request) bool {
	if !idempotentMethods[req.Method] {
		return false
	}

	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

// rewind returns the request for the given attempt with a fresh body.
func rewind(req *http.Request, attempt uint) (*http.Request, error) {
	if attempt == 1 || req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}

	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("failed to rewind request body: %w", err)
	}

	r := req.Clone(req.Context())
	r.Body = body

	return r, nil
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date,
// capped at limit. It returns zero when the header is absent or unusable.
func retryAfter(v string, limit time.Duration) time.Duration {
	if v == "" {
		return 0
	}

	var d time.Duration

	if secs, err := strconv.Atoi(v); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(v); err == nil {
		d = time.Until(at)
	}

	if d <= 0 {
		return 0
	}

	return min(d, limit)
}

// drain reads a bounded amount of the discarded body so the connection can be reused.
func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxDrainBytes))
	_ = body.Close()
}
