package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	maxResponseSize = 20 << 20
	maxErrorBody    = 512

	DefaultTimeout = 10 * time.Second
)

// ErrNotConfigured is returned when a client is missing the credentials for a call.
var ErrNotConfigured = errors.New("credentials are not configured")

// Window bounds an order fetch by creation date.
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

// HTTPError is returned for every non-2xx answer from an upstream API.
type HTTPError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s http %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s http %d: %s", e.Service, e.StatusCode, e.Body)
}

// StatusCode extracts the upstream HTTP status from err, 0 if none.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}

// RetryPolicy decides what happens on 401. OnUnauthorized refreshes credentials
// before the next attempt.
type RetryPolicy struct {
	MaxAttempts    int
	OnUnauthorized func(ctx context.Context) error
}

func NoRetry() RetryPolicy { return RetryPolicy{MaxAttempts: 1} }

// RequestFunc builds a fresh request for each attempt, so refreshed
// credentials are picked up.
type RequestFunc func(ctx context.Context) (*http.Request, error)

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return errors.Wrap(err, "decode")
	}
	return nil
}

// Requester is the HTTP plumbing shared by marketplace and partner clients.
type Requester struct {
	Service string
	HTTP    *http.Client
	Limiter *rate.Limiter
	Policy  RetryPolicy
}

func NewRequester(service string, httpc *http.Client, limiter *rate.Limiter, policy RetryPolicy) *Requester {
	if httpc == nil {
		httpc = &http.Client{Timeout: DefaultTimeout}
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &Requester{Service: service, HTTP: httpc, Limiter: limiter, Policy: policy}
}

func (r *Requester) Do(ctx context.Context, build RequestFunc) (*Response, error) {
	attempts := r.Policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		if r.Limiter != nil {
			if err := r.Limiter.Wait(ctx); err != nil {
				return nil, errors.Wrap(err, "rate limit wait")
			}
		}

		req, err := build(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "new request")
		}

		resp, err := r.HTTP.Do(req)
		if err != nil {
			return nil, errors.Wrap(err, "do request")
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		_ = resp.Body.Close()
		if err != nil {
			return nil, errors.Wrap(err, "read body")
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt < attempts && r.Policy.OnUnauthorized != nil {
			if err := r.Policy.OnUnauthorized(ctx); err != nil {
				return nil, errors.Wrap(err, "refresh credentials")
			}
			continue
		}

		if resp.StatusCode/100 != 2 {
			return nil, &HTTPError{Service: r.Service, StatusCode: resp.StatusCode, Body: truncate(body)}
		}
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
	}
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody])
	}
	return string(b)
}
