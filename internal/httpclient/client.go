package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// Client wraps outbound provider calls with a request timeout and a circuit
// breaker, so a degraded provider fails fast instead of holding request
// goroutines on blocking I/O.
type Client struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// Response is the decoded provider answer: status code plus raw body.
// Provider adapters decode the body themselves so the raw payload can be
// stored alongside the attempt.
type Response struct {
	StatusCode int
	Body       []byte
}

func New(name string, timeout time.Duration) *Client {
	settings := gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		breaker:    gobreaker.NewCircuitBreaker(settings),
	}
}

// PostJSON sends a JSON body and returns the raw response.
func (c *Client) PostJSON(ctx context.Context, rawURL string, payload any, headers map[string]string) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return c.do(ctx, http.MethodPost, rawURL, bytes.NewReader(body), "application/json", headers)
}

// PostForm sends a URL-encoded form body and returns the raw response.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values, headers map[string]string) (*Response, error) {
	return c.do(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", headers)
}

// Get issues a GET and returns the raw response.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil, "", headers)
}

func (c *Client) do(ctx context.Context, method, rawURL string, body io.Reader, contentType string, headers map[string]string) (*Response, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}

		r := &Response{StatusCode: resp.StatusCode, Body: raw}
		if resp.StatusCode >= http.StatusInternalServerError {
			// 5xx counts against the breaker; 4xx is a caller problem and
			// must not trip it.
			return r, fmt.Errorf("%s %s: provider returned %d", method, rawURL, resp.StatusCode)
		}
		return r, nil
	})
	if result != nil {
		if resp, ok := result.(*Response); ok {
			return resp, err
		}
	}
	return nil, err
}

// Decode unmarshals a response body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// OK reports whether the status code is in the 2xx range.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
