package httputil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Policy controls retry behavior for feed requests. Network errors and 5xx
// responses back off exponentially from BaseDelay; 429 responses back off
// from RateLimitDelay, which should be considerably longer.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	RateLimitDelay time.Duration
	MaxDelay       time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    5,
		BaseDelay:      2 * time.Second,
		RateLimitDelay: 5 * time.Second,
		MaxDelay:       2 * time.Minute,
	}
}

func (p Policy) wait(ctx context.Context, attempt int, rateLimited bool) error {
	base := p.BaseDelay
	if rateLimited {
		base = p.RateLimitDelay
	}
	delay := base << uint(attempt)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetJSON fetches url with the given headers, retrying per the policy, and
// decodes a 200 response into out. Non-retryable statuses (403, 404, ...)
// are returned to the caller with a body snippet and a nil error so it can
// decide what they mean.
func GetJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, p Policy, out interface{}) (int, []byte, error) {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return 0, nil, ctx.Err()
			}
			if werr := p.wait(ctx, attempt, false); werr != nil {
				return 0, nil, werr
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			err := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			if err != nil {
				return resp.StatusCode, nil, fmt.Errorf("decoding response: %w", err)
			}
			return resp.StatusCode, nil, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			drain(resp)
			lastErr = fmt.Errorf("rate limited (429)")
			if werr := p.wait(ctx, attempt, true); werr != nil {
				return resp.StatusCode, nil, werr
			}

		case resp.StatusCode >= 500:
			snippet := readSnippet(resp)
			lastErr = fmt.Errorf("server error %d: %s", resp.StatusCode, snippet)
			if werr := p.wait(ctx, attempt, false); werr != nil {
				return resp.StatusCode, nil, werr
			}

		default:
			snippet := readSnippet(resp)
			return resp.StatusCode, snippet, nil
		}
	}
	return 0, nil, fmt.Errorf("giving up after %d attempts: %w", p.MaxAttempts, lastErr)
}

func readSnippet(resp *http.Response) []byte {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
	resp.Body.Close()
	return snippet
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
