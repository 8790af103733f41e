// Package graph provides a resilient client for the social platform's
// messaging and graph API
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	perr "replyloop/internal/platform/errors"
	"replyloop/internal/platform/logger"
)

const (
	baseURLDefault = "https://graph.instagram.com/v21.0"
	defaultTimeout = 10 * time.Second
	defaultUA      = "replyloop"

	// per-call retry budget for transient failures
	maxAttempts = 3
	retryBase   = time.Second

	// platform error code for an expired or invalidated access token
	codeTokenExpired = 190
)

// Options configures the Client
type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Client is a minimal platform API client with bounded in-call retry.
// Retries cover 5xx and transport errors only; 4xx surfaces immediately
type Client struct {
	http  *http.Client
	opts  Options
	log   logger.Logger
	now   func() time.Time
	sleep func(time.Duration)
}

// NewClient creates a new Client with sane defaults
func NewClient(o Options) *Client {
	if o.BaseURL == "" {
		o.BaseURL = baseURLDefault
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUA
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	return &Client{
		http:  &http.Client{Timeout: o.Timeout},
		opts:  o,
		log:   *logger.Named("graph"),
		now:   time.Now,
		sleep: time.Sleep,
	}
}

// doJSON issues a request and decodes the response into out when non-nil.
// Transient failures retry with 2^attempt second delays inside the call
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body any, token string, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return perr.Wrapf(err, perr.ErrorCodeUnknown, "graph marshal request")
		}
	}

	u := c.opts.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, rd)
		if err != nil {
			return perr.Wrapf(err, perr.ErrorCodeUnknown, "graph new request")
		}
		req.Header.Set("User-Agent", c.opts.UserAgent)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		start := c.now()
		resp, err := c.http.Do(req)
		lat := c.now().Sub(start)

		if err != nil {
			if attempt+1 >= maxAttempts {
				return perr.Wrapf(err, perr.ErrorCodeUnavailable, "graph transport error")
			}
			back := backoffFor(attempt)
			c.log.Warn().Dur("retry_in", back).Int("attempt", attempt).Err(err).Msg("graph transport error retrying")
			c.sleep(back)
			continue
		}

		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()

		c.log.Debug().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Int("attempt", attempt).
			Dur("latency", lat).
			Msg("graph http response")

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out != nil && len(raw) > 0 {
				if err := json.Unmarshal(raw, out); err != nil {
					return perr.Wrapf(err, perr.ErrorCodeUnknown, "graph decode response")
				}
			}
			return nil

		case resp.StatusCode >= 500:
			if attempt+1 >= maxAttempts {
				return perr.Unavailablef("graph status %d: %s", resp.StatusCode, compactBody(raw))
			}
			back := backoffFor(attempt)
			c.log.Warn().Int("status", resp.StatusCode).Dur("retry_in", back).Int("attempt", attempt).Msg("graph 5xx retrying")
			c.sleep(back)
			continue

		default:
			return mapAPIError(resp.StatusCode, raw)
		}
	}
}

// backoffFor returns the 2^attempt second retry delay
func backoffFor(attempt int) time.Duration {
	return retryBase << uint(attempt+1)
}

// mapAPIError classifies a 4xx response into the project error taxonomy
func mapAPIError(status int, raw []byte) error {
	var ae apiError
	_ = json.Unmarshal(raw, &ae)
	msg := ae.Error.Message
	if msg == "" {
		msg = compactBody(raw)
	}

	switch {
	case ae.Error.Code == codeTokenExpired:
		return perr.Newf(perr.ErrorCodeTokenExpired, "access token expired: %s", msg)
	case status == http.StatusTooManyRequests:
		return perr.RateLimitedf("graph rate limited: %s", msg)
	case status == http.StatusForbidden:
		return perr.Forbiddenf("graph forbidden: %s", msg)
	case status == http.StatusNotFound:
		return perr.NotFoundf("graph not found: %s", msg)
	default:
		return perr.InvalidArgf("graph status %d: %s", status, msg)
	}
}

func compactBody(raw []byte) string {
	const limit = 256
	s := string(raw)
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
