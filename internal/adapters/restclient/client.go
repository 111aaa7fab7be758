// Package restclient is the outbound JSON client shared by the API and payment adapters.
package restclient

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/time/rate"

	"chacara_booking/internal/adapters/observability"
)

var (
	ErrNotFound     = errors.New("remote: not found")
	ErrUnauthorized = errors.New("remote: unauthorized")
	ErrForbidden    = errors.New("remote: forbidden")
)

// StatusError carries a non-retryable error response so callers can decode its body.
type StatusError struct {
	Code int
	Body []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bad status %d: %s", e.Code, strings.TrimSpace(string(e.Body)))
}

const maxAttempts = 4

type Client struct {
	service string
	base    string
	hc      *http.Client
	header  http.Header
	rl      *rate.Limiter
}

type Option func(*Client)

func WithHeader(k, v string) Option { return func(c *Client) { c.header.Set(k, v) } }

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }

func New(service, base string, rps int, opts ...Option) *Client {
	if rps <= 0 {
		rps = 5
	}
	c := &Client{
		service: service,
		base:    strings.TrimRight(base, "/"),
		hc:      &http.Client{Timeout: 20 * time.Second},
		header:  http.Header{},
		rl:      rate.NewLimiter(rate.Limit(rps), rps),
	}
	c.header.Set("Accept", "application/json")
	c.header.Set("User-Agent", "chacara-booking/1.0")
	for _, o := range opts {
		o(c)
	}
	return c
}

type Request struct {
	Name   string // metrics label
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   any
	// Retry marks the call as safe to repeat (reads, pure computations, idempotency-keyed writes).
	Retry bool
}

// Do sends req and decodes a 2xx JSON body into out (if non-nil). It rate-limits, and when
// req.Retry is set it retries 429 and transient 5xx, honoring Retry-After.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}

	var body []byte
	if req.Body != nil {
		var err error
		if body, err = json.Marshal(req.Body); err != nil {
			return fmt.Errorf("encode %s body: %w", req.Name, err)
		}
	}
	u := c.base + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}
	attempts := 1
	if req.Retry {
		attempts = maxAttempts
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		// build a fresh request each attempt
		hr, err := http.NewRequestWithContext(ctx, req.Method, u, bytes.NewReader(body))
		if err != nil {
			return err
		}
		for k, vs := range c.header {
			hr.Header[k] = vs
		}
		for k, vs := range req.Header {
			hr.Header[k] = vs
		}
		if body != nil {
			hr.Header.Set("Content-Type", "application/json")
		}
		// forwards the inbound traceparent, if any
		propagation.TraceContext{}.Inject(ctx, propagation.HeaderCarrier(hr.Header))

		start := time.Now()
		resp, err := c.hc.Do(hr)
		if err != nil {
			observability.ObserveExternal(c.service, req.Name, 0, time.Since(start))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			log.Debug().Err(err).Str("err_type", observability.LabelErr(err)).Str("service", c.service).Int("attempt", i+1).Msg("outbound request failed")
			if i < attempts-1 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr
		}
		observability.ObserveExternal(c.service, req.Name, resp.StatusCode, time.Since(start))

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated, http.StatusAccepted:
			defer resp.Body.Close()
			if out == nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				return nil
			}
			return json.NewDecoder(resp.Body).Decode(out)

		case http.StatusNoContent:
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil

		case http.StatusNotFound:
			resp.Body.Close()
			return ErrNotFound

		case http.StatusUnauthorized:
			resp.Body.Close()
			return ErrUnauthorized

		case http.StatusForbidden:
			resp.Body.Close()
			return ErrForbidden

		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			wait := retryAfter(resp)
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			if wait == 0 {
				wait = backoff(i)
			}
			lastErr = &StatusError{Code: resp.StatusCode, Body: b}
			if i < attempts-1 && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr

		default:
			// read a small error body for diagnostics
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return &StatusError{Code: resp.StatusCode, Body: b}
		}
	}

	return lastErr
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After header (seconds or HTTP-date). Returns 0 if absent/invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff doubles from 200ms per attempt with up to +50% jitter from crypto/rand.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	return base + time.Duration(0.5*f*float64(base))
}
