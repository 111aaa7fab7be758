// Package chacaraapi implements the booking engine's provider ports over the public HTTP API.
package chacaraapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"chacara_booking/internal/adapters/restclient"
	"chacara_booking/internal/domain"
)

type Client struct{ rc *restclient.Client }

func New(base string, rps int, opts ...restclient.Option) *Client {
	return &Client{rc: restclient.New("chacara_api", base, rps, opts...)}
}

var (
	_ domain.PricingConfigProvider = (*Client)(nil)
	_ domain.AvailabilityProvider  = (*Client)(nil)
	_ domain.AvailabilityChecker   = (*Client)(nil)
	_ domain.Quoter                = (*Client)(nil)
	_ domain.SubmissionSink        = (*Client)(nil)
	_ domain.ContentProvider       = (*Client)(nil)
)

func (c *Client) PriceTable(ctx context.Context) (domain.PriceTable, error) {
	var out domain.PriceTable
	err := c.rc.Do(ctx, restclient.Request{Name: "config", Method: http.MethodGet, Path: "/v1/config", Retry: true}, &out)
	return out, err
}

func (c *Client) Availability(ctx context.Context) (domain.Availability, error) {
	var out domain.Availability
	err := c.rc.Do(ctx, restclient.Request{Name: "availability", Method: http.MethodGet, Path: "/v1/availability", Retry: true}, &out)
	return out, err
}

type checkRequest struct {
	Type  domain.ReservationType `json:"type"`
	Dates domain.DateSelection   `json:"dates"`
}

func (c *Client) CheckAvailability(ctx context.Context, t domain.ReservationType, sel domain.DateSelection) (domain.ValidationResult, error) {
	var out domain.ValidationResult
	err := c.rc.Do(ctx, restclient.Request{
		Name: "availability_check", Method: http.MethodPost, Path: "/v1/availability/check",
		Body: checkRequest{Type: t, Dates: sel}, Retry: true,
	}, &out)
	return out, err
}

func (c *Client) Quote(ctx context.Context, q domain.QuoteRequest) (domain.PricingBreakdown, error) {
	var out domain.PricingBreakdown
	err := c.rc.Do(ctx, restclient.Request{Name: "quote", Method: http.MethodPost, Path: "/v1/quotes", Body: q, Retry: true}, &out)
	if err != nil {
		return domain.PricingBreakdown{}, asDomainError(err)
	}
	return out, nil
}

// Submit is retried on transient failures; the idempotency key makes that safe.
func (c *Client) Submit(ctx context.Context, key string, req domain.ReservationRequest) (domain.Receipt, error) {
	var out domain.Receipt
	err := c.rc.Do(ctx, restclient.Request{
		Name: "submit", Method: http.MethodPost, Path: "/v1/reservations",
		Header: http.Header{"Idempotency-Key": {key}},
		Body:   req, Retry: true,
	}, &out)
	if err != nil {
		return domain.Receipt{}, rejection(err)
	}
	return out, nil
}

func (c *Client) Chalets(ctx context.Context) ([]domain.Chalet, error) {
	var out []domain.Chalet
	err := c.rc.Do(ctx, restclient.Request{Name: "chalets", Method: http.MethodGet, Path: "/v1/chalets", Retry: true}, &out)
	return out, err
}

// credentialField names how the server reads a guest credential: e-mail or access code.
func credentialField(credential string) string {
	if strings.Contains(credential, "@") {
		return "email"
	}
	return "accessCode"
}

// Lookup opens a reservation with the guest's e-mail or the receipt's access code.
func (c *Client) Lookup(ctx context.Context, code, credential string) (domain.Reservation, error) {
	var out domain.Reservation
	err := c.rc.Do(ctx, restclient.Request{
		Name: "lookup", Method: http.MethodGet, Path: "/v1/reservations/" + url.PathEscape(code),
		Query: url.Values{credentialField(credential): {credential}}, Retry: true,
	}, &out)
	if errors.Is(err, restclient.ErrNotFound) {
		return domain.Reservation{}, domain.ErrNotFound
	}
	return out, err
}

// Cancel is sent once; a lost response is settled by looking the reservation up again.
func (c *Client) Cancel(ctx context.Context, code, credential string, req domain.CancelRequest) (domain.Cancellation, error) {
	body := map[string]any{
		credentialField(credential): credential,
		"reason":                    req.Reason,
		"refund":                    req.Refund,
	}
	if req.Amount != nil {
		body["amount"] = req.Amount
	}
	var out domain.Cancellation
	err := c.rc.Do(ctx, restclient.Request{
		Name: "cancel", Method: http.MethodPost, Path: "/v1/reservations/" + url.PathEscape(code) + "/cancel",
		Body: body,
	}, &out)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, restclient.ErrNotFound) {
		return domain.Cancellation{}, domain.ErrNotFound
	}
	if p, status, ok := decodeProblem(err); ok && status == http.StatusConflict {
		return domain.Cancellation{}, fmt.Errorf("%w: %s", domain.ErrInvalidTransition, p.Detail)
	}
	if ie := domain.AsInputError(asDomainError(err)); ie != nil {
		return domain.Cancellation{}, ie
	}
	return domain.Cancellation{}, rejection(err)
}

// problem mirrors the server's application/problem+json document.
type problem struct {
	Title  string              `json:"title"`
	Status int                 `json:"status"`
	Detail string              `json:"detail"`
	Kind   string              `json:"kind"`
	Reason string              `json:"reason"`
	Fields map[string][]string `json:"fields"`
}

func decodeProblem(err error) (problem, int, bool) {
	var se *restclient.StatusError
	if !errors.As(err, &se) {
		return problem{}, 0, false
	}
	var p problem
	_ = json.Unmarshal(se.Body, &p)
	return p, se.Code, true
}

func asDomainError(err error) error {
	p, _, ok := decodeProblem(err)
	if !ok || len(p.Fields) == 0 {
		return err
	}
	ie := domain.NewInputError()
	for f, msgs := range p.Fields {
		for _, m := range msgs {
			ie.Add(f, m)
		}
	}
	return ie
}

func rejection(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	p, code, ok := decodeProblem(err)
	if !ok {
		return &domain.RejectionError{Kind: domain.RejectTransient, Message: "booking service unreachable", Err: err}
	}
	kind := domain.RejectionKind(p.Kind)
	if kind == "" {
		switch {
		case code == http.StatusConflict:
			kind = domain.RejectConflict
		case code >= 500:
			kind = domain.RejectTransient
		case code >= 400:
			kind = domain.RejectValidation
		default:
			kind = domain.RejectUnclassified
		}
	}
	msg := p.Detail
	if msg == "" {
		msg = p.Title
	}
	return &domain.RejectionError{Kind: kind, Message: msg, Fields: p.Fields, Reason: domain.Reason(p.Reason), Err: err}
}
