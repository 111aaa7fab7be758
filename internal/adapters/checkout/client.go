// Package checkout talks to the hosted payment page provider.
package checkout

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"chacara_booking/internal/adapters/restclient"
	"chacara_booking/internal/domain"
)

type Client struct{ rc *restclient.Client }

func New(base, key string, rps int, opts ...restclient.Option) (*Client, error) {
	if key == "" {
		return nil, fmt.Errorf("checkout API key is required")
	}
	opts = append([]restclient.Option{restclient.WithHeader("Authorization", "Bearer "+key)}, opts...)
	return &Client{rc: restclient.New("checkout", base, rps, opts...)}, nil
}

var _ domain.PaymentGateway = (*Client)(nil)

type customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	TaxID string `json:"taxId"`
	Phone string `json:"phone"`
}

type createRequest struct {
	Reference    string   `json:"reference"`
	Description  string   `json:"description"`
	Amount       string   `json:"amount"`
	BillingType  string   `json:"billingType"`
	Installments int      `json:"installments"`
	Customer     customer `json:"customer"`
	SuccessURL   string   `json:"successUrl,omitempty"`
	ExpiresAt    string   `json:"expiresAt,omitempty"`
}

type checkoutResponse struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

func billingType(m domain.PaymentMethod) string {
	switch m {
	case domain.PaymentCard:
		return "CREDIT_CARD"
	case domain.PaymentBoleto:
		return "BOLETO"
	default:
		return "PIX"
	}
}

// CreateCheckout opens a hosted payment page. The reservation code doubles as the gateway's
// idempotency key, so the call is safe to retry.
func (c *Client) CreateCheckout(ctx context.Context, req domain.CheckoutRequest) (domain.Checkout, error) {
	body := createRequest{
		Reference:    req.Reference,
		Description:  req.Description,
		Amount:       req.Amount.StringFixed(2),
		BillingType:  billingType(req.Method),
		Installments: req.Installments,
		Customer: customer{
			Name:  strings.TrimSpace(req.Customer.Name + " " + req.Customer.Surname),
			Email: req.Customer.Email,
			TaxID: domain.Digits(req.Customer.TaxID),
			Phone: domain.Digits(req.Customer.Phone),
		},
		SuccessURL: req.SuccessURL,
	}
	if !req.ExpiresAt.IsZero() {
		body.ExpiresAt = req.ExpiresAt.UTC().Format(time.RFC3339)
	}

	var out checkoutResponse
	err := c.rc.Do(ctx, restclient.Request{
		Name: "create_checkout", Method: http.MethodPost, Path: "/checkouts",
		Header: http.Header{"Idempotency-Key": {req.Reference}},
		Body:   body, Retry: true,
	}, &out)
	if err != nil {
		return domain.Checkout{}, err
	}
	if out.ID == "" || out.URL == "" {
		return domain.Checkout{}, fmt.Errorf("checkout response without id or url")
	}
	return domain.Checkout{ID: out.ID, URL: out.URL}, nil
}

func (c *Client) PaymentStatus(ctx context.Context, checkoutID string) (domain.PaymentState, error) {
	var out checkoutResponse
	err := c.rc.Do(ctx, restclient.Request{
		Name: "checkout_status", Method: http.MethodGet, Path: "/checkouts/" + url.PathEscape(checkoutID), Retry: true,
	}, &out)
	if err != nil {
		return "", err
	}
	return ParseState(out.Status), nil
}

type refundRequest struct {
	Amount string `json:"amount"`
}

type refundResponse struct {
	ID     string          `json:"id"`
	Amount decimal.Decimal `json:"amount"`
}

// Refund returns part or all of a paid checkout. Checkout and amount make up the
// idempotency key, so a retried refund is not paid out twice.
func (c *Client) Refund(ctx context.Context, checkoutID string, amount decimal.Decimal) (domain.Refund, error) {
	amt := amount.StringFixed(2)
	var out refundResponse
	err := c.rc.Do(ctx, restclient.Request{
		Name: "refund", Method: http.MethodPost, Path: "/checkouts/" + url.PathEscape(checkoutID) + "/refunds",
		Header: http.Header{"Idempotency-Key": {"refund-" + checkoutID + "-" + amt}},
		Body:   refundRequest{Amount: amt}, Retry: true,
	}, &out)
	if err != nil {
		return domain.Refund{}, err
	}
	if out.ID == "" {
		return domain.Refund{}, fmt.Errorf("refund response without id")
	}
	if out.Amount.IsZero() {
		out.Amount = amount
	}
	return domain.Refund{ID: out.ID, Amount: out.Amount}, nil
}

// ParseState maps provider statuses onto PaymentState; unknown values stay pending.
func ParseState(s string) domain.PaymentState {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PAID", "RECEIVED", "CONFIRMED", "RECEIVED_IN_CASH":
		return domain.PaymentPaid
	case "EXPIRED", "OVERDUE":
		return domain.PaymentExpired
	case "REFUSED", "DELETED", "CANCELLED", "CANCELED":
		return domain.PaymentRefused
	case "REFUNDED", "CHARGEBACK_REQUESTED":
		return domain.PaymentRefunded
	default:
		return domain.PaymentPending
	}
}
