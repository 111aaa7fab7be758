package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// refundWindowDays is how many whole days after payment a method can still be refunded.
// Boleto payments are never refunded.
var refundWindowDays = map[PaymentMethod]int{
	PaymentPix:  90,
	PaymentCard: 180,
}

// CheckRefund reports why a payment made at paidAt can no longer be refunded, or nil.
func CheckRefund(m PaymentMethod, paidAt, now time.Time) error {
	window, ok := refundWindowDays[m]
	if !ok {
		ie := NewInputError()
		ie.Add("refund", fmt.Sprintf("%s payments cannot be refunded", m))
		return ie
	}
	if elapsed := int(now.Sub(paidAt) / (24 * time.Hour)); elapsed > window {
		ie := NewInputError()
		ie.Add("refund", fmt.Sprintf("%s payments can be refunded up to %d days after payment", m, window))
		return ie
	}
	return nil
}

// CancelRequest is what a guest sends to give up a reservation. Amount defaults to the
// reservation total and is only read when Refund is set.
type CancelRequest struct {
	Reason string           `json:"reason"`
	Refund bool             `json:"refund"`
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

func (c CancelRequest) Validate(total decimal.Decimal) error {
	ie := NewInputError()
	if n := utf8.RuneCountInString(strings.TrimSpace(c.Reason)); n < 10 || n > 500 {
		ie.Add("reason", "must have between 10 and 500 characters")
	}
	if c.Refund && c.Amount != nil && (!c.Amount.IsPositive() || c.Amount.GreaterThan(total)) {
		ie.Add("amount", "must be positive and at most the reservation total")
	}
	return ie.OrNil()
}

// RefundAmount is the requested amount, or the whole total.
func (c CancelRequest) RefundAmount(total decimal.Decimal) decimal.Decimal {
	if c.Amount != nil {
		return c.Amount.Round(2)
	}
	return total
}

type Refund struct {
	ID     string          `json:"id"`
	Amount decimal.Decimal `json:"amount"`
}

// Cancellation records a reservation leaving From for StatusCancelled.
type Cancellation struct {
	ReservationID string            `json:"-"`
	Code          string            `json:"code"`
	From          ReservationStatus `json:"-"`
	Reason        string            `json:"reason"`
	At            time.Time         `json:"cancelledAt"`
	Refund        *Refund           `json:"refund,omitempty"`
}
