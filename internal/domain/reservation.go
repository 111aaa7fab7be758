package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

type ReservationStatus string

const (
	StatusPendingPayment ReservationStatus = "pending_payment"
	StatusConfirmed      ReservationStatus = "confirmed"
	StatusFinished       ReservationStatus = "finished"
	StatusCancelled      ReservationStatus = "cancelled"
)

// Active reservations hold their dates.
func (s ReservationStatus) Active() bool {
	return s == StatusPendingPayment || s == StatusConfirmed
}

type Payment struct {
	Method        PaymentMethod   `json:"method"`
	Installments  int             `json:"installments"`
	ExpectedTotal decimal.Decimal `json:"expectedTotal"`
}

// ReservationRequest is the serialized BookingDraft handed to a SubmissionSink.
type ReservationRequest struct {
	Type       ReservationType `json:"type"`
	Dates      DateSelection   `json:"dates"`
	GuestCount int             `json:"guestCount"`
	Chalets    int             `json:"chalets"`
	Notes      string          `json:"notes,omitempty"`
	Guest      Guest           `json:"guest"`
	Payment    Payment         `json:"payment"`
}

// Validate checks the request against table limits. Calendar checks are separate.
func (r ReservationRequest) Validate(table PriceTable) error {
	ie := NewInputError()
	if !r.Type.Valid() {
		ie.Add("type", "must be day_use or ceremony")
	}
	if r.GuestCount < 1 || r.GuestCount > table.MaxGuests {
		ie.Add("guestCount", "out of range")
	}
	if r.Chalets < 0 || r.Chalets > table.MaxChalets {
		ie.Add("chalets", "out of range")
	}
	if !r.Payment.Method.Valid() {
		ie.Add("payment.method", "must be pix, card or boleto")
	}
	if r.Payment.Installments < 1 || r.Payment.Installments > MaxInstallments ||
		(r.Payment.Method != PaymentCard && r.Payment.Installments != 1) {
		ie.Add("payment.installments", "out of range")
	}
	if len(r.Notes) > 1000 {
		ie.Add("notes", "must have at most 1000 characters")
	}
	if gerr := AsInputError(r.Guest.Validate()); gerr != nil {
		for f, msgs := range gerr.Fields() {
			for _, m := range msgs {
				ie.Add(f, m)
			}
		}
	}
	return ie.OrNil()
}

// Receipt is returned by a SubmissionSink when a reservation is accepted.
type Receipt struct {
	ReservationCode string           `json:"reservationCode"`
	AccessCode      string           `json:"accessCode"`
	RedirectURL     string           `json:"redirectUrl"`
	Breakdown       PricingBreakdown `json:"breakdown"`
}

type Reservation struct {
	ID             string            `json:"id"`
	Code           string            `json:"code"`
	AccessCode     string            `json:"-"`
	IdempotencyKey string            `json:"-"`
	Type           ReservationType   `json:"type"`
	Status         ReservationStatus `json:"status"`
	Start          civil.Date        `json:"start"`
	End            civil.Date        `json:"end"`
	GuestCount     int               `json:"guestCount"`
	Chalets        int               `json:"chalets"`
	Breakdown      PricingBreakdown  `json:"breakdown"`
	Notes          string            `json:"notes,omitempty"`
	Guest          Guest             `json:"guest"`
	Payment        Payment           `json:"payment"`
	PaymentID      string            `json:"-"`
	PaymentURL     string            `json:"paymentUrl,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	ExpiresAt      time.Time         `json:"expiresAt"`
	PaidAt         *time.Time        `json:"paidAt,omitempty"`
	CancelledAt    *time.Time        `json:"cancelledAt,omitempty"`
	CancelReason   string            `json:"cancelReason,omitempty"`
	Refund         *Refund           `json:"refund,omitempty"`
}

func (r Reservation) Span() DateSpan { return DateSpan{Start: r.Start, End: r.End} }

// PaymentTime is when the guest paid. Rows confirmed before payment times were kept fall
// back to the creation time.
func (r Reservation) PaymentTime() time.Time {
	if r.PaidAt != nil {
		return *r.PaidAt
	}
	return r.CreatedAt
}

func (r Reservation) Receipt() Receipt {
	return Receipt{
		ReservationCode: r.Code,
		AccessCode:      r.AccessCode,
		RedirectURL:     r.PaymentURL,
		Breakdown:       r.Breakdown,
	}
}

// PaymentState is the gateway's view of a checkout.
type PaymentState string

const (
	PaymentPending  PaymentState = "pending"
	PaymentPaid     PaymentState = "paid"
	PaymentExpired  PaymentState = "expired"
	PaymentRefused  PaymentState = "refused"
	PaymentRefunded PaymentState = "refunded"
)

// CheckoutRequest asks the gateway for a hosted payment page.
type CheckoutRequest struct {
	Reference    string
	Description  string
	Amount       decimal.Decimal
	Method       PaymentMethod
	Installments int
	Customer     Guest
	SuccessURL   string
	ExpiresAt    time.Time
}

type Checkout struct {
	ID  string
	URL string
}

// Chalet is display content only.
type Chalet struct {
	ID          int64  `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`
	PhotoURL    string `json:"photoUrl" db:"photo_url"`
	Capacity    int    `json:"capacity" db:"capacity"`
}
