package domain

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// ---- engine providers (consumed by the booking flow) ----

type PricingConfigProvider interface {
	PriceTable(ctx context.Context) (PriceTable, error)
}

type AvailabilityProvider interface {
	Availability(ctx context.Context) (Availability, error)
}

// AvailabilityChecker re-validates a selection against the authoritative calendar.
type AvailabilityChecker interface {
	CheckAvailability(ctx context.Context, t ReservationType, sel DateSelection) (ValidationResult, error)
}

type Quoter interface {
	Quote(ctx context.Context, q QuoteRequest) (PricingBreakdown, error)
}

// SubmissionSink accepts a finalized draft. Refusals are *RejectionError.
type SubmissionSink interface {
	Submit(ctx context.Context, idempotencyKey string, req ReservationRequest) (Receipt, error)
}

type ContentProvider interface {
	Chalets(ctx context.Context) ([]Chalet, error)
}

type QuoteRequest struct {
	Type       ReservationType `json:"type"`
	Dates      DateSelection   `json:"dates"`
	GuestCount int             `json:"guestCount"`
	Chalets    int             `json:"chalets"`
}

// ---- storage ----

type ConfigRepository interface {
	// GetPriceTable returns ErrNotFound until a table has been saved.
	GetPriceTable(ctx context.Context) (PriceTable, error)
	SavePriceTable(ctx context.Context, t PriceTable) error
}

type BlockRepository interface {
	ListBlocks(ctx context.Context, from civil.Date) ([]ManualBlock, error)
	AddBlock(ctx context.Context, b ManualBlock) (ManualBlock, error)
	DeleteBlock(ctx context.Context, id int64) error
}

type ReservationRepository interface {
	// InsertReservation fails with ErrDatesTaken when an active reservation overlaps.
	InsertReservation(ctx context.Context, r Reservation) error
	GetReservationByCode(ctx context.Context, code string) (Reservation, error)
	GetReservationByIdempotencyKey(ctx context.Context, key string) (Reservation, error)
	AttachCheckout(ctx context.Context, id string, c Checkout) error
	// UpdateStatus moves a reservation only if it is currently in status from. Moving to
	// StatusConfirmed records at as the payment time.
	UpdateStatus(ctx context.Context, id string, from, to ReservationStatus, at time.Time) error
	// CancelReservation applies c only if the reservation is still in c.From.
	CancelReservation(ctx context.Context, c Cancellation) error
	// FinishElapsed moves confirmed reservations that ended before day to StatusFinished.
	FinishElapsed(ctx context.Context, day civil.Date) (int64, error)
	ListOccupiedSpans(ctx context.Context, from civil.Date) ([]DateSpan, error)
	ListPending(ctx context.Context, limit int) ([]Reservation, error)
}

type ContentRepository interface {
	ListChalets(ctx context.Context) ([]Chalet, error)
}

type Repository interface {
	ConfigRepository
	BlockRepository
	ReservationRepository
	ContentRepository
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}

// Locker guards a key for a bounded time; Acquire reports false if already held. Release
// only frees the lock while token still owns it.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// ---- payment ----

type PaymentGateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error)
	PaymentStatus(ctx context.Context, checkoutID string) (PaymentState, error)
	// Refund returns amount of a paid checkout to the payer.
	Refund(ctx context.Context, checkoutID string, amount decimal.Decimal) (Refund, error)
}
