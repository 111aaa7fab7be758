package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"chacara_booking/internal/adapters/observability"
	"chacara_booking/internal/domain"
)

const submitLockTTL = 30 * time.Second

type ReservationOptions struct {
	PendingTTL time.Duration // how long an unpaid reservation holds its dates
	SuccessURL string        // "{code}" is replaced by the reservation code
}

// ReservationService is the server-side SubmissionSink: it re-validates, prices, stores and
// opens a checkout for every reservation.
type ReservationService struct {
	repo    domain.ReservationRepository
	catalog *CatalogService
	gateway domain.PaymentGateway
	locker  domain.Locker
	opts    ReservationOptions
	now     func() time.Time
}

func NewReservationService(r domain.ReservationRepository, c *CatalogService, g domain.PaymentGateway, l domain.Locker, opts ReservationOptions) *ReservationService {
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = 30 * time.Minute
	}
	return &ReservationService{repo: r, catalog: c, gateway: g, locker: l, opts: opts, now: time.Now}
}

func (s *ReservationService) WithClock(now func() time.Time) *ReservationService {
	s.now = now
	return s
}

func (s *ReservationService) Submit(ctx context.Context, key string, req domain.ReservationRequest) (domain.Receipt, error) {
	receipt, err := s.submit(ctx, key, req)
	outcome := "accepted"
	if re, ok := domain.AsRejection(err); ok {
		outcome = string(re.Kind)
	} else if err != nil {
		outcome = "error"
	}
	observability.ObserveSubmission(outcome)
	return receipt, err
}

func (s *ReservationService) submit(ctx context.Context, key string, req domain.ReservationRequest) (domain.Receipt, error) {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > 64 {
		return domain.Receipt{}, &domain.RejectionError{Kind: domain.RejectValidation, Message: "Idempotency-Key must have 1 to 64 characters"}
	}

	token, ok, err := s.locker.Acquire(ctx, "submit:"+key, submitLockTTL)
	if err != nil {
		return domain.Receipt{}, transient("acquire submission lock", err)
	}
	if !ok {
		return domain.Receipt{}, &domain.RejectionError{Kind: domain.RejectInFlight, Message: "a submission with this key is in progress", Err: domain.ErrSubmissionInFlight}
	}
	defer func() { _ = s.locker.Release(context.WithoutCancel(ctx), "submit:"+key, token) }()

	existing, err := s.repo.GetReservationByIdempotencyKey(ctx, key)
	switch {
	case err == nil:
		return s.replay(ctx, existing, req)
	case !errors.Is(err, domain.ErrNotFound):
		return domain.Receipt{}, transient("lookup idempotency key", err)
	}

	table, policy, err := s.catalog.Policy(ctx, true)
	if err != nil {
		return domain.Receipt{}, transient("load policy", err)
	}
	if err := req.Validate(table); err != nil {
		return domain.Receipt{}, validationRejection(err)
	}
	if res := domain.ValidateSelection(req.Type, req.Dates, policy); !res.Valid {
		observability.ObserveAvailabilityRejection(string(res.Reason))
		return domain.Receipt{}, rejectionFor(res)
	}

	b := domain.Quote(table, req.Type, req.Dates, req.GuestCount, req.Chalets)
	if !req.Payment.ExpectedTotal.IsZero() && !req.Payment.ExpectedTotal.Equal(b.Total) {
		log.Warn().
			Str("expected", req.Payment.ExpectedTotal.String()).
			Str("quoted", b.Total.String()).
			Msg("client estimate differs from server quote")
	}

	r := newReservation(key, req, b, s.now(), s.opts.PendingTTL)
	if err := s.repo.InsertReservation(ctx, r); err != nil {
		if errors.Is(err, domain.ErrDatesTaken) {
			return domain.Receipt{}, &domain.RejectionError{
				Kind:    domain.RejectConflict,
				Reason:  domain.ContainsBlockedDate,
				Message: "selected dates were just booked",
				Err:     err,
			}
		}
		return domain.Receipt{}, transient("insert reservation", err)
	}
	s.catalog.InvalidateAvailability(ctx)
	log.Info().Str("code", r.Code).Str("type", string(r.Type)).Str("total", b.Total.String()).Msg("reservation created")

	return s.startCheckout(ctx, r)
}

// replay answers a retried submission without creating anything new.
func (s *ReservationService) replay(ctx context.Context, r domain.Reservation, req domain.ReservationRequest) (domain.Receipt, error) {
	if !sameRequest(r, req) {
		return domain.Receipt{}, &domain.RejectionError{Kind: domain.RejectValidation, Message: "Idempotency-Key was already used for a different reservation"}
	}
	switch {
	case r.Status == domain.StatusCancelled:
		return domain.Receipt{}, &domain.RejectionError{Kind: domain.RejectConflict, Message: "reservation expired, start a new booking"}
	case r.PaymentURL == "":
		return s.startCheckout(ctx, r)
	default:
		return r.Receipt(), nil
	}
}

// startCheckout leaves the reservation pending when the gateway fails, so a retry with the
// same key resumes here and the reconciler expires it otherwise.
func (s *ReservationService) startCheckout(ctx context.Context, r domain.Reservation) (domain.Receipt, error) {
	co, err := s.gateway.CreateCheckout(ctx, checkoutRequest(r, s.opts.SuccessURL))
	if err != nil {
		log.Warn().Err(err).Str("code", r.Code).Msg("create checkout failed")
		return domain.Receipt{}, &domain.RejectionError{
			Kind:    domain.RejectTransient,
			Message: "payment is temporarily unavailable, try again",
			Err:     fmt.Errorf("%w: %v", domain.ErrPaymentUnavailable, err),
		}
	}
	if err := s.repo.AttachCheckout(ctx, r.ID, co); err != nil {
		return domain.Receipt{}, transient("attach checkout", err)
	}
	r.PaymentID, r.PaymentURL = co.ID, co.URL
	return r.Receipt(), nil
}

// Lookup finds a reservation by code. credential is either the guest's e-mail or the
// access code handed out with the receipt; a mismatch reads as not found.
func (s *ReservationService) Lookup(ctx context.Context, code, credential string) (domain.Reservation, error) {
	r, err := s.repo.GetReservationByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return domain.Reservation{}, err
	}
	if !ownedBy(r, credential) {
		return domain.Reservation{}, domain.ErrNotFound
	}
	return r, nil
}

// Cancel gives up a reservation on the guest's behalf. A paid reservation is refunded
// first when the guest asks for it and the payment is still inside its refund window.
func (s *ReservationService) Cancel(ctx context.Context, code, credential string, req domain.CancelRequest) (domain.Cancellation, error) {
	r, err := s.Lookup(ctx, code, credential)
	if err != nil {
		return domain.Cancellation{}, err
	}
	if !r.Status.Active() {
		return domain.Cancellation{}, fmt.Errorf("%w: reservation is %s", domain.ErrInvalidTransition, r.Status)
	}
	if err := req.Validate(r.Breakdown.Total); err != nil {
		return domain.Cancellation{}, err
	}

	now := s.now()
	c := domain.Cancellation{
		ReservationID: r.ID,
		Code:          r.Code,
		From:          r.Status,
		Reason:        strings.TrimSpace(req.Reason),
		At:            now.UTC(),
	}
	if req.Refund && r.Status == domain.StatusConfirmed {
		if err := domain.CheckRefund(r.Payment.Method, r.PaymentTime(), now); err != nil {
			return domain.Cancellation{}, err
		}
		rf, err := s.gateway.Refund(ctx, r.PaymentID, req.RefundAmount(r.Breakdown.Total))
		if err != nil {
			log.Warn().Err(err).Str("code", r.Code).Msg("refund failed")
			return domain.Cancellation{}, &domain.RejectionError{
				Kind:    domain.RejectTransient,
				Message: "refund is temporarily unavailable, try again",
				Err:     fmt.Errorf("%w: %v", domain.ErrPaymentUnavailable, err),
			}
		}
		c.Refund = &rf
	}

	if err := s.repo.CancelReservation(ctx, c); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			if c.Refund != nil {
				log.Error().Str("code", r.Code).Str("refund", c.Refund.ID).Msg("refunded reservation changed status before cancel")
			}
			return domain.Cancellation{}, fmt.Errorf("%w: reservation changed status, reload it", domain.ErrInvalidTransition)
		}
		return domain.Cancellation{}, transient("cancel reservation", err)
	}
	s.catalog.InvalidateAvailability(ctx)
	observability.ObserveReservationStatus(string(domain.StatusCancelled))
	ev := log.Info().Str("code", r.Code).Str("from", string(r.Status))
	if c.Refund != nil {
		ev = ev.Str("refund", c.Refund.Amount.StringFixed(2))
	}
	ev.Msg("reservation cancelled by guest")
	return c, nil
}

// FinishElapsed closes confirmed reservations whose last day is behind us.
func (s *ReservationService) FinishElapsed(ctx context.Context) (int, error) {
	n, err := s.repo.FinishElapsed(ctx, s.catalog.Today())
	if err != nil {
		return 0, err
	}
	for i := int64(0); i < n; i++ {
		observability.ObserveReservationStatus(string(domain.StatusFinished))
	}
	if n > 0 {
		log.Info().Int64("count", n).Msg("reservations finished")
	}
	return int(n), nil
}

// ApplyPaymentState moves a reservation along its lifecycle; changed is false for no-ops.
func (s *ReservationService) ApplyPaymentState(ctx context.Context, r domain.Reservation, st domain.PaymentState) (bool, error) {
	to, ok := nextStatus(r.Status, st)
	if !ok {
		return false, nil
	}
	if err := s.repo.UpdateStatus(ctx, r.ID, r.Status, to, s.now().UTC()); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// someone else moved it first
			return false, nil
		}
		return false, err
	}
	s.catalog.InvalidateAvailability(ctx)
	observability.ObserveReservationStatus(string(to))
	log.Info().Str("code", r.Code).Str("from", string(r.Status)).Str("to", string(to)).Msg("reservation status changed")
	return true, nil
}

// HandlePaymentEvent applies a gateway notification addressed by reservation code.
func (s *ReservationService) HandlePaymentEvent(ctx context.Context, code string, st domain.PaymentState) (bool, error) {
	r, err := s.repo.GetReservationByCode(ctx, code)
	if err != nil {
		return false, err
	}
	return s.ApplyPaymentState(ctx, r, st)
}

func transient(op string, err error) *domain.RejectionError {
	return &domain.RejectionError{Kind: domain.RejectTransient, Message: "temporary failure, try again", Err: fmt.Errorf("%s: %w", op, err)}
}
