package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"chacara_booking/internal/adapters/observability"
	"chacara_booking/internal/domain"
)

type Step int

const (
	StepTypeSelection Step = iota
	StepExtras
	StepGuestInfo
	StepPayment
	StepSubmitting
	StepSuccess
	StepFailed
)

func (s Step) String() string {
	switch s {
	case StepTypeSelection:
		return "type_selection"
	case StepExtras:
		return "extras"
	case StepGuestInfo:
		return "guest_info"
	case StepPayment:
		return "payment"
	case StepSubmitting:
		return "submitting"
	case StepSuccess:
		return "success"
	case StepFailed:
		return "failed"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// BookingDraft is what the guest has entered so far. Breakdown is derived and is
// recomputed after every mutation.
type BookingDraft struct {
	Type          domain.ReservationType
	Dates         domain.DateSelection
	GuestCount    int
	ChaletCount   int
	Notes         string
	Guest         domain.Guest
	PaymentMethod domain.PaymentMethod
	Installments  int
	Breakdown     domain.PricingBreakdown
}

// newDraft starts with the smallest party so the price is defined from the first render.
func newDraft() BookingDraft { return BookingDraft{GuestCount: 1, Installments: 1} }

// Request serializes the draft for a SubmissionSink.
func (d BookingDraft) Request() domain.ReservationRequest {
	return domain.ReservationRequest{
		Type:       d.Type,
		Dates:      append(domain.DateSelection(nil), d.Dates...),
		GuestCount: d.GuestCount,
		Chalets:    d.ChaletCount,
		Notes:      d.Notes,
		Guest:      d.Guest,
		Payment: domain.Payment{
			Method:        d.PaymentMethod,
			Installments:  d.Installments,
			ExpectedTotal: d.Breakdown.Total,
		},
	}
}

type FlowDeps struct {
	Config       domain.PricingConfigProvider
	Availability domain.AvailabilityProvider
	Sink         domain.SubmissionSink
	// Checker and Quoter are optional; without them the flow relies on local rules only.
	Checker  domain.AvailabilityChecker
	Quoter   domain.Quoter
	Now      func() time.Time
	Location *time.Location
}

// ServerQuote is a breakdown plus whether it came from the offline estimate.
type ServerQuote struct {
	Breakdown domain.PricingBreakdown
	Estimated bool
}

// BookingFlow drives one guest through TypeSelection, Extras, GuestInfo and Payment up to
// submission. All mutations recompute the price synchronously.
type BookingFlow struct {
	deps FlowDeps

	mu         sync.Mutex
	table      domain.PriceTable
	policy     domain.CalendarPolicy
	step       Step
	draft      BookingDraft
	idemKey    string
	submitting bool
	generation uint64
	receipt    *domain.Receipt
	lastErr    error
}

func NewBookingFlow(ctx context.Context, deps FlowDeps) (*BookingFlow, error) {
	if deps.Config == nil || deps.Availability == nil || deps.Sink == nil {
		return nil, errors.New("booking flow: config, availability and sink providers are required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	f := &BookingFlow{deps: deps, draft: newDraft()}
	if err := f.Refresh(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

// Refresh reloads the price table and calendar and swaps them in whole.
func (f *BookingFlow) Refresh(ctx context.Context) error {
	var (
		table domain.PriceTable
		av    domain.Availability
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		table, err = f.deps.Config.PriceTable(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		av, err = f.deps.Availability.Availability(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("refresh booking data: %w", err)
	}

	table = table.Normalized()
	if av.LeadTimeDays == 0 {
		av.LeadTimeDays = table.LeadTimeDays
	}
	policy := domain.PolicyFromAvailability(av, domain.Today(f.deps.Now(), f.deps.Location))

	f.mu.Lock()
	defer f.mu.Unlock()
	f.table = table
	f.policy = policy
	f.generation++
	f.draft.GuestCount = table.ClampGuests(f.draft.GuestCount)
	f.draft.ChaletCount = table.ClampChalets(f.draft.ChaletCount)
	f.recompute()
	return nil
}

/********** read side **********/

func (f *BookingFlow) Step() Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

func (f *BookingFlow) Draft() BookingDraft {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.draft
	d.Dates = append(domain.DateSelection(nil), f.draft.Dates...)
	return d
}

func (f *BookingFlow) Breakdown() domain.PricingBreakdown {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.draft.Breakdown
}

func (f *BookingFlow) PriceTable() domain.PriceTable {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.table
}

func (f *BookingFlow) Policy() domain.CalendarPolicy {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.policy
}

// Receipt is set once the flow reaches StepSuccess.
func (f *BookingFlow) Receipt() (domain.Receipt, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receipt == nil {
		return domain.Receipt{}, false
	}
	return *f.receipt, true
}

// LastError is the rejection that sent the flow to StepFailed.
func (f *BookingFlow) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

/********** mutations **********/

// ungated marks fields no step validates on the way forward.
const ungated = StepFailed

// mutate applies fn and, when the flow is past gate, moves back to gate so the edited
// field is validated again before submission.
func (f *BookingFlow) mutate(gate Step, fn func(d *BookingDraft)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step == StepSubmitting || f.step == StepSuccess {
		return fmt.Errorf("%w: draft is locked in step %s", domain.ErrInvalidTransition, f.step)
	}
	fn(&f.draft)
	// a changed draft is a new submission, and outstanding checks are now stale
	f.idemKey = ""
	f.generation++
	f.recompute()
	if f.step > gate {
		f.moveTo(gate)
	}
	return nil
}

func (f *BookingFlow) recompute() {
	d := &f.draft
	d.Breakdown = domain.Quote(f.table, d.Type, d.Dates, d.GuestCount, d.ChaletCount)
}

func (f *BookingFlow) SetType(t domain.ReservationType) error {
	if !t.Valid() {
		return fmt.Errorf("unknown reservation type %q", t)
	}
	return f.mutate(StepTypeSelection, func(d *BookingDraft) {
		if d.Type != t {
			d.Dates = nil
		}
		d.Type = t
	})
}

func (f *BookingFlow) SetDates(sel domain.DateSelection) error {
	return f.mutate(StepTypeSelection, func(d *BookingDraft) { d.Dates = append(domain.DateSelection(nil), sel...) })
}

// SetGuestCount clamps to [1, maxGuests].
func (f *BookingFlow) SetGuestCount(n int) error {
	return f.mutate(StepTypeSelection, func(d *BookingDraft) { d.GuestCount = f.table.ClampGuests(n) })
}

// SetChaletCount clamps to [0, maxChalets].
func (f *BookingFlow) SetChaletCount(n int) error {
	return f.mutate(ungated, func(d *BookingDraft) { d.ChaletCount = f.table.ClampChalets(n) })
}

func (f *BookingFlow) SetNotes(s string) error {
	return f.mutate(ungated, func(d *BookingDraft) { d.Notes = s })
}

func (f *BookingFlow) SetGuest(g domain.Guest) error {
	return f.mutate(StepGuestInfo, func(d *BookingDraft) { d.Guest = g })
}

// SetPayment clamps installments; only card payments may be split.
func (f *BookingFlow) SetPayment(m domain.PaymentMethod, installments int) error {
	if !m.Valid() {
		return fmt.Errorf("unknown payment method %q", m)
	}
	return f.mutate(ungated, func(d *BookingDraft) {
		d.PaymentMethod = m
		d.Installments = domain.ClampInstallments(m, installments)
	})
}

/********** transitions **********/

// Next validates the current step and advances. From Payment it submits.
func (f *BookingFlow) Next(ctx context.Context) error {
	f.mu.Lock()
	step := f.step
	f.mu.Unlock()

	switch step {
	case StepTypeSelection:
		f.mu.Lock()
		defer f.mu.Unlock()
		if err := f.checkSelection(); err != nil {
			return err
		}
		f.moveTo(StepExtras)
		return nil
	case StepExtras:
		f.mu.Lock()
		defer f.mu.Unlock()
		f.moveTo(StepGuestInfo)
		return nil
	case StepGuestInfo:
		return f.leaveGuestInfo(ctx)
	case StepPayment, StepFailed:
		_, err := f.Submit(ctx)
		return err
	default:
		return fmt.Errorf("%w: no step after %s", domain.ErrInvalidTransition, step)
	}
}

// Prev never validates.
func (f *BookingFlow) Prev() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.step {
	case StepExtras:
		f.moveTo(StepTypeSelection)
	case StepGuestInfo:
		f.moveTo(StepExtras)
	case StepPayment:
		f.moveTo(StepGuestInfo)
	case StepFailed:
		f.moveTo(StepPayment)
	case StepTypeSelection:
	default:
		return fmt.Errorf("%w: cannot go back from %s", domain.ErrInvalidTransition, f.step)
	}
	return nil
}

// Restart begins a new draft after a success.
func (f *BookingFlow) Restart() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitting {
		return domain.ErrSubmissionInFlight
	}
	f.draft = newDraft()
	f.idemKey = ""
	f.receipt = nil
	f.lastErr = nil
	f.generation++
	f.recompute()
	f.moveTo(StepTypeSelection)
	return nil
}

func (f *BookingFlow) moveTo(s Step) {
	if f.step != s {
		log.Debug().Str("from", f.step.String()).Str("to", s.String()).Msg("booking step")
	}
	f.step = s
}

func (f *BookingFlow) checkSelection() error {
	d := f.draft
	ie := domain.NewInputError()
	if !d.Type.Valid() {
		ie.Add("type", "is required")
	}
	if d.GuestCount < 1 || d.GuestCount > f.table.MaxGuests {
		ie.Add("guestCount", fmt.Sprintf("must be between 1 and %d", f.table.MaxGuests))
	}
	if err := ie.OrNil(); err != nil {
		return err
	}
	return domain.ValidateSelection(d.Type, d.Dates, f.policy).Err()
}

// leaveGuestInfo validates the guest, then re-checks availability with the server. A
// response that arrives after the draft changed is discarded.
func (f *BookingFlow) leaveGuestInfo(ctx context.Context) error {
	f.mu.Lock()
	if f.step != StepGuestInfo {
		step := f.step
		f.mu.Unlock()
		return fmt.Errorf("%w: guest info is not the current step (%s)", domain.ErrInvalidTransition, step)
	}
	if err := f.draft.Guest.Validate(); err != nil {
		f.mu.Unlock()
		return err
	}
	f.generation++
	gen := f.generation
	typ, sel := f.draft.Type, append(domain.DateSelection(nil), f.draft.Dates...)
	local := domain.ValidateSelection(typ, sel, f.policy)
	f.mu.Unlock()

	res := local
	if f.deps.Checker != nil {
		remote, err := f.deps.Checker.CheckAvailability(ctx, typ, sel)
		if err != nil {
			log.Warn().Err(err).Msg("availability re-check failed, using local calendar")
		} else {
			res = remote
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.generation || f.step != StepGuestInfo {
		return domain.ErrStaleResponse
	}
	if !res.Valid {
		return res.Err()
	}
	f.moveTo(StepPayment)
	return nil
}

// recheck runs every forward gate against the draft as it is now. A failing gate
// becomes the current step.
func (f *BookingFlow) recheck() error {
	if err := f.checkSelection(); err != nil {
		f.moveTo(StepTypeSelection)
		return err
	}
	if err := f.draft.Guest.Validate(); err != nil {
		f.moveTo(StepGuestInfo)
		return err
	}
	if !f.draft.PaymentMethod.Valid() {
		ie := domain.NewInputError()
		ie.Add("payment.method", "is required")
		return ie
	}
	return nil
}

// ServerQuote asks the authoritative quoter and falls back to the offline estimate.
func (f *BookingFlow) ServerQuote(ctx context.Context) ServerQuote {
	f.mu.Lock()
	d := f.draft
	q := domain.QuoteRequest{Type: d.Type, Dates: append(domain.DateSelection(nil), d.Dates...), GuestCount: d.GuestCount, Chalets: d.ChaletCount}
	f.mu.Unlock()

	if f.deps.Quoter != nil && q.Type.Valid() && q.GuestCount > 0 {
		b, err := f.deps.Quoter.Quote(ctx, q)
		if err == nil {
			return ServerQuote{Breakdown: b}
		}
		log.Warn().Err(err).Msg("server quote failed, using offline estimate")
	}
	return ServerQuote{Breakdown: f.OfflineEstimate(), Estimated: true}
}

// OfflineEstimate is the locally computed price of the current draft.
func (f *BookingFlow) OfflineEstimate() domain.PricingBreakdown {
	f.mu.Lock()
	defer f.mu.Unlock()
	observability.ObserveQuote(string(f.draft.Type), "offline")
	return domain.Quote(f.table, f.draft.Type, f.draft.Dates, f.draft.GuestCount, f.draft.ChaletCount)
}

// Submit hands the draft to the sink after re-running the forward gates. A second call
// while one is running fails with ErrSubmissionInFlight. On rejection the draft is kept
// and the flow sits in StepFailed.
func (f *BookingFlow) Submit(ctx context.Context) (domain.Receipt, error) {
	f.mu.Lock()
	if f.submitting {
		f.mu.Unlock()
		return domain.Receipt{}, domain.ErrSubmissionInFlight
	}
	if f.step != StepPayment && f.step != StepFailed {
		step := f.step
		f.mu.Unlock()
		return domain.Receipt{}, fmt.Errorf("%w: cannot submit from %s", domain.ErrInvalidTransition, step)
	}
	if err := f.recheck(); err != nil {
		f.mu.Unlock()
		return domain.Receipt{}, err
	}
	if f.idemKey == "" {
		f.idemKey = uuid.NewString()
	}
	key, req := f.idemKey, f.draft.Request()
	f.submitting = true
	f.lastErr = nil
	f.moveTo(StepSubmitting)
	f.mu.Unlock()

	receipt, err := f.deps.Sink.Submit(ctx, key, req)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitting = false
	if err != nil {
		re, ok := domain.AsRejection(err)
		if !ok {
			re = &domain.RejectionError{Kind: domain.RejectTransient, Message: "could not reach the booking service", Err: err}
		}
		if !re.Retryable() {
			f.idemKey = ""
		}
		f.lastErr = re
		f.moveTo(StepFailed)
		log.Warn().Err(err).Str("kind", string(re.Kind)).Msg("reservation submission failed")
		return domain.Receipt{}, re
	}

	f.receipt = &receipt
	f.draft = newDraft()
	f.idemKey = ""
	f.recompute()
	f.moveTo(StepSuccess)
	log.Info().Str("code", receipt.ReservationCode).Msg("reservation submitted")
	return receipt, nil
}
