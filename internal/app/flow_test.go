package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chacara_booking/internal/app"
	"chacara_booking/internal/domain"
)

// ---- client-side providers ----

type staticProviders struct {
	table domain.PriceTable
	av    domain.Availability
}

func (p *staticProviders) PriceTable(context.Context) (domain.PriceTable, error) { return p.table, nil }

func (p *staticProviders) Availability(context.Context) (domain.Availability, error) { return p.av, nil }

type scriptedSink struct {
	mu      sync.Mutex
	results []error
	keys    []string
	reqs    []domain.ReservationRequest
	gate    chan struct{}
	entered chan struct{}
}

func (s *scriptedSink) Submit(ctx context.Context, key string, req domain.ReservationRequest) (domain.Receipt, error) {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	s.reqs = append(s.reqs, req)
	if len(s.results) > 0 {
		err := s.results[0]
		s.results = s.results[1:]
		if err != nil {
			return domain.Receipt{}, err
		}
	}
	return domain.Receipt{ReservationCode: "CHCAFEBABE", AccessCode: "424242", RedirectURL: "https://pay.example/x",
		Breakdown: domain.PricingBreakdown{Total: req.Payment.ExpectedTotal}}, nil
}

type checkerFunc func(ctx context.Context, t domain.ReservationType, sel domain.DateSelection) (domain.ValidationResult, error)

func (f checkerFunc) CheckAvailability(ctx context.Context, t domain.ReservationType, sel domain.DateSelection) (domain.ValidationResult, error) {
	return f(ctx, t, sel)
}

type quoterFunc func(ctx context.Context, q domain.QuoteRequest) (domain.PricingBreakdown, error)

func (f quoterFunc) Quote(ctx context.Context, q domain.QuoteRequest) (domain.PricingBreakdown, error) {
	return f(ctx, q)
}

func newProviders() *staticProviders {
	return &staticProviders{
		table: domain.DefaultPriceTable(),
		av: domain.Availability{
			Today:        day("2026-10-17"),
			LeadTimeDays: 2,
			Spans:        []domain.DateSpan{{Start: day("2026-11-20"), End: day("2026-11-22")}},
			Blocks:       []domain.ManualBlock{{ID: 1, Date: day("2026-12-25")}},
		},
	}
}

func newFlow(t *testing.T, sink domain.SubmissionSink, mod func(*app.FlowDeps)) *app.BookingFlow {
	t.Helper()
	p := newProviders()
	deps := app.FlowDeps{Config: p, Availability: p, Sink: sink, Now: fixedClock, Location: time.UTC}
	if mod != nil {
		mod(&deps)
	}
	f, err := app.NewBookingFlow(context.Background(), deps)
	require.NoError(t, err)
	return f
}

// flowAtPayment fills a valid day-use draft and walks to StepPayment.
func flowAtPayment(t *testing.T, sink domain.SubmissionSink, mod func(*app.FlowDeps)) *app.BookingFlow {
	t.Helper()
	ctx := context.Background()
	f := newFlow(t, sink, mod)
	require.NoError(t, f.SetType(domain.DayUse))
	require.NoError(t, f.SetDates(domain.DateRange(day("2026-11-06"), day("2026-11-08"))))
	require.NoError(t, f.SetGuestCount(40))
	require.NoError(t, f.Next(ctx))
	require.NoError(t, f.SetChaletCount(2))
	require.NoError(t, f.Next(ctx))
	require.NoError(t, f.SetGuest(validGuest()))
	require.NoError(t, f.Next(ctx))
	require.NoError(t, f.SetPayment(domain.PaymentPix, 1))
	require.Equal(t, app.StepPayment, f.Step())
	return f
}

func TestFlow_RequiresProviders(t *testing.T) {
	_, err := app.NewBookingFlow(context.Background(), app.FlowDeps{})
	assert.Error(t, err)
}

func TestFlow_LivePricing(t *testing.T) {
	f := newFlow(t, &scriptedSink{}, nil)

	assert.True(t, f.Breakdown().IsZero())
	require.NoError(t, f.SetType(domain.DayUse))
	require.NoError(t, f.SetDates(domain.DateRange(day("2026-11-06"), day("2026-11-08"))))
	require.NoError(t, f.SetGuestCount(40))
	require.NoError(t, f.SetChaletCount(2))

	b := f.Breakdown()
	assert.Equal(t, 3, b.Days)
	assert.True(t, b.DayRate.Equal(decimal.NewFromInt(1500)))
	assert.True(t, b.ChaletsSubtotal.Equal(decimal.NewFromInt(900)))
	assert.True(t, b.Total.Equal(decimal.NewFromInt(5400)))

	require.NoError(t, f.SetType(domain.Ceremony))
	assert.Empty(t, f.Draft().Dates, "changing type clears dates")
	require.NoError(t, f.SetDates(domain.SingleDate(day("2026-11-06"))))
	assert.True(t, f.Breakdown().Total.Equal(decimal.NewFromInt(600)))
}

func TestFlow_Clamping(t *testing.T) {
	f := newFlow(t, &scriptedSink{}, nil)

	require.NoError(t, f.SetGuestCount(500))
	assert.Equal(t, 200, f.Draft().GuestCount)
	require.NoError(t, f.SetGuestCount(-3))
	assert.Equal(t, 1, f.Draft().GuestCount)
	require.NoError(t, f.SetChaletCount(9))
	assert.Equal(t, 4, f.Draft().ChaletCount)
	require.NoError(t, f.SetChaletCount(-1))
	assert.Equal(t, 0, f.Draft().ChaletCount)

	require.NoError(t, f.SetPayment(domain.PaymentCard, 20))
	assert.Equal(t, 12, f.Draft().Installments)
	require.NoError(t, f.SetPayment(domain.PaymentPix, 6))
	assert.Equal(t, 1, f.Draft().Installments)
	assert.Error(t, f.SetPayment("cash", 1))
}

func TestFlow_TypeSelectionGate(t *testing.T) {
	ctx := context.Background()
	f := newFlow(t, &scriptedSink{}, nil)

	err := f.Next(ctx)
	require.NotNil(t, domain.AsInputError(err), "type is required")

	require.NoError(t, f.SetType(domain.DayUse))
	ae := domain.AsAvailabilityError(f.Next(ctx))
	require.NotNil(t, ae)
	assert.Equal(t, domain.MissingSelection, ae.Result.Reason)

	require.NoError(t, f.SetDates(domain.DateRange(day("2026-10-18"), day("2026-10-20"))))
	ae = domain.AsAvailabilityError(f.Next(ctx))
	require.NotNil(t, ae)
	assert.Equal(t, domain.BeforeLeadTime, ae.Result.Reason)

	require.NoError(t, f.SetDates(domain.DateRange(day("2026-11-19"), day("2026-11-21"))))
	ae = domain.AsAvailabilityError(f.Next(ctx))
	require.NotNil(t, ae)
	assert.Equal(t, domain.ContainsBlockedDate, ae.Result.Reason)
	assert.Equal(t, day("2026-11-20"), *ae.Result.Date)

	assert.Equal(t, app.StepTypeSelection, f.Step())

	require.NoError(t, f.SetDates(domain.DateRange(day("2026-11-06"), day("2026-11-08"))))
	require.NoError(t, f.Next(ctx))
	assert.Equal(t, app.StepExtras, f.Step())
}

func TestFlow_PrevNeverValidates(t *testing.T) {
	ctx := context.Background()
	f := flowAtPayment(t, &scriptedSink{}, nil)

	require.NoError(t, f.Prev())
	assert.Equal(t, app.StepGuestInfo, f.Step())
	require.NoError(t, f.SetGuest(domain.Guest{}))
	require.NoError(t, f.Prev())
	assert.Equal(t, app.StepExtras, f.Step())
	require.NoError(t, f.Prev())
	assert.Equal(t, app.StepTypeSelection, f.Step())
	require.NoError(t, f.Prev(), "prev on the first step is a no-op")

	require.NoError(t, f.Next(ctx))
	require.NoError(t, f.Next(ctx))
	assert.NotNil(t, domain.AsInputError(f.Next(ctx)), "guest info is validated on the way forward")
	assert.Equal(t, app.StepGuestInfo, f.Step())
}

func TestFlow_EditingGatedFieldsStepsBack(t *testing.T) {
	sink := &scriptedSink{}
	f := flowAtPayment(t, sink, nil)
	ctx := context.Background()

	require.NoError(t, f.SetChaletCount(1))
	require.NoError(t, f.SetNotes("vegetarian menu"))
	require.NoError(t, f.SetPayment(domain.PaymentCard, 3))
	assert.Equal(t, app.StepPayment, f.Step(), "extras and payment are not gated")

	require.NoError(t, f.SetGuest(domain.Guest{Name: "x"}))
	assert.Equal(t, app.StepGuestInfo, f.Step())

	require.NoError(t, f.SetDates(domain.DateRange(day("2026-11-19"), day("2026-11-21"))))
	assert.Equal(t, app.StepTypeSelection, f.Step())
	require.NoError(t, f.SetGuest(domain.Guest{Name: "x"}))
	assert.Equal(t, app.StepTypeSelection, f.Step(), "an earlier step is never skipped ahead")

	_, err := f.Submit(ctx)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	ae := domain.AsAvailabilityError(f.Next(ctx))
	require.NotNil(t, ae, "the changed range is checked again")
	assert.Equal(t, domain.ContainsBlockedDate, ae.Result.Reason)
	assert.Empty(t, sink.reqs)
}

func TestFlow_SubmitRechecksDraft(t *testing.T) {
	p := newProviders()
	sink := &scriptedSink{}
	f := flowAtPayment(t, sink, func(d *app.FlowDeps) {
		d.Config, d.Availability = p, p
	})
	ctx := context.Background()

	p.av.Blocks = append(p.av.Blocks, domain.ManualBlock{ID: 2, Date: day("2026-11-07")})
	require.NoError(t, f.Refresh(ctx))

	_, err := f.Submit(ctx)
	ae := domain.AsAvailabilityError(err)
	require.NotNil(t, ae)
	assert.Equal(t, day("2026-11-07"), *ae.Result.Date)
	assert.Equal(t, app.StepTypeSelection, f.Step())
	assert.Empty(t, sink.reqs, "an invalid draft never reaches the sink")
}

func TestFlow_GuestInfoUsesRemoteCheck(t *testing.T) {
	taken := day("2026-11-07")
	f := newFlow(t, &scriptedSink{}, func(d *app.FlowDeps) {
		d.Checker = checkerFunc(func(context.Context, domain.ReservationType, domain.DateSelection) (domain.ValidationResult, error) {
			return domain.ValidationResult{Reason: domain.ContainsBlockedDate, Date: &taken}, nil
		})
	})
	ctx := context.Background()
	require.NoError(t, f.SetType(domain.DayUse))
	require.NoError(t, f.SetDates(domain.DateRange(day("2026-11-06"), day("2026-11-08"))))
	require.NoError(t, f.Next(ctx))
	require.NoError(t, f.Next(ctx))
	require.NoError(t, f.SetGuest(validGuest()))

	ae := domain.AsAvailabilityError(f.Next(ctx))
	require.NotNil(t, ae)
	assert.Equal(t, taken, *ae.Result.Date)
	assert.Equal(t, app.StepGuestInfo, f.Step())
}

func TestFlow_RemoteCheckFailureFallsBackToLocal(t *testing.T) {
	f := flowAtPayment(t, &scriptedSink{}, func(d *app.FlowDeps) {
		d.Checker = checkerFunc(func(context.Context, domain.ReservationType, domain.DateSelection) (domain.ValidationResult, error) {
			return domain.ValidationResult{}, errors.New("offline")
		})
	})
	assert.Equal(t, app.StepPayment, f.Step())
}

func TestFlow_StaleAvailabilityResponseIsDiscarded(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	f := newFlow(t, &scriptedSink{}, func(d *app.FlowDeps) {
		d.Checker = checkerFunc(func(context.Context, domain.ReservationType, domain.DateSelection) (domain.ValidationResult, error) {
			close(started)
			<-release
			return domain.Valid(), nil
		})
	})
	ctx := context.Background()
	require.NoError(t, f.SetType(domain.DayUse))
	require.NoError(t, f.SetDates(domain.DateRange(day("2026-11-06"), day("2026-11-08"))))
	require.NoError(t, f.Next(ctx))
	require.NoError(t, f.Next(ctx))
	require.NoError(t, f.SetGuest(validGuest()))

	done := make(chan error, 1)
	go func() { done <- f.Next(ctx) }()

	<-started
	require.NoError(t, f.SetNotes("arriving late"))
	close(release)

	assert.ErrorIs(t, <-done, domain.ErrStaleResponse)
	assert.Equal(t, app.StepGuestInfo, f.Step())
}

func TestFlow_SubmitSuccessDiscardsDraft(t *testing.T) {
	sink := &scriptedSink{}
	f := flowAtPayment(t, sink, nil)

	require.NoError(t, f.Next(context.Background()))
	assert.Equal(t, app.StepSuccess, f.Step())

	rc, ok := f.Receipt()
	require.True(t, ok)
	assert.Equal(t, "CHCAFEBABE", rc.ReservationCode)

	require.Len(t, sink.reqs, 1)
	assert.True(t, sink.reqs[0].Payment.ExpectedTotal.Equal(decimal.NewFromInt(5400)))
	assert.Equal(t, 40, sink.reqs[0].GuestCount)

	d := f.Draft()
	assert.Empty(t, d.Dates)
	assert.Equal(t, 1, d.GuestCount)
	assert.ErrorIs(t, f.SetNotes("x"), domain.ErrInvalidTransition)

	require.NoError(t, f.Restart())
	assert.Equal(t, app.StepTypeSelection, f.Step())
	_, ok = f.Receipt()
	assert.False(t, ok)
}

func TestFlow_DuplicateSubmitWhileInFlight(t *testing.T) {
	sink := &scriptedSink{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	f := flowAtPayment(t, sink, nil)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := f.Submit(ctx)
		done <- err
	}()
	<-sink.entered

	assert.Equal(t, app.StepSubmitting, f.Step())
	_, err := f.Submit(ctx)
	assert.ErrorIs(t, err, domain.ErrSubmissionInFlight)
	assert.ErrorIs(t, f.SetGuestCount(10), domain.ErrInvalidTransition)
	assert.ErrorIs(t, f.Restart(), domain.ErrSubmissionInFlight)

	close(sink.gate)
	require.NoError(t, <-done)
	assert.Len(t, sink.keys, 1)
}

func TestFlow_RetryableFailureKeepsKey(t *testing.T) {
	sink := &scriptedSink{results: []error{
		&domain.RejectionError{Kind: domain.RejectTransient, Message: "try again"},
		nil,
	}}
	f := flowAtPayment(t, sink, nil)
	ctx := context.Background()

	err := f.Next(ctx)
	re, ok := domain.AsRejection(err)
	require.True(t, ok)
	assert.True(t, re.Retryable())
	assert.Equal(t, app.StepFailed, f.Step())
	assert.Equal(t, err, f.LastError())
	assert.Equal(t, 40, f.Draft().GuestCount, "draft survives a failure")

	require.NoError(t, f.Next(ctx))
	assert.Equal(t, app.StepSuccess, f.Step())
	require.Len(t, sink.keys, 2)
	assert.Equal(t, sink.keys[0], sink.keys[1])
}

func TestFlow_NonRetryableFailureRotatesKey(t *testing.T) {
	sink := &scriptedSink{results: []error{
		&domain.RejectionError{Kind: domain.RejectConflict, Reason: domain.ContainsBlockedDate},
		nil,
	}}
	f := flowAtPayment(t, sink, nil)
	ctx := context.Background()

	_, err := f.Submit(ctx)
	require.Error(t, err)
	require.NoError(t, f.Prev())
	assert.Equal(t, app.StepPayment, f.Step())

	_, err = f.Submit(ctx)
	require.NoError(t, err)
	require.Len(t, sink.keys, 2)
	assert.NotEqual(t, sink.keys[0], sink.keys[1])
}

func TestFlow_EditAfterFailureRotatesKey(t *testing.T) {
	sink := &scriptedSink{results: []error{errors.New("connection reset"), nil}}
	f := flowAtPayment(t, sink, nil)
	ctx := context.Background()

	_, err := f.Submit(ctx)
	re, ok := domain.AsRejection(err)
	require.True(t, ok, "plain errors are reported as transient rejections")
	assert.Equal(t, domain.RejectTransient, re.Kind)

	require.NoError(t, f.SetChaletCount(1))
	_, err = f.Submit(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, sink.keys[0], sink.keys[1])
}

func TestFlow_SubmitRequiresPaymentMethod(t *testing.T) {
	ctx := context.Background()
	f := newFlow(t, &scriptedSink{}, nil)
	_, err := f.Submit(ctx)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "cannot submit before the payment step")

	require.NoError(t, f.SetType(domain.Ceremony))
	require.NoError(t, f.SetDates(domain.SingleDate(day("2026-11-06"))))
	require.NoError(t, f.Next(ctx))
	require.NoError(t, f.Next(ctx))
	require.NoError(t, f.SetGuest(validGuest()))
	require.NoError(t, f.Next(ctx))

	_, err = f.Submit(ctx)
	ie := domain.AsInputError(err)
	require.NotNil(t, ie)
	assert.Contains(t, ie.Fields(), "payment.method")
	assert.Equal(t, app.StepPayment, f.Step())
}

func TestFlow_ServerQuoteFallsBackToOfflineEstimate(t *testing.T) {
	var fail bool
	f := newFlow(t, &scriptedSink{}, func(d *app.FlowDeps) {
		d.Quoter = quoterFunc(func(_ context.Context, q domain.QuoteRequest) (domain.PricingBreakdown, error) {
			if fail {
				return domain.PricingBreakdown{}, errors.New("unreachable")
			}
			return domain.Quote(domain.DefaultPriceTable(), q.Type, q.Dates, q.GuestCount, q.Chalets), nil
		})
	})
	require.NoError(t, f.SetType(domain.DayUse))
	require.NoError(t, f.SetDates(domain.DateRange(day("2026-11-06"), day("2026-11-08"))))
	require.NoError(t, f.SetGuestCount(40))
	require.NoError(t, f.SetChaletCount(2))

	sq := f.ServerQuote(context.Background())
	assert.False(t, sq.Estimated)
	assert.True(t, sq.Breakdown.Equal(f.OfflineEstimate()), "server and offline prices agree")

	fail = true
	sq = f.ServerQuote(context.Background())
	assert.True(t, sq.Estimated)
	assert.True(t, sq.Breakdown.Equal(f.Breakdown()))
}

func TestFlow_RefreshReclampsDraft(t *testing.T) {
	p := newProviders()
	f, err := app.NewBookingFlow(context.Background(), app.FlowDeps{Config: p, Availability: p, Sink: &scriptedSink{}, Now: fixedClock})
	require.NoError(t, err)
	require.NoError(t, f.SetGuestCount(150))
	require.NoError(t, f.SetChaletCount(4))

	p.table.MaxGuests = 100
	p.table.DayRateTiers = p.table.DayRateTiers[:3]
	p.table.MaxChalets = 2
	require.NoError(t, f.Refresh(context.Background()))

	assert.Equal(t, 100, f.Draft().GuestCount)
	assert.Equal(t, 2, f.Draft().ChaletCount)
}
