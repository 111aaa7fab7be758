// Command booker walks the booking flow against a running API: it prices a draft, checks the
// calendar and, with -submit, places the reservation. -lookup and -cancel work on an existing
// reservation given its e-mail or access code.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog/log"

	"chacara_booking/internal/adapters/chacaraapi"
	"chacara_booking/internal/adapters/observability"
	"chacara_booking/internal/app"
	"chacara_booking/internal/domain"
	"chacara_booking/internal/shared"
)

type options struct {
	typ          string
	start, end   string
	guests       int
	chalets      int
	notes        string
	guest        domain.Guest
	method       string
	installments int
	submit       bool
	lookup       string
	access       string
	cancel       string
	reason       string
	refund       bool
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.typ, "type", string(domain.DayUse), "day_use or ceremony")
	flag.StringVar(&o.start, "start", "", "first day, YYYY-MM-DD")
	flag.StringVar(&o.end, "end", "", "last day for day_use, YYYY-MM-DD")
	flag.IntVar(&o.guests, "guests", 1, "party size")
	flag.IntVar(&o.chalets, "chalets", 0, "chalets to book")
	flag.StringVar(&o.notes, "notes", "", "free text for the staff")
	flag.StringVar(&o.guest.Name, "name", "", "guest first name")
	flag.StringVar(&o.guest.Surname, "surname", "", "guest surname")
	flag.StringVar(&o.guest.Email, "email", "", "guest e-mail")
	flag.StringVar(&o.guest.TaxID, "cpf", "", "guest CPF")
	flag.StringVar(&o.guest.Phone, "phone", "", "guest phone, (11) 91234-5678")
	flag.StringVar(&o.method, "pay", string(domain.PaymentPix), "pix, card or boleto")
	flag.IntVar(&o.installments, "installments", 1, "card installments")
	flag.BoolVar(&o.submit, "submit", false, "place the reservation instead of only quoting")
	flag.StringVar(&o.lookup, "lookup", "", "look up a reservation code (needs -email or -access)")
	flag.StringVar(&o.access, "access", "", "access code printed on the receipt")
	flag.StringVar(&o.cancel, "cancel", "", "cancel a reservation code (needs -email or -access and -reason)")
	flag.StringVar(&o.reason, "reason", "", "why the reservation is cancelled")
	flag.BoolVar(&o.refund, "refund", false, "ask for the payment back when cancelling")
	flag.Parse()
	return o
}

func (o options) dates() (domain.DateSelection, error) {
	if o.start == "" {
		return nil, nil
	}
	start, err := civil.ParseDate(o.start)
	if err != nil {
		return nil, fmt.Errorf("-start: %w", err)
	}
	if domain.ReservationType(o.typ) == domain.Ceremony {
		return domain.SingleDate(start), nil
	}
	end := start
	if o.end != "" {
		if end, err = civil.ParseDate(o.end); err != nil {
			return nil, fmt.Errorf("-end: %w", err)
		}
	}
	return domain.DateRange(start, end), nil
}

func (o options) credential() string {
	if o.access != "" {
		return o.access
	}
	return o.guest.Email
}

func main() {
	o := parseFlags()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := shared.Load()
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)

	api := chacaraapi.New(cfg.APIBase, cfg.APIRPS)

	if o.lookup != "" {
		r, err := api.Lookup(ctx, o.lookup, o.credential())
		if err != nil {
			log.Fatal().Err(err).Str("code", o.lookup).Msg("lookup failed")
		}
		printJSON(r)
		return
	}
	if o.cancel != "" {
		c, err := api.Cancel(ctx, o.cancel, o.credential(), domain.CancelRequest{Reason: o.reason, Refund: o.refund})
		if err != nil {
			fail(err)
		}
		printJSON(c)
		return
	}

	flow, err := app.NewBookingFlow(ctx, app.FlowDeps{
		Config:       api,
		Availability: api,
		Sink:         api,
		Checker:      api,
		Quoter:       api,
		Location:     cfg.Location(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("could not load prices and calendar")
	}

	if err := fill(flow, o); err != nil {
		log.Fatal().Err(err).Msg("invalid booking")
	}

	sq := flow.ServerQuote(ctx)
	log.Info().
		Str("total", sq.Breakdown.Total.StringFixed(2)).
		Int("days", sq.Breakdown.Days).
		Bool("estimated", sq.Estimated).
		Msg("quote")

	if !o.submit {
		printJSON(sq)
		return
	}

	if err := advance(ctx, flow, app.StepPayment); err != nil {
		fail(err)
	}
	receipt, err := flow.Submit(ctx)
	if err != nil {
		fail(err)
	}
	printJSON(receipt)
}

func fill(f *app.BookingFlow, o options) error {
	sel, err := o.dates()
	if err != nil {
		return err
	}
	typ, err := domain.ParseReservationType(o.typ)
	if err != nil {
		return err
	}
	if err := f.SetType(typ); err != nil {
		return err
	}
	if err := f.SetDates(sel); err != nil {
		return err
	}
	if err := f.SetGuestCount(o.guests); err != nil {
		return err
	}
	if err := f.SetChaletCount(o.chalets); err != nil {
		return err
	}
	if err := f.SetNotes(o.notes); err != nil {
		return err
	}
	if err := f.SetGuest(o.guest); err != nil {
		return err
	}
	return f.SetPayment(domain.PaymentMethod(strings.ToLower(o.method)), o.installments)
}

func advance(ctx context.Context, f *app.BookingFlow, to app.Step) error {
	for f.Step() != to {
		if err := f.Next(ctx); err != nil {
			return err
		}
	}
	return nil
}

func fail(err error) {
	ev := log.Fatal().Err(err)
	if ie := domain.AsInputError(err); ie != nil {
		ev = ev.Interface("fields", ie.Fields())
	}
	if ae := domain.AsAvailabilityError(err); ae != nil {
		ev = ev.Str("reason", string(ae.Result.Reason))
		if ae.Result.Date != nil {
			ev = ev.Str("date", ae.Result.Date.String())
		}
	}
	if re, ok := domain.AsRejection(err); ok {
		ev = ev.Str("kind", string(re.Kind)).Bool("retryable", re.Retryable())
	}
	ev.Msg("request failed")
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("encode output")
	}
}
