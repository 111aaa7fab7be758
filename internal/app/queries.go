package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"golang.org/x/sync/errgroup"

	"chacara_booking/internal/adapters/observability"
	"chacara_booking/internal/domain"
)

const (
	keyPriceTable = "config:price_table"
	keyChalets    = "content:chalets"
)

func availabilityKey(today civil.Date) string { return "availability:" + today.String() }

// CatalogService serves pricing, calendar and content reads, cached in front of the repository.
type CatalogService struct {
	repo     domain.Repository
	cache    domain.Cache
	cacheTTL time.Duration
	loc      *time.Location
	now      func() time.Time
}

func NewCatalogService(r domain.Repository, c domain.Cache, ttl time.Duration, loc *time.Location) *CatalogService {
	if loc == nil {
		loc = time.UTC
	}
	return &CatalogService{repo: r, cache: c, cacheTTL: ttl, loc: loc, now: time.Now}
}

// WithClock replaces the wall clock, mostly for tests.
func (s *CatalogService) WithClock(now func() time.Time) *CatalogService {
	s.now = now
	return s
}

func (s *CatalogService) Today() civil.Date { return domain.Today(s.now(), s.loc) }

func (s *CatalogService) ttlSec() int { return int(s.cacheTTL.Seconds()) }

// PriceTable returns the saved table, or the defaults if staff never saved one.
func (s *CatalogService) PriceTable(ctx context.Context) (domain.PriceTable, error) {
	var pt domain.PriceTable
	if ok, _ := s.cache.Get(ctx, keyPriceTable, &pt); ok {
		return pt, nil
	}
	pt, err := s.loadPriceTable(ctx)
	if err != nil {
		return domain.PriceTable{}, err
	}
	_ = s.cache.Set(ctx, keyPriceTable, pt, s.ttlSec())
	return pt, nil
}

func (s *CatalogService) loadPriceTable(ctx context.Context) (domain.PriceTable, error) {
	pt, err := s.repo.GetPriceTable(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.DefaultPriceTable(), nil
	}
	if err != nil {
		return domain.PriceTable{}, fmt.Errorf("load price table: %w", err)
	}
	return pt.Normalized(), nil
}

type calendarSnapshot struct {
	Spans  []domain.DateSpan    `json:"spans"`
	Blocks []domain.ManualBlock `json:"blocks"`
}

// Availability returns occupied spans and manual blocks from today on.
func (s *CatalogService) Availability(ctx context.Context) (domain.Availability, error) {
	today := s.Today()
	pt, err := s.PriceTable(ctx)
	if err != nil {
		return domain.Availability{}, err
	}

	var snap calendarSnapshot
	if ok, _ := s.cache.Get(ctx, availabilityKey(today), &snap); !ok {
		if snap, err = s.loadCalendar(ctx, today); err != nil {
			return domain.Availability{}, err
		}
		_ = s.cache.Set(ctx, availabilityKey(today), snap, s.ttlSec())
	}

	return domain.Availability{
		Today:        today,
		LeadTimeDays: pt.LeadTimeDays,
		Spans:        snap.Spans,
		Blocks:       snap.Blocks,
	}, nil
}

func (s *CatalogService) loadCalendar(ctx context.Context, from civil.Date) (calendarSnapshot, error) {
	var snap calendarSnapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		spans, err := s.repo.ListOccupiedSpans(gctx, from)
		if err != nil {
			return fmt.Errorf("list occupied spans: %w", err)
		}
		snap.Spans = spans
		return nil
	})
	g.Go(func() error {
		blocks, err := s.repo.ListBlocks(gctx, from)
		if err != nil {
			return fmt.Errorf("list blocks: %w", err)
		}
		snap.Blocks = blocks
		return nil
	})
	if err := g.Wait(); err != nil {
		return calendarSnapshot{}, err
	}
	if snap.Spans == nil {
		snap.Spans = []domain.DateSpan{}
	}
	if snap.Blocks == nil {
		snap.Blocks = []domain.ManualBlock{}
	}
	return snap, nil
}

// Policy builds the engine inputs. fresh bypasses the cache for authoritative checks.
func (s *CatalogService) Policy(ctx context.Context, fresh bool) (domain.PriceTable, domain.CalendarPolicy, error) {
	today := s.Today()
	if !fresh {
		av, err := s.Availability(ctx)
		if err != nil {
			return domain.PriceTable{}, domain.CalendarPolicy{}, err
		}
		pt, err := s.PriceTable(ctx)
		if err != nil {
			return domain.PriceTable{}, domain.CalendarPolicy{}, err
		}
		return pt, domain.PolicyFromAvailability(av, today), nil
	}

	pt, err := s.loadPriceTable(ctx)
	if err != nil {
		return domain.PriceTable{}, domain.CalendarPolicy{}, err
	}
	snap, err := s.loadCalendar(ctx, today)
	if err != nil {
		return domain.PriceTable{}, domain.CalendarPolicy{}, err
	}
	return pt, domain.NewCalendarPolicy(today, pt.LeadTimeDays, snap.Spans, snap.Blocks), nil
}

// Quote is the authoritative price for a selection.
func (s *CatalogService) Quote(ctx context.Context, q domain.QuoteRequest) (domain.PricingBreakdown, error) {
	pt, err := s.PriceTable(ctx)
	if err != nil {
		return domain.PricingBreakdown{}, err
	}
	ie := domain.NewInputError()
	if !q.Type.Valid() {
		ie.Add("type", "must be day_use or ceremony")
	}
	if q.GuestCount < 1 || q.GuestCount > pt.MaxGuests {
		ie.Add("guestCount", fmt.Sprintf("must be between 1 and %d", pt.MaxGuests))
	}
	if q.Chalets < 0 || q.Chalets > pt.MaxChalets {
		ie.Add("chalets", fmt.Sprintf("must be between 0 and %d", pt.MaxChalets))
	}
	if err := ie.OrNil(); err != nil {
		return domain.PricingBreakdown{}, err
	}
	observability.ObserveQuote(string(q.Type), "server")
	return domain.Quote(pt, q.Type, q.Dates, q.GuestCount, q.Chalets), nil
}

func (s *CatalogService) CheckAvailability(ctx context.Context, t domain.ReservationType, sel domain.DateSelection) (domain.ValidationResult, error) {
	_, policy, err := s.Policy(ctx, true)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	res := domain.ValidateSelection(t, sel, policy)
	if !res.Valid {
		observability.ObserveAvailabilityRejection(string(res.Reason))
	}
	return res, nil
}

func (s *CatalogService) Chalets(ctx context.Context) ([]domain.Chalet, error) {
	var out []domain.Chalet
	if ok, _ := s.cache.Get(ctx, keyChalets, &out); ok {
		return out, nil
	}
	out, err := s.repo.ListChalets(ctx)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.Chalet{}
	}
	_ = s.cache.Set(ctx, keyChalets, out, s.ttlSec())
	return out, nil
}

func (s *CatalogService) InvalidateAvailability(ctx context.Context) {
	_ = s.cache.Del(ctx, availabilityKey(s.Today()))
}

func (s *CatalogService) InvalidateConfig(ctx context.Context) {
	_ = s.cache.Del(ctx, keyPriceTable)
	s.InvalidateAvailability(ctx)
}
