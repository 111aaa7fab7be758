package app

import (
	"context"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog/log"

	"chacara_booking/internal/domain"
)

type AdminService struct {
	config  domain.ConfigRepository
	blocks  domain.BlockRepository
	catalog *CatalogService
}

func NewAdminService(c domain.ConfigRepository, b domain.BlockRepository, catalog *CatalogService) *AdminService {
	return &AdminService{config: c, blocks: b, catalog: catalog}
}

func (s *AdminService) PriceTable(ctx context.Context) (domain.PriceTable, error) {
	return s.catalog.loadPriceTable(ctx)
}

func (s *AdminService) UpdatePriceTable(ctx context.Context, t domain.PriceTable) (domain.PriceTable, error) {
	t = t.Normalized()
	if err := t.Validate(); err != nil {
		return domain.PriceTable{}, err
	}
	if err := s.config.SavePriceTable(ctx, t); err != nil {
		return domain.PriceTable{}, err
	}
	s.catalog.InvalidateConfig(ctx)
	log.Info().Int("tiers", len(t.DayRateTiers)).Int("lead_time_days", t.LeadTimeDays).Msg("price table updated")
	return t, nil
}

func (s *AdminService) ListBlocks(ctx context.Context) ([]domain.ManualBlock, error) {
	return s.blocks.ListBlocks(ctx, s.catalog.Today())
}

func (s *AdminService) BlockDate(ctx context.Context, d civil.Date, reason string) (domain.ManualBlock, error) {
	ie := domain.NewInputError()
	if !d.IsValid() {
		ie.Add("date", "is required")
	} else if d.Before(s.catalog.Today()) {
		ie.Add("date", "must not be in the past")
	}
	reason = strings.TrimSpace(reason)
	if len(reason) > 255 {
		ie.Add("reason", "must have at most 255 characters")
	}
	if err := ie.OrNil(); err != nil {
		return domain.ManualBlock{}, err
	}

	b, err := s.blocks.AddBlock(ctx, domain.ManualBlock{Date: d, Reason: reason})
	if err != nil {
		return domain.ManualBlock{}, err
	}
	s.catalog.InvalidateAvailability(ctx)
	return b, nil
}

func (s *AdminService) UnblockDate(ctx context.Context, id int64) error {
	if err := s.blocks.DeleteBlock(ctx, id); err != nil {
		return err
	}
	s.catalog.InvalidateAvailability(ctx)
	return nil
}
