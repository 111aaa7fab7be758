package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"chacara_booking/internal/domain"
)

type ReconcileReport struct {
	Checked   int
	Confirmed int
	Cancelled int
	Finished  int
	Failed    int
}

// ReconcileService settles pending reservations against the payment gateway and closes
// confirmed stays that are over.
type ReconcileService struct {
	repo         domain.ReservationRepository
	gateway      domain.PaymentGateway
	reservations *ReservationService
	workers      int
	batch        int
	now          func() time.Time
}

func NewReconcileService(r domain.ReservationRepository, g domain.PaymentGateway, rs *ReservationService, workers int) *ReconcileService {
	if workers <= 0 {
		workers = 4
	}
	return &ReconcileService{repo: r, gateway: g, reservations: rs, workers: workers, batch: 500, now: time.Now}
}

func (s *ReconcileService) WithClock(now func() time.Time) *ReconcileService {
	s.now = now
	return s
}

func (s *ReconcileService) Run(ctx context.Context) (ReconcileReport, error) {
	pending, err := s.repo.ListPending(ctx, s.batch)
	if err != nil {
		return ReconcileReport{}, err
	}

	var (
		mu  sync.Mutex
		rep ReconcileReport
		wg  sync.WaitGroup
	)
	sem := semaphore.NewWeighted(int64(s.workers))

	for _, r := range pending {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(r domain.Reservation) {
			defer wg.Done()
			defer sem.Release(1)

			to, err := s.reconcileOne(ctx, r)

			mu.Lock()
			defer mu.Unlock()
			rep.Checked++
			switch {
			case err != nil:
				rep.Failed++
				log.Warn().Err(err).Str("code", r.Code).Msg("reconcile failed")
			case to == domain.StatusConfirmed:
				rep.Confirmed++
			case to == domain.StatusCancelled:
				rep.Cancelled++
			}
		}(r)
	}

	wg.Wait()
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	n, err := s.reservations.FinishElapsed(ctx)
	if err != nil {
		return rep, fmt.Errorf("finish elapsed reservations: %w", err)
	}
	rep.Finished = n
	return rep, nil
}

// reconcileOne returns the new status, or "" when the reservation stays as it is.
func (s *ReconcileService) reconcileOne(ctx context.Context, r domain.Reservation) (domain.ReservationStatus, error) {
	expired := s.now().After(r.ExpiresAt)

	st := domain.PaymentPending
	if r.PaymentID != "" {
		var err error
		if st, err = s.gateway.PaymentStatus(ctx, r.PaymentID); err != nil {
			return "", err
		}
	}
	if st == domain.PaymentPending && expired {
		st = domain.PaymentExpired
	}

	changed, err := s.reservations.ApplyPaymentState(ctx, r, st)
	if err != nil || !changed {
		return "", err
	}
	to, _ := nextStatus(r.Status, st)
	return to, nil
}
