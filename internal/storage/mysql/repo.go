package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"chacara_booking/internal/domain"
)

const errDuplicateEntry = 1062

// dates go to the driver as midnight UTC; DATE columns ignore the time part
func dateArg(d civil.Date) time.Time { return d.In(time.UTC) }

func isDuplicate(err error) bool {
	var me *gomysql.MySQLError
	return errors.As(err, &me) && me.Number == errDuplicateEntry
}

type Repo struct{ db *sqlx.DB }

func New(db *sql.DB) *Repo { return &Repo{db: sqlx.NewDb(db, "mysql")} }

var _ domain.Repository = (*Repo)(nil)

// ---- pricing ----

type priceConfigRow struct {
	ChaletUnitPrice   decimal.Decimal `db:"chalet_unit_price"`
	CeremonyFlatPrice decimal.Decimal `db:"ceremony_flat_price"`
	MaxChalets        int             `db:"max_chalets"`
	LeadTimeDays      int             `db:"lead_time_days"`
	MaxGuests         int             `db:"max_guests"`
}

func (r *Repo) GetPriceTable(ctx context.Context) (domain.PriceTable, error) {
	var row priceConfigRow
	if err := r.db.GetContext(ctx, &row, getPriceConfigSQL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PriceTable{}, domain.ErrNotFound
		}
		return domain.PriceTable{}, fmt.Errorf("get price config: %w", err)
	}
	var tiers []domain.PriceTier
	if err := r.db.SelectContext(ctx, &tiers, listPriceTiersSQL); err != nil {
		return domain.PriceTable{}, fmt.Errorf("list price tiers: %w", err)
	}
	return domain.PriceTable{
		DayRateTiers:      tiers,
		ChaletUnitPrice:   row.ChaletUnitPrice,
		CeremonyFlatPrice: row.CeremonyFlatPrice,
		MaxChalets:        row.MaxChalets,
		LeadTimeDays:      row.LeadTimeDays,
		MaxGuests:         row.MaxGuests,
	}, nil
}

// SavePriceTable replaces the whole table in one transaction.
func (r *Repo) SavePriceTable(ctx context.Context, t domain.PriceTable) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		row := priceConfigRow{
			ChaletUnitPrice:   t.ChaletUnitPrice,
			CeremonyFlatPrice: t.CeremonyFlatPrice,
			MaxChalets:        t.MaxChalets,
			LeadTimeDays:      t.LeadTimeDays,
			MaxGuests:         t.MaxGuests,
		}
		if _, err := tx.NamedExecContext(ctx, upsertPriceConfigSQL, row); err != nil {
			return fmt.Errorf("upsert price config: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM price_tiers`); err != nil {
			return fmt.Errorf("clear price tiers: %w", err)
		}
		for _, tier := range t.DayRateTiers {
			if _, err := tx.NamedExecContext(ctx, insertPriceTierSQL, tier); err != nil {
				return fmt.Errorf("insert price tier %d: %w", tier.MaxGuests, err)
			}
		}
		return nil
	})
}

// ---- blocks ----

type blockRow struct {
	ID     int64     `db:"id"`
	Day    time.Time `db:"day"`
	Reason string    `db:"reason"`
}

func (r *Repo) ListBlocks(ctx context.Context, from civil.Date) ([]domain.ManualBlock, error) {
	var rows []blockRow
	if err := r.db.SelectContext(ctx, &rows, listBlocksSQL, dateArg(from)); err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	out := make([]domain.ManualBlock, 0, len(rows))
	for _, b := range rows {
		out = append(out, domain.ManualBlock{ID: b.ID, Date: civil.DateOf(b.Day), Reason: b.Reason})
	}
	return out, nil
}

// AddBlock is idempotent per day: blocking a blocked day updates its reason.
func (r *Repo) AddBlock(ctx context.Context, b domain.ManualBlock) (domain.ManualBlock, error) {
	res, err := r.db.ExecContext(ctx, insertBlockSQL, dateArg(b.Date), b.Reason)
	if err != nil {
		return domain.ManualBlock{}, fmt.Errorf("insert block: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.ManualBlock{}, err
	}
	b.ID = id
	return b, nil
}

func (r *Repo) DeleteBlock(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, deleteBlockSQL, id)
	if err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	return mustAffect(res)
}

// ---- reservations ----

type reservationRow struct {
	ID              string              `db:"id"`
	Code            string              `db:"code"`
	AccessCode      string              `db:"access_code"`
	IdempotencyKey  string              `db:"idempotency_key"`
	Type            string              `db:"type"`
	Status          string              `db:"status"`
	StartDate       time.Time           `db:"start_date"`
	EndDate         time.Time           `db:"end_date"`
	GuestCount      int                 `db:"guest_count"`
	Chalets         int                 `db:"chalets"`
	DayRate         decimal.Decimal     `db:"day_rate"`
	ChaletsSubtotal decimal.Decimal     `db:"chalets_subtotal"`
	Days            int                 `db:"days"`
	Total           decimal.Decimal     `db:"total"`
	Notes           string              `db:"notes"`
	Guest           []byte              `db:"guest"`
	PaymentMethod   string              `db:"payment_method"`
	Installments    int                 `db:"installments"`
	ExpectedTotal   decimal.Decimal     `db:"expected_total"`
	PaymentID       sql.NullString      `db:"payment_id"`
	PaymentURL      sql.NullString      `db:"payment_url"`
	CreatedAt       time.Time           `db:"created_at"`
	ExpiresAt       time.Time           `db:"expires_at"`
	PaidAt          sql.NullTime        `db:"paid_at"`
	CancelledAt     sql.NullTime        `db:"cancelled_at"`
	CancelReason    string              `db:"cancel_reason"`
	RefundID        sql.NullString      `db:"refund_id"`
	RefundAmount    decimal.NullDecimal `db:"refund_amount"`
}

func toRow(v domain.Reservation) (reservationRow, error) {
	guest, err := json.Marshal(v.Guest)
	if err != nil {
		return reservationRow{}, fmt.Errorf("encode guest: %w", err)
	}
	return reservationRow{
		ID:              v.ID,
		Code:            v.Code,
		AccessCode:      v.AccessCode,
		IdempotencyKey:  v.IdempotencyKey,
		Type:            string(v.Type),
		Status:          string(v.Status),
		StartDate:       dateArg(v.Start),
		EndDate:         dateArg(v.End),
		GuestCount:      v.GuestCount,
		Chalets:         v.Chalets,
		DayRate:         v.Breakdown.DayRate,
		ChaletsSubtotal: v.Breakdown.ChaletsSubtotal,
		Days:            v.Breakdown.Days,
		Total:           v.Breakdown.Total,
		Notes:           v.Notes,
		Guest:           guest,
		PaymentMethod:   string(v.Payment.Method),
		Installments:    v.Payment.Installments,
		ExpectedTotal:   v.Payment.ExpectedTotal,
		PaymentID:       sql.NullString{String: v.PaymentID, Valid: v.PaymentID != ""},
		PaymentURL:      sql.NullString{String: v.PaymentURL, Valid: v.PaymentURL != ""},
		CreatedAt:       v.CreatedAt.UTC(),
		ExpiresAt:       v.ExpiresAt.UTC(),
	}, nil
}

func (row reservationRow) toDomain() domain.Reservation {
	v := domain.Reservation{
		ID:             row.ID,
		Code:           row.Code,
		AccessCode:     row.AccessCode,
		IdempotencyKey: row.IdempotencyKey,
		Type:           domain.ReservationType(row.Type),
		Status:         domain.ReservationStatus(row.Status),
		Start:          civil.DateOf(row.StartDate),
		End:            civil.DateOf(row.EndDate),
		GuestCount:     row.GuestCount,
		Chalets:        row.Chalets,
		Breakdown: domain.PricingBreakdown{
			DayRate:         row.DayRate,
			ChaletsSubtotal: row.ChaletsSubtotal,
			Days:            row.Days,
			Total:           row.Total,
		},
		Notes: row.Notes,
		Payment: domain.Payment{
			Method:        domain.PaymentMethod(row.PaymentMethod),
			Installments:  row.Installments,
			ExpectedTotal: row.ExpectedTotal,
		},
		PaymentID:    row.PaymentID.String,
		PaymentURL:   row.PaymentURL.String,
		CreatedAt:    row.CreatedAt,
		ExpiresAt:    row.ExpiresAt,
		CancelReason: row.CancelReason,
	}
	if row.PaidAt.Valid {
		v.PaidAt = &row.PaidAt.Time
	}
	if row.CancelledAt.Valid {
		v.CancelledAt = &row.CancelledAt.Time
	}
	if row.RefundID.Valid {
		v.Refund = &domain.Refund{ID: row.RefundID.String, Amount: row.RefundAmount.Decimal}
	}
	if err := json.Unmarshal(row.Guest, &v.Guest); err != nil {
		log.Warn().Err(err).Str("code", row.Code).Msg("undecodable guest column")
	}
	return v
}

// InsertReservation holds the calendar lock while checking overlaps, so two overlapping
// inserts can never both commit.
func (r *Repo) InsertReservation(ctx context.Context, v domain.Reservation) error {
	row, err := toRow(v)
	if err != nil {
		return err
	}
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		var lockID int
		if err := tx.GetContext(ctx, &lockID, lockCalendarSQL); err != nil {
			return fmt.Errorf("lock calendar: %w", err)
		}
		var overlaps int
		if err := tx.GetContext(ctx, &overlaps, countOverlapsSQL,
			row.EndDate, row.StartDate, row.StartDate, row.EndDate); err != nil {
			return fmt.Errorf("count overlaps: %w", err)
		}
		if overlaps > 0 {
			return domain.ErrDatesTaken
		}
		if _, err := tx.NamedExecContext(ctx, insertReservationSQL, row); err != nil {
			if isDuplicate(err) {
				return fmt.Errorf("reservation %s already stored: %w", v.Code, err)
			}
			return fmt.Errorf("insert reservation: %w", err)
		}
		return nil
	})
}

func (r *Repo) getReservation(ctx context.Context, query string, arg any) (domain.Reservation, error) {
	var row reservationRow
	if err := r.db.GetContext(ctx, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Reservation{}, domain.ErrNotFound
		}
		return domain.Reservation{}, err
	}
	return row.toDomain(), nil
}

func (r *Repo) GetReservationByCode(ctx context.Context, code string) (domain.Reservation, error) {
	return r.getReservation(ctx, getReservationByCodeSQL, code)
}

func (r *Repo) GetReservationByIdempotencyKey(ctx context.Context, key string) (domain.Reservation, error) {
	return r.getReservation(ctx, getReservationByKeySQL, key)
}

func (r *Repo) AttachCheckout(ctx context.Context, id string, c domain.Checkout) error {
	_, err := r.db.ExecContext(ctx, attachCheckoutSQL, c.ID, c.URL, id)
	if err != nil {
		return fmt.Errorf("attach checkout: %w", err)
	}
	return nil
}

func (r *Repo) UpdateStatus(ctx context.Context, id string, from, to domain.ReservationStatus, at time.Time) error {
	res, err := r.db.ExecContext(ctx, updateStatusSQL, string(to), string(to), at.UTC(), id, string(from))
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return mustAffect(res)
}

func (r *Repo) CancelReservation(ctx context.Context, c domain.Cancellation) error {
	var (
		refundID     sql.NullString
		refundAmount decimal.NullDecimal
	)
	if c.Refund != nil {
		refundID = sql.NullString{String: c.Refund.ID, Valid: true}
		refundAmount = decimal.NewNullDecimal(c.Refund.Amount)
	}
	res, err := r.db.ExecContext(ctx, cancelReservationSQL,
		c.At.UTC(), c.Reason, refundID, refundAmount, c.ReservationID, string(c.From))
	if err != nil {
		return fmt.Errorf("cancel reservation: %w", err)
	}
	return mustAffect(res)
}

func (r *Repo) FinishElapsed(ctx context.Context, day civil.Date) (int64, error) {
	res, err := r.db.ExecContext(ctx, finishElapsedSQL, dateArg(day))
	if err != nil {
		return 0, fmt.Errorf("finish elapsed: %w", err)
	}
	return res.RowsAffected()
}

type spanRow struct {
	StartDate time.Time `db:"start_date"`
	EndDate   time.Time `db:"end_date"`
}

func (r *Repo) ListOccupiedSpans(ctx context.Context, from civil.Date) ([]domain.DateSpan, error) {
	var rows []spanRow
	if err := r.db.SelectContext(ctx, &rows, listOccupiedSpansSQL, dateArg(from)); err != nil {
		return nil, fmt.Errorf("list occupied spans: %w", err)
	}
	out := make([]domain.DateSpan, 0, len(rows))
	for _, s := range rows {
		out = append(out, domain.DateSpan{Start: civil.DateOf(s.StartDate), End: civil.DateOf(s.EndDate)})
	}
	return out, nil
}

func (r *Repo) ListPending(ctx context.Context, limit int) ([]domain.Reservation, error) {
	var rows []reservationRow
	if err := r.db.SelectContext(ctx, &rows, listPendingSQL, limit); err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	out := make([]domain.Reservation, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// ---- content ----

func (r *Repo) ListChalets(ctx context.Context) ([]domain.Chalet, error) {
	var out []domain.Chalet
	if err := r.db.SelectContext(ctx, &out, listChaletsSQL); err != nil {
		return nil, fmt.Errorf("list chalets: %w", err)
	}
	return out, nil
}

// ---- helpers ----

func (r *Repo) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).AnErr("cause", err).Msg("rollback failed")
		}
		return err
	}
	return tx.Commit()
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
