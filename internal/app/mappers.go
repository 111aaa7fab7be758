package app

import (
	crand "crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"chacara_booking/internal/domain"
)

/********** reservation assembly **********/

func newReservation(key string, req domain.ReservationRequest, b domain.PricingBreakdown, now time.Time, ttl time.Duration) domain.Reservation {
	id := uuid.New()
	return domain.Reservation{
		ID:             id.String(),
		Code:           reservationCode(id),
		AccessCode:     accessCode(),
		IdempotencyKey: key,
		Type:           req.Type,
		Status:         domain.StatusPendingPayment,
		Start:          req.Dates.Start(),
		End:            req.Dates.End(),
		GuestCount:     req.GuestCount,
		Chalets:        req.Chalets,
		Breakdown:      b,
		Notes:          strings.TrimSpace(req.Notes),
		Guest:          normalizeGuest(req.Guest),
		Payment: domain.Payment{
			Method:        req.Payment.Method,
			Installments:  req.Payment.Installments,
			ExpectedTotal: b.Total,
		},
		CreatedAt: now.UTC(),
		ExpiresAt: now.UTC().Add(ttl),
	}
}

func normalizeGuest(g domain.Guest) domain.Guest {
	g.Name = strings.TrimSpace(g.Name)
	g.Surname = strings.TrimSpace(g.Surname)
	g.Email = strings.ToLower(strings.TrimSpace(g.Email))
	g.TaxID = domain.Digits(g.TaxID)
	g.Phone = strings.TrimSpace(g.Phone)
	if g.Address != nil {
		a := *g.Address
		a.PostalCode = domain.Digits(a.PostalCode)
		a.State = strings.ToUpper(a.State)
		g.Address = &a
	}
	return g
}

// sameRequest tells a genuine retry apart from a reused idempotency key.
func sameRequest(r domain.Reservation, req domain.ReservationRequest) bool {
	return r.Type == req.Type &&
		r.Start == req.Dates.Start() &&
		r.End == req.Dates.End() &&
		r.GuestCount == req.GuestCount &&
		r.Chalets == req.Chalets &&
		r.Guest.Email == strings.ToLower(strings.TrimSpace(req.Guest.Email))
}

// reservationCode is short enough to read over the phone.
func reservationCode(id uuid.UUID) string {
	return "CH" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
}

// ownedBy matches the guest's e-mail, ignoring case, or the access code.
func ownedBy(r domain.Reservation, credential string) bool {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return false
	}
	if strings.Contains(credential, "@") {
		return strings.EqualFold(r.Guest.Email, credential)
	}
	return r.AccessCode != "" && subtle.ConstantTimeCompare([]byte(r.AccessCode), []byte(credential)) == 1
}

func accessCode() string {
	n, err := crand.Int(crand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return fmt.Sprintf("%06d", time.Now().UnixNano()%1_000_000)
	}
	return fmt.Sprintf("%06d", n.Int64())
}

/********** payment **********/

func checkoutRequest(r domain.Reservation, successURL string) domain.CheckoutRequest {
	return domain.CheckoutRequest{
		Reference:    r.Code,
		Description:  checkoutDescription(r),
		Amount:       r.Breakdown.Total,
		Method:       r.Payment.Method,
		Installments: r.Payment.Installments,
		Customer:     r.Guest,
		SuccessURL:   strings.ReplaceAll(successURL, "{code}", r.Code),
		ExpiresAt:    r.ExpiresAt,
	}
}

func checkoutDescription(r domain.Reservation) string {
	switch r.Type {
	case domain.Ceremony:
		return fmt.Sprintf("Ceremony on %s (%d chalets)", r.Start, r.Chalets)
	default:
		return fmt.Sprintf("Day use %s to %s, %d guests (%d chalets)", r.Start, r.End, r.GuestCount, r.Chalets)
	}
}

// nextStatus maps a gateway state onto the reservation lifecycle. ok is false when nothing changes.
func nextStatus(cur domain.ReservationStatus, st domain.PaymentState) (domain.ReservationStatus, bool) {
	switch {
	case cur == domain.StatusPendingPayment && st == domain.PaymentPaid:
		return domain.StatusConfirmed, true
	case cur == domain.StatusPendingPayment && (st == domain.PaymentExpired || st == domain.PaymentRefused):
		return domain.StatusCancelled, true
	case cur == domain.StatusConfirmed && st == domain.PaymentRefunded:
		return domain.StatusCancelled, true
	}
	return cur, false
}

/********** rejections **********/

func rejectionFor(res domain.ValidationResult) *domain.RejectionError {
	kind := domain.RejectConflict
	if res.Reason == domain.MissingSelection || res.Reason == domain.WrongShape {
		kind = domain.RejectValidation
	}
	return &domain.RejectionError{
		Kind:    kind,
		Reason:  res.Reason,
		Message: "selected dates are not available",
		Err:     res.Err(),
	}
}

func validationRejection(err error) *domain.RejectionError {
	re := &domain.RejectionError{Kind: domain.RejectValidation, Message: "invalid reservation", Err: err}
	if ie := domain.AsInputError(err); ie != nil {
		re.Fields = ie.Fields()
	}
	return re
}
