package mysql

// -----------------------------------------------------------------------------
// PRICING
// -----------------------------------------------------------------------------

const getPriceConfigSQL = `
SELECT chalet_unit_price, ceremony_flat_price, max_chalets, lead_time_days, max_guests
FROM price_config
WHERE id = 1
`

const listPriceTiersSQL = `SELECT max_guests, price FROM price_tiers ORDER BY max_guests`

const upsertPriceConfigSQL = `
INSERT INTO price_config
  (id, chalet_unit_price, ceremony_flat_price, max_chalets, lead_time_days, max_guests)
VALUES
  (1, :chalet_unit_price, :ceremony_flat_price, :max_chalets, :lead_time_days, :max_guests)
ON DUPLICATE KEY UPDATE
  chalet_unit_price   = VALUES(chalet_unit_price),
  ceremony_flat_price = VALUES(ceremony_flat_price),
  max_chalets         = VALUES(max_chalets),
  lead_time_days      = VALUES(lead_time_days),
  max_guests          = VALUES(max_guests)
`

const insertPriceTierSQL = `INSERT INTO price_tiers (max_guests, price) VALUES (:max_guests, :price)`

// -----------------------------------------------------------------------------
// BLOCKS
// -----------------------------------------------------------------------------

const listBlocksSQL = `SELECT id, day, reason FROM blocked_dates WHERE day >= ? ORDER BY day`

// LAST_INSERT_ID(id) makes a re-block of the same day return the existing row id.
const insertBlockSQL = `
INSERT INTO blocked_dates (day, reason)
VALUES (?, ?)
ON DUPLICATE KEY UPDATE
  reason = VALUES(reason),
  id     = LAST_INSERT_ID(id)
`

const deleteBlockSQL = `DELETE FROM blocked_dates WHERE id = ?`

// -----------------------------------------------------------------------------
// RESERVATIONS
// -----------------------------------------------------------------------------

const lockCalendarSQL = `SELECT id FROM calendar_lock WHERE id = 1 FOR UPDATE`

const countOverlapsSQL = `
SELECT
  (SELECT COUNT(*) FROM reservations
    WHERE status IN ('pending_payment', 'confirmed') AND start_date <= ? AND end_date >= ?)
  +
  (SELECT COUNT(*) FROM blocked_dates WHERE day BETWEEN ? AND ?)
`

const insertReservationSQL = `
INSERT INTO reservations
  (id, code, access_code, idempotency_key, type, status, start_date, end_date,
   guest_count, chalets, day_rate, chalets_subtotal, days, total, notes, guest,
   payment_method, installments, expected_total, payment_id, payment_url, created_at, expires_at)
VALUES
  (:id, :code, :access_code, :idempotency_key, :type, :status, :start_date, :end_date,
   :guest_count, :chalets, :day_rate, :chalets_subtotal, :days, :total, :notes, :guest,
   :payment_method, :installments, :expected_total, :payment_id, :payment_url, :created_at, :expires_at)
`

const reservationColumns = `
  id, code, access_code, idempotency_key, type, status, start_date, end_date,
  guest_count, chalets, day_rate, chalets_subtotal, days, total, notes, guest,
  payment_method, installments, expected_total, payment_id, payment_url, created_at, expires_at,
  paid_at, cancelled_at, cancel_reason, refund_id, refund_amount
`

const getReservationByCodeSQL = `SELECT ` + reservationColumns + ` FROM reservations WHERE code = ?`

const getReservationByKeySQL = `SELECT ` + reservationColumns + ` FROM reservations WHERE idempotency_key = ?`

const listPendingSQL = `SELECT ` + reservationColumns + `
FROM reservations
WHERE status = 'pending_payment'
ORDER BY created_at
LIMIT ?`

const attachCheckoutSQL = `UPDATE reservations SET payment_id = ?, payment_url = ? WHERE id = ?`

// paid_at is only stamped on the way into confirmed
const updateStatusSQL = `
UPDATE reservations
SET status  = ?,
    paid_at = CASE WHEN ? = 'confirmed' THEN ? ELSE paid_at END
WHERE id = ? AND status = ?
`

const cancelReservationSQL = `
UPDATE reservations
SET status = 'cancelled', cancelled_at = ?, cancel_reason = ?, refund_id = ?, refund_amount = ?
WHERE id = ? AND status = ?
`

const finishElapsedSQL = `UPDATE reservations SET status = 'finished' WHERE status = 'confirmed' AND end_date < ?`

const listOccupiedSpansSQL = `
SELECT start_date, end_date
FROM reservations
WHERE status IN ('pending_payment', 'confirmed') AND end_date >= ?
ORDER BY start_date
`

// -----------------------------------------------------------------------------
// CONTENT
// -----------------------------------------------------------------------------

const listChaletsSQL = `
SELECT id, name, description, photo_url, capacity
FROM chalets
WHERE active = 1
ORDER BY sort_order, id
`
