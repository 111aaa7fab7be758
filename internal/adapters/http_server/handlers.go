package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"chacara_booking/internal/adapters/checkout"
	"chacara_booking/internal/domain"
)

const maxBodyBytes = 1 << 20

// Catalog serves the read side: pricing, calendar, quotes and content.
type Catalog interface {
	domain.PricingConfigProvider
	domain.AvailabilityProvider
	domain.AvailabilityChecker
	domain.Quoter
	domain.ContentProvider
}

type Reservations interface {
	domain.SubmissionSink
	Lookup(ctx context.Context, code, credential string) (domain.Reservation, error)
	Cancel(ctx context.Context, code, credential string, req domain.CancelRequest) (domain.Cancellation, error)
	HandlePaymentEvent(ctx context.Context, code string, st domain.PaymentState) (bool, error)
}

type Admin interface {
	PriceTable(ctx context.Context) (domain.PriceTable, error)
	UpdatePriceTable(ctx context.Context, t domain.PriceTable) (domain.PriceTable, error)
	ListBlocks(ctx context.Context) ([]domain.ManualBlock, error)
	BlockDate(ctx context.Context, d civil.Date, reason string) (domain.ManualBlock, error)
	UnblockDate(ctx context.Context, id int64) error
}

type Handlers struct {
	Catalog      Catalog
	Reservations Reservations
	Admin        Admin
	AdminKey     string
	WebhookToken string
}

type problem struct {
	Type   string              `json:"type"`
	Title  string              `json:"title"`
	Status int                 `json:"status"`
	Detail string              `json:"detail,omitempty"`
	Kind   string              `json:"kind,omitempty"`
	Reason string              `json:"reason,omitempty"`
	Date   *civil.Date         `json:"date,omitempty"`
	Fields map[string][]string `json:"fields,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })

	s.mux.Route("/v1", func(r chi.Router) {
		r.Get("/config", h.getConfig)
		r.Get("/availability", h.getAvailability)
		r.Post("/availability/check", h.checkAvailability)
		r.Post("/quotes", h.quote)
		r.Get("/chalets", h.listChalets)

		r.Post("/reservations", h.submit)
		r.Get("/reservations/{code}", h.lookup)
		r.Post("/reservations/{code}/cancel", h.cancel)

		r.With(RequireSecret("X-Webhook-Token", h.WebhookToken)).Post("/webhooks/payments", h.paymentWebhook)

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireSecret("X-Admin-Key", h.AdminKey))
			r.Get("/config", h.adminGetConfig)
			r.Put("/config", h.adminPutConfig)
			r.Get("/blocks", h.adminListBlocks)
			r.Post("/blocks", h.adminAddBlock)
			r.Delete("/blocks/{id}", h.adminDeleteBlock)
		})
	})
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	writeProblemDoc(w, problem{Title: title, Status: status, Detail: detail})
}

func writeProblemDoc(w http.ResponseWriter, p problem) {
	if p.Type == "" {
		p.Type = "about:blank"
	}
	w.Header().Set("Content-Type", "application/problem+json")
	if p.Kind == string(domain.RejectTransient) {
		w.Header().Set("Retry-After", "1")
	}
	w.WriteHeader(p.Status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// writeError maps domain errors onto problem documents.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if ie := domain.AsInputError(err); ie != nil {
		writeProblemDoc(w, problem{Title: "Invalid input", Status: http.StatusUnprocessableEntity,
			Kind: string(domain.RejectValidation), Fields: ie.Fields()})
		return
	}
	if ae := domain.AsAvailabilityError(err); ae != nil {
		writeProblemDoc(w, problem{Title: "Dates unavailable", Status: http.StatusConflict, Detail: ae.Error(),
			Kind: string(domain.RejectConflict), Reason: string(ae.Result.Reason), Date: ae.Result.Date})
		return
	}
	if re, ok := domain.AsRejection(err); ok {
		p := problem{Detail: re.Message, Kind: string(re.Kind), Reason: string(re.Reason), Fields: re.Fields}
		switch re.Kind {
		case domain.RejectValidation:
			p.Title, p.Status = "Invalid input", http.StatusUnprocessableEntity
		case domain.RejectConflict:
			p.Title, p.Status = "Dates unavailable", http.StatusConflict
		case domain.RejectInFlight:
			p.Title, p.Status = "Submission in progress", http.StatusConflict
		case domain.RejectTransient:
			p.Title, p.Status = "Service Unavailable", http.StatusServiceUnavailable
			log.Warn().Err(re.Err).Str("route", routePattern(r)).Msg("transient rejection")
		default:
			p.Title, p.Status = "Internal Server Error", http.StatusInternalServerError
		}
		writeProblemDoc(w, p)
		return
	}
	if errors.Is(err, domain.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Not Found", "resource not found")
		return
	}
	if errors.Is(err, domain.ErrInvalidTransition) {
		writeProblem(w, http.StatusConflict, "Conflict", err.Error())
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	log.Error().Err(err).Str("route", routePattern(r)).Msg("request failed")
	writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "unexpected error")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeProblem(w, http.StatusBadRequest, "Malformed body", err.Error())
		return false
	}
	return true
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

// writeCached answers with 304 when the client already holds this version.
func writeCached(w http.ResponseWriter, r *http.Request, v any) {
	etag, body := calcETagAndBody(v)
	if body == nil {
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "encoding failed")
		return
	}
	w.Header().Set("ETag", etag)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Str("route", routePattern(r)).Msg("failed to write body")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

// ---- public ----

func (h *Handlers) getConfig(w http.ResponseWriter, r *http.Request) {
	pt, err := h.Catalog.PriceTable(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCached(w, r, pt)
}

func (h *Handlers) getAvailability(w http.ResponseWriter, r *http.Request) {
	av, err := h.Catalog.Availability(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCached(w, r, av)
}

type checkRequest struct {
	Type  domain.ReservationType `json:"type"`
	Dates domain.DateSelection   `json:"dates"`
}

func (h *Handlers) checkAvailability(w http.ResponseWriter, r *http.Request) {
	var in checkRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	res, err := h.Catalog.CheckAvailability(r.Context(), in.Type, in.Dates)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) quote(w http.ResponseWriter, r *http.Request) {
	var in domain.QuoteRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	b, err := h.Catalog.Quote(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handlers) listChalets(w http.ResponseWriter, r *http.Request) {
	out, err := h.Catalog.Chalets(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCached(w, r, out)
}

func (h *Handlers) submit(w http.ResponseWriter, r *http.Request) {
	var in domain.ReservationRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	rc, err := h.Reservations.Submit(r.Context(), r.Header.Get("Idempotency-Key"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/reservations/"+rc.ReservationCode)
	writeJSON(w, http.StatusCreated, rc)
}

// credential prefers the e-mail and falls back to the access code.
func credential(email, accessCode string) string {
	if email != "" {
		return email
	}
	return accessCode
}

func (h *Handlers) lookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.Reservations.Lookup(r.Context(), chi.URLParam(r, "code"), credential(q.Get("email"), q.Get("accessCode")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, res)
}

type cancelRequest struct {
	Email      string `json:"email"`
	AccessCode string `json:"accessCode"`
	domain.CancelRequest
}

func (h *Handlers) cancel(w http.ResponseWriter, r *http.Request) {
	var in cancelRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	c, err := h.Reservations.Cancel(r.Context(), chi.URLParam(r, "code"), credential(in.Email, in.AccessCode), in.CancelRequest)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type paymentEvent struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

func (h *Handlers) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	var in paymentEvent
	if !decodeJSON(w, r, &in) {
		return
	}
	if in.Reference == "" {
		writeProblem(w, http.StatusBadRequest, "Malformed body", "reference is required")
		return
	}
	changed, err := h.Reservations.HandlePaymentEvent(r.Context(), in.Reference, checkout.ParseState(in.Status))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"changed": changed})
}

// ---- admin ----

func (h *Handlers) adminGetConfig(w http.ResponseWriter, r *http.Request) {
	pt, err := h.Admin.PriceTable(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pt)
}

func (h *Handlers) adminPutConfig(w http.ResponseWriter, r *http.Request) {
	var in domain.PriceTable
	if !decodeJSON(w, r, &in) {
		return
	}
	pt, err := h.Admin.UpdatePriceTable(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pt)
}

func (h *Handlers) adminListBlocks(w http.ResponseWriter, r *http.Request) {
	out, err := h.Admin.ListBlocks(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if out == nil {
		out = []domain.ManualBlock{}
	}
	writeJSON(w, http.StatusOK, out)
}

type blockRequest struct {
	Date   civil.Date `json:"date"`
	Reason string     `json:"reason"`
}

func (h *Handlers) adminAddBlock(w http.ResponseWriter, r *http.Request) {
	var in blockRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	b, err := h.Admin.BlockDate(r.Context(), in.Date, in.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *Handlers) adminDeleteBlock(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive number")
		return
	}
	if err := h.Admin.UnblockDate(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
