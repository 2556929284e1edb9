package http

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/salon-booking-settlement/internal/auth"
	"github.com/robertarktes/salon-booking-settlement/internal/booking"
	"github.com/robertarktes/salon-booking-settlement/internal/cancellation"
	"github.com/robertarktes/salon-booking-settlement/internal/catalog"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
	"github.com/robertarktes/salon-booking-settlement/internal/observability"
	"github.com/robertarktes/salon-booking-settlement/internal/settlement"
	"github.com/robertarktes/salon-booking-settlement/internal/slots"
)

type CoinBalances interface {
	GetCoins(ctx context.Context, userID uuid.UUID) (int64, error)
}

// Check is a named readiness check.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type Deps struct {
	Bookings     *booking.Orchestrator
	Settlement   *settlement.Engine
	Cancellation *cancellation.Engine
	Availability *slots.Availability
	Catalog      *catalog.Service
	Coins        CoinBalances
	Checks       []Check
	Clock        domain.Clock
	Location     *time.Location
	Currency     string
	// PrefillPastDays and PrefillFutureDays bound the default prefill range around today.
	PrefillPastDays   int
	PrefillFutureDays int
}

type Handlers struct {
	Deps
	logger observability.Logger
}

func NewHandlers(deps Deps, logger observability.Logger) *Handlers {
	if deps.Clock == nil {
		deps.Clock = domain.SystemClock{}
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	return &Handlers{Deps: deps, logger: logger}
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, h.logger, err)
}

func identity(r *http.Request) auth.Identity {
	id, _ := auth.IdentityFrom(r.Context())
	return id
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, errors.Wrapf(domain.ErrInvalidInput, "invalid %s", name)
	}
	return id, nil
}

func (h *Handlers) today() time.Time {
	return domain.DateOf(h.Clock.Now(), h.Location)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	failed := map[string]string{}
	for _, c := range h.Checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		if err := c.Ping(ctx); err != nil {
			failed[c.Name] = err.Error()
		}
		cancel()
	}
	if len(failed) > 0 {
		observability.LoggerFrom(r.Context(), h.logger).WithField("failed", failed).Warn("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"success": false, "failed": failed})
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

type slotView struct {
	ID        uuid.UUID        `json:"id"`
	Date      string           `json:"date"`
	StartTime domain.ClockTime `json:"startTime"`
	EndTime   domain.ClockTime `json:"endTime"`
	Duration  int              `json:"duration"`
	IsBooked  bool             `json:"isBooked"`
}

func toSlotViews(in []domain.Slot) []slotView {
	out := make([]slotView, 0, len(in))
	for _, s := range in {
		out = append(out, slotView{
			ID:        s.ID,
			Date:      s.Date.Format(domain.DateLayout),
			StartTime: s.Start,
			EndTime:   s.End,
			Duration:  s.Duration,
			IsBooked:  s.IsBooked,
		})
	}
	return out
}

func (h *Handlers) ListSlots(w http.ResponseWriter, r *http.Request) {
	merchantID, err := uuidParam(r, "merchantID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	date := h.today()
	if raw := r.URL.Query().Get("date"); raw != "" {
		if date, err = domain.ParseDate(raw); err != nil {
			h.fail(w, r, err)
			return
		}
	}

	free, err := h.Availability.ListAvailable(r.Context(), merchantID, date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"date":    date.Format(domain.DateLayout),
		"slots":   toSlotViews(free),
	})
}

func (h *Handlers) SlotSummary(w http.ResponseWriter, r *http.Request) {
	merchantID, err := uuidParam(r, "merchantID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	from, to, err := h.dateRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	days, err := h.Availability.Summary(r.Context(), merchantID, from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	type dayView struct {
		Date      string `json:"date"`
		Available int    `json:"available"`
		Booked    int    `json:"booked"`
	}
	out := make([]dayView, 0, len(days))
	for _, d := range days {
		out = append(out, dayView{Date: d.Date.Format(domain.DateLayout), Available: d.Available, Booked: d.Booked})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "days": out})
}

func (h *Handlers) dateRange(rawFrom, rawTo string) (time.Time, time.Time, error) {
	today := h.today()
	from := today.AddDate(0, 0, -h.PrefillPastDays)
	to := today.AddDate(0, 0, h.PrefillFutureDays)
	var err error
	if rawFrom != "" {
		if from, err = domain.ParseDate(rawFrom); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if rawTo != "" {
		if to, err = domain.ParseDate(rawTo); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	return from, to, nil
}

// ownMerchant returns the merchant id from the path after checking it is the caller's.
func ownMerchant(r *http.Request) (uuid.UUID, error) {
	merchantID, err := uuidParam(r, "merchantID")
	if err != nil {
		return uuid.Nil, err
	}
	if identity(r).UserID != merchantID {
		return uuid.Nil, errors.Wrap(domain.ErrForbidden, "not your merchant account")
	}
	return merchantID, nil
}

func (h *Handlers) PrefillSlots(w http.ResponseWriter, r *http.Request) {
	merchantID, err := ownMerchant(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	from, to, err := h.dateRange(req.From, req.To)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	days, err := h.Availability.Prefill(r.Context(), merchantID, from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"days":    days,
		"from":    from.Format(domain.DateLayout),
		"to":      to.Format(domain.DateLayout),
	})
}

type settingsRequest struct {
	Name                string                `json:"name"`
	WorkingHoursStart   string                `json:"workingHoursStart"`
	WorkingHoursEnd     string                `json:"workingHoursEnd"`
	BreakStart          string                `json:"breakStart"`
	BreakEnd            string                `json:"breakEnd"`
	Services            []domain.Service      `json:"services"`
	CoinsEnabled        *bool                 `json:"coinsEnabled"`
	ReleaseSlotOnCancel *bool                 `json:"releaseSlotOnCancel"`
	Payout              *domain.PayoutAccount `json:"payout"`
}

func (s settingsRequest) toSettings() (catalog.Settings, error) {
	out := catalog.Settings{
		Name:                s.Name,
		OpensAt:             domain.DefaultOpensAt,
		ClosesAt:            domain.DefaultClosesAt,
		Services:            s.Services,
		CoinsEnabled:        s.CoinsEnabled,
		ReleaseSlotOnCancel: s.ReleaseSlotOnCancel,
		Payout:              s.Payout,
	}
	var err error
	if s.WorkingHoursStart != "" {
		if out.OpensAt, err = domain.ParseClock(s.WorkingHoursStart); err != nil {
			return catalog.Settings{}, err
		}
	}
	if s.WorkingHoursEnd != "" {
		if out.ClosesAt, err = domain.ParseClock(s.WorkingHoursEnd); err != nil {
			return catalog.Settings{}, err
		}
	}
	if s.BreakStart != "" {
		start, err := domain.ParseClock(s.BreakStart)
		if err != nil {
			return catalog.Settings{}, err
		}
		out.BreakStart = &start
	}
	if s.BreakEnd != "" {
		end, err := domain.ParseClock(s.BreakEnd)
		if err != nil {
			return catalog.Settings{}, err
		}
		out.BreakEnd = &end
	}
	return out, nil
}

func (h *Handlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	merchantID, err := ownMerchant(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req settingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	settings, err := req.toSettings()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	profile, err := h.Catalog.UpdateSettings(r.Context(), merchantID, settings)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "merchant": profile})
}

func (h *Handlers) CoinBalance(w http.ResponseWriter, r *http.Request) {
	coins, err := h.Coins.GetCoins(r.Context(), identity(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "coins": coins})
}
