// Package api exposes the engine over HTTP. Sessions are created explicitly;
// every other route operates on one session's profile.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tributolabs/tributo/internal/app"
	"github.com/tributolabs/tributo/internal/domain/calc"
	"github.com/tributolabs/tributo/internal/domain/model"
	"github.com/tributolabs/tributo/internal/domain/profile"
	"github.com/tributolabs/tributo/internal/domain/regime"
	"github.com/tributolabs/tributo/internal/domain/scenario"
	"github.com/tributolabs/tributo/pkg/logger"
	"github.com/tributolabs/tributo/pkg/metrics"
)

// Handler carries the service and serves the API routes.
type Handler struct {
	svc *app.Service
	log logger.Logger
}

// Option applies a configuration option to the Handler.
type Option func(*Handler)

// WithLogger sets a custom logger.
func WithLogger(log logger.Logger) Option {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// NewRouter builds the chi router over the service.
func NewRouter(svc *app.Service, opts ...Option) http.Handler {
	h := &Handler{svc: svc, log: logger.Nop()}
	for _, opt := range opts {
		opt(h)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sessions", h.createSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Delete("/", h.dropSession)
			r.Get("/profile", h.getProfile)
			r.Put("/profile", h.putProfile)
			r.Get("/result", h.getResult)
			r.Get("/diagnosis", h.getDiagnosis)
			r.Get("/score", h.getScore)
			r.Get("/plan", h.getPlan)
			r.Get("/regimes", h.getRegimes)
			r.Post("/simulate", h.simulate)
			r.Post("/simulate/batch", h.simulateBatch)
		})
	})
	return r
}

// instrument records request counts and latency per route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		metrics.RecordHTTPRequest(pattern, r.Method, strconv.Itoa(ww.Status()))
		metrics.RecordHTTPRequestDuration(pattern, r.Method, float64(time.Since(start).Milliseconds()))
	})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	sess := h.svc.CreateSession(r.Context())
	respond(w, http.StatusCreated, map[string]any{
		"id":         sess.ID,
		"created_at": sess.CreatedAt,
	})
}

func (h *Handler) dropSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DropSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Profile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, snapshotToDTO(snap))
}

func (h *Handler) putProfile(w http.ResponseWriter, r *http.Request) {
	var dto profileDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		respondError(w, http.StatusBadRequest, "malformed profile body")
		return
	}
	snap, err := h.svc.UpdateProfile(r.Context(), chi.URLParam(r, "id"), dto.toSnapshot())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, snapshotToDTO(snap))
}

func (h *Handler) getResult(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Compute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, result)
}

func (h *Handler) getDiagnosis(w http.ResponseWriter, r *http.Request) {
	diag, result, err := h.svc.Diagnose(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"result":    result,
		"diagnosis": diag,
	})
}

func (h *Handler) getScore(w http.ResponseWriter, r *http.Request) {
	score, err := h.svc.Score(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, score)
}

func (h *Handler) getPlan(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Plan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, p)
}

func (h *Handler) getRegimes(w http.ResponseWriter, r *http.Request) {
	a, err := parseAssumptions(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	cmp, err := h.svc.CompareRegimes(r.Context(), chi.URLParam(r, "id"), a)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, cmp)
}

// parseAssumptions reads the optional real-profit assumptions from the query
// string; absent parameters leave the provider defaults in force.
func parseAssumptions(r *http.Request) (regime.Assumptions, error) {
	var a regime.Assumptions
	q := r.URL.Query()
	if raw := q.Get("real_margin"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return a, fmt.Errorf("malformed real_margin %q", raw)
		}
		a.RealMargin = v
	}
	if raw := q.Get("input_credit_share"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return a, fmt.Errorf("malformed input_credit_share %q", raw)
		}
		a.InputCreditShare = v
	}
	return a, nil
}

func (h *Handler) simulate(w http.ResponseWriter, r *http.Request) {
	var req scenario.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed scenario body")
		return
	}
	res, err := h.svc.Simulate(r.Context(), chi.URLParam(r, "id"), req.Type, req.Params)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, res)
}

func (h *Handler) simulateBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Scenarios []scenario.Request `json:"scenarios"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Scenarios) == 0 {
		respondError(w, http.StatusBadRequest, "malformed scenario batch body")
		return
	}
	results, err := h.svc.SimulateAll(r.Context(), chi.URLParam(r, "id"), body.Scenarios)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"results": results})
}

// fail maps service errors to status codes.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, scenario.ErrUnknownScenario),
		errors.Is(err, scenario.ErrInvalidParameter),
		errors.Is(err, regime.ErrInvalidAssumptions),
		errors.Is(err, profile.ErrNegativeAmount),
		errors.Is(err, profile.ErrPartnerShares):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, calc.ErrInsufficientData):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.log.Error(r.Context(), "request failed",
			logger.String("path", r.URL.Path),
			logger.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respond(w, status, map[string]string{"error": msg})
}

// profileDTO is the wire shape of a profile; the engine snapshot itself
// carries no JSON tags.
type profileDTO struct {
	ActivityCode        string                    `json:"activity_code"`
	SecondaryActivities []model.SecondaryActivity `json:"secondary_activities,omitempty"`
	MonthlyRevenue      float64                   `json:"monthly_revenue"`
	AnnualRevenue       float64                   `json:"annual_revenue"`
	Payroll12           float64                   `json:"payroll_12"`
	ProLabore12         float64                   `json:"pro_labore_12"`
	Partners            []model.Partner           `json:"partners,omitempty"`
	Special             model.SpecialRevenue      `json:"special_revenue"`
	Flags               model.Flags               `json:"flags"`
	Location            model.Location            `json:"location"`
	Version             uint64                    `json:"version,omitempty"`
	UpdatedAt           time.Time                 `json:"updated_at,omitempty"`
}

func (d profileDTO) toSnapshot() model.Snapshot {
	return model.Snapshot{
		ActivityCode:        d.ActivityCode,
		SecondaryActivities: d.SecondaryActivities,
		MonthlyRevenue:      d.MonthlyRevenue,
		AnnualRevenue:       d.AnnualRevenue,
		Payroll12:           d.Payroll12,
		ProLabore12:         d.ProLabore12,
		Partners:            d.Partners,
		Special:             d.Special,
		Flags:               d.Flags,
		Location:            d.Location,
	}
}

func snapshotToDTO(s model.Snapshot) profileDTO {
	return profileDTO{
		ActivityCode:        s.ActivityCode,
		SecondaryActivities: s.SecondaryActivities,
		MonthlyRevenue:      s.MonthlyRevenue,
		AnnualRevenue:       s.AnnualRevenue,
		Payroll12:           s.Payroll12,
		ProLabore12:         s.ProLabore12,
		Partners:            s.Partners,
		Special:             s.Special,
		Flags:               s.Flags,
		Location:            s.Location,
		Version:             s.Version,
		UpdatedAt:           s.UpdatedAt,
	}
}
