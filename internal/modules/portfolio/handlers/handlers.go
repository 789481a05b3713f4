// Package handlers provides HTTP handlers for beta estimation and portfolio
// optimization.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/factorfit/internal/modules/betas"
	"github.com/aristath/factorfit/internal/modules/factors"
	"github.com/aristath/factorfit/internal/modules/optimization"
	"github.com/aristath/factorfit/internal/modules/portfolio"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// maxBodyBytes bounds request bodies; return tables are the largest input.
const maxBodyBytes = 8 << 20

// Handler handles beta and portfolio HTTP requests
type Handler struct {
	service *portfolio.Service
	presets []factors.Preset
	sample  factors.SampleOptions
	log     zerolog.Logger
}

// NewHandler creates a new portfolio handler
func NewHandler(service *portfolio.Service, presets []factors.Preset, sample factors.SampleOptions, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		presets: presets,
		sample:  sample,
		log:     log.With().Str("handler", "portfolio").Logger(),
	}
}

// SampleRequest selects generated demo data.
type SampleRequest struct {
	Seed   *uint64 `json:"seed,omitempty"`
	Months int     `json:"months,omitempty"`
}

// SolverRequest overrides optimizer options for one request.
type SolverRequest struct {
	Method        string  `json:"method,omitempty"`
	MaxIterations int     `json:"max_iterations,omitempty"`
	Tolerance     float64 `json:"tolerance,omitempty"`
}

// BetasRequest is the body of POST /api/betas.
type BetasRequest struct {
	Table     *factors.ReturnTable `json:"table,omitempty"`
	UseSample bool                 `json:"use_sample,omitempty"`
	Sample    *SampleRequest       `json:"sample,omitempty"`
	Policy    string               `json:"policy,omitempty"`
}

// OptimizeRequest is the body of POST /api/portfolio/optimize and /export.
type OptimizeRequest struct {
	BetasRequest
	Targets     factors.TargetExposure    `json:"targets,omitempty"`
	Preset      string                    `json:"preset,omitempty"`
	Constraints *optimization.Constraints `json:"constraints,omitempty"`
	Solver      *SolverRequest            `json:"solver,omitempty"`
}

// OptimizeResponse is the data of a successful optimize call.
type OptimizeResponse struct {
	Result     *portfolio.Result       `json:"result"`
	Comparison []portfolio.ExposureRow `json:"comparison"`
	Summary    string                  `json:"summary"`
}

// requestError is a client mistake detected before reaching the service.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...interface{}) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// HandleEstimateBetas handles POST /api/betas
func (h *Handler) HandleEstimateBetas(w http.ResponseWriter, r *http.Request) {
	var req BetasRequest
	if !h.decode(w, r, &req) {
		return
	}

	table, err := h.resolveTable(&req)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	var policy betas.FailurePolicy
	if req.Policy != "" {
		policy, err = betas.ParseFailurePolicy(req.Policy)
		if err != nil {
			h.writeFailure(w, badRequest("%s", err))
			return
		}
	}

	m, err := h.service.Estimate(r.Context(), table, policy)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeData(w, http.StatusOK, m)
}

// HandleOptimize handles POST /api/portfolio/optimize
func (h *Handler) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	res, ok := h.runOptimize(w, r)
	if !ok {
		return
	}
	h.writeData(w, http.StatusOK, OptimizeResponse{
		Result:     res,
		Comparison: portfolio.ExposureComparison(res),
		Summary:    portfolio.Summary(res),
	})
}

// HandleExport handles POST /api/portfolio/export
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	includeBetas, _ := strconv.ParseBool(query.Get("betas"))
	upload, _ := strconv.ParseBool(query.Get("upload"))
	var minWeight float64
	if s := query.Get("min_weight"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 {
			h.writeFailure(w, badRequest("invalid min_weight %q", s))
			return
		}
		minWeight = v
	}

	res, ok := h.runOptimize(w, r)
	if !ok {
		return
	}

	data, location, err := h.service.Export(r.Context(), res,
		portfolio.CSVOptions{IncludeBetas: includeBetas, MinWeight: minWeight}, upload)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", portfolio.ExportName(res)))
	w.Header().Set("X-Run-ID", res.RunID)
	if location != "" {
		w.Header().Set("X-Export-Location", location)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to write CSV response")
	}
}

// HandleGetSample handles GET /api/portfolio/sample
func (h *Handler) HandleGetSample(w http.ResponseWriter, r *http.Request) {
	opts := h.sample
	query := r.URL.Query()
	if s := query.Get("seed"); s != "" {
		seed, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			h.writeFailure(w, badRequest("invalid seed %q", s))
			return
		}
		opts.Seed = seed
	}
	if s := query.Get("months"); s != "" {
		months, err := strconv.Atoi(s)
		if err != nil || months <= 0 {
			h.writeFailure(w, badRequest("invalid months %q", s))
			return
		}
		opts.Months = months
	}
	h.writeData(w, http.StatusOK, factors.GenerateSample(opts).Table)
}

// HandleGetPresets handles GET /api/portfolio/presets
func (h *Handler) HandleGetPresets(w http.ResponseWriter, r *http.Request) {
	h.writeData(w, http.StatusOK, h.presets)
}

// HandleClearBetasCache handles DELETE /api/betas/cache
func (h *Handler) HandleClearBetasCache(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearBetas(r.Context()); err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{"cleared": true})
}

// HandleInvalidateBetas handles DELETE /api/betas/cache/{key}
func (h *Handler) HandleInvalidateBetas(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := h.service.InvalidateBetas(r.Context(), key); err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{"invalidated": key})
}

func (h *Handler) runOptimize(w http.ResponseWriter, r *http.Request) (*portfolio.Result, bool) {
	var body OptimizeRequest
	if !h.decode(w, r, &body) {
		return nil, false
	}
	req, err := h.buildRequest(&body)
	if err != nil {
		h.writeFailure(w, err)
		return nil, false
	}
	res, err := h.service.Optimize(r.Context(), req)
	if err != nil {
		h.writeFailure(w, err)
		return nil, false
	}
	return res, true
}

func (h *Handler) buildRequest(body *OptimizeRequest) (portfolio.Request, error) {
	table, err := h.resolveTable(&body.BetasRequest)
	if err != nil {
		return portfolio.Request{}, err
	}

	targets := body.Targets
	if body.Preset != "" {
		if len(targets) > 0 {
			return portfolio.Request{}, badRequest("targets and preset are mutually exclusive")
		}
		preset, ok := factors.FindPreset(h.presets, body.Preset)
		if !ok {
			return portfolio.Request{}, badRequest("unknown preset %q", body.Preset)
		}
		targets = preset.Targets
	}
	if len(targets) == 0 {
		return portfolio.Request{}, badRequest("targets or preset required")
	}

	constraints := optimization.DefaultConstraints()
	if body.Constraints != nil {
		constraints = *body.Constraints
	}

	req := portfolio.Request{
		Table:       table,
		Targets:     targets,
		Constraints: constraints,
	}

	if body.Policy != "" {
		policy, err := betas.ParseFailurePolicy(body.Policy)
		if err != nil {
			return portfolio.Request{}, badRequest("%s", err)
		}
		req.Policy = policy
	}

	if body.Solver != nil {
		method, err := optimization.ParseMethod(body.Solver.Method)
		if err != nil {
			return portfolio.Request{}, badRequest("%s", err)
		}
		if body.Solver.MaxIterations < 0 || body.Solver.Tolerance < 0 {
			return portfolio.Request{}, badRequest("solver limits must be positive")
		}
		req.Solver = &optimization.Options{
			Method:        method,
			MaxIterations: body.Solver.MaxIterations,
			Tolerance:     body.Solver.Tolerance,
		}
	}

	return req, nil
}

func (h *Handler) resolveTable(req *BetasRequest) (*factors.ReturnTable, error) {
	switch {
	case req.UseSample && req.Table != nil:
		return nil, badRequest("table and use_sample are mutually exclusive")
	case req.UseSample:
		opts := h.sample
		if req.Sample != nil {
			if req.Sample.Seed != nil {
				opts.Seed = *req.Sample.Seed
			}
			if req.Sample.Months > 0 {
				opts.Months = req.Sample.Months
			}
		}
		return factors.GenerateSample(opts).Table, nil
	case req.Table != nil:
		return req.Table, nil
	default:
		return nil, badRequest("table or use_sample required")
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.log.Debug().Err(err).Msg("Failed to decode request body")
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error(), portfolio.KindInvalidInput)
		return false
	}
	return true
}

// statusFor maps error kinds to HTTP status codes.
func statusFor(kind string) int {
	switch kind {
	case portfolio.KindDataMisalignment, portfolio.KindInfeasibleConstraints, portfolio.KindEmptyUniverse:
		return http.StatusUnprocessableEntity
	case portfolio.KindInvalidInput, portfolio.KindUnknownFactor:
		return http.StatusBadRequest
	case portfolio.KindCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeFailure(w http.ResponseWriter, err error) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		h.writeError(w, http.StatusBadRequest, reqErr.Error(), portfolio.KindInvalidInput)
		return
	}
	if errors.Is(err, portfolio.ErrUploadDisabled) {
		h.writeError(w, http.StatusBadRequest, err.Error(), portfolio.KindInvalidInput)
		return
	}

	kind := portfolio.ErrorKind(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("kind", kind).Msg("Request failed")
	}
	h.writeError(w, status, err.Error(), kind)
}

func (h *Handler) writeData(w http.ResponseWriter, status int, data interface{}) {
	h.writeJSON(w, status, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, kind string) {
	h.writeJSON(w, status, map[string]string{"error": message, "kind": kind})
}
