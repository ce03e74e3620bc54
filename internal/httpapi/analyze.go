package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"clinicd/internal/manager"
	"clinicd/internal/textclean"
	"clinicd/pkg/types"
)

// handleAnalyze runs the pipeline over one clinical text.
//
//	@Summary		Analyze a clinical case
//	@Description	Classifies the text (or uses the given pathology), summarizes it and generates treatment recommendations.
//	@Tags			analysis
//	@Accept			json
//	@Produce		json
//	@Param			request	body		types.AnalyzeRequest	true	"Clinical text"
//	@Success		200		{object}	types.AnalyzeResponse
//	@Failure		400		{object}	types.ErrorResponse
//	@Failure		401		{object}	types.ErrorResponse
//	@Failure		415		{object}	types.ErrorResponse
//	@Failure		429		{object}	types.ErrorResponse
//	@Failure		500		{object}	types.ErrorResponse
//	@Failure		503		{object}	types.ErrorResponse
//	@Failure		504		{object}	types.ErrorResponse
//	@Security		BearerAuth
//	@Router			/api/v1/analyze [post]
func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req types.AnalyzeRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeJSONError(w, r, http.StatusBadRequest, "text is required")
		return
	}
	if textclean.Len(text) < s.opts.MinTextLength {
		writeJSONError(w, r, http.StatusBadRequest, fmt.Sprintf("text too short: minimum %d characters required", s.opts.MinTextLength))
		return
	}
	auto := req.AutoClassify == nil || *req.AutoClassify
	if !auto {
		if strings.TrimSpace(req.Pathology) == "" {
			writeJSONError(w, r, http.StatusBadRequest, "pathology is required when auto_classify is false")
			return
		}
		if !knownLabel(s.svc.Labels(), req.Pathology) {
			writeJSONError(w, r, http.StatusBadRequest, fmt.Sprintf("%s: %q", manager.ErrInvalidPathology.Error(), req.Pathology))
			return
		}
	}
	// manual mode needs only the summarizer; the manager reports that itself
	if auto && !s.svc.Ready() {
		writeJSONError(w, r, http.StatusServiceUnavailable, "models not loaded")
		return
	}

	log := loggerFrom(r)
	ctx, cancel := joinContexts(s.opts.BaseContext, r.Context())
	defer cancel()
	res, err := s.svc.Analyze(ctx, manager.Request{Text: req.Text, AutoClassify: auto, Pathology: req.Pathology})
	if err != nil {
		// client went away; nobody reads the response
		if r.Context().Err() != nil {
			log.Debug().Err(err).Msg("analyze abandoned by client")
			return
		}
		if s.opts.BaseContext.Err() != nil {
			writeJSONError(w, r, http.StatusServiceUnavailable, "server shutting down")
			return
		}
		status, msg := statusOf(err)
		ev := log.Warn()
		if status >= http.StatusInternalServerError {
			ev = log.Error()
		}
		var pe *manager.ProcessingError
		if errors.As(err, &pe) {
			ev = ev.Str("detail", pe.Detail())
		}
		ev.Err(err).Int("status", status).Msg("analyze failed")
		if status == http.StatusTooManyRequests {
			IncrementBackpressure("queue")
		}
		writeJSONError(w, r, status, msg)
		return
	}
	log.Info().
		Str("mode", string(res.Metadata.Mode)).
		Str("pathology", res.Classification.Label).
		Bool("generator_fallback", res.Metadata.GeneratorFallback).
		Float64("processing_time", res.Metadata.ProcessingTime).
		Msg("analyze done")
	writeJSON(w, r, http.StatusOK, toAnalyzeResponse(res))
}

// decodeJSON enforces a JSON content type and the body size cap, then
// decodes into v. It writes the error response and returns false on failure.
func (s *server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, r, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSONError(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", mbe.Limit))
			return false
		}
		writeJSONError(w, r, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func knownLabel(labels []string, name string) bool {
	name = strings.TrimSpace(name)
	for _, l := range labels {
		if l == name {
			return true
		}
	}
	return false
}

func toAnalyzeResponse(res *manager.PipelineResult) types.AnalyzeResponse {
	dist := res.Classification.Distribution
	if dist == nil {
		dist = map[string]float64{}
	}
	return types.AnalyzeResponse{
		Classification: types.ClassificationResponse{
			Pathology:        res.Classification.Label,
			Confidence:       res.Classification.Confidence,
			AllProbabilities: dist,
		},
		Summary:        res.Summary,
		Recommendation: res.Recommendation,
		Metadata: types.AnalyzeMetadata{
			OriginalTextLength:   res.Metadata.InputLength,
			SummaryLength:        res.Metadata.SummaryLength,
			RecommendationLength: res.Metadata.RecommendationLength,
			ProcessingTime:       res.Metadata.ProcessingTime,
			Device:               res.Metadata.Device,
			Mode:                 string(res.Metadata.Mode),
			GeneratorFallback:    res.Metadata.GeneratorFallback,
			LowConfidence:        res.Metadata.LowConfidence,
		},
	}
}
