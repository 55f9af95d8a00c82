package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kapu/liver-scraper-go/internal/constants"
	"github.com/kapu/liver-scraper-go/internal/service/image"
	"github.com/kapu/liver-scraper-go/internal/service/pipeline"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":    "ok",
		"timestamp": time.Now(),
	}
	if s.breaker != nil {
		payload["circuit"] = s.breaker.GetStatus()
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleLivers(w http.ResponseWriter, r *http.Request) {
	snap, slot := s.rosters.ReadForAPI(r.Context())
	if snap == nil {
		s.writeError(w, http.StatusNotFound, "no roster data available yet")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"timestamp":   snap.Timestamp,
		"totalItems":  snap.TotalItems,
		"withDetails": snap.WithDetails(),
		"sourceSlot":  slot,
		"data":        snap.Data,
	})
}

func (s *Server) handleLiver(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, _ := s.rosters.ReadForAPI(r.Context())
	if snap == nil {
		s.writeError(w, http.StatusNotFound, "no roster data available yet")
		return
	}

	for _, rec := range snap.Data {
		if rec != nil && rec.CanonicalID() == id {
			s.writeJSON(w, http.StatusOK, rec)
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "liver not found")
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	file := chi.URLParam(r, "file")
	id := strings.TrimSuffix(file, ".jpg")
	if id == "" {
		s.writeError(w, http.StatusBadRequest, "missing image id")
		return
	}

	data, contentType, found, err := s.blobs.GetBlob(r.Context(), image.BlobKey(id))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "image read failed")
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "image not captured")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payload := map[string]any{
		"timestamp": time.Now(),
		"workers":   s.pipeline.Status(ctx),
	}
	for _, stage := range []string{constants.StageDetails, constants.StageImages} {
		if progress, err := s.pipeline.Progress(ctx, stage); err == nil {
			payload[stage+"Progress"] = progress
		}
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	stage := chi.URLParam(r, "stage")
	progress, err := s.pipeline.Progress(r.Context(), stage)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, progress)
}

type startBatchRequest struct {
	Stage   string `json:"stage"`
	Trigger string `json:"trigger"`
}

// handleStartBatch is the inter-stage handoff target: it kicks the
// requested incremental stage in the background.
func (s *Server) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	var req startBatchRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	stage := req.Stage
	if stage == "" {
		// A basic-stage handoff means detail work; a detail-stage
		// handoff means image work.
		switch req.Trigger {
		case constants.StageDetails:
			stage = constants.StageImages
		default:
			stage = constants.StageDetails
		}
	}

	switch stage {
	case constants.StageDetails:
		s.runDetached(s.pipeline.RunDetailStage, constants.StageDetails)
	case constants.StageImages:
		s.runDetached(s.pipeline.RunImageStage, constants.StageImages)
	default:
		s.writeError(w, http.StatusBadRequest, "unknown stage: "+stage)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"stage":   stage,
		"started": true,
	})
}

func (s *Server) handleManualScrape(w http.ResponseWriter, r *http.Request) {
	result, err := s.pipeline.RunBasicStage(r.Context())
	if err == pipeline.ErrStageBusy {
		s.writeError(w, http.StatusConflict, "basic stage already running")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type resetProgressRequest struct {
	Stage string `json:"stage"`
}

func (s *Server) handleResetProgress(w http.ResponseWriter, r *http.Request) {
	var req resetProgressRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := s.pipeline.ResetProgress(r.Context(), req.Stage); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// An operator reset also closes an open circuit so the next pass
	// can fetch immediately.
	if s.breaker != nil {
		s.breaker.Reset()
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"reset": true,
		"stage": req.Stage,
	})
}

type createReviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (s *Server) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	if s.reviews == nil {
		s.writeError(w, http.StatusServiceUnavailable, "reviews are not enabled")
		return
	}

	var req createReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	created, err := s.reviews.Create(r.Context(), chi.URLParam(r, "id"), req.Rating, req.Comment, clientIP(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	if s.reviews == nil {
		s.writeError(w, http.StatusServiceUnavailable, "reviews are not enabled")
		return
	}

	reviews, err := s.reviews.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, reviews)
}

func (s *Server) handleReviewSummary(w http.ResponseWriter, r *http.Request) {
	if s.reviews == nil {
		s.writeError(w, http.StatusServiceUnavailable, "reviews are not enabled")
		return
	}

	summary, err := s.reviews.Summary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleDeleteReview(w http.ResponseWriter, r *http.Request) {
	if s.reviews == nil {
		s.writeError(w, http.StatusServiceUnavailable, "reviews are not enabled")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "reviewID"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid review id")
		return
	}

	if err := s.reviews.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *Server) runDetached(stage func(ctx context.Context) (*pipeline.StageResult, error), name string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := stage(ctx); err != nil && err != pipeline.ErrStageBusy {
			s.logger.Error("Triggered stage failed",
				zap.String("stage", name),
				zap.Error(err),
			)
		}
	}()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Response encode failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error":  message,
		"status": status,
	})
}

// writeServiceError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var coded interface{ HTTPStatus() int }
	if stderrors.As(err, &coded) && coded.HTTPStatus() > 0 {
		s.writeError(w, coded.HTTPStatus(), err.Error())
		return
	}
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

func clientIP(r *http.Request) string {
	if r.RemoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
