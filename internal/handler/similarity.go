package handler

import (
	"log/slog"
	"net/http"

	"github.com/pavelanni/autograde/internal/llm"
	"github.com/pavelanni/autograde/internal/model"
)

type similarityRequest struct {
	Reference string  `json:"reference" validate:"required"`
	Candidate string  `json:"candidate"`
	MaxMarks  float64 `json:"max_marks" validate:"gt=0"`
	Question  string  `json:"question"`
}

type similarityResponse struct {
	model.SimilarityResult
	Feedback string `json:"feedback,omitempty"`
}

func (h *Handler) handleSimilarity(w http.ResponseWriter, r *http.Request) {
	var req similarityRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := similarityResponse{
		SimilarityResult: h.scorer.Score(r.Context(), req.Reference, req.Candidate, req.MaxMarks),
	}
	if req.Question != "" && h.feedback != nil && h.scorer.Available() {
		fb, err := h.feedback.GenerateFeedback(r.Context(), llm.FeedbackRequest{
			Question:  req.Question,
			Candidate: req.Candidate,
			Reference: req.Reference,
			MaxMarks:  req.MaxMarks,
			Result:    resp.SimilarityResult,
		})
		if err != nil {
			slog.Warn("feedback generation failed", "error", err)
		} else {
			resp.Feedback = fb
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
