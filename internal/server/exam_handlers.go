package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/examforge/examforge/internal/exam"
)

func (h *handlers) listExams(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.deps.Exams.List(r.Context())
	if err != nil {
		h.deps.Log.ErrorContext(r.Context(), "exam listing failed", "error", err)
		respondError(w, err)
		return
	}
	if summaries == nil {
		summaries = []exam.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"exams": summaries})
}

// examView hides answer keys from the taking client.
type examView struct {
	ID             int64              `json:"id"`
	Title          string             `json:"title"`
	Description    string             `json:"description"`
	Questions      []examQuestionView `json:"questions"`
	TotalQuestions int                `json:"total_questions"`
}

type examQuestionView struct {
	Number   int      `json:"number"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

func (h *handlers) getExam(w http.ResponseWriter, r *http.Request) {
	examID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid exam id")
		return
	}

	userID := userIDFrom(r.Context())
	ex, err := h.deps.Exams.Get(r.Context(), userID, examID)
	if err != nil {
		respondError(w, err)
		return
	}

	view := examView{
		ID:             ex.ID,
		Title:          ex.Title,
		Description:    ex.Description,
		TotalQuestions: ex.TotalQuestions,
		Questions:      make([]examQuestionView, 0, len(ex.Questions)),
	}
	for _, q := range ex.Questions {
		view.Questions = append(view.Questions, examQuestionView{
			Number:   q.Number,
			Question: q.Question,
			Options:  q.Options,
		})
	}
	writeJSON(w, http.StatusOK, view)
}

type submitExamRequest struct {
	Answers []string `json:"answers"`
}

func (h *handlers) submitExam(w http.ResponseWriter, r *http.Request) {
	examID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid exam id")
		return
	}

	var req submitExamRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID := userIDFrom(r.Context())
	result, err := h.deps.Exams.Submit(r.Context(), userID, examID, req.Answers)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) attemptDetails(w http.ResponseWriter, r *http.Request) {
	attemptID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid attempt id")
		return
	}

	userID := userIDFrom(r.Context())
	details, err := h.deps.Exams.AttemptDetails(r.Context(), userID, attemptID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"details": details})
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, strconv.ErrSyntax
	}
	return id, nil
}
