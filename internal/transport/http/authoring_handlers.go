package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"quizzana/internal/app"
)

type activeRequest struct {
	Active bool `json:"active"`
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.authoring.Dashboard(r.Context(), IdentityFrom(r.Context()))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Categories

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.authoring.ListCategories(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	var in app.CategoryInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, h.log, err)
		return
	}
	category, err := h.authoring.CreateCategory(r.Context(), IdentityFrom(r.Context()), in)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, category)
}

// Questions

func (h *Handler) listQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := h.authoring.ListQuestions(r.Context(), IdentityFrom(r.Context()), r.URL.Query().Get("category"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, questions)
}

func (h *Handler) createQuestion(w http.ResponseWriter, r *http.Request) {
	var in app.QuestionInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, h.log, err)
		return
	}
	question, err := h.authoring.CreateQuestion(r.Context(), IdentityFrom(r.Context()), in)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, question)
}

func (h *Handler) getQuestion(w http.ResponseWriter, r *http.Request) {
	question, err := h.authoring.GetQuestion(r.Context(), IdentityFrom(r.Context()), chi.URLParam(r, "questionID"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, question)
}

func (h *Handler) updateQuestion(w http.ResponseWriter, r *http.Request) {
	var in app.QuestionInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, h.log, err)
		return
	}
	question, err := h.authoring.UpdateQuestion(r.Context(), IdentityFrom(r.Context()), chi.URLParam(r, "questionID"), in)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, question)
}

func (h *Handler) deleteQuestion(w http.ResponseWriter, r *http.Request) {
	if err := h.authoring.DeleteQuestion(r.Context(), IdentityFrom(r.Context()), chi.URLParam(r, "questionID")); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Quizzes

func (h *Handler) listQuizzes(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	result, err := h.authoring.ListQuizzes(r.Context(), IdentityFrom(r.Context()), page, limit)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) createQuiz(w http.ResponseWriter, r *http.Request) {
	var in app.QuizInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, h.log, err)
		return
	}
	quiz, err := h.authoring.CreateQuiz(r.Context(), IdentityFrom(r.Context()), in)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, quiz)
}

func (h *Handler) getQuiz(w http.ResponseWriter, r *http.Request) {
	quiz, err := h.authoring.GetQuiz(r.Context(), IdentityFrom(r.Context()), chi.URLParam(r, "quizID"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (h *Handler) updateQuiz(w http.ResponseWriter, r *http.Request) {
	var in app.QuizInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, h.log, err)
		return
	}
	quiz, err := h.authoring.UpdateQuiz(r.Context(), IdentityFrom(r.Context()), chi.URLParam(r, "quizID"), in)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (h *Handler) deleteQuiz(w http.ResponseWriter, r *http.Request) {
	if err := h.authoring.DeleteQuiz(r.Context(), IdentityFrom(r.Context()), chi.URLParam(r, "quizID")); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setQuizActive(w http.ResponseWriter, r *http.Request) {
	var in activeRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, h.log, err)
		return
	}
	quiz, err := h.authoring.SetQuizActive(r.Context(), IdentityFrom(r.Context()), chi.URLParam(r, "quizID"), in.Active)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (h *Handler) quizQRCode(w http.ResponseWriter, r *http.Request) {
	png, err := h.authoring.JoinQRCode(r.Context(), IdentityFrom(r.Context()), chi.URLParam(r, "quizID"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}

func (h *Handler) lastRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.results.LastRoomForQuiz(r.Context(), IdentityFrom(r.Context()), chi.URLParam(r, "quizID"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}
