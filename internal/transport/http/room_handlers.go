package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"quizzana/internal/app"
	"quizzana/internal/domain"
)

type joinRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type playerRequest struct {
	PlayerID string `json:"playerId"`
}

type answerRequest struct {
	PlayerID   string `json:"playerId"`
	QuestionID string `json:"questionId"`
	Choice     string `json:"choice"`
}

type advanceRequest struct {
	FromIndex *int `json:"fromIndex"`
}

type joinLinkResponse struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

// partialResults is sent when a non-owner asks for the detailed view.
type partialResults struct {
	Error string `json:"error"`
	domain.RoomResults
}

func (h *Handler) createRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.rooms.CreateRoom(r.Context(), IdentityFrom(r.Context()), chi.URLParam(r, "quizID"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (h *Handler) resolveJoinLink(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quiz")
	if quizID == "" {
		writeError(w, h.log, domain.Validation("quiz is required"))
		return
	}
	room, err := h.rooms.ResolveJoinLink(r.Context(), quizID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, joinLinkResponse{RoomID: room.ID, Code: room.Code})
}

func (h *Handler) joinRoom(w http.ResponseWriter, r *http.Request) {
	var in joinRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, h.log, err)
		return
	}
	res, err := h.rooms.Join(r.Context(), in.Code, in.Name)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	status := http.StatusCreated
	if res.Rejoined {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (h *Handler) roomState(w http.ResponseWriter, r *http.Request) {
	view, err := h.rooms.State(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) leaveRoom(w http.ResponseWriter, r *http.Request) {
	var in playerRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.rooms.Leave(r.Context(), chi.URLParam(r, "roomID"), in.PlayerID); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) submitAnswer(w http.ResponseWriter, r *http.Request) {
	var in answerRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, h.log, err)
		return
	}
	outcome, err := h.rooms.SubmitAnswer(r.Context(), chi.URLParam(r, "roomID"), in.PlayerID, in.QuestionID, in.Choice)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) roomResults(w http.ResponseWriter, r *http.Request) {
	detail, _ := strconv.ParseBool(r.URL.Query().Get("detail"))
	res, err := h.results.Results(r.Context(), IdentityFrom(r.Context()), chi.URLParam(r, "roomID"), detail)
	if errors.Is(err, domain.ErrNotQuizOwner) {
		writeJSON(w, http.StatusForbidden, partialResults{Error: err.Error(), RoomResults: res})
		return
	}
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) startRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.rooms.Start(r.Context(), IdentityFrom(r.Context()), chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *Handler) advanceRoom(w http.ResponseWriter, r *http.Request) {
	var in advanceRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, h.log, err)
		return
	}
	from := -1
	if in.FromIndex != nil {
		from = *in.FromIndex
	}
	room, err := h.rooms.Advance(r.Context(), IdentityFrom(r.Context()), chi.URLParam(r, "roomID"), from)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *Handler) finishRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.rooms.Finish(r.Context(), IdentityFrom(r.Context()), chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *Handler) exportResults(format app.ExportFormat) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")
		data, err := h.results.ExportResults(r.Context(), IdentityFrom(r.Context()), roomID, format)
		if err != nil {
			writeError(w, h.log, err)
			return
		}
		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="results-%s.%s"`, roomID, format))
		w.Write(data)
	}
}
