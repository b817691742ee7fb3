package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/battle-live-backend/internal/auth"
	"github.com/DoyleJ11/battle-live-backend/internal/engine"
	"github.com/DoyleJ11/battle-live-backend/internal/song"
	"github.com/DoyleJ11/battle-live-backend/internal/store"
)

type Problem struct {
	Type     string `json:"type,omitempty"`
	Title    string `json:"title,omitempty"`
	Status   int    `json:"status,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	})
}

var statusByError = []struct {
	err    error
	status int
	title  string
}{
	{auth.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{auth.ErrForbidden, http.StatusForbidden, "forbidden"},
	{store.ErrNotFound, http.StatusNotFound, "not found"},
	{engine.ErrInvalidTransition, http.StatusBadRequest, "invalid transition"},
	{engine.ErrInvalidInput, http.StatusBadRequest, "invalid input"},
	{engine.ErrUnsupportedCommand, http.StatusBadRequest, "unsupported command"},
	{engine.ErrVotingClosed, http.StatusConflict, "voting closed"},
	{engine.ErrCommentsClosed, http.StatusConflict, "comments closed"},
	{engine.ErrOutOfSequence, http.StatusConflict, "out of sequence"},
	{song.ErrTaskMismatch, http.StatusBadRequest, "task mismatch"},
	{song.ErrInvalidPayload, http.StatusBadRequest, "invalid payload"},
	{song.ErrNoJob, http.StatusNotFound, "no song job"},
	{song.ErrJobInFlight, http.StatusConflict, "song job in flight"},
	{song.ErrProviderUnavailable, http.StatusServiceUnavailable, "provider unavailable"},
	{store.ErrConflict, http.StatusConflict, "conflict"},
}

// writeError maps domain errors onto problem responses. Anything unmapped is
// logged and reported as a bare 500.
func writeError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeProblem(w, r, http.StatusRequestEntityTooLarge, "payload too large", err.Error())
		return
	}
	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			writeProblem(w, r, m.status, m.title, err.Error())
			return
		}
	}
	log.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err))
	writeProblem(w, r, http.StatusInternalServerError, "internal error", "")
}
