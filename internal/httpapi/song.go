package httpapi

import (
	"crypto/subtle"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/DoyleJ11/battle-live-backend/internal/auth"
	"github.com/DoyleJ11/battle-live-backend/internal/battle"
	"github.com/DoyleJ11/battle-live-backend/internal/song"
)

func RequestSong(svc *battle.Service, tr *song.Tracker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Prompt    string `json:"prompt"`
			BeatStyle string `json:"beatStyle"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, r, log, err)
			return
		}
		if body.Prompt == "" {
			writeError(w, r, log, fmt.Errorf("%w: prompt is required", song.ErrInvalidPayload))
			return
		}
		id := battleID(r)
		if err := svc.Authorize(r.Context(), id); err != nil {
			writeError(w, r, log, err)
			return
		}
		job, err := tr.Request(r.Context(), id, body.Prompt, body.BeatStyle)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
	}
}

func SongStatus(svc *battle.Service, tr *song.Tracker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := svc.Caller(r.Context()); err != nil {
			writeError(w, r, log, err)
			return
		}
		taskID := r.URL.Query().Get("taskId")
		if taskID == "" {
			writeError(w, r, log, fmt.Errorf("%w: taskId is required", song.ErrInvalidPayload))
			return
		}
		job, err := tr.CheckStatus(r.Context(), battleID(r), taskID)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func CompleteSong(svc *battle.Service, tr *song.Tracker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			TaskID   string `json:"taskId"`
			AudioURL string `json:"audioUrl"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, r, log, err)
			return
		}
		id := battleID(r)
		if err := svc.Authorize(r.Context(), id); err != nil {
			writeError(w, r, log, err)
			return
		}
		job, err := tr.ManualComplete(r.Context(), id, body.TaskID, body.AudioURL)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

// SongWebhook receives provider callbacks. When secret is set the caller
// must present it in X-Webhook-Secret.
func SongWebhook(tr *song.Tracker, secret string, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Webhook-Secret")), []byte(secret)) != 1 {
			writeError(w, r, log, fmt.Errorf("%w: bad webhook secret", auth.ErrUnauthorized))
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, r, log, fmt.Errorf("%w: read body: %w", song.ErrInvalidPayload, err))
			return
		}
		applied, err := tr.HandleWebhook(r.Context(), body)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"received": true, "applied": applied})
	}
}
