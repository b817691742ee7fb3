package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/battle-live-backend/internal/battle"
	"github.com/DoyleJ11/battle-live-backend/internal/engine"
)

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", engine.ErrInvalidInput, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func battleID(r *http.Request) string { return chi.URLParam(r, "id") }

// mutation adapts a service call that returns the updated battle.
func mutation(log *zap.Logger, fn func(r *http.Request) (engine.Battle, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := fn(r)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func CreateBattle(svc *battle.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in battle.CreateInput
		if err := decodeJSON(r, &in); err != nil {
			writeError(w, r, log, err)
			return
		}
		b, err := svc.Create(r.Context(), in)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		w.Header().Set("Location", "/battles/"+b.ID)
		writeJSON(w, http.StatusCreated, b)
	}
}

func GetBattle(svc *battle.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg, err := svc.Sync(r.Context(), battleID(r))
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

func DeleteBattle(svc *battle.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Delete(r.Context(), battleID(r)); err != nil {
			writeError(w, r, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func MarkReady(svc *battle.Service, log *zap.Logger) http.HandlerFunc {
	return mutation(log, func(r *http.Request) (engine.Battle, error) {
		return svc.MarkReady(r.Context(), battleID(r))
	})
}

func StartLive(svc *battle.Service, log *zap.Logger) http.HandlerFunc {
	return mutation(log, func(r *http.Request) (engine.Battle, error) {
		return svc.StartLive(r.Context(), battleID(r))
	})
}

func StopLive(svc *battle.Service, log *zap.Logger) http.HandlerFunc {
	return mutation(log, func(r *http.Request) (engine.Battle, error) {
		return svc.StopLive(r.Context(), battleID(r))
	})
}

func AdvanceRound(svc *battle.Service, log *zap.Logger) http.HandlerFunc {
	return mutation(log, func(r *http.Request) (engine.Battle, error) {
		return svc.AdvanceRound(r.Context(), battleID(r))
	})
}

func RewindRound(svc *battle.Service, log *zap.Logger) http.HandlerFunc {
	return mutation(log, func(r *http.Request) (engine.Battle, error) {
		var body struct {
			Round int `json:"round"`
		}
		if err := decodeJSON(r, &body); err != nil {
			return engine.Battle{}, err
		}
		return svc.RewindRound(r.Context(), battleID(r), body.Round)
	})
}

func SubmitContent(svc *battle.Service, log *zap.Logger) http.HandlerFunc {
	return mutation(log, func(r *http.Request) (engine.Battle, error) {
		round, err := strconv.Atoi(chi.URLParam(r, "round"))
		if err != nil {
			return engine.Battle{}, fmt.Errorf("%w: round must be a number", engine.ErrInvalidInput)
		}
		var body struct {
			ParticipantID string `json:"participantId"`
			Content       string `json:"content"`
		}
		if err := decodeJSON(r, &body); err != nil {
			return engine.Battle{}, err
		}
		return svc.SubmitContent(r.Context(), battleID(r), round, body.ParticipantID, body.Content)
	})
}

func DeclareWinner(svc *battle.Service, log *zap.Logger) http.HandlerFunc {
	return mutation(log, func(r *http.Request) (engine.Battle, error) {
		var body struct {
			Winner string `json:"winner"`
		}
		if err := decodeJSON(r, &body); err != nil {
			return engine.Battle{}, err
		}
		return svc.DeclareWinner(r.Context(), battleID(r), body.Winner)
	})
}

type toggleBody struct {
	Enabled *bool `json:"enabled"`
}

func (t toggleBody) value() (bool, error) {
	if t.Enabled == nil {
		return false, fmt.Errorf("%w: enabled is required", engine.ErrInvalidInput)
	}
	return *t.Enabled, nil
}

func ToggleVoting(svc *battle.Service, log *zap.Logger) http.HandlerFunc {
	return mutation(log, func(r *http.Request) (engine.Battle, error) {
		var body toggleBody
		if err := decodeJSON(r, &body); err != nil {
			return engine.Battle{}, err
		}
		on, err := body.value()
		if err != nil {
			return engine.Battle{}, err
		}
		return svc.ToggleVoting(r.Context(), battleID(r), on)
	})
}

func ToggleComments(svc *battle.Service, log *zap.Logger) http.HandlerFunc {
	return mutation(log, func(r *http.Request) (engine.Battle, error) {
		var body toggleBody
		if err := decodeJSON(r, &body); err != nil {
			return engine.Battle{}, err
		}
		on, err := body.value()
		if err != nil {
			return engine.Battle{}, err
		}
		return svc.ToggleComments(r.Context(), battleID(r), on)
	})
}

func SetVisibility(svc *battle.Service, log *zap.Logger) http.HandlerFunc {
	return mutation(log, func(r *http.Request) (engine.Battle, error) {
		var body struct {
			Public *bool `json:"public"`
		}
		if err := decodeJSON(r, &body); err != nil {
			return engine.Battle{}, err
		}
		if body.Public == nil {
			return engine.Battle{}, fmt.Errorf("%w: public is required", engine.ErrInvalidInput)
		}
		return svc.SetVisibility(r.Context(), battleID(r), *body.Public)
	})
}

func CastVote(svc *battle.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Round         int    `json:"round"`
			ParticipantID string `json:"participantId"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, r, log, err)
			return
		}
		tally, err := svc.CastVote(r.Context(), battleID(r), body.Round, body.ParticipantID)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Round int          `json:"round"`
			Tally engine.Tally `json:"tally"`
		}{body.Round, tally})
	}
}

func AddComment(svc *battle.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Body string `json:"body"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, r, log, err)
			return
		}
		c, err := svc.AddComment(r.Context(), battleID(r), body.Body)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
