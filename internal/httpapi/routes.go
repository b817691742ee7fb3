package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/battle-live-backend/internal/auth"
	"github.com/DoyleJ11/battle-live-backend/internal/battle"
	"github.com/DoyleJ11/battle-live-backend/internal/song"
)

type Deps struct {
	Battles       *battle.Service
	Songs         *song.Tracker
	Auth          *auth.JWT
	Live          http.Handler
	Log           *zap.Logger
	WebhookSecret string
	MaxBodyBytes  int64
	// Ready reports whether backing services are reachable; nil means always.
	Ready func(ctx context.Context) error
}

func SetupRoutes(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog(d.Log))
	r.Use(middleware.Recoverer)

	limit := func(next http.Handler) http.Handler { return next }
	if d.MaxBodyBytes > 0 {
		limit = middleware.RequestSize(d.MaxBodyBytes)
	}

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/readyz", Readyz(d.Ready, d.Log))
	r.With(limit).Post("/webhooks/song", SongWebhook(d.Songs, d.WebhookSecret, d.Log))

	r.Group(func(r chi.Router) {
		r.Use(d.Auth.Middleware(func(w http.ResponseWriter, r *http.Request, err error) {
			writeError(w, r, d.Log, err)
		}))

		r.Get("/ws", d.Live.ServeHTTP)

		r.Route("/battles", func(r chi.Router) {
			r.Use(limit)
			r.Use(middleware.Timeout(30 * time.Second))

			r.Post("/", CreateBattle(d.Battles, d.Log))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", GetBattle(d.Battles, d.Log))
				r.Get("/sync", GetBattle(d.Battles, d.Log))
				r.Delete("/", DeleteBattle(d.Battles, d.Log))

				r.Post("/ready", MarkReady(d.Battles, d.Log))
				r.Post("/live/start", StartLive(d.Battles, d.Log))
				r.Post("/live/stop", StopLive(d.Battles, d.Log))
				r.Post("/rounds/advance", AdvanceRound(d.Battles, d.Log))
				r.Post("/rounds/rewind", RewindRound(d.Battles, d.Log))
				r.Post("/rounds/{round}/content", SubmitContent(d.Battles, d.Log))
				r.Post("/votes", CastVote(d.Battles, d.Log))
				r.Post("/comments", AddComment(d.Battles, d.Log))
				r.Post("/winner", DeclareWinner(d.Battles, d.Log))
				r.Put("/voting", ToggleVoting(d.Battles, d.Log))
				r.Put("/comments", ToggleComments(d.Battles, d.Log))
				r.Put("/visibility", SetVisibility(d.Battles, d.Log))

				r.Post("/song", RequestSong(d.Battles, d.Songs, d.Log))
				r.Get("/song/status", SongStatus(d.Battles, d.Songs, d.Log))
				r.Post("/song/complete", CompleteSong(d.Battles, d.Songs, d.Log))
			})
		})
	})
	return r
}

func Readyz(ready func(ctx context.Context) error, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				log.Warn("not ready", zap.Error(err))
				writeProblem(w, r, http.StatusServiceUnavailable, "not ready", "store not reachable")
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
