package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/battle-live-backend/internal/auth"
	"github.com/DoyleJ11/battle-live-backend/internal/registry"
	"github.com/DoyleJ11/battle-live-backend/internal/store"
	"github.com/DoyleJ11/battle-live-backend/internal/types"
)

// Syncer returns the authoritative snapshot of a battle.
type Syncer interface {
	SyncState(ctx context.Context, battleID string) (types.ServerMessage, error)
}

type Config struct {
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	OutboxSize     int
	OriginPatterns []string
}

func (c Config) withDefaults() Config {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 3 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = 32
	}
	return c
}

func Handler(reg *registry.Registry, sync Syncer, cfg Config, log *zap.Logger) http.HandlerFunc {
	cfg = cfg.withDefaults()
	return func(w http.ResponseWriter, r *http.Request) {
		battleID := r.URL.Query().Get("battle")
		if battleID == "" {
			http.Error(w, "missing battle", http.StatusBadRequest)
			return
		}
		if _, err := sync.SyncState(r.Context(), battleID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, "battle not found", http.StatusNotFound)
				return
			}
			log.Error("ws sync before accept", zap.String("battle_id", battleID), zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: cfg.OriginPatterns})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		c := registry.NewClient(uuid.NewString(), cfg.OutboxSize)
		release := reg.Register(battleID, c)
		defer release()

		clog := log.With(zap.String("client_id", c.ID), zap.String("battle_id", battleID))
		if id, ok := auth.IdentityFrom(r.Context()); ok {
			clog = clog.With(zap.String("user_id", id.UserID))
		}
		clog.Debug("viewer connected")
		defer clog.Debug("viewer disconnected")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		s := &session{conn: conn, reg: reg, client: c, sync: sync, battleID: battleID, log: clog}
		// Registered first, so anything published after this snapshot is
		// already queued behind it.
		s.pushSync(ctx)

		go s.writeLoop(ctx, cancel, cfg.WriteTimeout)
		go s.heartbeat(ctx, cancel, cfg.PingInterval, cfg.WriteTimeout)
		s.readLoop(ctx)
	}
}

type session struct {
	conn     *websocket.Conn
	reg      *registry.Registry
	client   *registry.Client
	sync     Syncer
	battleID string
	log      *zap.Logger
}

// writeLoop is the only goroutine writing data frames. A closed outbox
// means the registry dropped this viewer; the client is told to reconnect
// and resync.
func (s *session) writeLoop(ctx context.Context, cancel context.CancelFunc, timeout time.Duration) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.client.Outbox():
			if !ok {
				_ = s.conn.Close(websocket.StatusTryAgainLater, "resync required")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, timeout)
			err := s.conn.Write(wctx, websocket.MessageText, msg)
			wcancel()
			if err != nil {
				s.log.Debug("write failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *session) heartbeat(ctx context.Context, cancel context.CancelFunc, every, timeout time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, pcancel := context.WithTimeout(ctx, timeout)
			err := s.conn.Ping(pctx)
			pcancel()
			if err != nil {
				s.log.Debug("ping failed", zap.Error(err))
				cancel()
				return
			}
		}
	}
}

func (s *session) readLoop(ctx context.Context) {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					s.log.Debug("read failed", zap.Error(err))
				}
			}
			return
		}

		var cm types.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			s.send(types.ErrorMessage("bad json"))
			continue
		}

		switch cm.Type {
		case "sync":
			s.pushSync(ctx)
		case "subscribe":
			s.subscribe(ctx, cm.BattleID)
		case "ping":
			s.send(types.ServerMessage{Type: types.MsgPong, BattleID: s.battleID, At: time.Now().UTC()})
		default:
			s.send(types.ErrorMessage("unknown type"))
		}
	}
}

// subscribe moves the connection to another battle.
func (s *session) subscribe(ctx context.Context, battleID string) {
	if battleID == "" {
		s.send(types.ErrorMessage("missing battleId"))
		return
	}
	if _, err := s.sync.SyncState(ctx, battleID); err != nil {
		s.send(types.ErrorMessage("battle not found"))
		return
	}
	s.reg.Register(battleID, s.client)
	s.log.Debug("viewer moved", zap.String("to_battle_id", battleID))
	s.battleID = battleID
	s.pushSync(ctx)
}

func (s *session) pushSync(ctx context.Context) {
	msg, err := s.sync.SyncState(ctx, s.battleID)
	if err != nil {
		s.log.Warn("sync failed", zap.Error(err))
		s.send(types.ErrorMessage("sync failed"))
		return
	}
	s.send(msg)
}

// send queues msg behind any pending broadcasts. A viewer too slow to take
// its own replies is dropped like any other slow viewer.
func (s *session) send(msg types.ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("marshal", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	if !s.client.TrySend(payload) {
		s.reg.Drop(s.client)
	}
}
