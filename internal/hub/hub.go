package hub

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/battle-live-backend/internal/engine"
	"github.com/DoyleJ11/battle-live-backend/internal/room"
	"github.com/DoyleJ11/battle-live-backend/internal/store"
)

type HubMsg interface{ isHubMsg() }

type EnsureRoom struct {
	BattleID string
	Reply    chan *room.Room
}

type GetRoom struct {
	BattleID string
	Reply    chan *room.Room
}

// RemoveRoom is sent by a room as it exits. It only removes the entry if it
// still points at that room.
type RemoveRoom struct {
	Room *room.Room
}

type CountRooms struct {
	Reply chan int
}

type ShutdownHub struct{}

func (EnsureRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (RemoveRoom) isHubMsg()  {}
func (CountRooms) isHubMsg()  {}
func (ShutdownHub) isHubMsg() {}

type Config struct {
	Store       store.Store
	Publisher   room.Publisher
	Log         *zap.Logger
	IdleTimeout time.Duration
}

// Hub owns the battle id -> room map. Rooms are created on first use and
// removed when they go idle or their battle is deleted.
type Hub struct {
	inbox  chan HubMsg
	rooms  map[string]*room.Room
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context, cfg Config) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*room.Room),
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case EnsureRoom:
				if r := h.rooms[msg.BattleID]; r != nil {
					msg.Reply <- r
					break
				}
				r := room.New(h.ctx, room.Config{
					BattleID:    msg.BattleID,
					Store:       h.cfg.Store,
					Publisher:   h.cfg.Publisher,
					Log:         h.cfg.Log,
					IdleTimeout: h.cfg.IdleTimeout,
					OnClose:     h.onRoomClosed,
				})
				h.rooms[msg.BattleID] = r
				msg.Reply <- r

			case GetRoom:
				msg.Reply <- h.rooms[msg.BattleID] // May be nil

			case RemoveRoom:
				if h.rooms[msg.Room.ID()] == msg.Room {
					delete(h.rooms, msg.Room.ID())
				}

			case CountRooms:
				msg.Reply <- len(h.rooms)

			case ShutdownHub:
				h.shutdown()
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) onRoomClosed(r *room.Room) {
	select {
	case h.inbox <- RemoveRoom{Room: r}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) shutdown() {
	for _, r := range h.rooms {
		r.Close()
	}
	clear(h.rooms)
}

// Room returns the room for battleID, creating it if needed.
func (h *Hub) Room(ctx context.Context, battleID string) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	select {
	case h.inbox <- EnsureRoom{BattleID: battleID, Reply: reply}:
	case <-h.ctx.Done():
		return nil, room.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do runs mutate in the battle's room. A room that went idle between lookup
// and delivery is replaced and the call retried.
func (h *Hub) Do(ctx context.Context, battleID string, mutate room.Mutation) room.Result {
	return h.withRoom(ctx, battleID, func(r *room.Room) room.Result { return r.Do(ctx, mutate) })
}

func (h *Hub) Create(ctx context.Context, battleID string, b engine.Battle) room.Result {
	return h.withRoom(ctx, battleID, func(r *room.Room) room.Result { return r.Create(ctx, b) })
}

func (h *Hub) Delete(ctx context.Context, battleID string, at time.Time) room.Result {
	return h.withRoom(ctx, battleID, func(r *room.Room) room.Result { return r.Delete(ctx, at) })
}

func (h *Hub) withRoom(ctx context.Context, battleID string, fn func(*room.Room) room.Result) room.Result {
	for attempt := 0; ; attempt++ {
		r, err := h.Room(ctx, battleID)
		if err != nil {
			return room.Result{Err: err}
		}
		res := fn(r)
		if errors.Is(res.Err, room.ErrClosed) && attempt < 2 {
			continue
		}
		return res
	}
}

func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.ctx.Done():
	}
}
