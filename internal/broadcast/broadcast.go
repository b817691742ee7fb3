package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/battle-live-backend/internal/engine"
	"github.com/DoyleJ11/battle-live-backend/internal/registry"
	"github.com/DoyleJ11/battle-live-backend/internal/store"
	"github.com/DoyleJ11/battle-live-backend/internal/types"
)

var ErrSlowClient = errors.New("client outbox full")

// Broadcaster relays events to the registry's clients. It holds no battle
// state of its own.
type Broadcaster struct {
	reg   *registry.Registry
	store store.Store
	log   *zap.Logger
	now   func() time.Time
}

func New(reg *registry.Registry, s store.Store, log *zap.Logger) *Broadcaster {
	return &Broadcaster{reg: reg, store: s, log: log, now: time.Now}
}

// Publish encodes ev once and offers it to every client of its battle. A
// client whose outbox is full is dropped; its socket closes and the viewer
// resyncs on reconnect. It returns how many clients accepted the message.
func (b *Broadcaster) Publish(ev engine.Event) int {
	battleID := ev.EventMeta().BattleID
	msg, err := types.FromEvent(ev)
	if err != nil {
		b.log.Error("encode event", zap.String("battle_id", battleID), zap.Error(err))
		return 0
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		b.log.Error("marshal event", zap.String("battle_id", battleID), zap.String("type", msg.Type), zap.Error(err))
		return 0
	}

	delivered := 0
	var errs error
	for _, c := range b.reg.Clients(battleID) {
		if c.TrySend(payload) {
			delivered++
			continue
		}
		b.reg.Drop(c)
		errs = multierr.Append(errs, fmt.Errorf("client %s: %w", c.ID, ErrSlowClient))
	}
	if errs != nil {
		b.log.Warn("dropped viewers during publish",
			zap.String("battle_id", battleID),
			zap.String("type", msg.Type),
			zap.Int("dropped", len(multierr.Errors(errs))),
			zap.Error(errs))
	}
	b.log.Debug("published",
		zap.String("battle_id", battleID),
		zap.String("type", msg.Type),
		zap.Int("delivered", delivered))
	return delivered
}

func (b *Broadcaster) PublishAll(events []engine.Event) {
	for _, ev := range events {
		b.Publish(ev)
	}
}

// SyncState is the pull path used on connect, on reconnect and as a periodic
// backstop when pushes were missed.
func (b *Broadcaster) SyncState(ctx context.Context, battleID string) (types.ServerMessage, error) {
	battle, err := b.store.FindByID(ctx, battleID)
	if err != nil {
		return types.ServerMessage{}, err
	}
	return types.SyncMessage(battle, b.reg.ViewerCount(battleID), b.now().UTC()), nil
}

func (b *Broadcaster) ViewerCount(battleID string) int {
	return b.reg.ViewerCount(battleID)
}
