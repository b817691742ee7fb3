package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/battle-live-backend/internal/engine"
	"github.com/DoyleJ11/battle-live-backend/internal/store"
)

// ErrClosed is returned when the room stopped before handling a request.
// Callers should fetch a fresh room from the hub and retry.
var ErrClosed = errors.New("room closed")

// maxConflictRetries bounds re-reads after a concurrent writer (another
// process) bumped the stored version.
const maxConflictRetries = 3

type Msg interface{ isRoomMsg() }

// Mutation computes the next battle from the stored one. Returning no events
// means "nothing changed": nothing is saved or published.
type Mutation func(b engine.Battle) ([]engine.Event, engine.Battle, error)

type Exec struct {
	Ctx    context.Context
	Mutate Mutation
	Reply  chan Result
}

func (Exec) isRoomMsg() {}

type Create struct {
	Ctx    context.Context
	Battle engine.Battle
	Reply  chan Result
}

func (Create) isRoomMsg() {}

type Delete struct {
	Ctx   context.Context
	At    time.Time
	Reply chan Result
}

func (Delete) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

type Result struct {
	Battle engine.Battle
	Events []engine.Event
	Err    error
}

// Publisher fans events out to viewers.
type Publisher interface {
	PublishAll(events []engine.Event)
}

type Config struct {
	BattleID    string
	Store       store.Store
	Publisher   Publisher
	Log         *zap.Logger
	IdleTimeout time.Duration
	// OnClose runs on the room goroutine just before it exits.
	OnClose func(*Room)
}

// Room is the single writer for one battle. Every mutation runs on its
// goroutine, so transitions of the same battle never interleave while
// different battles proceed independently. A room whose battle is not in the
// store exits after replying.
type Room struct {
	id     string
	inbox  chan Msg
	done   chan struct{}
	cfg    Config
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, cfg Config) *Room {
	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		id:     cfg.BattleID,
		inbox:  make(chan Msg, 64),
		done:   make(chan struct{}),
		cfg:    cfg,
		log:    cfg.Log.With(zap.String("battle_id", cfg.BattleID)),
		ctx:    ctx,
		cancel: cancel,
	}
	go r.loop()
	return r
}

func (r *Room) ID() string { return r.id }

// Inbox exposes the room's mailbox; prefer Do for request/reply.
func (r *Room) Inbox() chan<- Msg { return r.inbox }

func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) loop() {
	defer r.exit()

	var idle <-chan time.Time
	var timer *time.Timer
	if r.cfg.IdleTimeout > 0 {
		timer = time.NewTimer(r.cfg.IdleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case <-r.ctx.Done():
			return

		case <-idle:
			r.log.Debug("room idle, closing")
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Exec:
				res := r.exec(msg.Ctx, msg.Mutate)
				msg.Reply <- res
				if errors.Is(res.Err, store.ErrNotFound) {
					return
				}

			case Create:
				msg.Reply <- r.create(msg.Ctx, msg.Battle)

			case Delete:
				res := r.delete(msg.Ctx, msg.At)
				msg.Reply <- res
				if res.Err == nil || errors.Is(res.Err, store.ErrNotFound) {
					return
				}

			case Shutdown:
				return
			}

			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(r.cfg.IdleTimeout)
			}
		}
	}
}

func (r *Room) exit() {
	if r.cfg.OnClose != nil {
		r.cfg.OnClose(r)
	}
	close(r.done)
	r.cancel()
}

func (r *Room) exec(ctx context.Context, mutate Mutation) Result {
	for attempt := 0; ; attempt++ {
		current, err := r.cfg.Store.FindByID(ctx, r.id)
		if err != nil {
			return Result{Err: err}
		}

		events, next, err := mutate(current)
		if err != nil {
			return Result{Battle: current, Err: err}
		}
		if len(events) == 0 {
			return Result{Battle: current}
		}

		saved, err := r.cfg.Store.Save(ctx, next)
		if errors.Is(err, store.ErrConflict) && attempt < maxConflictRetries {
			r.log.Warn("version conflict, retrying", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		if err != nil {
			return Result{Battle: current, Err: fmt.Errorf("save battle: %w", err)}
		}

		// Re-stamp with the saved record so the snapshot carries the stored
		// version and updatedAt.
		events = engine.Stamp(events, saved, events[0].EventMeta().At)
		r.cfg.Publisher.PublishAll(events)
		return Result{Battle: saved, Events: events}
	}
}

func (r *Room) create(ctx context.Context, b engine.Battle) Result {
	b.ID = r.id
	saved, err := r.cfg.Store.Save(ctx, b)
	if err != nil {
		return Result{Err: fmt.Errorf("create battle: %w", err)}
	}
	return Result{Battle: saved}
}

func (r *Room) delete(ctx context.Context, at time.Time) Result {
	current, err := r.cfg.Store.FindByID(ctx, r.id)
	if err != nil {
		return Result{Err: err}
	}
	if err := r.cfg.Store.Delete(ctx, r.id); err != nil {
		return Result{Err: fmt.Errorf("delete battle: %w", err)}
	}
	events := engine.Stamp([]engine.Event{engine.BattleDeleted{}}, current, at)
	r.cfg.Publisher.PublishAll(events)
	return Result{Battle: current, Events: events}
}

// Do sends msg built around a fresh reply channel and waits for the result.
// It returns ErrClosed if the room stops first and ctx.Err() if the caller
// gives up; in the latter case the mutation may still be applied.
func (r *Room) Do(ctx context.Context, mutate Mutation) Result {
	reply := make(chan Result, 1)
	return r.roundTrip(ctx, Exec{Ctx: ctx, Mutate: mutate, Reply: reply}, reply)
}

func (r *Room) Create(ctx context.Context, b engine.Battle) Result {
	reply := make(chan Result, 1)
	return r.roundTrip(ctx, Create{Ctx: ctx, Battle: b, Reply: reply}, reply)
}

func (r *Room) Delete(ctx context.Context, at time.Time) Result {
	reply := make(chan Result, 1)
	return r.roundTrip(ctx, Delete{Ctx: ctx, At: at, Reply: reply}, reply)
}

func (r *Room) roundTrip(ctx context.Context, msg Msg, reply chan Result) Result {
	select {
	case r.inbox <- msg:
	case <-r.done:
		return Result{Err: ErrClosed}
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	}

	select {
	case res := <-reply:
		return res
	case <-r.done:
		// The room may have replied right before exiting.
		select {
		case res := <-reply:
			return res
		default:
			return Result{Err: ErrClosed}
		}
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	}
}

// Close stops the room without waiting for queued messages.
func (r *Room) Close() { r.cancel() }
