package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/battle-live-backend/internal/engine"
	"github.com/DoyleJ11/battle-live-backend/internal/store"
	"github.com/DoyleJ11/battle-live-backend/internal/store/memstore"
)

var t0 = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []engine.Event
}

func (r *recorder) PublishAll(events []engine.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// conflictOnce fails the first Save with ErrConflict.
type conflictOnce struct {
	store.Store
	mu    sync.Mutex
	fired bool
}

func (c *conflictOnce) Save(ctx context.Context, b engine.Battle) (engine.Battle, error) {
	c.mu.Lock()
	fire := !c.fired
	c.fired = true
	c.mu.Unlock()
	if fire {
		return engine.Battle{}, store.ErrConflict
	}
	return c.Store.Save(ctx, b)
}

func seed(t *testing.T, s store.Store, status engine.Status) {
	t.Helper()
	b := engine.NewBattle("b1", "Clash", "p1", "p2", "owner", t0)
	b.Status = status
	if _, err := s.Save(context.Background(), b); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func startLive(b engine.Battle) ([]engine.Event, engine.Battle, error) {
	return engine.Apply(b, engine.Command{Type: engine.CmdStartLive, At: t0})
}

func newRoom(t *testing.T, s store.Store, pub Publisher, idle time.Duration) *Room {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, Config{BattleID: "b1", Store: s, Publisher: pub, Log: zap.NewNop(), IdleTimeout: idle})
}

func TestRoom_Exec_PersistsThenPublishes(t *testing.T) {
	s := memstore.New()
	seed(t, s, engine.StatusPaused)
	pub := &recorder{}
	r := newRoom(t, s, pub, 0)

	res := r.Do(context.Background(), startLive)
	if res.Err != nil {
		t.Fatalf("unexpected err %v", res.Err)
	}
	if !res.Battle.IsLive || res.Battle.Version != 2 {
		t.Fatalf("want saved live battle at version 2, got live=%v version=%d", res.Battle.IsLive, res.Battle.Version)
	}

	stored, _ := s.FindByID(context.Background(), "b1")
	if !stored.IsLive {
		t.Fatalf("mutation not persisted")
	}
	if pub.count() != 1 {
		t.Fatalf("want 1 published event, got %d", pub.count())
	}
	if snap := pub.events[0].EventMeta().Battle; snap.Version != stored.Version {
		t.Fatalf("event snapshot version %d, stored %d", snap.Version, stored.Version)
	}
}

func TestRoom_RejectedMutationLeavesNoTrace(t *testing.T) {
	s := memstore.New()
	seed(t, s, engine.StatusDraft)
	pub := &recorder{}
	r := newRoom(t, s, pub, 0)

	res := r.Do(context.Background(), startLive)
	if !errors.Is(res.Err, engine.ErrInvalidTransition) {
		t.Fatalf("want ErrInvalidTransition, got %v", res.Err)
	}
	stored, _ := s.FindByID(context.Background(), "b1")
	if stored.Version != 1 || pub.count() != 0 {
		t.Fatalf("rejected mutation changed state: version=%d published=%d", stored.Version, pub.count())
	}
}

func TestRoom_NoopMutationIsNotSaved(t *testing.T) {
	s := memstore.New()
	seed(t, s, engine.StatusLive)
	pub := &recorder{}
	r := newRoom(t, s, pub, 0)

	res := r.Do(context.Background(), func(b engine.Battle) ([]engine.Event, engine.Battle, error) {
		return engine.Apply(b, engine.Command{Type: engine.CmdToggleComments, Enabled: true, At: t0})
	})
	if res.Err != nil || len(res.Events) != 0 {
		t.Fatalf("want silent no-op, got err=%v events=%d", res.Err, len(res.Events))
	}
	if res.Battle.Version != 1 || pub.count() != 0 {
		t.Fatalf("no-op saved or published")
	}
}

func TestRoom_ConcurrentStartLive_OnlyOneSucceeds(t *testing.T) {
	s := memstore.New()
	seed(t, s, engine.StatusPaused)
	pub := &recorder{}
	r := newRoom(t, s, pub, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes, invalid := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := r.Do(context.Background(), startLive)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case res.Err == nil:
				successes++
			case errors.Is(res.Err, engine.ErrInvalidTransition):
				invalid++
			}
		}()
	}
	wg.Wait()

	if successes != 1 || invalid != 19 {
		t.Fatalf("want 1 success and 19 invalid transitions, got %d and %d", successes, invalid)
	}
}

func TestRoom_RetriesOnVersionConflict(t *testing.T) {
	mem := memstore.New()
	seed(t, mem, engine.StatusPaused)
	pub := &recorder{}
	r := newRoom(t, &conflictOnce{Store: mem}, pub, 0)

	res := r.Do(context.Background(), startLive)
	if res.Err != nil {
		t.Fatalf("unexpected err %v", res.Err)
	}
	if pub.count() != 1 {
		t.Fatalf("want exactly one publish after retry, got %d", pub.count())
	}
}

func TestRoom_DeletePublishesAndCloses(t *testing.T) {
	s := memstore.New()
	seed(t, s, engine.StatusLive)
	pub := &recorder{}
	r := newRoom(t, s, pub, 0)

	res := r.Delete(context.Background(), t0)
	if res.Err != nil {
		t.Fatalf("unexpected err %v", res.Err)
	}
	if !engine.ContainsEvent[engine.BattleDeleted](pub.events) {
		t.Fatalf("expected BattleDeleted")
	}

	select {
	case <-r.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("room did not close after delete")
	}

	if res := r.Do(context.Background(), startLive); !errors.Is(res.Err, ErrClosed) {
		t.Fatalf("want ErrClosed after delete, got %v", res.Err)
	}
}

func TestRoom_IdleTimeoutCloses(t *testing.T) {
	s := memstore.New()
	seed(t, s, engine.StatusPaused)
	closed := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(ctx, Config{
		BattleID:    "b1",
		Store:       s,
		Publisher:   &recorder{},
		Log:         zap.NewNop(),
		IdleTimeout: 50 * time.Millisecond,
		OnClose:     func(*Room) { close(closed) },
	})

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatalf("idle room never closed")
	}
	<-r.Done()
}

func TestRoom_MissingBattleClosesAfterReply(t *testing.T) {
	pub := &recorder{}
	r := newRoom(t, memstore.New(), pub, time.Minute)

	if res := r.Do(context.Background(), startLive); !errors.Is(res.Err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", res.Err)
	}
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatalf("room for a missing battle stayed open")
	}
	if pub.count() != 0 {
		t.Fatalf("published %d events for a missing battle", pub.count())
	}
}
