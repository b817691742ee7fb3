package registry

import (
	"sync"
)

// Client is one viewer connection. The broadcaster writes encoded events to
// Outbox; the socket writer drains it and stops when it is closed.
type Client struct {
	ID string

	mu     sync.Mutex
	closed bool
	outbox chan []byte
}

func NewClient(id string, buffer int) *Client {
	return &Client{ID: id, outbox: make(chan []byte, buffer)}
}

func (c *Client) Outbox() <-chan []byte { return c.outbox }

// TrySend never blocks. It reports false when the outbox is full or closed.
func (c *Client) TrySend(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.outbox <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.outbox)
	}
}

// Registry maps battle ids to the clients watching them. A client watches at
// most one battle.
type Registry struct {
	mu       sync.RWMutex
	battles  map[string]map[string]*Client
	byClient map[string]string
}

func New() *Registry {
	return &Registry{
		battles:  make(map[string]map[string]*Client),
		byClient: make(map[string]string),
	}
}

// Register adds c to battleID, moving it off any battle it was on. The
// returned release func removes the client from whatever battle it watches
// and closes it; it is safe to call more than once and should be deferred by
// the connection owner.
func (r *Registry) Register(battleID string, c *Client) (release func()) {
	r.mu.Lock()
	if prev, ok := r.byClient[c.ID]; ok && prev != battleID {
		r.removeLocked(prev, c.ID)
	}
	set := r.battles[battleID]
	if set == nil {
		set = make(map[string]*Client)
		r.battles[battleID] = set
	}
	set[c.ID] = c
	r.byClient[c.ID] = battleID
	r.mu.Unlock()

	return func() { r.Drop(c) }
}

// Unregister removes clientID from battleID. It is a no-op if the client has
// since moved to another battle.
func (r *Registry) Unregister(battleID, clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byClient[clientID] != battleID {
		return
	}
	r.removeLocked(battleID, clientID)
}

// Drop unregisters c from whatever battle it watches and closes its outbox.
func (r *Registry) Drop(c *Client) {
	r.mu.Lock()
	if battleID, ok := r.byClient[c.ID]; ok {
		if r.battles[battleID][c.ID] == c {
			r.removeLocked(battleID, c.ID)
		}
	}
	r.mu.Unlock()
	c.close()
}

func (r *Registry) removeLocked(battleID, clientID string) {
	delete(r.byClient, clientID)
	set := r.battles[battleID]
	delete(set, clientID)
	if len(set) == 0 {
		delete(r.battles, battleID)
	}
}

func (r *Registry) ViewerCount(battleID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.battles[battleID])
}

// Clients returns a copy of the battle's clients so callers can push without
// holding the registry lock.
func (r *Registry) Clients(battleID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.battles[battleID]
	out := make([]*Client, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// CloseBattle drops every client of battleID, e.g. after the battle is deleted.
func (r *Registry) CloseBattle(battleID string) {
	for _, c := range r.Clients(battleID) {
		r.Drop(c)
	}
}
