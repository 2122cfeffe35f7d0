package behavior

import "sync"

// ownership hands out one token per agent id. Holding the token is the only
// way to mutate that agent's behavior state.
type ownership struct {
	mu     sync.Mutex
	tokens map[string]*token
}

type token struct {
	mu      sync.Mutex
	waiters int
}

func newOwnership() *ownership {
	return &ownership{tokens: make(map[string]*token)}
}

// acquire blocks until the caller owns agentID and returns the release func.
// Tokens nobody holds or waits for are dropped so the map stays small.
func (o *ownership) acquire(agentID string) func() {
	o.mu.Lock()
	t, ok := o.tokens[agentID]
	if !ok {
		t = &token{}
		o.tokens[agentID] = t
	}
	t.waiters++
	o.mu.Unlock()

	t.mu.Lock()
	return func() {
		t.mu.Unlock()
		o.mu.Lock()
		t.waiters--
		if t.waiters == 0 {
			delete(o.tokens, agentID)
		}
		o.mu.Unlock()
	}
}
