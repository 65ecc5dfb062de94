// Package notice tracks per-entity warning state so a persistent failure is
// reported once per episode instead of once per cycle.
package notice

import "sync"

// State of one tracked entity. An entity absent from the map is Unreported;
// resolving deletes it, so a later failure starts a fresh episode.
type State int

const (
	Unreported State = iota
	Reported
)

type Tracker struct {
	mu     sync.Mutex
	states map[string]State
}

func NewTracker() *Tracker {
	return &Tracker{states: map[string]State{}}
}

// Report marks the key's condition as reported. Returns true only on the
// first report of an episode; the caller logs iff true.
func (t *Tracker) Report(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.states[key] == Reported {
		return false
	}
	t.states[key] = Reported
	return true
}

// Resolve clears a reported condition. Returns true if the key had been
// reported, so the caller can emit a one-time recovery notice.
func (t *Tracker) Resolve(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.states[key] != Reported {
		return false
	}
	delete(t.states, key)
	return true
}

// Forget drops a key without signalling recovery; used when the entity itself
// disappears (a closed position, a removed rule).
func (t *Tracker) Forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, key)
}

// Keys lists entities currently in a reported episode; callers use it to
// forget entities that have gone away.
func (t *Tracker) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.states))
	for k := range t.states {
		keys = append(keys, k)
	}
	return keys
}

// Active reports whether the key is in a reported episode.
func (t *Tracker) Active(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[key] == Reported
}
