package throttle

import (
	"sort"
	"sync"
	"time"

	"quant-telegram/internal/types"
)

// Decision is the outcome of admitting a notification.
type Decision int

const (
	SendNow Decision = iota
	Buffered
	Suppressed
)

func (d Decision) String() string {
	switch d {
	case SendNow:
		return "send_now"
	case Buffered:
		return "buffered"
	case Suppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// Key groups notifications that share a cooldown.
type Key struct {
	Category      types.Category
	Discriminator string
}

func (k Key) String() string {
	return string(k.Category) + ":" + k.Discriminator
}

// KeyFor derives the throttle key of a notification. The second result is
// false for notifications that are never throttled.
func KeyFor(n types.Notification) (Key, bool) {
	var field string
	switch n.Category {
	case types.PriceAlert:
		field = types.FieldSymbol
	case types.PositionUpdate:
		field = types.FieldExchange
	case types.SystemAlert:
		field = types.FieldLevel
	case types.Custom:
		key, _ := n.Fields[types.FieldThrottleKey].(string)
		if key == "" {
			key = "custom"
		}
		return Key{Category: n.Category, Discriminator: key}, true
	default:
		return Key{}, false
	}

	discriminator, _ := n.Fields[field].(string)
	return Key{Category: n.Category, Discriminator: discriminator}, true
}

// Entry is a rendered notification waiting in a batch.
type Entry struct {
	Notification types.Notification
	Text         string
}

// Config bounds the memory held by a Policy.
type Config struct {
	// MaxBatchSize caps pending entries per key; further entries are suppressed.
	MaxBatchSize int
	// MaxFlushRetries is the number of failed flushes after which a batch is dropped.
	MaxFlushRetries int
	// IdleTTL is how long an idle key is kept after its last send.
	IdleTTL time.Duration
	// MaxKeys caps the number of tracked keys; idle keys are evicted first.
	MaxKeys int
}

func (c Config) withDefaults() Config {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 50
	}
	if c.MaxFlushRetries <= 0 {
		c.MaxFlushRetries = 3
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = time.Hour
	}
	if c.MaxKeys <= 0 {
		c.MaxKeys = 2000
	}
	return c
}

type state struct {
	lastSent   time.Time
	window     time.Duration
	pending    []Entry
	suppressed int
	failures   int
	inFlight   bool
}

// KeyStatus is a read-only view of one key.
type KeyStatus struct {
	Key        Key
	LastSent   time.Time
	Pending    int
	Suppressed int
	Failures   int
	InFlight   bool
}

// Policy decides per key whether a notification goes out now, waits for the
// next flush or is dropped. It is safe for concurrent use.
type Policy struct {
	mu     sync.Mutex
	cfg    Config
	states map[Key]*state
}

func NewPolicy(cfg Config) *Policy {
	return &Policy{
		cfg:    cfg.withDefaults(),
		states: make(map[Key]*state),
	}
}

// Admit records e under key and returns what to do with it. A SendNow
// decision marks the key in flight until Release is called. Emergencies
// keep no state whatever the interval.
func (p *Policy) Admit(key Key, e Entry, now time.Time, minInterval time.Duration) Decision {
	if e.Notification.Category == types.EmergencyAlert || key.Category == types.EmergencyAlert || minInterval <= 0 {
		return SendNow
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.states[key]
	if !ok {
		st = &state{}
		p.states[key] = st
	}
	st.window = minInterval

	if !st.inFlight && len(st.pending) == 0 && elapsed(st.lastSent, now, minInterval) {
		st.lastSent = now
		st.inFlight = true
		return SendNow
	}

	if len(st.pending) >= p.cfg.MaxBatchSize {
		st.suppressed++
		return Suppressed
	}

	st.pending = append(st.pending, e)
	return Buffered
}

// Release ends the in-flight send started by a SendNow decision.
func (p *Policy) Release(key Key) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if st, ok := p.states[key]; ok {
		st.inFlight = false
	}
}

// Pending returns the total number of buffered entries.
func (p *Policy) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	for _, st := range p.states {
		total += len(st.pending)
	}
	return total
}

// Len returns the number of tracked keys.
func (p *Policy) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.states)
}

// Snapshot lists all keys ordered by key name.
func (p *Policy) Snapshot() []KeyStatus {
	p.mu.Lock()
	out := make([]KeyStatus, 0, len(p.states))
	for k, st := range p.states {
		out = append(out, KeyStatus{
			Key:        k,
			LastSent:   st.lastSent,
			Pending:    len(st.pending),
			Suppressed: st.suppressed,
			Failures:   st.failures,
			InFlight:   st.inFlight,
		})
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// Evict drops idle keys: nothing pending, nothing in flight and no send
// within IdleTTL. If more than MaxKeys remain, the least recently sent idle
// keys go next. It returns the number of removed keys.
func (p *Policy) Evict(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	var idle []Key
	for k, st := range p.states {
		if st.inFlight || len(st.pending) > 0 {
			continue
		}
		if now.Sub(st.lastSent) >= p.cfg.IdleTTL {
			delete(p.states, k)
			removed++
			continue
		}
		idle = append(idle, k)
	}

	if len(p.states) <= p.cfg.MaxKeys {
		return removed
	}

	sort.Slice(idle, func(i, j int) bool {
		return p.states[idle[i]].lastSent.Before(p.states[idle[j]].lastSent)
	})
	for _, k := range idle {
		if len(p.states) <= p.cfg.MaxKeys {
			break
		}
		delete(p.states, k)
		removed++
	}
	return removed
}

func elapsed(last, now time.Time, interval time.Duration) bool {
	return last.IsZero() || now.Sub(last) >= interval
}
