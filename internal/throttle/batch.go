package throttle

import (
	"sort"
	"time"
)

// Batch is the set of entries taken from one key for a single flush send.
type Batch struct {
	Key        Key
	Entries    []Entry
	Suppressed int
	Window     time.Duration
	// Attempt starts at 1 and grows with every failed flush of the same entries.
	Attempt int
}

// Due takes the pending entries of every key whose cooldown has elapsed and
// marks those keys in flight. With force set the cooldown is ignored, which
// is used for the final flush on shutdown. Batches are ordered by key name.
func (p *Policy) Due(now time.Time, force bool) []Batch {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Batch
	for k, st := range p.states {
		if st.inFlight || len(st.pending) == 0 {
			continue
		}
		if !force && !elapsed(st.lastSent, now, st.window) {
			continue
		}

		out = append(out, Batch{
			Key:        k,
			Entries:    st.pending,
			Suppressed: st.suppressed,
			Window:     st.window,
			Attempt:    st.failures + 1,
		})
		st.pending = nil
		st.suppressed = 0
		st.inFlight = true
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// Complete reports the outcome of a flush send. On failure the entries are
// put back in front of anything buffered meanwhile, unless the batch has
// now failed MaxFlushRetries times, in which case it is dropped and true is
// returned.
func (p *Policy) Complete(b Batch, sendErr error, now time.Time) (dropped bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.states[b.Key]
	if !ok {
		st = &state{window: b.Window}
		p.states[b.Key] = st
	}
	st.inFlight = false

	if sendErr == nil {
		st.lastSent = now
		st.failures = 0
		return false
	}

	st.failures++
	if st.failures >= p.cfg.MaxFlushRetries {
		st.failures = 0
		return true
	}

	merged := make([]Entry, 0, len(b.Entries)+len(st.pending))
	merged = append(merged, b.Entries...)
	merged = append(merged, st.pending...)
	if overflow := len(merged) - p.cfg.MaxBatchSize; overflow > 0 {
		merged = merged[:p.cfg.MaxBatchSize]
		st.suppressed += overflow
	}
	st.pending = merged
	st.suppressed += b.Suppressed
	return false
}
