package jobs

import (
	"encoding/json"
	"sync"
	"time"
)

// repeatSchedule is one recurring job registration.
type repeatSchedule struct {
	queue   string
	name    string
	payload json.RawMessage
	every   time.Duration
	opts    Options
	nextAt  time.Time
}

// repeatRegistry holds the process's repeatable registrations. Schedules are
// re-registered on every start, so the registry deduplicates by (queue, job
// name): adding removes any existing registration first, keeping the net
// count at one no matter how often scheduling runs.
type repeatRegistry struct {
	mu      sync.Mutex
	entries map[string]*repeatSchedule
}

func newRepeatRegistry() *repeatRegistry {
	return &repeatRegistry{entries: make(map[string]*repeatSchedule)}
}

func repeatKey(queue, name string) string {
	return queue + "/" + name
}

// add registers a schedule, replacing any prior one with the same name.
func (r *repeatRegistry) add(s *repeatSchedule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := repeatKey(s.queue, s.name)
	delete(r.entries, key)
	r.entries[key] = s
}

// remove drops a schedule.
func (r *repeatRegistry) remove(queue, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, repeatKey(queue, name))
}

// countForQueue reports how many schedules exist for the queue.
func (r *repeatRegistry) countForQueue(queue string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.entries {
		if s.queue == queue {
			n++
		}
	}
	return n
}

// due returns the queue's schedules whose next fire time has arrived,
// advancing each one by its period.
func (r *repeatRegistry) due(queue string, now time.Time) []*repeatSchedule {
	r.mu.Lock()
	defer r.mu.Unlock()
	var fired []*repeatSchedule
	for _, s := range r.entries {
		if s.queue != queue {
			continue
		}
		if !s.nextAt.After(now) {
			fired = append(fired, s)
			s.nextAt = now.Add(s.every)
		}
	}
	return fired
}
