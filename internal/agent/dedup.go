package agent

import "sync"

const (
	dedupCapacity = 1000
	dedupEvict    = 500
)

// dedupSet tracks recently processed message keys in insertion order.
// When it grows past capacity the oldest half is evicted so re-delivery
// of recent messages still hits the set.
type dedupSet struct {
	mu   sync.Mutex
	keys map[string]struct{}
	// order preserves insertion order for FIFO eviction.
	order []string
}

func newDedupSet() *dedupSet {
	return &dedupSet{keys: map[string]struct{}{}}
}

// Add records the key and reports whether it was new.
func (d *dedupSet) Add(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, seen := d.keys[key]; seen {
		return false
	}
	d.keys[key] = struct{}{}
	d.order = append(d.order, key)

	if len(d.order) > dedupCapacity {
		for _, old := range d.order[:dedupEvict] {
			delete(d.keys, old)
		}
		d.order = append([]string(nil), d.order[dedupEvict:]...)
	}
	return true
}

func (d *dedupSet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}
