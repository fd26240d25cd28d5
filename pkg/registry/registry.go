package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/fanout/pkg/aggregate"
	"github.com/cuemby/fanout/pkg/metrics"
)

// ErrOverloaded is returned by Insert when the registry already tracks the
// maximum number of in-flight cluster requests
var ErrOverloaded = errors.New("too many outstanding cluster requests")

// Registry is the process-wide map from request ID to aggregator. The
// capacity check and insert are atomic, so the in-flight count can never
// exceed the configured maximum.
type Registry struct {
	mu            sync.Mutex
	entries       map[string]*aggregate.Aggregator
	maxConcurrent int
}

// New creates a registry capped at maxConcurrent live entries
func New(maxConcurrent int) *Registry {
	return &Registry{
		entries:       make(map[string]*aggregate.Aggregator),
		maxConcurrent: maxConcurrent,
	}
}

// Insert registers an aggregator under its request ID. Fails with
// ErrOverloaded at capacity.
func (r *Registry) Insert(requestID string, agg *aggregate.Aggregator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) >= r.maxConcurrent {
		return fmt.Errorf("%w: %d outstanding requests", ErrOverloaded, len(r.entries))
	}

	r.entries[requestID] = agg
	metrics.RequestsInFlight.Set(float64(len(r.entries)))
	return nil
}

// Lookup returns the aggregator for a request ID, or nil when unknown
// (never inserted, consumed, or swept)
func (r *Registry) Lookup(requestID string) *aggregate.Aggregator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[requestID]
}

// Remove deletes and returns the entry for a request ID, or nil
func (r *Registry) Remove(requestID string) *aggregate.Aggregator {
	r.mu.Lock()
	defer r.mu.Unlock()

	agg, ok := r.entries[requestID]
	if !ok {
		return nil
	}
	delete(r.entries, requestID)
	metrics.RequestsInFlight.Set(float64(len(r.entries)))
	return agg
}

// Size returns the number of live entries
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// SweepExpired returns the aggregators that are complete and older than
// age. The entries stay registered; callers release each aggregator, whose
// consume hook removes its entry, so hooks keep exactly-once semantics.
func (r *Registry) SweepExpired(age time.Duration) []*aggregate.Aggregator {
	r.mu.Lock()
	var expired []*aggregate.Aggregator
	for _, agg := range r.entries {
		if agg.IsComplete() && agg.IsOlderThan(age) {
			expired = append(expired, agg)
		}
	}
	r.mu.Unlock()
	return expired
}
