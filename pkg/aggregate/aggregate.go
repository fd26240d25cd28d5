package aggregate

import (
	"errors"
	"sync"
	"time"

	"github.com/cuemby/fanout/pkg/log"
	"github.com/cuemby/fanout/pkg/merge"
	"github.com/cuemby/fanout/pkg/nodeclient"
	"github.com/cuemby/fanout/pkg/types"
)

// ErrIncomplete is returned by Consume while node responses are still
// outstanding
var ErrIncomplete = errors.New("cluster request is not yet complete")

// CompletionHook runs once when the last node response arrives or a fatal
// error is recorded
type CompletionHook func(*Aggregator)

// ConsumeHook runs once when the aggregator is consumed or reclaimed
type ConsumeHook func(*Aggregator)

// Aggregator collects the per-node responses of one cluster request, knows
// when the set is complete, and lazily merges it into the caller-visible
// payload on first consumption. Safe for concurrent use by the worker pool
// and a polling caller.
type Aggregator struct {
	mu sync.Mutex

	requestID string
	method    string
	uriPath   string

	expected map[string]types.Node
	received map[string]*nodeclient.Response

	createdAt   time.Time
	completedAt time.Time

	merger merge.Func
	merged *merge.Result
	fatal  error

	consumed bool
	done     chan struct{}

	onComplete CompletionHook
	onConsume  ConsumeHook
}

// New creates an aggregator expecting one response from each target node
func New(requestID, method, uriPath string, targets []types.Node, merger merge.Func,
	onComplete CompletionHook, onConsume ConsumeHook) *Aggregator {

	expected := make(map[string]types.Node, len(targets))
	for _, n := range targets {
		expected[n.ID] = n
	}

	return &Aggregator{
		requestID:  requestID,
		method:     method,
		uriPath:    uriPath,
		expected:   expected,
		received:   make(map[string]*nodeclient.Response, len(targets)),
		createdAt:  time.Now(),
		merger:     merger,
		done:       make(chan struct{}),
		onComplete: onComplete,
		onConsume:  onConsume,
	}
}

// RequestID returns the cluster request identifier
func (a *Aggregator) RequestID() string { return a.requestID }

// Method returns the replicated HTTP method
func (a *Aggregator) Method() string { return a.method }

// URIPath returns the replicated URI path
func (a *Aggregator) URIPath() string { return a.uriPath }

// Nodes returns the target node set
func (a *Aggregator) Nodes() []types.Node {
	nodes := make([]types.Node, 0, len(a.expected))
	for _, n := range a.expected {
		nodes = append(nodes, n)
	}
	return nodes
}

// Done is closed when the aggregator completes, successfully or fatally
func (a *Aggregator) Done() <-chan struct{} {
	return a.done
}

// Add records one node response. Responses from unexpected nodes and
// duplicates are ignored. When the last expected response arrives the
// completion hook fires exactly once.
func (a *Aggregator) Add(resp *nodeclient.Response) {
	a.mu.Lock()

	if _, ok := a.expected[resp.Node.ID]; !ok {
		a.mu.Unlock()
		logger := log.WithRequestID(a.requestID)
		logger.Warn().
			Str("node_id", resp.Node.ID).
			Msg("discarding response from node outside the target set")
		resp.Close()
		return
	}
	if _, dup := a.received[resp.Node.ID]; dup {
		a.mu.Unlock()
		resp.Close()
		return
	}

	a.received[resp.Node.ID] = resp

	completed := false
	if len(a.received) == len(a.expected) && a.completedAt.IsZero() {
		a.completedAt = time.Now()
		completed = true
	}
	a.mu.Unlock()

	if completed {
		a.fireComplete()
	}
}

// SetFatal marks the request failed and completes it immediately. Later
// Add calls still record their responses but no merge will run. Only the
// first fatal error is kept.
func (a *Aggregator) SetFatal(err error) {
	a.mu.Lock()

	if a.fatal == nil {
		a.fatal = err
	}

	completed := false
	if a.completedAt.IsZero() {
		a.completedAt = time.Now()
		completed = true
	}
	a.mu.Unlock()

	if completed {
		a.fireComplete()
	}
}

func (a *Aggregator) fireComplete() {
	close(a.done)
	if a.onComplete != nil {
		a.onComplete(a)
	}
}

// Get returns the response recorded for one node, or nil
func (a *Aggregator) Get(nodeID string) *nodeclient.Response {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.received[nodeID]
}

// Responses returns the responses received so far
func (a *Aggregator) Responses() []*nodeclient.Response {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]*nodeclient.Response, 0, len(a.received))
	for _, r := range a.received {
		out = append(out, r)
	}
	return out
}

// FatalError returns the recorded fatal error, if any
func (a *Aggregator) FatalError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fatal
}

// IsComplete reports whether all responses arrived or a fatal error was set
func (a *Aggregator) IsComplete() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.completedAt.IsZero()
}

// IsOlderThan reports whether the request was created more than d ago
func (a *Aggregator) IsOlderThan(d time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return time.Since(a.createdAt) > d
}

// Consume merges the collected responses and returns the final payload.
// Merging runs at most once; repeated calls return the same result. The
// consume hook fires exactly once across Consume and Release. Consuming an
// incomplete aggregator returns ErrIncomplete.
func (a *Aggregator) Consume() (*merge.Result, error) {
	a.mu.Lock()

	if a.completedAt.IsZero() {
		a.mu.Unlock()
		return nil, ErrIncomplete
	}

	if a.consumed {
		merged, fatal := a.merged, a.fatal
		a.mu.Unlock()
		if fatal != nil {
			return nil, fatal
		}
		return merged, nil
	}

	a.consumed = true

	if a.fatal == nil {
		responses := make([]*nodeclient.Response, 0, len(a.received))
		for _, r := range a.received {
			responses = append(responses, r)
		}

		merged, err := a.merger(a.method, a.uriPath, responses)
		if err != nil {
			a.fatal = err
		} else {
			a.merged = merged
		}
	}

	// Body handles the merger did not read are invalidated here
	a.closeBodiesLocked()
	a.logTimingLocked()

	merged, fatal := a.merged, a.fatal
	a.mu.Unlock()

	a.fireConsume()

	if fatal != nil {
		return nil, fatal
	}
	return merged, nil
}

// Release reclaims an aggregator whose caller never consumed it: bodies
// are closed, no merge runs, and the consume hook fires if it has not
// already. Used by the maintenance sweep.
func (a *Aggregator) Release() {
	a.mu.Lock()
	if a.consumed {
		a.mu.Unlock()
		return
	}
	a.consumed = true
	a.closeBodiesLocked()
	a.mu.Unlock()

	a.fireConsume()
}

func (a *Aggregator) fireConsume() {
	if a.onConsume != nil {
		a.onConsume(a)
	}
}

func (a *Aggregator) closeBodiesLocked() {
	for _, r := range a.received {
		r.Close()
	}
}

// logTimingLocked dumps the per-node latency distribution at debug level
func (a *Aggregator) logTimingLocked() {
	logger := log.WithRequestID(a.requestID)
	if len(a.received) == 0 {
		return
	}

	var min, max, total time.Duration
	first := true
	for _, r := range a.received {
		if first || r.Duration < min {
			min = r.Duration
		}
		if first || r.Duration > max {
			max = r.Duration
		}
		total += r.Duration
		first = false

		logger.Debug().
			Str("node_id", r.Node.ID).
			Dur("duration", r.Duration).
			Msg("node response time")
	}

	logger.Debug().
		Str("method", a.method).
		Str("path", a.uriPath).
		Dur("min", min).
		Dur("max", max).
		Dur("mean", total/time.Duration(len(a.received))).
		Msg("cluster request timing")
}
