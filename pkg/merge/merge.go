package merge

import (
	"fmt"
	"net/http"
	"path"
	"sync"

	"github.com/cuemby/fanout/pkg/nodeclient"
)

// Result is the single merged payload returned to the caller after all
// per-node responses have been folded together
type Result struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Func folds N per-node responses into one Result. A Func may read at most
// one body per response; bodies it leaves unread are closed by the
// aggregator after merging.
type Func func(method, uriPath string, responses []*nodeclient.Response) (*Result, error)

// Error reports that a response set could not be combined
type Error struct {
	Method string
	Path   string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to merge responses for %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type rule struct {
	method  string
	pattern string
	merge   Func
}

// Registry selects the merging strategy for an endpoint by HTTP method and
// URI path pattern. Resolution order is registration order; the first rule
// whose method and pattern match wins, falling back to DefaultMerge.
type Registry struct {
	mu       sync.RWMutex
	rules    []rule
	fallback Func
}

// NewRegistry creates a registry whose fallback is DefaultMerge
func NewRegistry() *Registry {
	return &Registry{fallback: DefaultMerge}
}

// Register adds a merging rule. Method may be "*" to match any method;
// pattern is a path.Match pattern against the URI path.
func (r *Registry) Register(method, pattern string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule{method: method, pattern: pattern, merge: fn})
}

// SetFallback replaces the merger used when no rule matches
func (r *Registry) SetFallback(fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = fn
}

// Resolve returns the merger for the given method and URI path
func (r *Registry) Resolve(method, uriPath string) Func {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rule := range r.rules {
		if rule.method != "*" && rule.method != method {
			continue
		}
		if ok, err := path.Match(rule.pattern, uriPath); err == nil && ok {
			return rule.merge
		}
	}
	return r.fallback
}

// DefaultMerge surfaces the most problematic response: the first transport
// failure or non-2xx status if any exists, otherwise the first successful
// response. The chosen response's body becomes the merged payload.
func DefaultMerge(method, uriPath string, responses []*nodeclient.Response) (*Result, error) {
	if len(responses) == 0 {
		return nil, &Error{Method: method, Path: uriPath, Err: fmt.Errorf("no responses to merge")}
	}

	chosen := responses[0]
	for _, resp := range responses {
		if resp.HasError() {
			chosen = resp
			break
		}
		if resp.Status >= 300 && chosen.Status < 300 {
			chosen = resp
		}
	}

	if chosen.HasError() {
		return nil, &Error{
			Method: method,
			Path:   uriPath,
			Err:    fmt.Errorf("node %s did not respond: %w", chosen.Node.ID, chosen.Err),
		}
	}

	body, err := chosen.ReadBody()
	if err != nil {
		return nil, &Error{Method: method, Path: uriPath, Err: err}
	}

	return &Result{
		Status:  chosen.Status,
		Headers: chosen.Headers,
		Body:    body,
	}, nil
}
