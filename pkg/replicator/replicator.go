package replicator

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/cuemby/fanout/pkg/aggregate"
	"github.com/cuemby/fanout/pkg/config"
	"github.com/cuemby/fanout/pkg/events"
	"github.com/cuemby/fanout/pkg/log"
	"github.com/cuemby/fanout/pkg/merge"
	"github.com/cuemby/fanout/pkg/metrics"
	"github.com/cuemby/fanout/pkg/nodeclient"
	"github.com/cuemby/fanout/pkg/registry"
	"github.com/cuemby/fanout/pkg/types"
)

// Wire-level protocol headers. All header matching is case-insensitive.
const (
	// HeaderTransactionID carries the caller-supplied or generated request
	// ID; it is propagated on every per-node request
	HeaderTransactionID = "X-Request-Transaction-Id"

	// HeaderRequestID is a second identifier stamped per dispatch round
	HeaderRequestID = "X-Request-Id"

	// HeaderVerifyIntent asks a node whether it can process the request.
	// Set to VerifyIntentContinue on verification-round requests only.
	HeaderVerifyIntent = "X-Verify-Intent"

	// HeaderClusterContext is an opaque envelope passed through when the
	// caller supplies it
	HeaderClusterContext = "X-Cluster-Context"

	// VerifyIntentContinue is the literal value of HeaderVerifyIntent
	VerifyIntentContinue = "150-NodeContinue"

	// StatusNodeContinue is the sentinel status a node answers with when it
	// accepts the verification; anything else is a dissent
	StatusNodeContinue = nodeclient.StatusNodeContinue
)

// CompletionCallback is invoked after all responses for a cluster request
// have been gathered. May be nil.
type CompletionCallback func(method, uriPath string, responses []*nodeclient.Response)

// Options carries the replicator's collaborators
type Options struct {
	// Client issues node requests; built from the config timeouts when nil
	Client *nodeclient.Client

	// Directory reports cluster membership and connection states. Required.
	Directory types.Directory

	// FlowTracker is told when a mutation makes the persisted flow state
	// Unknown or Stale. May be nil.
	FlowTracker types.FlowTracker

	// Reporter receives operator-visible warnings. May be nil.
	Reporter events.Reporter

	// Mergers selects the response merging strategy per endpoint; defaults
	// to a registry with only the fallback merger
	Mergers *merge.Registry

	// Completion is called after each completed cluster request. May be nil.
	Completion CompletionCallback
}

// Replicator fans one inbound API call out to every target node, gathers
// the per-node responses, and exposes the aggregator for polling. Mutating
// requests run a two-phase commit: a verification round requiring a
// unanimous 150 from every node, then the apply round.
type Replicator struct {
	cfg *config.Config

	client     *nodeclient.Client
	directory  types.Directory
	flow       types.FlowTracker
	reporter   events.Reporter
	mergers    *merge.Registry
	completion CompletionCallback

	guard *stateGuard
	slow  *slowNodeMonitor
	reg   *registry.Registry

	mu      sync.Mutex
	pool    *ants.Pool
	baseCtx context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a replicator. Start must be called before Replicate.
func New(cfg *config.Config, opts Options) (*Replicator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Directory == nil {
		return nil, fmt.Errorf("cluster directory is required")
	}

	client := opts.Client
	if client == nil {
		client = nodeclient.NewClient(cfg.ConnectTimeout, cfg.ReadTimeout)
	}

	mergers := opts.Mergers
	if mergers == nil {
		mergers = merge.NewRegistry()
	}

	return &Replicator{
		cfg:        cfg,
		client:     client,
		directory:  opts.Directory,
		flow:       opts.FlowTracker,
		reporter:   opts.Reporter,
		mergers:    mergers,
		completion: opts.Completion,
		guard:      &stateGuard{directory: opts.Directory},
		slow:       newSlowNodeMonitor(cfg.SlowFactor, cfg.SlowStrikes, opts.Reporter),
		reg:        registry.New(cfg.MaxConcurrent),
	}, nil
}

// Start creates the worker pool and begins the maintenance loop
func (r *Replicator) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pool != nil {
		return nil
	}

	pool, err := ants.NewPool(r.cfg.NumThreads,
		ants.WithNonblocking(false),
		ants.WithPanicHandler(func(v interface{}) {
			logger := log.WithComponent("replicator")
			logger.Error().
				Interface("panic", v).
				Msg("panic in replication worker")
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}

	r.pool = pool
	r.baseCtx, r.cancel = context.WithCancel(context.Background())
	r.stopCh = make(chan struct{})

	r.wg.Add(1)
	go r.maintenanceLoop()

	startLogger := log.WithComponent("replicator")
	startLogger.Info().
		Int("num_threads", r.cfg.NumThreads).
		Msg("replicator started")
	return nil
}

// Stop cancels in-flight node requests, drains the pool, and halts the
// maintenance loop
func (r *Replicator) Stop() {
	r.mu.Lock()
	pool := r.pool
	r.pool = nil
	r.mu.Unlock()

	if pool == nil {
		return
	}

	close(r.stopCh)
	r.cancel()
	r.wg.Wait()

	if err := pool.ReleaseTimeout(5 * time.Second); err != nil {
		releaseLogger := log.WithComponent("replicator")
		releaseLogger.Warn().
			Err(err).
			Msg("worker pool did not drain before timeout")
	}

	stopLogger := log.WithComponent("replicator")
	stopLogger.Info().Msg("replicator stopped")
}

// IsRunning reports whether Start has been called and Stop has not
func (r *Replicator) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool != nil
}

// Get returns the aggregator for a request ID, or nil when the request is
// unknown, already consumed, or reclaimed by maintenance
func (r *Replicator) Get(requestID string) *aggregate.Aggregator {
	return r.reg.Lookup(requestID)
}

// Replicate fans the request out to the target nodes and returns the
// aggregator handle synchronously. When verify is true and the method
// mutates cluster state, a verification round precedes the apply round and
// the apply is dispatched only on a unanimous 150.
func (r *Replicator) Replicate(targets []types.Node, method string, uri *url.URL,
	params url.Values, body []byte, headers http.Header, verify bool) (*aggregate.Aggregator, error) {

	if !r.IsRunning() {
		return nil, fmt.Errorf("replicator is not running")
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: cannot replicate request to 0 nodes", ErrInvalidArgument)
	}
	if !types.IsSupportedMethod(method) {
		return nil, fmt.Errorf("%w: HTTP method %q is not supported for replication", ErrInvalidArgument, method)
	}
	if uri == nil || !uri.IsAbs() {
		return nil, fmt.Errorf("%w: URI must be absolute", ErrInvalidArgument)
	}

	// Normalize headers and bind the transaction ID as the request ID
	reqHeaders := cloneHeaders(headers)
	requestID := reqHeaders.Get(HeaderTransactionID)
	if requestID == "" {
		requestID = uuid.New().String()
		reqHeaders.Set(HeaderTransactionID, requestID)
	}

	if verify {
		if err := r.guard.check(method, uri.Path); err != nil {
			return nil, err
		}
	}

	logger := log.WithRequestID(requestID)
	logger.Debug().
		Str("method", method).
		Str("path", uri.Path).
		Int("nodes", len(targets)).
		Msg("replicating request")

	agg := aggregate.New(requestID, method, uri.Path, targets,
		r.mergers.Resolve(method, uri.Path),
		r.onCompleted,
		func(a *aggregate.Aggregator) {
			r.reg.Remove(a.RequestID())
		},
	)

	if err := r.reg.Insert(requestID, agg); err != nil {
		return nil, err
	}

	if types.IsMutableMethod(method) && verify {
		r.performVerification(targets, method, uri, params, body, reqHeaders, agg)
		return agg, nil
	}

	r.dispatch(targets, method, uri, params, body, reqHeaders, agg.Add)
	return agg, nil
}

// dispatch submits one node request per target to the worker pool. The
// submission itself runs on a separate goroutine so that workers finishing
// a verification round never block feeding the pool.
func (r *Replicator) dispatch(targets []types.Node, method string, uri *url.URL,
	params url.Values, body []byte, headers http.Header, onDone func(*nodeclient.Response)) {

	// A fresh attempt identifier per dispatch round
	headers = cloneHeaders(headers)
	headers.Set(HeaderRequestID, uuid.New().String())

	r.mu.Lock()
	pool := r.pool
	ctx := r.baseCtx
	r.mu.Unlock()

	go func() {
		for _, node := range targets {
			node := node

			if pool == nil {
				// Stopped between accepting the request and dispatching it
				onDone(transportFailure(node, method, uri,
					fmt.Errorf("replicator is not running")))
				continue
			}

			nodeURI, err := nodeclient.RewriteURI(uri, node)
			if err != nil {
				onDone(transportFailure(node, method, uri, err))
				continue
			}

			req := &nodeclient.Request{
				Node:    node,
				Method:  method,
				URI:     nodeURI,
				Params:  params,
				Headers: headers,
			}
			if len(body) > 0 {
				req.Body = bytes.NewReader(body)
			}

			submitErr := pool.Submit(func() {
				onDone(r.client.Do(ctx, req))
			})
			if submitErr != nil {
				onDone(transportFailure(node, method, nodeURI,
					fmt.Errorf("failed to submit node request: %w", submitErr)))
			}
		}
	}()
}

// transportFailure synthesizes the error-sentinel response recorded when a
// node request could not even be attempted
func transportFailure(node types.Node, method string, uri *url.URL, err error) *nodeclient.Response {
	return &nodeclient.Response{
		Node:      node,
		Method:    method,
		URI:       uri,
		Status:    nodeclient.StatusTransportError,
		StartedAt: time.Now(),
		Err:       err,
	}
}

// onCompleted runs once per cluster request, after the last node response
// arrives or a fatal error is recorded
func (r *Replicator) onCompleted(agg *aggregate.Aggregator) {
	// A completed mutation means the nodes have moved past the persisted
	// flow state the coordinator knew about
	if types.IsMutableMethod(agg.Method()) && r.flow != nil {
		r.flow.SetFlowState(types.FlowStateStale)
	}

	outcome := "completed"
	if agg.FatalError() != nil {
		outcome = "failed"
	}
	metrics.ReplicationsTotal.WithLabelValues(agg.Method(), outcome).Inc()

	r.runCompletionCallback(agg)
	r.slow.evaluate(agg)
}

// runCompletionCallback invokes the user callback, containing any panic so
// a misbehaving callback cannot take down the worker that completed the
// request
func (r *Replicator) runCompletionCallback(agg *aggregate.Aggregator) {
	if r.completion == nil {
		return
	}

	defer func() {
		if v := recover(); v != nil {
			logger := log.WithRequestID(agg.RequestID())
			logger.Warn().
				Interface("panic", v).
				Msg("request completion callback failed")
		}
	}()

	r.completion(agg.Method(), agg.URIPath(), agg.Responses())
}

// maintenanceLoop periodically reclaims completed requests whose callers
// never consumed them
func (r *Replicator) maintenanceLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Replicator) sweep() {
	for _, agg := range r.reg.SweepExpired(r.cfg.EntryTTL) {
		sweepLogger := log.WithRequestID(agg.RequestID())
		sweepLogger.Debug().
			Str("method", agg.Method()).
			Str("path", agg.URIPath()).
			Msg("reclaiming expired cluster request")

		metrics.RegistryEvictions.Inc()
		if r.reporter != nil {
			r.reporter.Report(events.SeverityInfo, events.CategoryRequestExpired,
				fmt.Sprintf("Cluster request %s %s (ID %s) completed but was never consumed",
					agg.Method(), agg.URIPath(), agg.RequestID()))
		}
		agg.Release()
	}
}

// cloneHeaders copies headers into a fresh case-normalized http.Header
func cloneHeaders(headers http.Header) http.Header {
	out := make(http.Header, len(headers))
	for key, values := range headers {
		for _, v := range values {
			out.Add(key, v)
		}
	}
	return out
}
