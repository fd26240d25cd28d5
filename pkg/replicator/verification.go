package replicator

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/cuemby/fanout/pkg/aggregate"
	"github.com/cuemby/fanout/pkg/log"
	"github.com/cuemby/fanout/pkg/metrics"
	"github.com/cuemby/fanout/pkg/nodeclient"
	"github.com/cuemby/fanout/pkg/types"
)

// voteCollector gathers verification-round responses separately from the
// public aggregator. Recording a response and detecting that it was the
// last one happen under the same lock, so the adjudication logic runs on
// exactly one worker.
type voteCollector struct {
	mu        sync.Mutex
	responses []*nodeclient.Response
	expected  int
}

// add records a vote and reports whether it was the final one
func (v *voteCollector) add(resp *nodeclient.Response) (all []*nodeclient.Response, last bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.responses = append(v.responses, resp)
	if len(v.responses) == v.expected {
		return v.responses, true
	}
	return nil, false
}

// performVerification runs the first phase of the two-phase commit: every
// target node is asked whether it can process the request, and the apply
// round is dispatched only when all of them answer 150.
func (r *Replicator) performVerification(targets []types.Node, method string, uri *url.URL,
	params url.Values, body []byte, headers http.Header, agg *aggregate.Aggregator) {

	logger := log.WithRequestID(agg.RequestID())
	logger.Debug().
		Str("method", method).
		Str("path", uri.Path).
		Msg("verifying that mutable request can be made")

	// Until every node has voted and the apply round has settled, the
	// coordinator cannot know what the nodes have persisted
	if r.flow != nil {
		r.flow.SetFlowState(types.FlowStateUnknown)
	}

	verifyHeaders := cloneHeaders(headers)
	verifyHeaders.Set(HeaderVerifyIntent, VerifyIntentContinue)

	collector := &voteCollector{expected: len(targets)}
	onVote := func(resp *nodeclient.Response) {
		votes, last := collector.add(resp)
		if last {
			r.adjudicate(votes, resp, targets, method, uri, params, body, headers, agg)
		}
	}

	r.dispatch(targets, method, uri, params, body, verifyHeaders, onVote)
}

// adjudicate decides the vote on the worker that collected the final
// verification response. A failure while finalizing folds an error
// response for the offending node plus every collected vote into the
// public aggregator so it still completes.
func (r *Replicator) adjudicate(votes []*nodeclient.Response, final *nodeclient.Response,
	targets []types.Node, method string, uri *url.URL, params url.Values, body []byte,
	headers http.Header, agg *aggregate.Aggregator) {

	defer func() {
		if v := recover(); v != nil {
			logger := log.WithRequestID(agg.RequestID())
			logger.Error().
				Interface("panic", v).
				Msg("failure while finalizing verification round")

			agg.Add(transportFailure(final.Node, method, uri,
				fmt.Errorf("failure while finalizing verification round: %v", v)))
			for _, vote := range votes {
				if vote.Node.ID == final.Node.ID {
					continue
				}
				agg.Add(vote)
			}
		}
	}()

	dissenting := 0
	for _, vote := range votes {
		if vote.Status != StatusNodeContinue {
			dissenting++
		}
	}

	if dissenting == 0 {
		allLogger := log.WithRequestID(agg.RequestID())
		allLogger.Debug().
			Int("nodes", len(votes)).
			Str("method", method).
			Str("path", uri.Path).
			Msg("received verification from all nodes; replicating request")

		// Accepted votes carry no payload the merger should see
		for _, vote := range votes {
			vote.Close()
		}

		r.dispatch(targets, method, uri, params, body, headers, agg.Add)
		return
	}

	// At least one node refused: the request must not be applied anywhere.
	// The dissenting bodies are consumed to explain the refusal and are
	// never surfaced to the merger.
	rejection := &VerificationRejectedError{}
	for _, vote := range votes {
		if vote.Status == StatusNodeContinue {
			vote.Close()
			continue
		}

		rejection.Dissents = append(rejection.Dissents, Dissent{
			NodeID:      vote.Node.ID,
			Status:      vote.Status,
			Explanation: dissentExplanation(vote),
		})

		dissentLogger := log.WithRequestID(agg.RequestID())
		dissentLogger.Info().
			Int("status", vote.Status).
			Str("node_id", vote.Node.ID).
			Str("method", method).
			Str("path", uri.Path).
			Msg("node refused first stage of two-stage commit; request will not occur")
	}

	metrics.VerificationRejections.Inc()
	agg.SetFatal(rejection)
}

// dissentExplanation extracts the human-readable reason from a dissenting
// verification response. Transport failures have no entity to read.
func dissentExplanation(vote *nodeclient.Response) string {
	if vote.HasError() || vote.Body == nil {
		return fmt.Sprintf("Unexpected Response Code %d", vote.Status)
	}

	explanation, err := vote.ReadBody()
	if err != nil || len(explanation) == 0 {
		return fmt.Sprintf("Unexpected Response Code %d", vote.Status)
	}
	return string(explanation)
}
