package replicator

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/fanout/pkg/aggregate"
	"github.com/cuemby/fanout/pkg/events"
	"github.com/cuemby/fanout/pkg/log"
	"github.com/cuemby/fanout/pkg/metrics"
)

// slowNodeMonitor tracks nodes that answer slowly for several consecutive
// cluster requests. A single slow request is ignored; sustained slowness
// produces one warning per burst, after which the count restarts.
type slowNodeMonitor struct {
	mu       sync.Mutex
	counters map[string]int

	factor   float64
	strikes  int
	reporter events.Reporter
}

func newSlowNodeMonitor(factor float64, strikes int, reporter events.Reporter) *slowNodeMonitor {
	return &slowNodeMonitor{
		counters: make(map[string]int),
		factor:   factor,
		strikes:  strikes,
		reporter: reporter,
	}
}

// evaluate inspects one completed cluster request and updates the per-node
// strike counters
func (m *slowNodeMonitor) evaluate(agg *aggregate.Aggregator) {
	slow := m.findSlowNodes(agg)

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, node := range agg.Nodes() {
		if !slow[node.ID] {
			m.counters[node.ID] = 0
			continue
		}

		m.counters[node.ID]++
		if m.counters[node.ID] >= m.strikes {
			message := fmt.Sprintf("Response time from %s was slow for each of the last %d requests made", node, m.strikes)
			logger := log.WithComponent("slow-node-monitor")
			logger.Warn().
				Str("node_id", node.ID).
				Msg(message)

			if m.reporter != nil {
				m.reporter.Report(events.SeverityWarning, events.CategoryNodeResponseTime, message)
			}
			metrics.SlowNodeWarnings.WithLabelValues(node.ID).Inc()
			m.counters[node.ID] = 0
		}
	}
}

// findSlowNodes returns the nodes whose duration for this request exceeds
// the mean by the configured factor. A request against fewer than two
// nodes has no meaningful distribution and flags nothing.
func (m *slowNodeMonitor) findSlowNodes(agg *aggregate.Aggregator) map[string]bool {
	responses := agg.Responses()
	slow := make(map[string]bool)
	if len(responses) < 2 {
		return slow
	}

	var total time.Duration
	for _, r := range responses {
		total += r.Duration
	}
	mean := float64(total) / float64(len(responses))
	threshold := mean * m.factor

	for _, r := range responses {
		if float64(r.Duration) > threshold {
			slow[r.Node.ID] = true
		}
	}
	return slow
}
