/*
Package aggregate implements the per-cluster-request response collector.

An Aggregator is created for each Replicate call, bound to the target node
set. Worker goroutines Add responses as they arrive; the caller polls
IsComplete (or selects on Done) and then Consumes, which runs the
configured merger exactly once and invalidates all body handles.

Lifecycle: Open → Complete (all responses in, or a fatal error recorded) →
Consumed (merged and handed to the caller, or Released by the maintenance
sweep). The completion and consume hooks each fire exactly once.
*/
package aggregate
