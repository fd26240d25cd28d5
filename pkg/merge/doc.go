/*
Package merge folds the per-node responses of one cluster request into the
single payload returned to the caller.

Merging strategies are pluggable: a Registry maps HTTP method and URI path
patterns to Func values, so endpoint-aware mergers (summing counters,
reconciling listings) can be installed by the host application without the
replicator knowing about response shapes. DefaultMerge is the fallback: it
propagates the most problematic response so partial failures stay visible.
*/
package merge
