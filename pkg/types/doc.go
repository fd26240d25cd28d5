/*
Package types defines the shared domain types for the Fanout replicator:
node identities, cluster connection states, flow-state values, and the
classification of HTTP methods used to decide between the single-phase and
two-phase replication protocols.

It also declares the interfaces through which the replicator observes the
outside world:

  - Directory: enumerates nodes and their connection states. The replicator
    refuses mutating requests while any node is in a transitional state.
  - FlowTracker: told when a mutation makes the persisted flow state Unknown
    (verification dispatched) or Stale (mutation completed).

Beyond method classification, its only behavior is StaticDirectory, a
Directory over a fixed node inventory.
*/
package types
