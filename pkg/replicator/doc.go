/*
Package replicator is the cluster request orchestrator.

One Replicate call fans an inbound API request out to every target node
through a bounded worker pool, collects the per-node responses into an
aggregator, and returns the aggregator handle synchronously for the caller
to poll.

# Two-phase commit

Mutating requests (POST, PUT, DELETE) run in two rounds. The verification
round clones the request, adds the X-Verify-Intent header, and asks every
node to vote: 150 means the node can process the request, anything else is
a dissent. Only a unanimous 150 dispatches the apply round; a single
dissent records a VerificationRejectedError on the aggregator and nothing
is applied anywhere. Transport failures during verification count as
dissents. The verification round strictly happens-before the apply round.

Per-node failures during the apply round are not fatal: the failing node
contributes an error response and the merger decides how to reconcile a
partial success.

# Guards and maintenance

Before a mutating request with verify set is accepted the cluster
directory is consulted;
any node in a transitional connection state rejects the request
synchronously. A maintenance loop periodically reclaims completed requests
whose callers never consumed them, and a slow-node monitor warns the
operator when the same node is a latency outlier for several consecutive
requests.
*/
package replicator
