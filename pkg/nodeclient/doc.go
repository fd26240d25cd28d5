/*
Package nodeclient performs the outbound HTTP call to a single node within
a cluster request.

A Request carries the method, the URI rewritten for the target node, the
parameters, and the headers; Do always produces a Response. Transport
failures (network, TLS, timeout, URI construction) never surface as bare
errors from the worker: they are folded into the Response with
StatusTransportError so that the aggregator sees exactly one outcome per
node.

Response bodies are single-consumer streams owned by the aggregator.
Gzip-encoded bodies are decoded transparently.
*/
package nodeclient
