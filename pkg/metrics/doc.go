/*
Package metrics exposes Prometheus collectors for the replicator: in-flight
request count, replication outcomes, per-node latency and error counters,
verification rejections, slow-node warnings, and maintenance evictions.

Collectors are package-level and registered in init; Handler returns the
scrape endpoint handler.
*/
package metrics
