/*
Package registry tracks in-flight cluster requests by request ID.

The registry enforces the concurrent-request cap atomically with insertion
and supports the polling lookup path. Completed entries whose callers never
consumed them are found by SweepExpired and released by the maintenance
loop; entry removal always flows through the aggregator's consume hook so
that consumption observes exactly-once semantics.
*/
package registry
