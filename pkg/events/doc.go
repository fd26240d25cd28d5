/*
Package events delivers operator-visible warnings from the replicator.

The Reporter interface is the sink the replicator writes to. Broker is the
in-process implementation: a buffered pub/sub bus where publishing waits
only while the event buffer is full (and never after Stop), and slow
subscribers drop events rather than stalling the cluster request path.
*/
package events
