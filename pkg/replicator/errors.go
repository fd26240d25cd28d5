package replicator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cuemby/fanout/pkg/registry"
)

// ErrInvalidArgument is wrapped by synchronous validation failures from
// Replicate: empty target set, unsupported method, malformed URI
var ErrInvalidArgument = errors.New("invalid replication request")

// ErrOverloaded is returned synchronously by Replicate when the registry
// already tracks the maximum number of in-flight cluster requests
var ErrOverloaded = registry.ErrOverloaded

// DisconnectedNodeError rejects a mutating request while a node is
// disconnected or disconnecting from the cluster
type DisconnectedNodeError struct {
	Method string
	Path   string
}

func (e *DisconnectedNodeError) Error() string {
	return fmt.Sprintf("received a mutable request [%s %s] while a node is disconnected from the cluster", e.Method, e.Path)
}

// ConnectingNodeError rejects a mutating request while a node is still
// connecting to the cluster
type ConnectingNodeError struct {
	Method string
	Path   string
}

func (e *ConnectingNodeError) Error() string {
	return fmt.Sprintf("received a mutable request [%s %s] while a node is trying to connect to the cluster", e.Method, e.Path)
}

// Dissent describes one node's refusal during the verification round
type Dissent struct {
	NodeID      string
	Status      int
	Explanation string
}

func (d Dissent) String() string {
	return fmt.Sprintf("Node %s is unable to fulfill this request due to: %s", d.NodeID, d.Explanation)
}

// VerificationRejectedError aborts a two-phase request when at least one
// node answered the verification round with a status other than 150. The
// first dissent is the primary cause; the rest are attached.
type VerificationRejectedError struct {
	Dissents []Dissent
}

func (e *VerificationRejectedError) Error() string {
	if len(e.Dissents) == 0 {
		return "verification rejected"
	}
	if len(e.Dissents) == 1 {
		return e.Dissents[0].String()
	}

	var sb strings.Builder
	sb.WriteString(e.Dissents[0].String())
	sb.WriteString(" (and ")
	fmt.Fprintf(&sb, "%d other node(s) dissented)", len(e.Dissents)-1)
	return sb.String()
}
