package replicator

import (
	"github.com/cuemby/fanout/pkg/types"
)

// stateGuard rejects mutating requests while the cluster membership is in
// transition: applying a change that some nodes would miss leaves the
// cluster permanently divergent.
type stateGuard struct {
	directory types.Directory
}

// check fails fast for mutating methods when any node is in a transitional
// connection state. Read-only methods always pass.
func (g *stateGuard) check(method, uriPath string) error {
	mutable := method == types.MethodDelete || method == types.MethodPost || method == types.MethodPut
	if !mutable {
		return nil
	}

	states := g.directory.ConnectionStates()
	if len(states[types.StateDisconnected]) > 0 || len(states[types.StateDisconnecting]) > 0 {
		return &DisconnectedNodeError{Method: method, Path: uriPath}
	}
	if len(states[types.StateConnecting]) > 0 {
		return &ConnectingNodeError{Method: method, Path: uriPath}
	}
	return nil
}
