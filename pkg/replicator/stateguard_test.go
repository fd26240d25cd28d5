package replicator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/fanout/pkg/types"
)

func TestStateGuardMatrix(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		nodeState types.ConnectionState
		wantErr   interface{}
	}{
		{"GET always passes", "GET", types.StateDisconnected, nil},
		{"HEAD always passes", "HEAD", types.StateConnecting, nil},
		{"OPTIONS always passes", "OPTIONS", types.StateDisconnecting, nil},
		{"PUT with all connected", "PUT", types.StateConnected, nil},
		{"PUT with disconnected node", "PUT", types.StateDisconnected, &DisconnectedNodeError{}},
		{"POST with disconnecting node", "POST", types.StateDisconnecting, &DisconnectedNodeError{}},
		{"DELETE with connecting node", "DELETE", types.StateConnecting, &ConnectingNodeError{}},
		{"POST with connecting node", "POST", types.StateConnecting, &ConnectingNodeError{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := types.NewStaticDirectory([]types.Node{
				{ID: "a", APIHost: "10.0.0.1", APIPort: 8080},
				{ID: "b", APIHost: "10.0.0.2", APIPort: 8080},
			})
			dir.SetState("b", tt.nodeState)

			guard := &stateGuard{directory: dir}
			err := guard.check(tt.method, "/flow")

			switch tt.wantErr.(type) {
			case nil:
				assert.NoError(t, err)
			case *DisconnectedNodeError:
				var target *DisconnectedNodeError
				assert.ErrorAs(t, err, &target)
			case *ConnectingNodeError:
				var target *ConnectingNodeError
				assert.ErrorAs(t, err, &target)
			}
		})
	}
}

func TestStateGuardDisconnectedTakesPrecedence(t *testing.T) {
	dir := types.NewStaticDirectory([]types.Node{
		{ID: "a", APIHost: "10.0.0.1", APIPort: 8080},
		{ID: "b", APIHost: "10.0.0.2", APIPort: 8080},
	})
	dir.SetState("a", types.StateDisconnected)
	dir.SetState("b", types.StateConnecting)

	guard := &stateGuard{directory: dir}
	var target *DisconnectedNodeError
	assert.ErrorAs(t, guard.check("PUT", "/flow"), &target)
}
