package aggregate

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fanout/pkg/merge"
	"github.com/cuemby/fanout/pkg/nodeclient"
	"github.com/cuemby/fanout/pkg/types"
)

var testNodes = []types.Node{
	{ID: "a", APIHost: "10.0.0.1", APIPort: 8080},
	{ID: "b", APIHost: "10.0.0.2", APIPort: 8080},
	{ID: "c", APIHost: "10.0.0.3", APIPort: 8080},
}

func response(nodeID string, status int, body string) *nodeclient.Response {
	return &nodeclient.Response{
		Node:    types.Node{ID: nodeID},
		Method:  "GET",
		Status:  status,
		Headers: http.Header{},
		Body:    io.NopCloser(strings.NewReader(body)),
	}
}

func newTestAggregator(onComplete CompletionHook, onConsume ConsumeHook) *Aggregator {
	return New("req-1", "GET", "/flow", testNodes, merge.DefaultMerge, onComplete, onConsume)
}

func TestCompletionHookFiresOnceWhenAllNodesRespond(t *testing.T) {
	var completions int32
	agg := newTestAggregator(func(*Aggregator) { atomic.AddInt32(&completions, 1) }, nil)

	agg.Add(response("a", 200, "x"))
	assert.False(t, agg.IsComplete())

	agg.Add(response("b", 200, "x"))
	assert.False(t, agg.IsComplete())

	agg.Add(response("c", 200, "x"))
	assert.True(t, agg.IsComplete())
	assert.Equal(t, int32(1), atomic.LoadInt32(&completions))

	select {
	case <-agg.Done():
	default:
		t.Fatal("Done channel should be closed after completion")
	}
}

func TestAddIgnoresDuplicates(t *testing.T) {
	var completions int32
	agg := newTestAggregator(func(*Aggregator) { atomic.AddInt32(&completions, 1) }, nil)

	agg.Add(response("a", 200, "first"))
	agg.Add(response("a", 500, "second"))

	assert.False(t, agg.IsComplete())
	assert.Equal(t, 200, agg.Get("a").Status)
	assert.Len(t, agg.Responses(), 1)
}

func TestAddIgnoresUnexpectedNode(t *testing.T) {
	agg := newTestAggregator(nil, nil)

	agg.Add(response("intruder", 200, "x"))

	assert.Nil(t, agg.Get("intruder"))
	assert.Empty(t, agg.Responses())
}

func TestSetFatalCompletesImmediately(t *testing.T) {
	var completions int32
	agg := newTestAggregator(func(*Aggregator) { atomic.AddInt32(&completions, 1) }, nil)

	boom := errors.New("verification rejected")
	agg.SetFatal(boom)

	assert.True(t, agg.IsComplete())
	assert.Equal(t, boom, agg.FatalError())
	assert.Equal(t, int32(1), atomic.LoadInt32(&completions))

	// Later responses still record but the fatal error wins
	agg.Add(response("a", 200, "x"))
	assert.NotNil(t, agg.Get("a"))

	_, err := agg.Consume()
	assert.Equal(t, boom, err)
}

func TestSetFatalKeepsFirstError(t *testing.T) {
	agg := newTestAggregator(nil, nil)

	first := errors.New("first")
	agg.SetFatal(first)
	agg.SetFatal(errors.New("second"))

	assert.Equal(t, first, agg.FatalError())
}

func TestConsumeBeforeCompletion(t *testing.T) {
	agg := newTestAggregator(nil, nil)
	agg.Add(response("a", 200, "x"))

	_, err := agg.Consume()
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestConsumeMergesOnceAndFiresHookOnce(t *testing.T) {
	var consumes int32
	agg := newTestAggregator(nil, func(*Aggregator) { atomic.AddInt32(&consumes, 1) })

	agg.Add(response("a", 200, `{"v":1}`))
	agg.Add(response("b", 200, `{"v":1}`))
	agg.Add(response("c", 200, `{"v":1}`))

	first, err := agg.Consume()
	require.NoError(t, err)
	assert.Equal(t, 200, first.Status)
	assert.Equal(t, `{"v":1}`, string(first.Body))

	second, err := agg.Consume()
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&consumes))
}

func TestConsumeSurfacesMergeError(t *testing.T) {
	failing := func(method, uriPath string, responses []*nodeclient.Response) (*merge.Result, error) {
		return nil, errors.New("cannot reconcile")
	}
	agg := New("req-1", "GET", "/flow", testNodes[:1], failing, nil, nil)
	agg.Add(response("a", 200, "x"))

	_, err := agg.Consume()
	require.Error(t, err)
	assert.Equal(t, err, agg.FatalError())

	// The merge error is sticky
	_, err2 := agg.Consume()
	assert.Equal(t, err, err2)
}

func TestReleaseFiresConsumeHookOnce(t *testing.T) {
	var consumes int32
	agg := newTestAggregator(nil, func(*Aggregator) { atomic.AddInt32(&consumes, 1) })

	agg.Add(response("a", 200, "x"))
	agg.Add(response("b", 200, "x"))
	agg.Add(response("c", 200, "x"))

	agg.Release()
	agg.Release()
	assert.Equal(t, int32(1), atomic.LoadInt32(&consumes))
}

func TestConsumeAfterReleaseDoesNotRefireHook(t *testing.T) {
	var consumes int32
	agg := newTestAggregator(nil, func(*Aggregator) { atomic.AddInt32(&consumes, 1) })

	agg.Add(response("a", 200, "x"))
	agg.Add(response("b", 200, "x"))
	agg.Add(response("c", 200, "x"))
	agg.Release()

	// Released without merging: nothing to hand out
	merged, err := agg.Consume()
	assert.NoError(t, err)
	assert.Nil(t, merged)
	assert.Equal(t, int32(1), atomic.LoadInt32(&consumes))
}

func TestIsOlderThan(t *testing.T) {
	agg := newTestAggregator(nil, nil)

	assert.False(t, agg.IsOlderThan(time.Hour))
	assert.True(t, agg.IsOlderThan(-time.Second))
}

func TestConcurrentAddsAreSerialized(t *testing.T) {
	nodes := make([]types.Node, 50)
	for i := range nodes {
		nodes[i] = types.Node{ID: string(rune('A'+i%26)) + string(rune('0'+i/26))}
	}

	var completions int32
	agg := New("req-1", "GET", "/flow", nodes, merge.DefaultMerge,
		func(*Aggregator) { atomic.AddInt32(&completions, 1) }, nil)

	var wg sync.WaitGroup
	for _, n := range nodes {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			agg.Add(response(id, 200, "x"))
		}(n.ID)
	}
	wg.Wait()

	assert.True(t, agg.IsComplete())
	assert.Len(t, agg.Responses(), len(nodes))
	assert.Equal(t, int32(1), atomic.LoadInt32(&completions))
}
