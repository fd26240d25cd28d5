package registry

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fanout/pkg/aggregate"
	"github.com/cuemby/fanout/pkg/merge"
	"github.com/cuemby/fanout/pkg/nodeclient"
	"github.com/cuemby/fanout/pkg/types"
)

func newAggregator(id string) *aggregate.Aggregator {
	nodes := []types.Node{{ID: "a", APIHost: "10.0.0.1", APIPort: 8080}}
	return aggregate.New(id, "GET", "/flow", nodes, merge.DefaultMerge, nil, nil)
}

func completedAggregator(id string) *aggregate.Aggregator {
	agg := newAggregator(id)
	agg.Add(&nodeclient.Response{Node: types.Node{ID: "a"}, Method: "GET", Status: 200})
	return agg
}

func TestInsertAndLookup(t *testing.T) {
	reg := New(10)
	agg := newAggregator("req-1")

	require.NoError(t, reg.Insert("req-1", agg))
	assert.Same(t, agg, reg.Lookup("req-1"))
	assert.Nil(t, reg.Lookup("req-2"))
	assert.Equal(t, 1, reg.Size())
}

func TestInsertRejectsAtCapacity(t *testing.T) {
	reg := New(2)

	require.NoError(t, reg.Insert("req-1", newAggregator("req-1")))
	require.NoError(t, reg.Insert("req-2", newAggregator("req-2")))

	err := reg.Insert("req-3", newAggregator("req-3"))
	assert.ErrorIs(t, err, ErrOverloaded)

	// Freeing one entry allows the next insert to succeed
	reg.Remove("req-1")
	assert.NoError(t, reg.Insert("req-3", newAggregator("req-3")))
}

func TestRemove(t *testing.T) {
	reg := New(10)
	agg := newAggregator("req-1")
	require.NoError(t, reg.Insert("req-1", agg))

	assert.Same(t, agg, reg.Remove("req-1"))
	assert.Nil(t, reg.Remove("req-1"))
	assert.Nil(t, reg.Lookup("req-1"))
}

func TestSweepExpiredOnlyReturnsCompletedOldEntries(t *testing.T) {
	reg := New(10)

	complete := completedAggregator("old-complete")
	incomplete := newAggregator("old-incomplete")
	require.NoError(t, reg.Insert("old-complete", complete))
	require.NoError(t, reg.Insert("old-incomplete", incomplete))

	// Nothing is older than an hour
	assert.Empty(t, reg.SweepExpired(time.Hour))

	// With a negative ttl everything qualifies by age, but only completed
	// aggregators are reclaimed
	expired := reg.SweepExpired(-time.Second)
	require.Len(t, expired, 1)
	assert.Same(t, complete, expired[0])

	// Sweep does not remove entries itself; release does, through the hook
	assert.NotNil(t, reg.Lookup("old-complete"))
}

func TestInsertConcurrencyBound(t *testing.T) {
	reg := New(100)
	for i := 0; i < 100; i++ {
		require.NoError(t, reg.Insert(fmt.Sprintf("req-%d", i), newAggregator("x")))
	}
	assert.ErrorIs(t, reg.Insert("one-more", newAggregator("x")), ErrOverloaded)
	assert.Equal(t, 100, reg.Size())
}
