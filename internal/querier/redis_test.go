package querier

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/alicebob/miniredis/v2/server"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphbench/internal/runner"
	"graphbench/internal/sampler"
)

// graphServer is a miniredis instance answering GRAPH.RO_QUERY with the query text as its only cell.
type graphServer struct {
	*miniredis.Miniredis

	mu      sync.Mutex
	queries []string
}

func newGraphServer(t *testing.T) (*graphServer, *redis.Client) {
	t.Helper()
	m, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)

	gs := &graphServer{Miniredis: m}
	require.NoError(t, m.Server().Register("GRAPH.RO_QUERY", gs.handle))

	client := redis.NewClient(&redis.Options{Addr: m.Addr(), Protocol: 2})
	t.Cleanup(func() { client.Close() })
	return gs, client
}

func (gs *graphServer) handle(c *server.Peer, _ string, args []string) {
	if len(args) != 2 {
		c.WriteError("ERR wrong number of arguments for 'graph.ro_query' command")
		return
	}
	if args[0] == "broken" {
		c.WriteError("ERR Invalid graph operation on empty key")
		return
	}
	gs.mu.Lock()
	gs.queries = append(gs.queries, args[1])
	gs.mu.Unlock()

	c.WriteLen(3)
	c.WriteLen(1)
	c.WriteBulk("q")
	c.WriteLen(1)
	c.WriteLen(1)
	c.WriteBulk(args[1])
	c.WriteLen(1)
	c.WriteBulk("Query internal execution time: 0.1 milliseconds")
}

func (gs *graphServer) received() []string {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return append([]string(nil), gs.queries...)
}

func TestGraphUnit_AgainstServer(t *testing.T) {
	gs, client := newGraphServer(t)

	ids := sampler.NewHierarchicalSampler(sampler.WithSeed(3))
	ids.AddPath("acme", "alice")
	ids.AddPath("acme", "bob")

	unit, err := NewGraphUnit(client, "social", "MATCH (p:Person {id: '{{id 1}}'}) RETURN p.id", ids)
	require.NoError(t, err)

	proceed, err := unit.PreProcess(context.Background())
	require.NoError(t, err)
	assert.True(t, proceed)

	inv := &runner.Invocation{Ids: ids.NewChain()}
	require.NoError(t, unit.PreCall(context.Background(), inv))
	out, err := unit.Call(context.Background(), inv)
	require.NoError(t, err)
	require.True(t, out.Measured)

	res := out.Result.(QueryResult)
	assert.Equal(t, []string{"q"}, res.Columns)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, inv.Request, res.Rows[0][0])
	assert.Len(t, res.Stats, 1)

	got := gs.received()
	require.Len(t, got, 1)
	assert.True(t, strings.Contains(got[0], "'alice'") || strings.Contains(got[0], "'bob'"), got[0])
}

func TestGraphUnit_ServerErrorIsGrouped(t *testing.T) {
	_, client := newGraphServer(t)

	unit, err := NewGraphUnit(client, "broken", "MATCH (n) RETURN n", nil)
	require.NoError(t, err)

	inv := &runner.Invocation{}
	require.NoError(t, unit.PreCall(context.Background(), inv))
	_, err = unit.Call(context.Background(), inv)
	require.Error(t, err)

	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "RedisErr", qe.ErrorType())
}

func TestGraphUnit_PreProcessFailsWhenServerDown(t *testing.T) {
	m, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: m.Addr(), Protocol: 2, MaxRetries: -1})
	defer client.Close()
	m.Close()

	unit, err := NewGraphUnit(client, "social", "RETURN 1", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	proceed, err := unit.PreProcess(ctx)
	assert.Error(t, err)
	assert.False(t, proceed)
}

func TestLoadIds_AgainstServer(t *testing.T) {
	m, err := miniredis.Run()
	require.NoError(t, err)
	defer m.Close()
	require.NoError(t, m.Server().Register("GRAPH.RO_QUERY", func(c *server.Peer, _ string, _ []string) {
		c.WriteLen(3)
		c.WriteLen(2)
		c.WriteBulk("n0.id")
		c.WriteBulk("n1.id")
		c.WriteLen(2)
		c.WriteLen(2)
		c.WriteBulk("acme")
		c.WriteBulk("alice")
		c.WriteLen(2)
		c.WriteBulk("globex")
		c.WriteNull()
		c.WriteLen(0)
	}))
	client := redis.NewClient(&redis.Options{Addr: m.Addr(), Protocol: 2})
	defer client.Close()

	s := sampler.NewHierarchicalSampler()
	require.NoError(t, LoadIds(context.Background(), client, "social", "MATCH ...", s))
	assert.Equal(t, 3, s.Size())
	assert.Equal(t, 2, s.TopLevelParentCount())
	assert.Equal(t, 1, s.MaxDepth())
}

func TestGraphUnit_DrivenByRunnerAgainstServer(t *testing.T) {
	gs, client := newGraphServer(t)

	unit, err := NewGraphUnit(client, "social", "MATCH (n) RETURN count(n) // {{uuid}}", nil)
	require.NoError(t, err)

	r, err := runner.NewRunner(runner.Config{TargetRate: 50, Workers: 4, Duration: 300 * time.Millisecond}, nil)
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, r.Configure(unit, nil))

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "redisgraph:social", summary.Unit)
	assert.Zero(t, summary.Errors)
	assert.EqualValues(t, len(gs.received()), summary.Success)
	assert.NotZero(t, summary.Success)
}
