package querier

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphbench/internal/runner"
	"graphbench/internal/sampler"
)

type fakeDoer struct {
	mu    sync.Mutex
	calls [][]interface{}
	reply interface{}
	err   error
}

func (f *fakeDoer) Do(ctx context.Context, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	f.mu.Unlock()

	cmd := redis.NewCmd(ctx, args...)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(f.reply)
	}
	return cmd
}

func (f *fakeDoer) last() []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type serverError string

func (e serverError) Error() string { return string(e) }
func (serverError) RedisError()     {}

func graphReply(rows ...[]interface{}) interface{} {
	data := make([]interface{}, len(rows))
	for i, r := range rows {
		data[i] = r
	}
	return []interface{}{
		[]interface{}{"n0.id", "n1.id"},
		data,
		[]interface{}{"Cached execution: 1", "Query internal execution time: 0.1 milliseconds"},
	}
}

func idSampler(t *testing.T) *sampler.HierarchicalSampler {
	t.Helper()
	s := sampler.NewHierarchicalSampler(sampler.WithSeed(7), sampler.WithDepth(1))
	s.AddPath("u1", "o1")
	return s
}

func TestSampleQuery(t *testing.T) {
	q, err := SampleQuery([]string{"User", "Order", "Item"}, "", 500)
	require.NoError(t, err)
	assert.Equal(t,
		"MATCH (n0:User) OPTIONAL MATCH (n0)-->(n1:Order) OPTIONAL MATCH (n1)-->(n2:Item) RETURN n0.id, n1.id, n2.id LIMIT 500",
		q)

	q, err = SampleQuery([]string{"User"}, "uid", 0)
	require.NoError(t, err)
	assert.Equal(t, "MATCH (n0:User) RETURN n0.uid", q)

	_, err = SampleQuery(nil, "id", 1)
	assert.Error(t, err)
}

func TestParseReply(t *testing.T) {
	res, err := ParseReply([]interface{}{
		[]interface{}{[]interface{}{int64(1), "a.id"}, []interface{}{int64(1), "b.id"}},
		[]interface{}{
			[]interface{}{int64(1), "x"},
			[]interface{}{nil, []byte("y")},
		},
		[]interface{}{"Nodes created: 0"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.id", "b.id"}, res.Columns)
	assert.Equal(t, [][]string{{"1", "x"}, {"", "y"}}, res.Rows)
	assert.Equal(t, []string{"Nodes created: 0"}, res.Stats)

	res, err = ParseReply([]interface{}{[]interface{}{"Nodes created: 1"}})
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
	assert.Len(t, res.Stats, 1)

	_, err = ParseReply("OK")
	assert.Error(t, err)
	_, err = ParseReply([]interface{}{1, 2})
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	kind := func(err error) string {
		var qe *QueryError
		require.True(t, errors.As(classify(err), &qe))
		return qe.ErrorType()
	}
	assert.Equal(t, "Timeout", kind(context.DeadlineExceeded))
	assert.Equal(t, "RedisErr", kind(serverError("ERR Invalid graph operation on empty key")))
	assert.Equal(t, "Redis", kind(redis.Nil))
	assert.Equal(t, "Query", kind(errors.New("boom")))
}

func TestNewGraphUnit_RequiresIdsForPlaceholders(t *testing.T) {
	doer := &fakeDoer{}
	_, err := NewGraphUnit(doer, "g", "MATCH (n {id: '{{id 0}}'}) RETURN n", nil)
	assert.ErrorIs(t, err, ErrIdsNotInitialized)

	_, err = NewGraphUnit(doer, "g", "MATCH (n) RETURN n LIMIT {{ids}}", sampler.NewHierarchicalSampler())
	assert.ErrorIs(t, err, ErrIdsNotInitialized)

	_, err = NewGraphUnit(doer, "g", "MATCH (n) RETURN count(n)", nil)
	assert.NoError(t, err)

	_, err = NewGraphUnit(doer, "", "MATCH (n) RETURN n", nil)
	assert.Error(t, err)
	_, err = NewGraphUnit(doer, "g", "  ", nil)
	assert.Error(t, err)
}

func TestGraphUnit_RendersAndQueries(t *testing.T) {
	doer := &fakeDoer{reply: graphReply([]interface{}{"u1", "o1"})}
	ids := idSampler(t)
	unit, err := NewGraphUnit(doer, "social", "MATCH (u {id:'{{id 0}}'})-->(o {id:'{{id 1}}'}) RETURN u.id, o.id", ids)
	require.NoError(t, err)
	assert.Equal(t, "redisgraph:social", unit.Name())

	ctx := context.Background()
	inv := &runner.Invocation{Seq: 1, Ids: ids.NewChain()}
	require.NoError(t, unit.PreCall(ctx, inv))
	assert.Equal(t, "MATCH (u {id:'u1'})-->(o {id:'o1'}) RETURN u.id, o.id", inv.Request)

	out, err := unit.Call(ctx, inv)
	require.NoError(t, err)
	assert.True(t, out.Measured)
	res, ok := out.Result.(QueryResult)
	require.True(t, ok)
	assert.Equal(t, [][]string{{"u1", "o1"}}, res.Rows)
	assert.Equal(t, []interface{}{"GRAPH.RO_QUERY", "social", inv.Request}, doer.last())

	unit.AllowWrites()
	_, err = unit.Call(ctx, inv)
	require.NoError(t, err)
	assert.Equal(t, "GRAPH.QUERY", doer.last()[0])
}

func TestGraphUnit_ShortChainIsNotMeasured(t *testing.T) {
	doer := &fakeDoer{reply: graphReply()}
	ids := idSampler(t)
	unit, err := NewGraphUnit(doer, "g", "MATCH (n {id:'{{id 3}}'}) RETURN n", ids)
	require.NoError(t, err)

	inv := &runner.Invocation{Ids: ids.NewChain()}
	require.NoError(t, unit.PreCall(context.Background(), inv))
	assert.Nil(t, inv.Request)

	out, err := unit.Call(context.Background(), inv)
	require.NoError(t, err)
	assert.False(t, out.Measured)
	assert.Empty(t, doer.calls)
}

func TestGraphUnit_CallErrorIsClassified(t *testing.T) {
	doer := &fakeDoer{err: serverError("ERR Unknown function 'foo'")}
	unit, err := NewGraphUnit(doer, "g", "RETURN foo()", nil)
	require.NoError(t, err)

	inv := &runner.Invocation{}
	require.NoError(t, unit.PreCall(context.Background(), inv))
	_, err = unit.Call(context.Background(), inv)
	require.Error(t, err)
	var qe *QueryError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "RedisErr", qe.ErrorType())
}

func TestGraphUnit_DrivenByRunner(t *testing.T) {
	doer := &fakeDoer{reply: graphReply([]interface{}{"u1", "o1"})}
	ids := idSampler(t)
	unit, err := NewGraphUnit(doer, "g", "MATCH (n {id:'{{id 1}}'}) RETURN n", ids)
	require.NoError(t, err)

	r, err := runner.NewRunner(runner.Config{
		TargetRate: 50,
		Workers:    2,
		Duration:   200 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Configure(unit, ids))
	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Positive(t, summary.Success)
	assert.Zero(t, summary.Errors)
	assert.Equal(t, "redisgraph:g", summary.Unit)
}

func TestFetchAndLoadIds(t *testing.T) {
	doer := &fakeDoer{reply: graphReply(
		[]interface{}{"u1", "o1"},
		[]interface{}{"u1", "o2"},
		[]interface{}{"u2", nil},
	)}
	rows, err := FetchIdRows(context.Background(), doer, "g", "MATCH ...")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, "GRAPH.RO_QUERY", doer.last()[0])

	s := sampler.NewHierarchicalSampler()
	require.NoError(t, LoadIds(context.Background(), doer, "g", "MATCH ...", s))
	assert.Equal(t, []string{"u1", "u2"}, s.Graph().TopLevelParents())
	assert.Equal(t, 2, s.Graph().RelationshipCount())

	failing := &fakeDoer{err: context.DeadlineExceeded}
	_, err = FetchIdRows(context.Background(), failing, "g", "MATCH ...")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTemplateEngine(t *testing.T) {
	e := NewTemplateEngine()
	assert.Equal(t, "{{.Id 2}} {{.Ids}} {{.UUID}}", e.Preprocess("{{id 2}} {{ids}} {{uuid}}"))
	assert.Equal(t, "{{.Id 0}}", e.Preprocess("{{ id 0 }}"))

	assert.True(t, UsesIds("MATCH (n {id: '{{id 0}}'})"))
	assert.True(t, UsesIds("{{ids}}"))
	assert.True(t, UsesIds("{{.Id 1}}"))
	assert.False(t, UsesIds("{{uuid}} {{randomInt 1 5}}"))

	dir := t.TempDir()
	names := filepath.Join(dir, "names.txt")
	require.NoError(t, os.WriteFile(names, []byte("alice\n\nbob\n"), 0o644))

	tmpl, err := e.Parse("t", `{{randomInt 3 4}}|{{randomChoice "a"}}|{{randomLine "`+names+`"}}|{{uuid}}`)
	require.NoError(t, err)
	out, err := e.Execute(tmpl, NewTemplateData(nil))
	require.NoError(t, err)
	parts := strings.Split(out, "|")
	require.Len(t, parts, 4)
	assert.Equal(t, "3", parts[0])
	assert.Equal(t, "a", parts[1])
	assert.Contains(t, []string{"alice", "bob"}, parts[2])
	assert.Len(t, parts[3], 36)

	missing, err := e.Parse("m", `{{randomLine "/does/not/exist"}}`)
	require.NoError(t, err)
	_, err = e.Execute(missing, NewTemplateData(nil))
	assert.Error(t, err)

	needsIds, err := e.Parse("ids", "{{id 0}}")
	require.NoError(t, err)
	_, err = e.Execute(needsIds, NewTemplateData(nil))
	assert.ErrorIs(t, err, ErrIdAbsent)

	ids := idSampler(t)
	got, err := e.Execute(needsIds, NewTemplateData(ids.NewChain()))
	require.NoError(t, err)
	assert.Equal(t, "u1", got)

	all, err := e.Parse("all", "{{ids}}")
	require.NoError(t, err)
	got, err = e.Execute(all, NewTemplateData(ids.NewChain()))
	require.NoError(t, err)
	assert.Equal(t, "u1,o1", got)
}

func TestSimUnit(t *testing.T) {
	_, err := NewSimUnit("bogus")
	assert.Error(t, err)
	assert.Equal(t, []string{"error", "fast", "instant", "medium", "slow", "spike"}, Profiles())

	ctx := context.Background()
	instant, err := NewSimUnit("instant")
	require.NoError(t, err)
	assert.Equal(t, "sim:instant", instant.Name())

	ids := idSampler(t)
	inv := &runner.Invocation{Ids: ids.NewChain()}
	require.NoError(t, instant.PreCall(ctx, inv))
	out, err := instant.Call(ctx, inv)
	require.NoError(t, err)
	assert.True(t, out.Measured)
	assert.Equal(t, "o1", out.Result)

	flaky, err := NewSimUnit("error")
	require.NoError(t, err)
	types := map[string]int{}
	for i := 0; i < 100; i++ {
		if _, err := flaky.Call(ctx, &runner.Invocation{}); err != nil {
			var se *SimError
			require.True(t, errors.As(err, &se))
			types[se.ErrorType()]++
		}
	}
	assert.Positive(t, types["HTTP 500"])
	assert.Positive(t, types["HTTP 429"])

	slow, err := NewSimUnit("slow")
	require.NoError(t, err)
	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = slow.Call(cctx, &runner.Invocation{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
