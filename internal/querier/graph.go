// Package querier holds the query units a run can drive: a RedisGraph unit
// speaking GRAPH.RO_QUERY over go-redis, and a simulated unit for dry runs.
package querier

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"text/template"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"graphbench/internal/runner"
	"graphbench/internal/sampler"
)

const (
	roQuery = "GRAPH.RO_QUERY"
	rwQuery = "GRAPH.QUERY"
)

// Doer is the part of a go-redis client the graph unit needs.
type Doer interface {
	Do(ctx context.Context, args ...interface{}) *redis.Cmd
}

type pinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// QueryResult is a decoded RedisGraph reply.
type QueryResult struct {
	Columns []string
	Rows    [][]string
	Stats   []string
}

// QueryError classifies a failed graph query for error grouping.
type QueryError struct {
	Kind string
	Err  error
}

func (e *QueryError) Error() string     { return e.Err.Error() }
func (e *QueryError) Unwrap() error     { return e.Err }
func (e *QueryError) ErrorType() string { return e.Kind }

func classify(err error) error {
	var (
		kind   string
		netErr net.Error
		rErr   redis.Error
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = "Timeout"
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = "Timeout"
	case errors.As(err, &rErr):
		kind = "Redis"
		// server errors start with an upper-case code such as ERR or WRONGTYPE
		if f := strings.Fields(err.Error()); len(f) > 0 && strings.ToUpper(f[0]) == f[0] {
			kind = "Redis" + f[0][:1] + strings.ToLower(f[0][1:])
		}
	case errors.As(err, &netErr):
		kind = "Connection"
	default:
		kind = "Query"
	}
	return &QueryError{Kind: kind, Err: err}
}

// GraphUnit runs one query template against a RedisGraph graph.
type GraphUnit struct {
	client   Doer
	graph    string
	engine   *TemplateEngine
	tmpl     *template.Template
	readOnly bool
}

var _ runner.QueryUnit = (*GraphUnit)(nil)

// NewGraphUnit parses query. A query that uses id placeholders needs an
// initialized, non-empty supplier.
func NewGraphUnit(client Doer, graph, query string, ids sampler.IdSupplier) (*GraphUnit, error) {
	if graph == "" {
		return nil, errors.New("graph name is required")
	}
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is required")
	}
	if UsesIds(query) {
		if ids == nil || !ids.IsInitialized() {
			return nil, ErrIdsNotInitialized
		}
		if err := sampler.CheckIdsExists(ids); err != nil {
			return nil, errors.Wrap(ErrIdsNotInitialized, err.Error())
		}
	}
	engine := NewTemplateEngine()
	tmpl, err := engine.Parse(graph, query)
	if err != nil {
		return nil, err
	}
	return &GraphUnit{client: client, graph: graph, engine: engine, tmpl: tmpl, readOnly: true}, nil
}

// AllowWrites sends GRAPH.QUERY instead of GRAPH.RO_QUERY.
func (u *GraphUnit) AllowWrites() *GraphUnit {
	u.readOnly = false
	return u
}

func (u *GraphUnit) Name() string {
	return "redisgraph:" + u.graph
}

func (u *GraphUnit) PreProcess(ctx context.Context) (bool, error) {
	if p, ok := u.client.(pinger); ok {
		if err := p.Ping(ctx).Err(); err != nil {
			return false, errors.Wrap(err, "pinging redis")
		}
	}
	return true, nil
}

func (u *GraphUnit) PostProcess(context.Context) error {
	return nil
}

// PreCall renders the query for this call's id chain into inv.Request. A
// chain that ends too early leaves Request empty and the call is skipped.
func (u *GraphUnit) PreCall(_ context.Context, inv *runner.Invocation) error {
	q, err := u.engine.Execute(u.tmpl, NewTemplateData(inv.Ids))
	if errors.Is(err, ErrIdAbsent) {
		inv.Request = nil
		return nil
	}
	if err != nil {
		return err
	}
	inv.Request = q
	return nil
}

func (u *GraphUnit) Call(ctx context.Context, inv *runner.Invocation) (runner.Outcome, error) {
	q, ok := inv.Request.(string)
	if !ok {
		return runner.Outcome{}, nil
	}
	cmd := roQuery
	if !u.readOnly {
		cmd = rwQuery
	}
	reply, err := u.client.Do(ctx, cmd, u.graph, q).Result()
	if err != nil {
		return runner.Outcome{}, classify(err)
	}
	res, err := ParseReply(reply)
	if err != nil {
		return runner.Outcome{}, &QueryError{Kind: "Reply", Err: err}
	}
	return runner.Outcome{Measured: true, Result: res}, nil
}

func (u *GraphUnit) PostCall(_ context.Context, inv *runner.Invocation, _ runner.Outcome, err error) {
	if err != nil && logrus.IsLevelEnabled(logrus.TraceLevel) {
		logrus.Tracef("call %d failed: %v (query %v)", inv.Seq, err, inv.Request)
	}
}

// ParseReply decodes a RedisGraph reply: [header, rows, stats] for queries
// that return data, or [stats] for those that do not.
func ParseReply(reply interface{}) (QueryResult, error) {
	parts, ok := reply.([]interface{})
	if !ok {
		return QueryResult{}, errors.Errorf("unexpected reply type %T", reply)
	}
	var res QueryResult
	switch len(parts) {
	case 1:
		res.Stats = cells(parts[0])
	case 3:
		res.Columns = headerNames(parts[0])
		rows, ok := parts[1].([]interface{})
		if !ok {
			return QueryResult{}, errors.Errorf("unexpected rows type %T", parts[1])
		}
		for _, row := range rows {
			res.Rows = append(res.Rows, cells(row))
		}
		res.Stats = cells(parts[2])
	default:
		return QueryResult{}, errors.Errorf("unexpected reply with %d parts", len(parts))
	}
	return res, nil
}

// headerNames accepts both plain and compact headers, where each column is
// [type, name].
func headerNames(v interface{}) []string {
	cols, _ := v.([]interface{})
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if pair, ok := c.([]interface{}); ok && len(pair) == 2 {
			out = append(out, cell(pair[1]))
			continue
		}
		out = append(out, cell(c))
	}
	return out
}

func cells(v interface{}) []string {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = cell(c)
	}
	return out
}

func cell(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
