package querier

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"graphbench/internal/sampler"
)

// SampleQuery builds a query returning root-to-leaf id chains across labels,
// one label per depth. Deeper levels are optional so short chains still
// yield their prefix.
func SampleQuery(labels []string, idProperty string, limit int) (string, error) {
	if len(labels) == 0 {
		return "", errors.New("at least one label is required")
	}
	if idProperty == "" {
		idProperty = "id"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "MATCH (n0:%s)", labels[0])
	for i := 1; i < len(labels); i++ {
		fmt.Fprintf(&b, " OPTIONAL MATCH (n%d)-->(n%d:%s)", i-1, i, labels[i])
	}
	cols := make([]string, len(labels))
	for i := range labels {
		cols[i] = fmt.Sprintf("n%d.%s", i, idProperty)
	}
	b.WriteString(" RETURN " + strings.Join(cols, ", "))
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	return b.String(), nil
}

// FetchIdRows runs a read-only bulk query and returns its rows as id chains.
func FetchIdRows(ctx context.Context, client Doer, graph, query string) ([][]string, error) {
	reply, err := client.Do(ctx, roQuery, graph, query).Result()
	if err != nil {
		return nil, errors.Wrapf(classify(err), "fetching ids from %s", graph)
	}
	res, err := ParseReply(reply)
	if err != nil {
		return nil, errors.Wrap(err, "decoding id rows")
	}
	logrus.Debugf("fetched %d id rows from %s", len(res.Rows), graph)
	return res.Rows, nil
}

// LoadIds fills s with the rows of query.
func LoadIds(ctx context.Context, client Doer, graph, query string, s *sampler.HierarchicalSampler) error {
	rows, err := FetchIdRows(ctx, client, graph, query)
	if err != nil {
		return err
	}
	s.BuildFromRows(rows)
	logrus.Infof("loaded %d ids (%d top-level parents, max depth %d) from %s",
		s.Size(), s.TopLevelParentCount(), s.MaxDepth(), graph)
	return nil
}
