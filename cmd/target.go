package cmd

import (
	"context"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"graphbench/internal/querier"
	"graphbench/internal/runner"
	"graphbench/internal/sampler"
)

const simPrefix = "sim:"

// target is where calls go: a simulated profile or a RedisGraph server.
type target struct {
	profile string
	client  *redis.Client
}

func parseTarget(s string) (*target, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return nil, errors.New("no target given")
	case strings.HasPrefix(s, simPrefix):
		return &target{profile: strings.TrimPrefix(s, simPrefix)}, nil
	}

	opts, err := redisOptions(s)
	if err != nil {
		return nil, err
	}
	return &target{client: redis.NewClient(opts)}, nil
}

func redisOptions(addr string) (*redis.Options, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opts, err := redis.ParseURL(addr)
		return opts, errors.Wrapf(err, "parsing target %s", addr)
	}
	return &redis.Options{Addr: addr}, nil
}

func (t *target) Close() error {
	if t.client == nil {
		return nil
	}
	return t.client.Close()
}

func (t *target) unit(ids sampler.IdSupplier) (runner.QueryUnit, error) {
	if t.client == nil {
		return querier.NewSimUnit(t.profile)
	}

	graph := viper.GetString("graph")
	if graph == "" {
		return nil, errors.New("--graph is required for a RedisGraph target")
	}
	query, err := queryText()
	if err != nil {
		return nil, err
	}
	u, err := querier.NewGraphUnit(t.client, graph, query, ids)
	if err != nil {
		return nil, err
	}
	if viper.GetBool("allow-writes") {
		u.AllowWrites()
	}
	return u, nil
}

func queryText() (string, error) {
	if path := viper.GetString("query-file"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", errors.Wrapf(err, "reading query file %s", path)
		}
		return string(b), nil
	}
	q := viper.GetString("query")
	if strings.TrimSpace(q) == "" {
		return "", errors.New("--query or --query-file is required for a RedisGraph target")
	}
	return q, nil
}

func sampleQuery(labels []string) (string, error) {
	return querier.SampleQuery(labels, viper.GetString("id-property"), viper.GetInt("sample-size"))
}

func loadGraphIds(ctx context.Context, t *target, query string, s *sampler.HierarchicalSampler) error {
	graph := viper.GetString("graph")
	if graph == "" {
		return errors.New("--graph is required to sample ids")
	}
	return querier.LoadIds(ctx, t.client, graph, query, s)
}
