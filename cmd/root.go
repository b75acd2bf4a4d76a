package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"graphbench/internal/banner"
	"graphbench/internal/cli"
	"graphbench/internal/metrics"
	"graphbench/internal/report"
	"graphbench/internal/runner"
	"graphbench/internal/sampler"
	"graphbench/internal/storage"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "graphbench",
	Short: "graphbench - rate-controlled load generator for graph queries",
	Long: `
graphbench drives a graph-query service at a fixed aggregate call rate and reports
latency percentiles, error groups and queue depth.

Targets:
  sim:<profile>            simulated latency (instant, fast, medium, slow, spike, error)
  host:port | redis://...  a RedisGraph-compatible server, queried with --graph and --query

Query templates can reference sampled ids with {{id N}} or {{ids}}; ids come from
--ids-import files or from a sampling query against the target (--sample-labels, --id-query).

Persistent settings can be kept in $HOME/.graphbench.yaml or GRAPHBENCH_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return configureLogging(viper.GetString("log-level"))
	},
	RunE: runBench,
}

func Execute() {
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.GetString())
		cmd.Usage()
	})

	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.graphbench.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	f := rootCmd.Flags()
	f.StringP("target", "t", "sim:fast", "sim:<profile> or a RedisGraph address")
	f.StringP("graph", "g", "", "graph key to query")
	f.StringP("query", "q", "", "Cypher query template")
	f.String("query-file", "", "read the query template from a file")
	f.Bool("allow-writes", false, "send GRAPH.QUERY instead of GRAPH.RO_QUERY")
	f.String("name", "", "run label used in metrics, reports and history")

	f.IntP("rate", "r", 10, "target calls per second across all schedulers")
	f.Int("schedulers", 1, "number of pacing loops sharing the rate")
	f.IntP("workers", "w", 16, "worker pool size")
	f.DurationP("duration", "d", 10*time.Second, "measured run duration")
	f.Duration("warmup", 0, "unmeasured warmup run before the measured run")
	f.Duration("shutdown-grace", runner.DefaultShutdownGrace, "time allowed for in-flight calls to finish")
	f.Int("error-threshold", 0, "abort once errors exceed this count (0 disables)")
	f.Int64("queue-ceiling", runner.DefaultQueueDepthCeiling, "pending-call ceiling before the run aborts as overloaded")

	f.String("ids-import", "", "id file, directory or glob (** supported)")
	f.String("ids-export", "", "write the loaded ids to this file after the run")
	f.Bool("flat-ids", false, "treat imported ids as a flat list")
	f.Int("id-depth", 0, "depth of the id returned by {{id}} lookups")
	f.Int("ids-budget", 0, "stop importing after this many distinct ids (0 = unlimited)")
	f.Int64("seed", 0, "id sampling seed (0 = random)")
	f.StringSlice("sample-labels", nil, "node labels, root first, to sample id chains from the target")
	f.String("id-property", "id", "node property holding the id")
	f.Int("sample-size", 1000, "rows fetched by the sampling query")
	f.String("id-query", "", "custom sampling query returning one id chain per row")

	f.StringP("out", "o", "", "report filename prefix")
	f.String("formats", "json,yaml,csv", "report formats")
	f.Bool("history", true, "save the run to the local history")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")

	viper.BindPFlags(f)

	rootCmd.AddCommand(historyCmd, idsCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".graphbench")
	}
	viper.SetEnvPrefix("graphbench")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			logrus.Warnf("reading config: %v", err)
		}
		return
	}
	logrus.Debugf("using config file %s", viper.ConfigFileUsed())
}

func configureLogging(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return errors.Wrap(err, "log level")
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetOutput(os.Stderr)
	logrus.SetLevel(lvl)
	return nil
}

func runConfig() runner.Config {
	return runner.Config{
		Name:              viper.GetString("name"),
		TargetRate:        viper.GetInt("rate"),
		Schedulers:        viper.GetInt("schedulers"),
		Workers:           viper.GetInt("workers"),
		Duration:          viper.GetDuration("duration"),
		ShutdownGrace:     viper.GetDuration("shutdown-grace"),
		ErrorThreshold:    viper.GetInt("error-threshold"),
		QueueDepthCeiling: viper.GetInt64("queue-ceiling"),
	}
}

func runBench(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := runConfig()
	if err := cfg.WithDefaults().Validate(); err != nil {
		return err
	}

	t, err := parseTarget(viper.GetString("target"))
	if err != nil {
		return err
	}
	defer t.Close()

	ids, err := loadIds(ctx, t)
	if err != nil {
		return err
	}

	unit, err := t.unit(ids)
	if err != nil {
		return err
	}

	formats, err := report.ParseFormats(viper.GetString("formats"))
	if err != nil {
		return err
	}

	opts := cli.Options{
		Warmup:    viper.GetDuration("warmup"),
		OutPrefix: viper.GetString("out"),
		Formats:   formats,
	}

	if addr := viper.GetString("metrics-addr"); addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts.Sink = metrics.NewSink(reg)
		go func() {
			if err := metrics.Serve(ctx, addr, reg); err != nil {
				logrus.WithError(err).Error("metrics endpoint stopped")
			}
		}()
	}

	if viper.GetBool("history") {
		store, err := openHistory()
		if err != nil {
			logrus.WithError(err).Warn("run history disabled")
		} else {
			defer store.Close()
			opts.History = store
		}
	}

	_, runErr := cli.Start(ctx, cfg, unit, ids, opts)

	if path := viper.GetString("ids-export"); path != "" && ids != nil {
		if err := exportIds(ids, path); err != nil {
			logrus.WithError(err).Error("exporting ids")
		}
	}
	return runErr
}

func openHistory() (*storage.Store, error) {
	path, err := storage.DefaultPath()
	if err != nil {
		return nil, err
	}
	return storage.NewStore(path)
}

// loadIds returns nil when no id source is configured.
func loadIds(ctx context.Context, t *target) (sampler.IdSupplier, error) {
	opts := []sampler.Option{
		sampler.WithDepth(viper.GetInt("id-depth")),
		sampler.WithBudget(viper.GetInt("ids-budget")),
	}
	if seed := viper.GetInt64("seed"); seed != 0 {
		opts = append(opts, sampler.WithSeed(seed))
	}

	if pattern := viper.GetString("ids-import"); pattern != "" {
		s := newSupplier(viper.GetBool("flat-ids"), opts)
		if err := s.Import(pattern); err != nil {
			return nil, errors.Wrapf(err, "importing ids from %s", pattern)
		}
		logrus.Infof("imported %d ids from %s", s.Size(), pattern)
		return s, nil
	}

	query := viper.GetString("id-query")
	labels := viper.GetStringSlice("sample-labels")
	if query == "" && len(labels) == 0 {
		return nil, nil
	}
	if t.client == nil {
		return nil, errors.New("sampling ids requires a RedisGraph target")
	}
	if query == "" {
		q, err := sampleQuery(labels)
		if err != nil {
			return nil, err
		}
		query = q
	}

	s := sampler.NewHierarchicalSampler(opts...)
	if err := loadGraphIds(ctx, t, query, s); err != nil {
		return nil, err
	}
	logrus.Infof("sampled %d ids (max depth %d) from graph %s", s.Size(), s.MaxDepth(), viper.GetString("graph"))
	return s, nil
}

func newSupplier(flat bool, opts []sampler.Option) sampler.IdSupplier {
	if flat {
		return sampler.NewFlatSampler(opts...)
	}
	return sampler.NewHierarchicalSampler(opts...)
}

func exportIds(ids sampler.IdSupplier, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	if err := ids.Export(f); err != nil {
		f.Close()
		return err
	}
	logrus.Infof("exported ids to %s", path)
	return f.Close()
}
