// Package cli runs a benchmark headless and prints live progress and a summary.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"graphbench/internal/report"
	"graphbench/internal/runner"
	"graphbench/internal/sampler"
	"graphbench/internal/storage"
)

const divider = "======================================================================"

// Options control everything around the run itself.
type Options struct {
	Warmup    time.Duration
	OutPrefix string
	Formats   []report.Format
	History   *storage.Store
	Sink      runner.MetricsSink
	Interval  time.Duration
	Out       io.Writer
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 200 * time.Millisecond
	}
	if o.Out == nil {
		o.Out = os.Stdout
	}
	if len(o.Formats) == 0 {
		o.Formats = report.AllFormats
	}
	return o
}

// Start runs an optional warmup followed by the measured run, then reports it.
func Start(ctx context.Context, cfg runner.Config, unit runner.QueryUnit, ids sampler.IdSupplier, opts Options) (runner.Summary, error) {
	opts = opts.withDefaults()
	if err := cfg.WithDefaults().Validate(); err != nil {
		return runner.Summary{}, err
	}
	printHeader(opts.Out, cfg, unit)

	if opts.Warmup > 0 {
		wcfg := cfg
		wcfg.Name = cfg.Name + "-warmup"
		wcfg.Duration = opts.Warmup
		wcfg.Warmup = true
		fmt.Fprintf(opts.Out, "%s\n", Subtle.Render(fmt.Sprintf("warming up for %s", opts.Warmup)))
		if _, err := monitor(ctx, wcfg, unit, ids, opts); err != nil {
			return runner.Summary{}, errors.Wrap(err, "warmup")
		}
		fmt.Fprintln(opts.Out)
	}

	summary, runErr := monitor(ctx, cfg, unit, ids, opts)
	if summary.State == "" {
		// the run never started
		return summary, runErr
	}
	printSummary(opts.Out, summary)
	handleAutoReport(opts, cfg, summary)
	saveHistory(opts.History, cfg, summary)
	return summary, runErr
}

func monitor(ctx context.Context, cfg runner.Config, unit runner.QueryUnit, ids sampler.IdSupplier, opts Options) (runner.Summary, error) {
	r, err := runner.NewRunner(cfg, opts.Sink)
	if err != nil {
		return runner.Summary{}, err
	}
	defer r.Close()

	if err := r.Configure(unit, ids); err != nil {
		return runner.Summary{}, err
	}

	tickCtx, stopTicks := context.WithCancel(ctx)
	defer stopTicks()
	r.StartTickLoop(tickCtx, opts.Interval)

	type result struct {
		summary runner.Summary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		s, err := r.Run(ctx)
		done <- result{s, err}
	}()

	bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(24), progress.WithoutPercentage())
	rate := NewSparkline(24, Success)
	var lastCalls uint64

	for {
		select {
		case snap := <-r.Updates:
			calls := snap.Success + snap.Errors
			rate.Add(calls - lastCalls)
			lastCalls = calls
			fmt.Fprintf(opts.Out, "\r%s", progressLine(bar, rate, cfg, snap))
		case res := <-done:
			fmt.Fprintf(opts.Out, "\r%s\n", progressLine(bar, rate, cfg, r.Snapshot()))
			return res.summary, res.err
		}
	}
}

func progressLine(bar progress.Model, rate *Sparkline, cfg runner.Config, snap runner.StatsSnapshot) string {
	status := fmt.Sprintf("%3.0f%% | %s/%s | %s | OK: %d | Err: %d | Pend: %d | %.1f/s | p99 %.1fms",
		snap.Progress*100,
		snap.Elapsed.Round(time.Second), cfg.Duration,
		snap.State,
		snap.Success, snap.Errors, snap.Pending,
		snap.CallsPerSec, snap.P99Ms,
	)
	if snap.State == runner.WaitingCompletion {
		status = fmt.Sprintf("100%% | draining %d calls...", snap.Pending)
	}
	return bar.ViewAs(snap.Progress) + " " + rate.View() + " " + status
}

func printHeader(w io.Writer, cfg runner.Config, unit runner.QueryUnit) {
	fmt.Fprintf(w, "\n%s\n", Title.Render("GRAPHBENCH"))
	fmt.Fprintln(w, row("Unit", unit.Name()))
	if cfg.Name != "" {
		fmt.Fprintln(w, row("Run", cfg.Name))
	}
	fmt.Fprintln(w, row("Target rate", fmt.Sprintf("%d/s over %d schedulers", cfg.TargetRate, max(cfg.Schedulers, 1))))
	fmt.Fprintln(w, row("Workers", fmt.Sprintf("%d", cfg.Workers)))
	fmt.Fprintln(w, row("Duration", cfg.Duration.String()))
	if cfg.ErrorThreshold > 0 {
		fmt.Fprintln(w, row("Error limit", fmt.Sprintf("%d", cfg.ErrorThreshold)))
	}
	fmt.Fprintf(w, "%s\n\n", Subtle.Render(divider))
}

func printSummary(w io.Writer, s runner.Summary) {
	fmt.Fprintf(w, "\n%s\n", Title.Render("RESULTS"))
	fmt.Fprintln(w, row("State", s.State))
	fmt.Fprintln(w, row("Elapsed", s.Elapsed.Round(time.Millisecond).String()))
	fmt.Fprintln(w, row("Success", fmt.Sprintf("%d", s.Success)))
	fmt.Fprintln(w, row("Errors", fmt.Sprintf("%d (%.2f%%)", s.Errors, s.ErrorRate)))
	fmt.Fprintln(w, row("Aborted calls", fmt.Sprintf("%d", s.AbortedCalls)))
	fmt.Fprintln(w, row("Calls/s", fmt.Sprintf("%.2f", s.CallsPerSec)))
	fmt.Fprintln(w, row("Queue depth", fmt.Sprintf("mean %.1f, p99 %d, max %d", s.QueueDepth.Mean, s.QueueDepth.P99, s.QueueDepth.Max)))

	fmt.Fprintf(w, "\n%s\n", Subtle.Render("Latency (ms) [success only]"))
	l := s.Latency
	for _, p := range []struct {
		name string
		v    float64
	}{
		{"Mean", l.MeanMs}, {"P50", l.P50Ms}, {"P90", l.P90Ms}, {"P95", l.P95Ms},
		{"P99", l.P99Ms}, {"P99.9", l.P999Ms}, {"Max", l.MaxMs},
	} {
		fmt.Fprintln(w, row("  "+p.name, fmt.Sprintf("%.2f", p.v)))
	}

	if len(s.ErrorGroups) > 0 {
		fmt.Fprintf(w, "\n%s\n", Error.Render("Failures"))
		for _, g := range s.ErrorGroups {
			fmt.Fprintf(w, "   %d x %s: %s\n", g.Count, g.Type, g.Message)
		}
	}
	if s.Aborted {
		fmt.Fprintf(w, "\n%s %s\n", Warn.Render("Run aborted:"), s.AbortReason)
	}
	fmt.Fprintln(w, Subtle.Render(divider))
}

func handleAutoReport(opts Options, cfg runner.Config, s runner.Summary) {
	if opts.OutPrefix == "" {
		return
	}
	paths, err := report.WriteFiles(opts.OutPrefix, report.Document{Config: cfg, Summary: s}, opts.Formats)
	if err != nil {
		logrus.WithError(err).Error("writing reports")
	}
	if len(paths) > 0 {
		fmt.Fprintf(opts.Out, "Reports saved to %s\n", strings.Join(paths, ", "))
	}
}

func saveHistory(store *storage.Store, cfg runner.Config, s runner.Summary) {
	if store == nil {
		return
	}
	item, err := storage.NewHistoryItem(cfg, s)
	if err == nil {
		err = store.Save(item)
	}
	if err != nil {
		logrus.WithError(err).Warn("saving run history")
		return
	}
	logrus.Debugf("saved run %s to %s", item.ID, store.Path())
}
