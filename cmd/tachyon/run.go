package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/paveg/tachyon"
	"github.com/paveg/tachyon/internal/logging"
	"github.com/paveg/tachyon/internal/monitoring"
	"github.com/spf13/cobra"
)

const maxShownValues = 10

func newRunCmd(a *app) *cobra.Command {
	var (
		asJSON      bool
		showPlan    bool
		distributed bool
		input       string
	)
	cmd := &cobra.Command{
		Use:   "run ANALYSIS",
		Short: "Run an analysis file in one pass over its input",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			an, err := LoadAnalysis(args[0])
			if err != nil {
				return err
			}
			if input != "" {
				an.Input = input
			}
			return a.run(cmd.Context(), an, runOptions{json: asJSON, plan: showPlan, distributed: distributed})
		},
	}
	f := cmd.Flags()
	f.BoolVar(&asJSON, "json", false, "print results as JSON")
	f.BoolVar(&showPlan, "plan", false, "print the computation graph before running")
	f.BoolVar(&distributed, "distributed", false, "run on in-process workers when no worker addresses are configured")
	f.StringVar(&input, "input", "", "override the input of the analysis")
	return cmd
}

type runOptions struct {
	json        bool
	plan        bool
	distributed bool
}

func (a *app) run(ctx context.Context, an *Analysis, opts runOptions) error {
	logger := logging.Get()
	metrics := monitoring.NewMetrics()
	collector := monitoring.NewMetricsCollector(a.cfg.Metrics.Enabled)

	dfOpts := []tachyon.Option{
		tachyon.WithConfig(a.cfg),
		tachyon.WithObjectStore(a.cfg.ObjectStore),
		tachyon.WithLogger(logger),
		tachyon.WithMetrics(metrics),
		tachyon.WithCollector(collector),
	}
	if opts.distributed || len(a.cfg.Distributed.Workers) > 0 {
		cluster, err := tachyon.NewCluster(a.cfg, metrics)
		if err != nil {
			return err
		}
		defer cluster.Close()
		dfOpts = append(dfOpts, tachyon.WithExecutor(cluster))
	}
	if a.cfg.Metrics.Enabled {
		srv := monitoring.NewMonitoringServer(collector, metrics, a.cfg.Metrics.Address)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Debug("metrics server stopped", "error", err)
			}
		}()
		defer srv.Stop()
	}

	df, err := tachyon.Open(ctx, an.Input, dfOpts...)
	if err != nil {
		return err
	}
	defer df.Release()

	collect, err := an.Book(df)
	if err != nil {
		return err
	}
	if opts.plan {
		data, err := df.Describe().ToJSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, string(data))
	}

	start := time.Now()
	results, err := collect(ctx)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	if opts.json {
		for i := range results {
			results[i].Value = jsonValue(results[i].Value)
		}
		return writeJSON(a.out, results)
	}
	printResults(a.out, results)
	c := df.Counter()
	fmt.Fprintf(a.out, "\n%s %d pass(es) over %s in %s\n",
		color.GreenString("done:"), c.Completed(), an.Input, elapsed.Round(time.Millisecond))
	return nil
}

func printResults(w io.Writer, results []outcome) {
	name := color.New(color.FgCyan, color.Bold).SprintFunc()
	kind := color.New(color.Faint).SprintFunc()
	for _, r := range results {
		fmt.Fprintf(w, "%s %s\n", name(r.Name), kind("("+r.Kind+")"))
		fmt.Fprintf(w, "  %s\n", formatValue(r.Value))
	}
}

func formatValue(v any) string {
	switch v := v.(type) {
	case float64:
		return fmt.Sprintf("%.6g", v)
	case *tachyon.Histogram:
		return v.String()
	case []tachyon.Cut:
		s := ""
		for i, c := range v {
			if i > 0 {
				s += "\n  "
			}
			s += fmt.Sprintf("%-12s all=%-8d pass=%-8d eff=%6.2f%%", c.Name, c.All, c.Pass, 100*c.Efficiency())
		}
		if s == "" {
			s = "no named filters"
		}
		return s
	case tachyon.SnapshotInfo:
		return fmt.Sprintf("wrote %d rows of %v to %s (%s)", v.Rows, v.Columns, v.Path, v.Format)
	case []int32:
		return shown(v)
	case []int64:
		return shown(v)
	case []float32:
		return shown(v)
	case []float64:
		return shown(v)
	case []bool:
		return shown(v)
	case []string:
		return shown(v)
	}
	return fmt.Sprint(v)
}

func shown[T any](values []T) string {
	if len(values) <= maxShownValues {
		return fmt.Sprintf("%v (%d values)", values, len(values))
	}
	return fmt.Sprintf("%v ... (%d values)", values[:maxShownValues], len(values))
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
