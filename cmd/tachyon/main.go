// Command tachyon runs analyses described in YAML or JSON files, generates
// synthetic datasets and serves distributed workers.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/paveg/tachyon/internal/config"
	"github.com/paveg/tachyon/internal/logging"
	"github.com/paveg/tachyon/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app holds state shared by the commands of one invocation.
type app struct {
	v   *viper.Viper
	cfg config.Config
	out io.Writer
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: out}
	a.v.SetEnvPrefix("TACHYON")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "tachyon",
		Short:         "Lazy columnar analysis engine",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			return a.loadConfig()
		},
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (json or yaml)")
	pf.String("log-level", config.DefaultLogLevel, "log level: debug, info, warn, error")
	pf.String("log-format", config.DefaultLogFormat, "log format: text or json")
	pf.StringSlice("workers", nil, "worker base URLs for distributed runs")
	pf.Int("partitions", 0, "ranges per distributed pass (0 = one per worker)")
	pf.Bool("metrics", false, "serve Prometheus metrics")

	root.AddCommand(
		newRunCmd(a),
		newGenCmd(a),
		newWorkerCmd(a),
		newVersionCmd(a),
	)
	return root
}

// loadConfig builds the configuration from the config file, or the
// TACHYON_* environment without one, then applies flags.
func (a *app) loadConfig() error {
	cfg := config.LoadFromEnv()
	if path := a.v.GetString("config"); path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return err
		}
	}

	if a.v.IsSet("log-level") {
		cfg.Logging.Level = a.v.GetString("log-level")
	}
	if a.v.IsSet("log-format") {
		cfg.Logging.Format = a.v.GetString("log-format")
	}
	if a.v.IsSet("workers") {
		cfg.Distributed.Workers = a.v.GetStringSlice("workers")
	}
	if a.v.IsSet("partitions") {
		cfg.Distributed.Partitions = a.v.GetInt("partitions")
	}
	if a.v.IsSet("metrics") {
		cfg.Metrics.Enabled = a.v.GetBool("metrics")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger := logging.Init(cfg.Logging)
	for _, w := range cfg.Warnings() {
		logger.Warn("configuration", "warning", w)
	}
	config.SetGlobalConfig(cfg)
	a.cfg = cfg
	return nil
}

func newVersionCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(_ *cobra.Command, _ []string) error {
			info := version.Info()
			if asJSON {
				return writeJSON(a.out, info)
			}
			fmt.Fprint(a.out, info.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
