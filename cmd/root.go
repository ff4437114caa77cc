package cmd

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/inference-sim/copysplit/split"
	"github.com/inference-sim/copysplit/split/trace"
	"github.com/inference-sim/copysplit/split/workload"
)

var (
	logLevel         string // Log verbosity level
	defaultsFilePath string // Path to defaults.yaml
	profileName      string // Device profile from defaults.yaml
	overridesPath    string // Optional split override YAML file

	workloadPath string // Workload spec YAML
	verify       bool   // Compare destinations with expected content
	traceLevel   string // Dispatch trace verbosity
	metricsAddr  string // Serve Prometheus metrics on this address after the run

	classifyDirection string // Direction for classify
	classifySize      string // Size for classify
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "copysplit",
	Short: "Split large memory transfers across independent copy engines",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q", logLevel)
		}
		logrus.SetLevel(level)
		return nil
	},
}

// resolveConfig loads the device profile and layers the split configuration:
// defaults, the profile's split section, the override file, then
// environment and flags.
func resolveConfig(cmd *cobra.Command) (DeviceProfile, split.Config, error) {
	defaults, err := loadDefaults(defaultsFilePath)
	if err != nil {
		return DeviceProfile{}, split.Config{}, err
	}
	profile, err := defaults.Profile(profileName)
	if err != nil {
		return DeviceProfile{}, split.Config{}, err
	}
	cfg, err := profile.SplitConfig()
	if err != nil {
		return DeviceProfile{}, split.Config{}, fmt.Errorf("profile %q: %w", profileName, err)
	}
	if overridesPath != "" {
		o, err := split.LoadOverrides(overridesPath)
		if err != nil {
			return DeviceProfile{}, split.Config{}, err
		}
		if cfg, err = o.Apply(cfg); err != nil {
			return DeviceProfile{}, split.Config{}, fmt.Errorf("%s: %w", overridesPath, err)
		}
	}
	v, err := newTuningViper(cmd.Flags())
	if err != nil {
		return DeviceProfile{}, split.Config{}, err
	}
	o, err := resolveOverrides(v)
	if err != nil {
		return DeviceProfile{}, split.Config{}, err
	}
	if cfg, err = o.Apply(cfg); err != nil {
		return DeviceProfile{}, split.Config{}, err
	}
	return profile, cfg, nil
}

// runCmd executes a workload on a simulated device.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a transfer workload on a simulated device",
	Run: func(cmd *cobra.Command, args []string) {
		profile, cfg, err := resolveConfig(cmd)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if !trace.IsValidTraceLevel(traceLevel) {
			logrus.Fatalf("Invalid trace level: %s", traceLevel)
		}
		spec, err := workload.LoadSpec(workloadPath)
		if err != nil {
			logrus.Fatalf("%v", err)
		}

		var reg *prometheus.Registry
		opts := runOptions{Verify: verify, TraceLevel: trace.TraceLevel(traceLevel)}
		if metricsAddr != "" {
			reg = prometheus.NewRegistry()
			opts.Registerer = reg
		}

		logrus.Infof("Running %s on profile %s (%d link engines, mode %s, min split %s)",
			workloadPath, profileName, profile.LinkCopyEngines, cfg.Mode, split.ByteSize(cfg.MinimumSplitSize))
		report, err := runWorkload(profile, cfg, spec, opts)
		if err != nil {
			logrus.Fatalf("Run failed: %v", err)
		}
		printReport(os.Stdout, report)
		if len(report.Result.Mismatches) > 0 {
			logrus.Fatalf("%d transfers produced unexpected content", len(report.Result.Mismatches))
		}

		if reg != nil {
			logrus.Infof("Serving metrics on %s/metrics", metricsAddr)
			http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(metricsAddr, nil); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.Fatalf("metrics server: %v", err)
			}
		}
	},
}

// compareCmd runs the same workload with splitting on and off.
var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Run a workload with and without splitting and compare the results",
	Run: func(cmd *cobra.Command, args []string) {
		profile, cfg, err := resolveConfig(cmd)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		spec, err := workload.LoadSpec(workloadPath)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		on, off, err := compareSplit(profile, cfg, spec)
		if err != nil {
			logrus.Fatalf("Compare failed: %v", err)
		}
		printComparison(os.Stdout, on, off)
		if on.Result.Digest != off.Result.Digest {
			logrus.Fatalf("split and direct runs produced different content")
		}
	},
}

// compareSplit runs spec twice on independent devices, concurrently.
func compareSplit(profile DeviceProfile, cfg split.Config, spec *workload.Spec) (on, off *runReport, err error) {
	onCfg, offCfg := cfg, cfg
	onCfg.Enabled, offCfg.Enabled = true, false

	var g errgroup.Group
	g.Go(func() error {
		r, err := runWorkload(profile, onCfg, spec, runOptions{Verify: true})
		on = r
		return err
	})
	g.Go(func() error {
		r, err := runWorkload(profile, offCfg, spec, runOptions{Verify: true})
		off = r
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return on, off, nil
}

func printComparison(w io.Writer, on, off *runReport) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Splitting", "Split Transfers", "Elapsed", "Mismatches", "Digest"})
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	for _, row := range []struct {
		name string
		r    *runReport
	}{{"on", on}, {"off", off}} {
		table.Append([]string{
			row.name,
			fmt.Sprintf("%d/%d", row.r.Result.Split, row.r.Result.Transfers),
			row.r.Elapsed.String(),
			fmt.Sprintf("%d", len(row.r.Result.Mismatches)),
			fmt.Sprintf("%x", row.r.Result.Digest[:8]),
		})
	}
	table.Render()
	if on.Elapsed > 0 {
		fmt.Fprintf(w, "Speedup: %.2fx\n", float64(off.Elapsed)/float64(on.Elapsed))
	}
}

// classifyCmd prints the policy decision for one transfer.
var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Show whether a transfer would be split",
	Run: func(cmd *cobra.Command, args []string) {
		profile, cfg, err := resolveConfig(cmd)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		dir, err := split.ParseDirection(classifyDirection)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		size, err := split.ParseByteSize(classifySize)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		decision, lanes, err := classifyTransfer(profile, cfg, dir, uint64(size))
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		fmt.Printf("direction=%s size=%s split=%t group=%s lanes=%v reason=%q\n",
			dir, size, decision.Split, decision.Group, lanes, decision.Reason)
	},
}

// classifyTransfer builds the lane registry of the profile's device and
// classifies one transfer against it. lanes are the engine ordinals used.
func classifyTransfer(profile DeviceProfile, cfg split.Config, dir split.DirectionClass, size uint64) (split.Decision, []int, error) {
	d, err := newProfileDispatcher(profile, cfg)
	if err != nil {
		return split.Decision{}, nil, err
	}
	defer d.Close()
	decision := d.Classify(dir, size)
	var lanes []int
	for _, lane := range d.Registry().LanesFor(decision.Group) {
		lanes = append(lanes, lane.Ordinal())
	}
	if !decision.Split {
		lanes = []int{d.ControlLane().Ordinal()}
	}
	return decision, lanes, nil
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&defaultsFilePath, "defaults", "defaults.yaml", "Path to the device profile file")
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "generic-4", "Device profile from the defaults file")
	rootCmd.PersistentFlags().StringVar(&overridesPath, "split-overrides", "", "YAML file with split configuration overrides")
	addTuningFlags(rootCmd.PersistentFlags())

	for _, c := range []*cobra.Command{runCmd, compareCmd} {
		c.Flags().StringVar(&workloadPath, "workload", "", "Workload spec YAML")
		_ = c.MarkFlagRequired("workload")
	}
	runCmd.Flags().BoolVar(&verify, "verify", true, "Verify destination content after the run")
	runCmd.Flags().StringVar(&traceLevel, "trace", "none", "Dispatch trace level (none, decisions, lanes)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address after the run (blocks)")

	classifyCmd.Flags().StringVar(&classifyDirection, "direction", "d2h", "Transfer direction (d2d, d2h-usm, d2h, h2d-usm, h2d, h2h)")
	classifyCmd.Flags().StringVar(&classifySize, "size", "8MiB", "Transfer size")

	rootCmd.AddCommand(runCmd, compareCmd, classifyCmd)
}
