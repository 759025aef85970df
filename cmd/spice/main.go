package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/edp1096/spicecore/pkg/analysis"
	"github.com/edp1096/spicecore/pkg/circuit"
	"github.com/edp1096/spicecore/pkg/config"
	"github.com/edp1096/spicecore/pkg/metrics"
	"github.com/edp1096/spicecore/pkg/netlist"
)

var (
	configFile  string
	threads     int
	plotFile    string
	asciiPlot   bool
	quiet       bool
	logLevel    string
	showMetrics bool
	timeout     time.Duration
	traceSpans  bool
	watch       bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "spice",
		Short:         "circuit simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run [netlist]",
		Short: "run the analysis of a netlist",
		Args:  cobra.ExactArgs(1),
		RunE:  runNetlist,
	}
	runCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	runCmd.Flags().IntVar(&threads, "threads", -1, "load threads, 0 = sequential (overrides config)")
	runCmd.Flags().StringVar(&plotFile, "plot", "", "write waveforms to a png/svg/pdf file")
	runCmd.Flags().BoolVar(&asciiPlot, "ascii", isatty.IsTerminal(os.Stdout.Fd()), "plot waveforms in the terminal")
	runCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print only the final message")
	runCmd.Flags().BoolVar(&showMetrics, "metrics", false, "print solver counters after the run")
	runCmd.Flags().DurationVar(&timeout, "timeout", 0, "pause the analysis after this long")
	runCmd.Flags().BoolVar(&traceSpans, "trace", false, "print analysis spans to stderr")
	runCmd.Flags().BoolVarP(&watch, "watch", "w", false, "run again whenever the netlist changes")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "print the default configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := yaml.Marshal(config.Default())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	rootCmd.AddCommand(runCmd, configCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}

func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

func loadConfig() (*config.Config, error) {
	if configFile == "" {
		return config.Default(), nil
	}
	return config.Load(configFile)
}

func runNetlist(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	var opts []analysis.Option
	if traceSpans {
		tp, err := newTracerProvider()
		if err != nil {
			return err
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Warn("flushing spans", "error", err)
			}
		}()
		opts = append(opts, analysis.WithTracer(tp.Tracer("spice")))
	}

	if watch {
		return watchNetlist(ctx, args[0], logger, func() error {
			return simulate(ctx, cmd, args[0], logger, opts)
		})
	}
	return simulate(ctx, cmd, args[0], logger, opts)
}

// simulate parses, elaborates and runs one netlist.
func simulate(ctx context.Context, cmd *cobra.Command, path string, logger *slog.Logger, opts []analysis.Option) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading netlist: %w", err)
	}
	deck, err := netlist.Parse(string(content))
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := netlist.ApplyOptions(deck, cfg); err != nil {
		return err
	}
	if threads >= 0 {
		cfg.Threads = threads
	}

	ckt := circuit.New(deck.Title).WithLogger(logger)
	defer ckt.Destroy()
	if err := netlist.Elaborate(deck, ckt); err != nil {
		return err
	}
	a, err := deck.NewAnalysis()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	simOpts := append([]analysis.Option{
		analysis.WithLogger(logger),
		analysis.WithMetrics(metrics.NewRecorder(reg)),
	}, opts...)
	sim := analysis.NewSimulation(ckt, cfg, simOpts...)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out := cmd.OutOrStdout()
	if !quiet {
		fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%s  [%s]", deck.Title, a.Name())))
	}
	runErr := sim.Run(ctx, a)

	if !quiet {
		printResults(out, a.GetResults())
		if asciiPlot {
			printASCII(out, a.GetResults())
		}
		if showMetrics {
			if err := printMetrics(out, reg); err != nil {
				return err
			}
		}
	}
	if plotFile != "" {
		if err := savePlot(plotFile, deck.Title, a.GetResults()); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, statusLine(sim))
	if errors.Is(runErr, analysis.ErrPaused) {
		return nil
	}
	return runErr
}
