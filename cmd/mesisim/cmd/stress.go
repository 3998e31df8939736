package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"runtime/pprof"
	"time"

	"github.com/spf13/cobra"

	"github.com/sarchlab/mesisim/core"
	"github.com/sarchlab/mesisim/system"
	"github.com/sarchlab/mesisim/trace"
)

type stressOptions struct {
	configPath string
	traffic    system.RandomTraffic
	cpuProfile string
	memProfile string
	verbose    bool
	duration   time.Duration
}

var stressOpts = stressOptions{
	traffic: system.RandomTraffic{
		Seed:       1,
		Ops:        100000,
		Span:       2048,
		WriteRatio: 0.3,
	},
	duration: 2 * time.Minute,
}

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Run random load/store traffic on every core and check coherence.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runStress(cmd.Context(), stressOpts, cmd.OutOrStdout())
	},
}

func init() {
	f := stressCmd.Flags()
	f.StringVar(&stressOpts.configPath, "config", "",
		"Path to system configuration JSON file")
	f.Int64Var(&stressOpts.traffic.Seed, "seed", stressOpts.traffic.Seed,
		"Random seed")
	f.IntVar(&stressOpts.traffic.Ops, "ops", stressOpts.traffic.Ops,
		"Accesses per core")
	f.Uint64Var(&stressOpts.traffic.Span, "span", stressOpts.traffic.Span,
		"Bytes of memory the accesses fall in")
	f.Float64Var(&stressOpts.traffic.WriteRatio, "write-ratio",
		stressOpts.traffic.WriteRatio, "Fraction of accesses that are stores")
	f.StringVar(&stressOpts.cpuProfile, "cpuprofile", "",
		"write cpu profile to file")
	f.StringVar(&stressOpts.memProfile, "memprofile", "",
		"write memory profile to file")
	f.BoolVarP(&stressOpts.verbose, "verbose", "v", false,
		"Log every bus phase to stderr")
	f.DurationVar(&stressOpts.duration, "duration", stressOpts.duration,
		"max duration to run")

	rootCmd.AddCommand(stressCmd)
}

func runStress(ctx context.Context, opts stressOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	config, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.traffic.Span > uint64(config.MemoryBytes) {
		return fmt.Errorf("span %d exceeds memory of %d bytes",
			opts.traffic.Span, config.MemoryBytes)
	}

	var sysOpts []system.Option
	if opts.verbose {
		logger := log.New(os.Stderr, "", log.Lmicroseconds)
		sysOpts = append(sysOpts,
			system.WithLogger(logger),
			system.WithHook(trace.NewLogHook(logger)),
		)
	}

	s, err := system.New(config, sysOpts...)
	if err != nil {
		return err
	}
	defer s.Stop()

	if opts.cpuProfile != "" {
		f, err := os.Create(opts.cpuProfile)
		if err != nil {
			return fmt.Errorf("creating CPU profile: %w", err)
		}
		defer func() { _ = f.Close() }()

		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("starting CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	workloads := make([]core.Workload, config.NumCores)
	for i := range workloads {
		workloads[i] = system.RandomWorkload(opts.traffic)
	}

	start := time.Now()
	if err := s.Run(ctx, workloads...); err != nil {
		return err
	}
	elapsed := time.Since(start)

	if err := s.CheckCoherence(); err != nil {
		return err
	}
	if err := s.Flush(ctx); err != nil {
		return err
	}
	s.Stop()

	if opts.memProfile != "" {
		if err := writeHeapProfile(opts.memProfile); err != nil {
			return err
		}
	}

	stats := s.Stats()
	total := uint64(0)
	for _, c := range stats.Cores {
		total += c.Loads + c.Stores
	}

	fmt.Fprintf(out, "Accesses: %d in %v (%.0f/s)\n",
		total, elapsed, float64(total)/elapsed.Seconds())
	fmt.Fprintf(out, "Bus transactions: %d (%d cache-to-cache)\n",
		stats.Bus.Granted, stats.Bus.CacheToCache)
	for i, c := range stats.Caches {
		hitRate := 0.0
		if c.Reads+c.Writes > 0 {
			hitRate = float64(c.Hits) / float64(c.Reads+c.Writes)
		}
		fmt.Fprintf(out, "Cache %d: hit rate %.3f, invalidations %d\n",
			i, hitRate, c.Invalidations)
	}

	if stats.Bus.Anomalies > 0 {
		return fmt.Errorf("%d protocol anomalies", stats.Bus.Anomalies)
	}

	return nil
}

func writeHeapProfile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating memory profile: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("writing memory profile: %w", err)
	}

	return nil
}
