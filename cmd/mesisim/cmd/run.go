package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sarchlab/mesisim/core"
	"github.com/sarchlab/mesisim/memory"
	"github.com/sarchlab/mesisim/monitoring"
	"github.com/sarchlab/mesisim/system"
	"github.com/sarchlab/mesisim/trace"
)

type runOptions struct {
	configPath  string
	traceDB     string
	monitorPort int
	monitor     bool
	verbose     bool
	timeout     time.Duration
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the increment workload on every core.",
	Long: `Seeds word i of memory with 10*(i+1), lets core i add its ID to ` +
		`word i through its private cache, flushes the caches and checks ` +
		`the result and coherence.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts := runOpts
		opts.monitor = cmd.Flags().Changed("monitor")
		return runSimulation(cmd.Context(), opts, cmd.OutOrStdout())
	},
}

func init() {
	runCmd.Flags().StringVar(&runOpts.configPath, "config", "",
		"Path to system configuration JSON file")
	runCmd.Flags().StringVar(&runOpts.traceDB, "trace-db", "",
		"Record bus transactions into this SQLite file")
	runCmd.Flags().IntVar(&runOpts.monitorPort, "monitor", 0,
		"Serve the monitoring API on this port")
	runCmd.Flags().BoolVarP(&runOpts.verbose, "verbose", "v", false,
		"Log every bus phase to stderr")
	runCmd.Flags().DurationVar(&runOpts.timeout, "timeout", 30*time.Second,
		"Abort the run after this long")

	rootCmd.AddCommand(runCmd)
}

func loadConfig(path string) (*system.Config, error) {
	if path == "" {
		return system.DefaultConfig(), nil
	}

	return system.LoadConfig(path)
}

func seedValue(core int) uint64 {
	return 10 * uint64(core+1)
}

func runSimulation(ctx context.Context, opts runOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	config, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	if config.NumCores*memory.WordSize > config.MemoryBytes {
		return fmt.Errorf("memory of %d bytes cannot hold one word per core",
			config.MemoryBytes)
	}

	var sysOpts []system.Option
	if opts.verbose {
		logger := log.New(os.Stderr, "", log.Lmicroseconds)
		sysOpts = append(sysOpts,
			system.WithLogger(logger),
			system.WithHook(trace.NewLogHook(logger)),
		)
	}

	if opts.traceDB != "" {
		recorder, err := trace.NewSQLiteRecorder(opts.traceDB)
		if err != nil {
			return err
		}
		defer func() { _ = recorder.Close() }()

		sysOpts = append(sysOpts, system.WithHook(recorder))
	}

	s, err := system.New(config, sysOpts...)
	if err != nil {
		return err
	}
	defer s.Stop()

	if opts.monitor {
		m := monitoring.NewMonitor(s).WithPortNumber(opts.monitorPort)
		if _, err := m.StartServer(); err != nil {
			return err
		}
		defer func() { _ = m.StopServer(context.Background()) }()
	}

	workloads := make([]core.Workload, config.NumCores)
	for i := range workloads {
		addr := uint64(i * memory.WordSize)
		if err := s.Memory().Write64(addr, seedValue(i)); err != nil {
			return err
		}
		workloads[i] = system.IncrementWorkload(addr)
	}

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	if err := s.Run(ctx, workloads...); err != nil {
		return err
	}
	if err := s.CheckCoherence(); err != nil {
		return err
	}
	if err := s.Flush(ctx); err != nil {
		return err
	}
	s.Stop()

	return report(s, out)
}

func report(s *system.System, out io.Writer) error {
	mismatches := 0
	for i := 0; i < s.NumCores(); i++ {
		addr := uint64(i * memory.WordSize)
		got, err := s.Memory().Read64(addr)
		if err != nil {
			return err
		}

		want := seedValue(i) + uint64(i)
		fmt.Fprintf(out, "Mem[%d] = %d (expected %d)\n", addr, got, want)
		if got != want {
			mismatches++
		}
	}

	stats := s.Stats()
	fmt.Fprintln(out)
	for i, c := range stats.Caches {
		fmt.Fprintf(out,
			"Cache %d: reads=%d writes=%d hits=%d misses=%d upgrades=%d "+
				"invalidations=%d evictions=%d writebacks=%d\n",
			i, c.Reads, c.Writes, c.Hits, c.Misses, c.Upgrades,
			c.Invalidations, c.Evictions, c.Writebacks)
	}

	b := stats.Bus
	fmt.Fprintf(out,
		"Bus: granted=%d reads=%d readExclusives=%d writeBacks=%d "+
			"cacheToCache=%d memoryReads=%d memoryWrites=%d anomalies=%d\n",
		b.Granted, b.Reads, b.ReadExclusives, b.WriteBacks,
		b.CacheToCache, b.MemoryReads, b.MemoryWrites, b.Anomalies)

	if mismatches > 0 {
		return fmt.Errorf("%d memory words differ from the expected result",
			mismatches)
	}

	return nil
}
