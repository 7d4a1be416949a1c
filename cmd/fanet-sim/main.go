package main

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fanet-sim/internal/config"
	"fanet-sim/internal/observe"
	"fanet-sim/internal/sim"
	"fanet-sim/internal/stats"
	"fanet-sim/internal/trace"
)

var (
	version = "1.0.0"
	cfgFile string
	dryRun  bool
	quiet   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fanet-sim",
		Short: "FANET Emulator - Simulate a flying ad-hoc network over a virtual clock",
		Long: `A discrete-time emulator of a flying ad-hoc network: mobile nodes exchange
Hello beacons, distance-vector advertisements, session handshakes, and data
packets over a shared CSMA/CA medium, all driven deterministically in virtual
time from a single seed.`,
		Version: version,
		RunE:    run,
	}

	// Configuration file
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "Configuration file path (default: config.yaml)")

	// CLI overrides
	rootCmd.Flags().Int("nodes", 0, "Number of nodes")
	rootCmd.Flags().Float64("range", 0, "Radio range in meters")
	rootCmd.Flags().Float64("duration", 0, "Simulation duration in virtual seconds")
	rootCmd.Flags().Int64("seed", 0, "RNG seed")
	rootCmd.Flags().String("log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.Flags().String("pcap-trace", "", "Write every transmitted frame to a pcap file")
	rootCmd.Flags().String("metrics-listen", "", "Serve Prometheus metrics on this address during the run")
	rootCmd.Flags().String("export", "", "Export final statistics to a JSON file")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate and print the configuration, do not run")
	rootCmd.Flags().BoolVar(&quiet, "quiet", false, "Suppress per-node summaries")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	v := viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK if using CLI flags
		log.Debug("No config file found, using defaults and CLI flags")
	}

	bindViperFlags(v, cmd)

	cfg, err := config.LoadWithViper(v)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	setupLogging(cfg)

	fmt.Printf("FANET Emulator v%s\n", version)
	fmt.Println("==============================")
	fmt.Print(cfg.Summary())
	fmt.Println()

	if err := cfg.Validate(); err != nil {
		return err
	}
	if dryRun {
		fmt.Println("Dry-run mode: configuration is valid")
		return nil
	}

	collector := stats.NewCollector()
	reporter := stats.NewReporter(collector, cfg.Stats.ReportIntervalSec, cfg.Stats.ExportFile)

	var sink observe.Sink = observe.LogSink{}
	simulation, err := sim.New(cfg, collector, sink)
	if err != nil {
		return fmt.Errorf("failed to build simulation: %w", err)
	}

	if cfg.Trace.PcapFile != "" {
		w, err := trace.NewPcapWriter(cfg.Trace.PcapFile)
		if err != nil {
			return fmt.Errorf("failed to open pcap trace: %w", err)
		}
		defer w.Close()
		simulation.SetRecorder(w)
		log.WithField("file", cfg.Trace.PcapFile).Info("Frame trace enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Stats.Enabled {
		reporter.StartPeriodicReport(ctx)
	}
	if cfg.Stats.ListenAddr != "" {
		exporter := stats.NewPromExporter(collector, simulation.Scheduler().Now)
		exporter.Serve(cfg.Stats.ListenAddr)
		defer exporter.Close()
	}

	log.WithFields(log.Fields{
		"nodes":      cfg.Sim.NumNodes,
		"duration_s": cfg.Sim.DurationS,
		"seed":       cfg.Sim.Seed,
	}).Info("Starting simulation")

	if err := simulation.Run(); err != nil {
		return err
	}

	if cfg.Stats.Enabled {
		reporter.PrintFinalReport()
		if err := reporter.ExportJSON(); err != nil {
			log.WithError(err).Warn("Failed to export statistics")
		}
	}

	if !quiet {
		fmt.Println("Per-node summary:")
		for _, s := range simulation.Summaries() {
			fmt.Printf("  node %-3d generated=%-4d delivered=%-4d avg_latency=%.4fs avg_hops=%.2f neighbors=%v\n",
				s.ID, s.Generated, s.Delivered, s.AvgLatencyS, s.AvgHops, s.Neighbors)
		}
	}

	report := simulation.Report()
	fmt.Printf("\nPDR: %.3f  (delivered %d / attempted %d)\n", report.PDR, report.Delivered, report.Attempted)
	return nil
}

func setupLogging(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.WithError(err).Warn("Failed to open log file, using console only")
		} else {
			log.SetOutput(f)
		}
	}
}

func bindViperFlags(v *viper.Viper, cmd *cobra.Command) {
	if cmd.Flags().Changed("nodes") {
		val, _ := cmd.Flags().GetInt("nodes")
		v.Set("sim.num_nodes", val)
	}
	if cmd.Flags().Changed("range") {
		val, _ := cmd.Flags().GetFloat64("range")
		v.Set("radio.comm_range_m", val)
	}
	if cmd.Flags().Changed("duration") {
		val, _ := cmd.Flags().GetFloat64("duration")
		v.Set("sim.duration_s", val)
	}
	if cmd.Flags().Changed("seed") {
		val, _ := cmd.Flags().GetInt64("seed")
		v.Set("sim.seed", val)
	}
	if cmd.Flags().Changed("log-level") {
		val, _ := cmd.Flags().GetString("log-level")
		v.Set("logging.level", val)
	}
	if cmd.Flags().Changed("pcap-trace") {
		val, _ := cmd.Flags().GetString("pcap-trace")
		v.Set("trace.pcap_file", val)
	}
	if cmd.Flags().Changed("metrics-listen") {
		val, _ := cmd.Flags().GetString("metrics-listen")
		v.Set("stats.listen_addr", val)
	}
	if cmd.Flags().Changed("export") {
		val, _ := cmd.Flags().GetString("export")
		v.Set("stats.export_file", val)
	}
}
