// enmap maps raw building-automation point names onto a canonical target
// schema, learning site naming conventions as it goes.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"enmap/internal/config"
	"enmap/internal/engine"
	"enmap/internal/logging"
	"enmap/internal/memory"
	"enmap/internal/schema"
	"enmap/internal/task"
	"enmap/internal/types"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string

	// map flags
	inputPath    string
	outputPath   string
	batchSize    int
	improveBelow string
	provider     string

	// patterns flags
	deviceType string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "enmap",
	Short: "enmap - BMS point mapping engine",
	Long: `enmap maps raw building-management-system point names onto a canonical
target schema. It combines learned pattern memory, semantic inference, and
device-context heuristics, and scores every produced mapping for quality.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.Initialize(workspace)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var mapCmd = &cobra.Command{
	Use:   "map",
	Short: "Map a file of raw points against the target schema",
	Long: `Reads a JSON array of raw points, runs them through the mapping engine,
and writes the results as JSON. Example input element:

  {"pointName": "AHU-1.ReturnAirTemp", "deviceType": "AHU", "deviceId": "AHU-1", "unit": "degF"}`,
	RunE: func(cmd *cobra.Command, args []string) error {
		points, err := readPoints(inputPath)
		if err != nil {
			return err
		}
		logger.Info("Mapping points",
			zap.Int("count", len(points)),
			zap.String("input", inputPath))

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		eng, err := engine.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer eng.Close()

		req := task.Request{Points: points, BatchSize: batchSize}
		if improveBelow != "" {
			level := types.QualityLevel(improveBelow)
			if level.Rank() == 0 && level != types.QualityUnacceptable {
				return fmt.Errorf("unknown quality level %q (use excellent/good/fair/poor)", improveBelow)
			}
			req.Filter = task.FilterBelow(level)
		}

		start := time.Now()
		finished, err := eng.Orchestrator.RunSync(ctx, req)
		if err != nil {
			return fmt.Errorf("mapping run failed: %w", err)
		}

		logger.Info("Mapping finished",
			zap.String("taskId", finished.TaskID),
			zap.Duration("elapsed", time.Since(start)),
			zap.Int("results", len(finished.Results)))
		printSummary(finished)

		return writeResults(outputPath, finished)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show the status of a previously submitted task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := task.OpenSQLiteStore(cfg.Engine.TaskDatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()

		t, err := store.Get(args[0])
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List learned mapping patterns",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		repo, err := memory.OpenSQLiteRepository(cfg.Memory.DatabasePath)
		if err != nil {
			return err
		}
		defer repo.Close()

		patterns, err := repo.LoadPatterns(deviceType)
		if err != nil {
			return err
		}
		if len(patterns) == 0 {
			fmt.Println("no learned patterns")
			return nil
		}
		for _, p := range patterns {
			fmt.Println(p.String())
		}
		return nil
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Validate and summarize the target schema catalogue",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ref, err := schema.Load(cfg.Schema.Path)
		if err != nil {
			return fmt.Errorf("schema invalid: %w", err)
		}
		source := cfg.Schema.Path
		if source == "" {
			source = "(builtin)"
		}
		fmt.Printf("schema %s: %d device types\n", source, len(ref.DeviceTypes()))
		for _, dt := range ref.DeviceTypes() {
			fmt.Printf("  %-6s %3d points, prefix %s\n", dt, len(ref.Points(dt)), ref.Prefix(dt))
		}
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <workspace>/.enmap/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", ".", "workspace directory")

	mapCmd.Flags().StringVarP(&inputPath, "input", "i", "", "JSON file of raw points (required)")
	mapCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write results JSON here (default stdout)")
	mapCmd.Flags().IntVar(&batchSize, "batch-size", 0, "points per batch (default from config)")
	mapCmd.Flags().StringVar(&improveBelow, "improve-below", "", "re-map results below this quality level")
	mapCmd.Flags().StringVar(&provider, "provider", "", "inference provider override (http, gemini, none)")
	_ = mapCmd.MarkFlagRequired("input")

	patternsCmd.Flags().StringVar(&deviceType, "device", "", "filter by device type")

	rootCmd.AddCommand(mapCmd, statusCmd, patternsCmd, schemaCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath(workspace)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if provider != "" {
		cfg.Inference.Provider = provider
	}
	return cfg, nil
}

func readPoints(path string) ([]types.RawPoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	var points []types.RawPoint
	if err := json.Unmarshal(data, &points); err != nil {
		return nil, fmt.Errorf("input is not a JSON array of points: %w", err)
	}
	return points, nil
}

func writeResults(path string, t *types.BatchTask) error {
	out, err := json.MarshalIndent(t.Results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	if path == "" {
		fmt.Println(string(out))
		return nil
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	fmt.Printf("results written to %s\n", path)
	return nil
}

func printSummary(t *types.BatchTask) {
	counts := map[types.MappingStatus]int{}
	low := 0
	for _, r := range t.Results {
		counts[r.Status]++
		if r.LowConfidence {
			low++
		}
	}
	fmt.Fprintf(os.Stderr, "task %s: %d mapped (%d low-confidence), %d unmapped, %d errors\n",
		t.TaskID, counts[types.StatusMapped], low, counts[types.StatusUnmapped], counts[types.StatusError])
	if t.Error != "" {
		fmt.Fprintf(os.Stderr, "warning: %s\n", t.Error)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}
