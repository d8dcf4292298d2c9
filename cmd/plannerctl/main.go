// Command plannerctl drives the placement planner: it loads a model
// catalog and cluster configuration, runs one of the three planners (ilp,
// search, greedy), and reports the resulting placement and its goodput.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/khryptorgraphics/placementplanner/internal/config"
	"github.com/khryptorgraphics/placementplanner/internal/metrics"
	"github.com/khryptorgraphics/placementplanner/pkg/evaluator"
	"github.com/khryptorgraphics/placementplanner/pkg/evolution"
	"github.com/khryptorgraphics/placementplanner/pkg/greedy"
	"github.com/khryptorgraphics/placementplanner/pkg/ilp"
	"github.com/khryptorgraphics/placementplanner/pkg/placement"
	"github.com/khryptorgraphics/placementplanner/pkg/planerr"
	"github.com/khryptorgraphics/placementplanner/pkg/profile"
	"github.com/khryptorgraphics/placementplanner/pkg/report"
	"github.com/khryptorgraphics/placementplanner/pkg/search"
	"github.com/khryptorgraphics/placementplanner/pkg/workload"
)

// Build information, set during build via -ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	date      = "unknown"
	goVersion = runtime.Version()
)

// Application holds the state shared across subcommands.
type Application struct {
	Config        *config.Config
	MetricsServer *metrics.Server
}

func main() {
	app := &Application{}

	rootCmd := &cobra.Command{
		Use:     "plannerctl",
		Short:   "plannerctl - inference cluster placement planner",
		Version: buildVersion(),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.initializeLogging()
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./plannerctl.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (json, console)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(
		buildPlanCmd(app),
		buildConfigCmd(app),
		buildVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("plannerctl: command failed")
	}
}

func buildVersion() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s)", version, commit, date, goVersion)
}

func (app *Application) initializeLogging() error {
	logLevel := viper.GetString("log-level")
	logFormat := viper.GetString("log-format")

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("plannerctl: invalid log level %q: %w", logLevel, err)
	}
	zerolog.SetGlobalLevel(level)

	if logFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return nil
}

// modelCatalog is the JSON shape accepted by --models. It mirrors
// profile.ModelData/profile.ModelProfile but with string-keyed parallel
// configs ("dp.op.pp") since JSON object keys must be strings.
type modelCatalog struct {
	Models []modelEntry `json:"models"`
}

type modelEntry struct {
	Name    string                      `json:"name"`
	Rate    float64                     `json:"rate"`
	SLO     float64                     `json:"slo"`
	Profile map[string]stageProfileJSON `json:"profile"`
}

type stageProfileJSON struct {
	Latency   map[string][]float64 `json:"latency"`    // batch size -> per-stage latencies
	WeightMem []float64            `json:"weight_mem"` // per-stage weight memory
}

func loadModels(path string) ([]profile.ModelData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("plannerctl: open models file: %w", err)
	}
	defer f.Close()

	var catalog modelCatalog
	if err := json.NewDecoder(f).Decode(&catalog); err != nil {
		return nil, fmt.Errorf("plannerctl: decode models file: %w", err)
	}

	out := make([]profile.ModelData, 0, len(catalog.Models))
	for _, me := range catalog.Models {
		mp := profile.ModelProfile{}
		for key, sp := range me.Profile {
			cfg, err := parseConfigKey(key)
			if err != nil {
				return nil, fmt.Errorf("plannerctl: model %q: %w", me.Name, err)
			}
			stage := profile.StageProfile{Latency: map[int][]float64{}, WeightMem: sp.WeightMem}
			for bsKey, lats := range sp.Latency {
				bs, err := parseBatchKey(bsKey)
				if err != nil {
					return nil, fmt.Errorf("plannerctl: model %q: %w", me.Name, err)
				}
				stage.Latency[bs] = lats
			}
			mp[cfg] = stage
		}
		out = append(out, profile.ModelData{Name: me.Name, Rate: me.Rate, SLO: me.SLO, Profile: mp})
	}
	return out, nil
}

func parseConfigKey(key string) (profile.ParallelConfig, error) {
	var dp, op, pp int
	if _, err := fmt.Sscanf(key, "%d.%d.%d", &dp, &op, &pp); err != nil {
		return profile.ParallelConfig{}, fmt.Errorf("invalid parallel config key %q (want dp.op.pp): %w", key, err)
	}
	return profile.ParallelConfig{DP: dp, OP: op, PP: pp}, nil
}

func parseBatchKey(key string) (int, error) {
	var bs int
	if _, err := fmt.Sscanf(key, "%d", &bs); err != nil {
		return 0, fmt.Errorf("invalid batch size key %q: %w", key, err)
	}
	return bs, nil
}

// runPlanner dispatches to the configured backend and returns the resulting
// placement along with its objective value (the ILP's min/sum-tolerance
// objective for the ilp backend, or the evaluator's goodput score for
// search/greedy, so all three are comparable on the same reported field).
func runPlanner(ctx context.Context, cfg *config.Config, models []profile.ModelData, cluster profile.ClusterEnv, eval *evaluator.Evaluator) (placement.Placement, float64, error) {
	switch cfg.Solver.Backend {
	case "ilp":
		planner := &ilp.Planner{
			GroupConfigs: ilp.DefaultGroupConfigs(),
			MaxBatchSize: cfg.Solver.ILP.MaxBatchSize,
			TimeLimit:    cfg.Solver.ILP.TimeLimit,
			Threads:      cfg.Solver.ILP.Threads,
		}
		p, rep, err := planner.Solve(ctx, models, cluster)
		return p, rep.Objective, err

	case "search":
		sc := search.Config{
			MaxOP:        cfg.Solver.Search.MaxOP,
			MaxPP:        cfg.Solver.Search.MaxPP,
			MaxBatchSize: cfg.Solver.Search.MaxBatchSize,
			UseBeamGrowth: cfg.Solver.Search.UseBeamGrowth,
			BeamWidth:    cfg.Solver.Search.BeamWidth,
			Evolve:       cfg.Solver.Search.Evolve,
			EvolutionConfig: evolution.Config{
				PopulationSize: cfg.Solver.Search.EvolvePopSize,
				Generations:    cfg.Solver.Search.EvolveGenerations,
			},
		}
		p, err := sc.Plan(models, cluster, eval)
		if err != nil {
			return placement.Placement{}, 0, err
		}
		return p, eval.GetScores([]placement.Placement{p})[0], nil

	case "greedy":
		gc := greedy.Config{
			GroupSize: cfg.Solver.Greedy.GroupSize,
			Evolve:    cfg.Solver.Greedy.Evolve,
			EvolutionConfig: evolution.Config{
				PopulationSize: cfg.Solver.Greedy.EvolvePopSize,
				Generations:    cfg.Solver.Greedy.EvolveGenerations,
			},
		}
		p, err := gc.Plan(models, cluster, eval)
		if err != nil {
			return placement.Placement{}, 0, err
		}
		return p, eval.GetScores([]placement.Placement{p})[0], nil

	default:
		return placement.Placement{}, 0, fmt.Errorf("plannerctl: unknown solver backend %q", cfg.Solver.Backend)
	}
}

func buildPlanCmd(app *Application) *cobra.Command {
	var modelsPath, reportPath string
	var cv float64

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "run a placement planner and report the resulting goodput",
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := uuid.NewString()

			cfg, err := config.Load(viper.GetString("config"))
			if err != nil {
				return err
			}
			app.Config = cfg

			models, err := loadModels(modelsPath)
			if err != nil {
				return err
			}

			cluster := profile.ClusterEnv{
				NumDevices:         cfg.Cluster.NumDevices,
				NumDevicesPerNode:  cfg.Cluster.NumDevicesPerNode,
				MemBudgetPerDevice: cfg.Cluster.MemBudgetPerDevice,
			}
			if err := cluster.Validate(); err != nil {
				return err
			}

			wl := workload.Generate(models, cv)
			eval := evaluator.New(models, cluster, wl, evaluator.FastSimulator, true,
				evaluator.WithMaxBatchSize(cfg.Solver.ILP.MaxBatchSize))

			metricsServer := metrics.NewServer(cfg.Metrics)
			metricsServer.Start()
			app.MetricsServer = metricsServer
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = metricsServer.Shutdown(ctx)
			}()

			start := time.Now()
			placed, objective, planErr := runPlanner(cmd.Context(), cfg, models, cluster, eval)
			duration := time.Since(start)

			if planErr != nil {
				var infeasible *planerr.InfeasibleBudgetError
				if asInfeasible(planErr, &infeasible) {
					metricsServer.Collectors.ObserveInfeasible(cfg.Solver.Backend)
				}
				var timeout *planerr.SolverTimeoutError
				if !asTimeout(planErr, &timeout) {
					return planErr
				}
				log.Warn().Err(planErr).Msg("plannerctl: solver timed out, reporting best incumbent")
			}

			goodput := eval.GetScores([]placement.Placement{placed})[0]
			metricsServer.Collectors.ObserveRun(cfg.Solver.Backend, duration, objective, goodput)

			log.Info().
				Str("run_id", runID).
				Str("backend", cfg.Solver.Backend).
				Dur("duration", duration).
				Float64("objective", objective).
				Float64("goodput", goodput).
				Int("groups", len(placed.Groups)).
				Msg("plannerctl: planning run complete")

			printPlanSummary(runID, cfg.Solver.Backend, goodput, len(placed.Groups))

			if reportPath != "" {
				return writeReport(reportPath, cfg.Solver.Backend, models, wl, goodput)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&modelsPath, "models", "", "path to a JSON model catalog (required)")
	cmd.Flags().StringVar(&reportPath, "report", "", "path to append a TSV report row (optional)")
	cmd.Flags().Float64Var(&cv, "cv", 1.0, "coefficient of variation for the synthesized workload")
	_ = cmd.MarkFlagRequired("models")

	return cmd
}

// printPlanSummary prints a colorized one-line result to stdout, the way
// the teacher's node CLI reports onboarding/setup outcomes.
func printPlanSummary(runID, backend string, goodput float64, groups int) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow, color.Bold)

	goodputColor := green
	if goodput < 0.9 {
		goodputColor = yellow
	}

	cyan.Printf("plan %s ", runID[:8])
	fmt.Printf("(%s): groups=%d goodput=", backend, groups)
	goodputColor.Printf("%.4f\n", goodput)
}

func asInfeasible(err error, target **planerr.InfeasibleBudgetError) bool {
	if e, ok := err.(*planerr.InfeasibleBudgetError); ok {
		*target = e
		return true
	}
	return false
}

func asTimeout(err error, target **planerr.SolverTimeoutError) bool {
	if e, ok := err.(*planerr.SolverTimeoutError); ok {
		*target = e
		return true
	}
	return false
}

func writeReport(path, backend string, models []profile.ModelData, wl workload.Workload, objective float64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("plannerctl: open report file: %w", err)
	}
	defer f.Close()

	arrival := ""
	if len(wl.Processes) > 0 {
		arrival = wl.Processes[0].String()
	}
	slo := 0.0
	if len(models) > 0 {
		slo = models[0].SLO
	}

	return report.WriteTSV(f, []report.Row{{
		PolicyName:     backend,
		SLO:            slo,
		Goodput:        objective,
		ArrivalProcess: arrival,
	}})
}

func buildConfigCmd(app *Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "configuration management",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("output")
			return config.DefaultConfig().Save(path)
		},
	}
	initCmd.Flags().String("output", "plannerctl.yaml", "output path")
	cmd.AddCommand(initCmd)

	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("plannerctl %s\n", buildVersion())
			if info, ok := debug.ReadBuildInfo(); ok {
				fmt.Printf("  module: %s\n", info.Main.Path)
			}
		},
	}
}
