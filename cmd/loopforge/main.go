// Command loopforge drives an agentic assistant CLI through repeated
// iterations of a workspace until it reports completion, a budget is
// exhausted, or progress stalls.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/loopforge/loopforge/internal/config"
	"github.com/loopforge/loopforge/internal/driver"
	"github.com/loopforge/loopforge/internal/procrunner"
	"github.com/loopforge/loopforge/internal/research"
	"github.com/loopforge/loopforge/internal/shutdown"
	"github.com/loopforge/loopforge/internal/state"
	"github.com/loopforge/loopforge/internal/supervisor"
	"github.com/loopforge/loopforge/internal/trace"
)

var version = "dev"

func main() {
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:   "loopforge",
		Short: "Autonomous iteration driver for an agentic coding assistant",
		Long: `loopforge repeatedly spawns an external assistant CLI against a working
directory, streams its NDJSON event output, decides whether the project
has reached completion, and consults a research oracle for the next
prompt when it hasn't. It enforces cost, time, and progress budgets and
recovers from transient failures.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	rootCmd.Flags().String(FlagProject, ".", "Workspace directory to iterate in")
	rootCmd.Flags().String(FlagConfig, "", "Path to a config.json overriding defaults")
	rootCmd.Flags().Int(FlagMaxIterations, 0, "Maximum iterations before exit code 1 (0 = use config default)")
	rootCmd.Flags().String(FlagModel, "", "Assistant model name")
	rootCmd.Flags().String(FlagPrompt, "", "Initial prompt, overriding the configured template")
	rootCmd.Flags().Int(FlagTimeout, 0, "Per-iteration timeout in seconds (0 = use config default)")
	rootCmd.Flags().Float64(FlagMaxBudget, 0, "Total cost budget in USD (0 = use config default)")
	rootCmd.Flags().Bool(FlagDryRun, false, "Validate configuration and pre-flight only; don't invoke the assistant")
	rootCmd.Flags().Bool(FlagVerbose, false, "Enable debug-level logging")
	rootCmd.Flags().Bool(FlagJSONLog, false, "Emit structured JSON log lines instead of text")
	rootCmd.Flags().Bool(FlagSmokeTest, false, "Run one short, safe iteration to validate the setup")
	rootCmd.Flags().Bool(FlagNoStagnationCheck, false, "Disable the stagnation heuristic (budget and timeout limits still apply)")
	rootCmd.Flags().Bool(FlagSkipPreflight, false, "Skip the --version readiness check before the first iteration")

	rootCmd.Flags().VisitAll(func(f *pflag.Flag) {
		_ = viper.BindPFlag(f.Name, f)
	})

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("loopforge %s\n", version)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "loopforge:", err)
		os.Exit(3)
	}
}

func run(cmd *cobra.Command, args []string) error {
	exitCode, err := runDriver(cmd)
	if err != nil {
		return err
	}
	os.Exit(exitCode)
	return nil
}

func runDriver(cmd *cobra.Command) (int, error) {
	projectDir := viper.GetString(FlagProject)
	absProject, err := filepath.Abs(projectDir)
	if err != nil {
		return 0, fmt.Errorf("resolve project path: %w", err)
	}

	cfg, err := config.LoadConfig(viper.GetViper(), absProject)
	if err != nil {
		return 0, fmt.Errorf("load config: %w", err)
	}

	if cmd.Flags().Changed(FlagMaxIterations) && viper.GetInt(FlagMaxIterations) > 0 {
		cfg.Limits.MaxIterations = viper.GetInt(FlagMaxIterations)
	}
	if cmd.Flags().Changed(FlagModel) {
		cfg.Claude.Model = viper.GetString(FlagModel)
	}
	if cmd.Flags().Changed(FlagPrompt) {
		cfg.Prompt = viper.GetString(FlagPrompt)
	}
	if cmd.Flags().Changed(FlagTimeout) && viper.GetInt(FlagTimeout) > 0 {
		cfg.Limits.IterationTimeout = time.Duration(viper.GetInt(FlagTimeout)) * time.Second
	}
	if cmd.Flags().Changed(FlagMaxBudget) && viper.GetFloat64(FlagMaxBudget) > 0 {
		cfg.Limits.TotalCostCap = viper.GetFloat64(FlagMaxBudget)
	}
	if viper.GetBool(FlagSmokeTest) {
		config.ApplySmokeTest(cfg)
	}

	logPath := filepath.Join(absProject, cfg.Paths.LogFile)
	logger, logCloser := setupLogger(cfg.LogRotation, logPath, viper.GetBool(FlagJSONLog), viper.GetBool(FlagVerbose))
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(logger)

	cmdRunner := procrunner.NewExecCommandRunner()
	sup := supervisor.New(func() procrunner.ProcessRunner {
		return procrunner.NewExecProcessRunner()
	}, &cfg.Claude, logger)

	store := state.NewStore(filepath.Join(absProject, cfg.Paths.StateFile))

	traceSink, err := trace.NewSink(filepath.Join(absProject, cfg.Paths.TraceFile), cfg.Limits.TraceRotationBytes, func() int { return store.State().Iteration })
	if err != nil {
		return 0, fmt.Errorf("open trace sink: %w", err)
	}
	defer func() { _ = traceSink.Close() }()

	collector := &research.Collector{
		ProjectDescFile: filepath.Join(absProject, cfg.Paths.ProjectDescFile),
		MemoryFile:      filepath.Join(absProject, cfg.Paths.MemoryFile),
		StateFile:       filepath.Join(absProject, cfg.Paths.StateFile),
		ResearchFile:    filepath.Join(absProject, cfg.Paths.ResearchFile),
		WorkDir:         absProject,
		CmdRunner:       cmdRunner,
	}
	researchClient := research.NewClient(&cfg.Research, &cfg.Retry, collector, cmdRunner, filepath.Join(absProject, cfg.Paths.ResearchFile), nil)

	var opts []driver.Option
	if viper.GetBool(FlagSkipPreflight) {
		opts = append(opts, driver.WithSkipPreflight())
	}
	if viper.GetBool(FlagNoStagnationCheck) {
		opts = append(opts, driver.WithNoStagnationCheck())
	}
	if viper.GetBool(FlagDryRun) {
		opts = append(opts, driver.WithDryRun())
	}

	d := driver.New(cfg, absProject, sup, store, researchClient, traceSink, cmdRunner, logger, opts...)

	logger.Info("loopforge starting", "version", version, "project", absProject, "model", cfg.Claude.Model)

	exitCode := driver.ExitStagnationOrPreflight
	err = shutdown.RunWithGracefulShutdown(
		cmd.Context(),
		logger,
		30*time.Second,
		func(runCtx context.Context) error {
			exitCode = d.Run(runCtx)
			return nil
		},
		func(shutdownCtx context.Context) error {
			logger.Info("shutdown requested, letting the current iteration wind down")
			return nil
		},
	)
	if err != nil {
		return 0, err
	}

	return exitCode, nil
}
