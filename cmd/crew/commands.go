package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fwojciec/crew"
	"github.com/fwojciec/crew/agent"
	"github.com/fwojciec/crew/artifact"
	bt "github.com/fwojciec/crew/bubbletea"
	"github.com/fwojciec/crew/config"
	crewjson "github.com/fwojciec/crew/json"
	"github.com/fwojciec/crew/mcp"
	"github.com/fwojciec/crew/pipeline"
	"github.com/fwojciec/crew/sqlite"
	"github.com/fwojciec/crew/telemetry"
	"github.com/spf13/cobra"
)

const instrumentationName = "github.com/fwojciec/crew"

type rootOptions struct {
	configPath string
	envFile    string
}

// load reads the dotenv file and then the configuration.
func (o *rootOptions) load() (*config.Config, error) {
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return nil, err
	}
	return config.Load(o.configPath)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "crew",
		Short:         "Turn a project description into code with a team of agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default: crew.yaml or .crew/crew.yaml)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file with API keys")
	cmd.AddCommand(
		newRunCmd(opts),
		newHistoryCmd(opts),
		newMetricsCmd(),
		newVersionCmd(),
	)
	return cmd
}

type runFlags struct {
	requirements     string
	requirementsFile string
	provider         string
	model            string
	apiKey           string
	artifactsRoot    string
	plain            bool
	noHistory        bool
	noMetrics        bool
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run [description]",
		Short: "Run the planner, developer and tester on a project description",
		Long: `Run the planner, developer and tester on a project description.

Without --plain an interactive terminal UI follows the run; when no
description is given it asks for one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			description := strings.TrimSpace(strings.Join(args, " "))
			if description == "" && f.plain {
				return errors.New("a project description is required with --plain")
			}
			requirements, err := f.resolveRequirements()
			if err != nil {
				return err
			}
			f.apply(cfg)
			return runPipeline(cmd.Context(), cfg, description, requirements, !f.plain, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.requirements, "requirements", "r", "", "project requirements")
	fl.StringVar(&f.requirementsFile, "requirements-file", "", "read requirements from a file")
	fl.StringVar(&f.provider, "provider", "", "provider: gemini, anthropic, openai (auto-detected from API keys if omitted)")
	fl.StringVar(&f.model, "model", "", "model ID (provider default if omitted)")
	fl.StringVar(&f.apiKey, "api-key", "", "API key (overrides the provider's environment variable)")
	fl.StringVar(&f.artifactsRoot, "artifacts", "", "directory the tool servers write into")
	fl.BoolVar(&f.plain, "plain", false, "print status lines instead of the terminal UI")
	fl.BoolVar(&f.noHistory, "no-history", false, "do not record the run in history")
	fl.BoolVar(&f.noMetrics, "no-metrics", false, "do not write the metrics file")
	cmd.MarkFlagsMutuallyExclusive("requirements", "requirements-file")
	return cmd
}

func (f runFlags) resolveRequirements() (string, error) {
	if f.requirementsFile == "" {
		return f.requirements, nil
	}
	data, err := os.ReadFile(f.requirementsFile)
	if err != nil {
		return "", fmt.Errorf("read requirements: %w", err)
	}
	return string(data), nil
}

// apply overrides configuration with explicitly set flags.
func (f runFlags) apply(cfg *config.Config) {
	if f.provider != "" {
		cfg.Provider.Name = f.provider
	}
	if f.model != "" {
		cfg.Provider.Model = f.model
	}
	if f.apiKey != "" {
		cfg.Provider.APIKey = f.apiKey
	}
	if f.artifactsRoot != "" {
		cfg.Artifacts.Root = f.artifactsRoot
	}
	if f.noHistory {
		cfg.History.Enabled = false
	}
	if f.noMetrics {
		cfg.Metrics.Save = false
	}
}

func runPipeline(ctx context.Context, cfg *config.Config, description, requirements string, tui bool, stdout, stderr io.Writer) error {
	logger, closeLog, err := newLogger(cfg.Log, tui, stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	provider, providerName, err := resolveProvider(ctx, cfg.Provider, cfg.Keys)
	if err != nil {
		return err
	}
	logger.Info("provider selected", "provider", providerName, "model", cfg.Provider.Model)

	var metricsOpts []crew.MetricsOption
	metricsOpts = append(metricsOpts, crew.WithUnknownAgentHandler(func(a crew.AgentName) {
		if a == crew.TotalBucket {
			logger.Warn("metrics recorded for unknown agent", "agent", a, "bucket", crew.TotalAgentBucket)
			return
		}
		logger.Warn("metrics recorded for unknown agent", "agent", a)
	}))
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			ServiceName: cfg.Telemetry.ServiceName,
			Version:     version,
		})
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logger.Warn("telemetry shutdown", "error", err)
			}
		}()
		observer, err := telemetry.NewObserver(telemetry.Meter(instrumentationName))
		if err != nil {
			return err
		}
		metricsOpts = append(metricsOpts, crew.WithMetricsObserver(observer))
	}

	stages, err := buildStages(cfg.Stages)
	if err != nil {
		return err
	}

	loopOpts := []agent.Option{
		agent.WithLogger(logger),
		agent.WithMaxIterations(cfg.Agent.MaxIterations),
		agent.WithModelTimeout(cfg.Agent.ModelTimeout),
		agent.WithToolTimeout(cfg.Agent.ToolTimeout),
		agent.WithTemperature(cfg.Provider.Temperature),
	}
	if cfg.Provider.MaxTokens > 0 {
		loopOpts = append(loopOpts, agent.WithMaxTokens(cfg.Provider.MaxTokens))
	}
	loop := agent.New(provider, loopOpts...)

	launcher := mcp.NewLauncher(
		mcp.WithLogger(logger),
		mcp.WithHandshakeTimeout(cfg.MCP.HandshakeTimeout),
		mcp.WithStopGrace(cfg.MCP.StopGrace),
		mcp.WithResultLimit(cfg.MCP.MaxResultLines, cfg.MCP.MaxResultBytes),
	)
	lister := artifact.New(cfg.Artifacts.Root)
	pipeOpts := []pipeline.Option{
		pipeline.WithArtifacts(lister),
		pipeline.WithMetricsOptions(metricsOpts...),
		pipeline.WithLogger(logger),
	}
	for _, s := range stages {
		pipeOpts = append(pipeOpts, pipeline.WithStage(s))
	}

	r := &runner{
		orch:         pipeline.New(launcher, loop, pipeOpts...),
		requirements: requirements,
		logger:       logger,
		now:          time.Now,
	}
	if cfg.Artifacts.Watch {
		r.artifacts = lister
	}
	if cfg.Metrics.Save {
		r.metricsDir = cfg.Metrics.Dir
	}
	if cfg.History.Enabled {
		db, err := sqlite.Open(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer db.Close()
		r.store = db
	}

	if tui {
		return runTUI(ctx, r, description, stdout)
	}
	return runPlain(ctx, r, description, stdout)
}

// buildStages turns stage configuration into pipeline stages, reading
// prompt files where configured.
func buildStages(sc config.StagesConfig) ([]pipeline.Stage, error) {
	stages := make([]pipeline.Stage, 0, 3)
	for _, a := range crew.Agents() {
		c, _ := sc.Stage(a)
		prompt := pipeline.DefaultPrompt(a)
		if c.PromptFile != "" {
			data, err := os.ReadFile(c.PromptFile)
			if err != nil {
				return nil, fmt.Errorf("read %s prompt: %w", a, err)
			}
			prompt = string(data)
		}
		stages = append(stages, pipeline.Stage{
			Agent:  a,
			Prompt: prompt,
			Process: crew.ProcessSpec{
				Command: c.Command,
				Args:    c.Args,
				Env:     c.Env,
			},
		})
	}
	return stages, nil
}

// runPlain prints a [STATUS] line per event, then the outputs and metrics.
func runPlain(ctx context.Context, r *runner, description string, w io.Writer) error {
	var mu sync.Mutex
	status := crew.StatusLines(func(line string) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "[STATUS] %s\n", line)
	})

	res, err := r.run(ctx, description, status)
	if err != nil {
		var pe *crew.PipelineError
		if errors.As(err, &pe) {
			fmt.Fprintln(w)
			writeSummary(w, pe.Metrics)
		}
		return r.describeFailure(err)
	}
	fmt.Fprintln(w)
	writeResult(w, res)
	writeSummary(w, res.Metrics)
	if path := r.metricsPath(res.Metrics.SessionID); path != "" {
		fmt.Fprintf(w, "Metrics saved to %s\n", path)
	}
	return nil
}

// runTUI follows the run in the terminal UI and prints the metrics of the
// last run once the UI exits.
func runTUI(ctx context.Context, r *runner, description string, w io.Writer) error {
	m := bt.New(r.run, description, crew.DefaultTheme())
	final, err := bt.Run(ctx, m)
	if err != nil {
		return fmt.Errorf("TUI: %w", err)
	}
	if res := final.Result(); res != nil {
		writeSummary(w, res.Metrics)
		if path := r.metricsPath(res.Metrics.SessionID); path != "" {
			fmt.Fprintf(w, "Metrics saved to %s\n", path)
		}
	}
	if err := final.Err(); err != nil {
		return r.describeFailure(err)
	}
	return nil
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	openStore := func() (*sqlite.DB, error) {
		cfg, err := opts.load()
		if err != nil {
			return nil, err
		}
		db, err := sqlite.Open(cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		return db, nil
	}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded pipeline runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()
			return listRuns(cmd.Context(), db, limit, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show (0 for all)")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show one recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()
			return showRun(cmd.Context(), db, args[0], cmd.OutOrStdout())
		},
	})
	return cmd
}

func listRuns(ctx context.Context, store crew.RunStore, limit int, w io.Writer) error {
	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	writeHistory(w, runs)
	return nil
}

// showRun prints the run with the given id. A unique prefix of at least
// four characters, as printed by history, also matches.
func showRun(ctx context.Context, store crew.RunStore, id string, w io.Writer) error {
	run, err := store.GetRun(ctx, id)
	if errors.Is(err, crew.ErrRunNotFound) && len(id) >= 4 {
		run, err = findByPrefix(ctx, store, id)
	}
	if err != nil {
		return err
	}
	writeRun(w, run)
	return nil
}

func findByPrefix(ctx context.Context, store crew.RunStore, prefix string) (crew.Run, error) {
	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		return crew.Run{}, fmt.Errorf("list runs: %w", err)
	}
	var match []crew.Run
	for _, r := range runs {
		if strings.HasPrefix(r.ID, prefix) {
			match = append(match, r)
		}
	}
	switch len(match) {
	case 0:
		return crew.Run{}, fmt.Errorf("run %s: %w", prefix, crew.ErrRunNotFound)
	case 1:
		return match[0], nil
	}
	return crew.Run{}, fmt.Errorf("run prefix %s is ambiguous (%d matches)", prefix, len(match))
}

func newMetricsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Inspect saved metrics files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <file>",
		Short: "Print the summary of a metrics file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := crewjson.Load(args[0])
			if err != nil {
				return fmt.Errorf("load metrics: %w", err)
			}
			writeSummary(cmd.OutOrStdout(), s)
			return nil
		},
	})
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the crew version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "crew %s\n", version)
		},
	}
}
