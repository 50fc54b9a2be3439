package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hupe1980/agentgraph/app"
	"github.com/hupe1980/agentgraph/config"
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/engine"
	"github.com/hupe1980/agentgraph/jobs"
	"github.com/hupe1980/agentgraph/jobs/sqlite"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/metrics"
	"github.com/hupe1980/agentgraph/session/redis"
	"github.com/hupe1980/agentgraph/value"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an app definition once",
	Long: `Runs the app definition with the given JSON input and prints the output.
With --stream the output deltas are printed as they arrive.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		appPath, _ := cmd.Flags().GetString("app")
		inputJSON, _ := cmd.Flags().GetString("input")
		sessionID, _ := cmd.Flags().GetString("session")
		stream, _ := cmd.Flags().GetBool("stream")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return runApp(ctx, cmd.OutOrStdout(), newLogger(cmd, cfg), cfg, runParams{
			AppPath:   appPath,
			Input:     inputJSON,
			SessionID: sessionID,
			Stream:    stream,
		})
	},
}

func init() {
	runCmd.Flags().String("app", "app.yaml", "Path to the app definition (YAML or JSON)")
	runCmd.Flags().String("input", "{}", "Run input as a JSON object")
	runCmd.Flags().String("session", "", "Session id (defaults to a new id)")
	runCmd.Flags().Bool("stream", false, "Print output deltas as they arrive")
	rootCmd.AddCommand(runCmd)
}

type runParams struct {
	AppPath   string
	Input     string
	SessionID string
	Stream    bool
}

func parseInput(raw string) (value.Map, error) {
	if raw == "" {
		return value.Map{}, nil
	}

	v, err := value.Parse([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid --input: %w", err)
	}

	m, ok := v.(value.Map)
	if !ok {
		return nil, errors.New("invalid --input: expected a JSON object")
	}

	return m, nil
}

func runApp(ctx context.Context, w io.Writer, logger *logging.StructuredLogger, cfg config.Config, p runParams) error {
	def, err := app.Load(p.AppPath)
	if err != nil {
		return err
	}

	input, err := parseInput(p.Input)
	if err != nil {
		return err
	}

	if p.SessionID == "" {
		p.SessionID = core.NewID()
	}

	reg := prometheus.NewRegistry()
	collector := metrics.New(reg)

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics.server_failed", "error", err)
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	queue, closeSink, err := newJobQueue(ctx, cfg, logger, collector)
	if err != nil {
		return err
	}
	defer closeSink()

	eng, err := engine.New(func(o *engine.Options) {
		o.Config = engine.Config{
			MaxConcurrentRuns: cfg.Run.MaxConcurrentRuns,
			ChunkBufferSize:   cfg.Run.ChunkBufferSize,
			IdleTimeout:       cfg.Run.IdleTimeout,
			StopGrace:         cfg.Run.StopGrace,
			ActorStopTimeout:  cfg.Run.ActorStopTimeout,
			MaxSteps:          cfg.Run.MaxSteps,
		}
		o.Providers = providerConfig(cfg)
		o.Queue = queue
		o.Logger = logger.WithComponent("engine")
		o.Metrics = collector
		o.Hooks = (&engine.Hooks{}).On(engine.StageBeforeRun, engine.LogHook(logger.WithComponent("engine")))
		if cfg.Redis.Addr != "" {
			o.Store = redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
				redis.WithPrefix(cfg.Redis.Prefix),
				redis.WithTTL(cfg.Redis.TTL),
			)
		}
	})
	if err != nil {
		return err
	}

	runErr := execute(ctx, w, logger, eng, def, p, input)

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := queue.Drain(drainCtx); err != nil {
		logger.Warn("jobs.drain_failed", "error", err)
	}

	return runErr
}

func execute(ctx context.Context, w io.Writer, logger *logging.StructuredLogger, eng *engine.Engine, def *app.Definition, p runParams, input value.Map) error {
	start := time.Now()

	if !p.Stream {
		res, err := eng.InvokeSync(ctx, p.SessionID, def, input)
		if err != nil {
			return err
		}
		logger.WithSession(p.SessionID, res.RunID).LogRun(time.Since(start), res.Errors)
		return printResult(w, res)
	}

	runID, chunks, err := eng.Invoke(ctx, p.SessionID, def, input)
	if err != nil {
		return err
	}

	var last core.Chunk
	for c := range chunks {
		fmt.Fprint(w, c.Delta)
		last = c
	}
	fmt.Fprintln(w)

	logger.WithSession(p.SessionID, runID).LogRun(time.Since(start), last.Errors)

	if len(last.Errors) > 0 {
		return fmt.Errorf("run %s failed: %v", runID, last.Errors)
	}

	return nil
}

func printResult(w io.Writer, res core.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}

	if !res.OK() {
		return fmt.Errorf("run %s failed", res.RunID)
	}

	return nil
}

func newJobQueue(ctx context.Context, cfg config.Config, logger *logging.StructuredLogger, obs jobs.Observer) (*jobs.Queue, func(), error) {
	var (
		sink      jobs.Sink = jobs.LogSink{Logger: logger.WithComponent("jobs")}
		closeSink           = func() {}
	)

	if cfg.Jobs.SQLitePath != "" {
		s, err := sqlite.Open(ctx, cfg.Jobs.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		sink = s
		closeSink = func() { _ = s.Close() }
	}

	q := jobs.NewQueue(sink, func(o *jobs.Options) {
		o.Workers = cfg.Jobs.Workers
		o.Size = cfg.Jobs.QueueSize
		o.Logger = logger.WithComponent("jobs")
		o.Observer = obs
	})

	return q, closeSink, nil
}
