// Command genbench drives a generative-inference benchmark run against an
// OpenAI-compatible streaming completions endpoint (spec section S1).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/windrose-ai/genbench/internal/aggregate"
	"github.com/windrose-ai/genbench/internal/backend"
	"github.com/windrose-ai/genbench/internal/benchmark"
	"github.com/windrose-ai/genbench/internal/config"
	"github.com/windrose-ai/genbench/internal/report"
	"github.com/windrose-ai/genbench/internal/request"
	"github.com/windrose-ai/genbench/internal/scheduler"
	"github.com/windrose-ai/genbench/internal/strategy"
	"github.com/windrose-ai/genbench/internal/telemetry"
	"github.com/windrose-ai/genbench/internal/worker"
)

const (
	exitOK             = 0
	exitStartupInvalid = 1
	exitRunFailed      = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("genbench", pflag.ContinueOnError)
	flags.String("config", "", "path to a genbench config file (yaml)")
	flags.String("target", "", "backend base URL, e.g. http://localhost:8000")
	flags.String("model", "", "model name sent in every request")
	flags.String("strategy", "", "synchronous|concurrent|throughput|async_constant|async_poisson|sweep")
	flags.Float64("rate", 0, "dispatch rate in requests/sec for async_constant/async_poisson")
	flags.Float64("max-seconds", 0, "wall-clock cap for the run")
	flags.Int("max-requests", 0, "request count cap for the run")
	flags.String("data", "", "path to a newline-delimited JSON request file; empty uses synthetic requests")
	flags.String("output-format", "", "console|json")
	flags.String("log-level", "info", "debug|info|warn|error")
	flags.Bool("dev", false, "use the development (console) log encoder")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return exitOK
		}
		fmt.Fprintln(os.Stderr, err)
		return exitStartupInvalid
	}

	cfgPath, _ := flags.GetString("config")
	cfg, vp, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return exitStartupInvalid
	}
	applyFlagOverrides(cfg, flags)

	logLevel := cfg.Observability.Logging.Level
	if flags.Changed("log-level") {
		logLevel, _ = flags.GetString("log-level")
	} else if logLevel == "" {
		logLevel, _ = flags.GetString("log-level")
	}
	dev, _ := flags.GetBool("dev")
	logger, err := telemetry.NewLogger(logLevel, dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q: %v\n", logLevel, err)
		return exitStartupInvalid
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.InitTracing(telemetry.TracingConfig{
		Enabled:      cfg.Observability.Tracing.Enabled,
		ServiceName:  cfg.Observability.Tracing.ServiceName,
		OTLPEndpoint: cfg.Observability.Tracing.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", zap.Error(err))
		return exitStartupInvalid
	}
	defer shutdownTracing(context.Background())

	if cfg.Observability.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			addr := fmt.Sprintf(":%d", cfg.Observability.Metrics.Port)
			logger.Info("metrics server listening", zap.String("address", addr))
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	client := backend.New(backendConfigFrom(cfg), logger)
	if err := backend.Ping(ctx, backendConfigFrom(cfg)); err != nil {
		logger.Warn("backend health check failed, proceeding anyway", zap.Error(err))
	}

	source, err := buildRequestSource(cfg)
	if err != nil {
		logger.Error("failed to build request source", zap.Error(err))
		return exitStartupInvalid
	}

	profile, err := buildProfile(cfg)
	if err != nil {
		logger.Error("failed to build strategy profile", zap.Error(err))
		return exitStartupInvalid
	}

	w := worker.New(client)
	sched := scheduler.New(w, logger)
	bench := benchmark.New(sched, logger, func(strategy.Strategy) scheduler.RunOptions {
		return scheduler.RunOptions{
			MaxNumber:      cfg.Scheduler.MaxNumber,
			MaxDuration:    secondsToDuration(cfg.Scheduler.MaxDurationSeconds),
			RequestTimeout: secondsToDuration(cfg.Scheduler.RequestTimeoutSeconds),
			LoopSleep:      secondsToDuration(cfg.Scheduler.DefaultAsyncLoopSleep),
		}
	})

	if vp != nil {
		config.Watch(vp, func(updated *config.Config) {
			logger.Info("configuration file changed, reloading extra_body/extra_query")
			cfg.Backend.ExtraBody = updated.Backend.ExtraBody
			cfg.Backend.ExtraQuery = updated.Backend.ExtraQuery
		})
	}

	var summaries []aggregate.BenchmarkSummary
	var runErr error
	for ev := range bench.Run(ctx, profile, source) {
		if ev.Kind == benchmark.BenchmarkCompiled && ev.Summary != nil {
			summaries = append(summaries, *ev.Summary)
		}
		if ev.Kind == benchmark.SchedulerUpdate && ev.SchedulerEvt != nil && ev.SchedulerEvt.Err != nil {
			runErr = ev.SchedulerEvt.Err
		}
	}

	outputFormat := cfg.Report.Format
	if outputFormat == "" {
		outputFormat = "console"
	}
	if err := writeReport(outputFormat, summaries); err != nil {
		logger.Error("failed to write report", zap.Error(err))
		return exitRunFailed
	}

	if runErr != nil {
		logger.Error("run ended with an error", zap.Error(runErr))
		return exitRunFailed
	}
	return exitOK
}

func applyFlagOverrides(cfg *config.Config, flags *pflag.FlagSet) {
	if v, _ := flags.GetString("target"); v != "" {
		cfg.Backend.Target = v
	}
	if v, _ := flags.GetString("model"); v != "" {
		cfg.Backend.Model = v
	}
	if v, _ := flags.GetString("strategy"); v != "" {
		cfg.Profile.Strategy = v
	}
	if v, _ := flags.GetFloat64("rate"); v != 0 {
		cfg.Profile.Rate = v
	}
	if v, _ := flags.GetFloat64("max-seconds"); v != 0 {
		cfg.Scheduler.MaxDurationSeconds = v
	}
	if v, _ := flags.GetInt("max-requests"); v != 0 {
		cfg.Scheduler.MaxNumber = v
	}
	if v, _ := flags.GetString("data"); v != "" {
		cfg.RequestSource.Kind = "file"
		cfg.RequestSource.Path = v
	}
	if v, _ := flags.GetString("output-format"); v != "" {
		cfg.Report.Format = v
	}
}

func backendConfigFrom(cfg *config.Config) backend.Config {
	bc := backend.Config{
		Target:          cfg.Backend.Target,
		Model:           cfg.Backend.Model,
		APIKey:          cfg.Backend.APIKey,
		Organization:    cfg.Backend.Organization,
		Project:         cfg.Backend.Project,
		HTTP2:           cfg.Backend.HTTP2,
		FollowRedirects: cfg.Backend.FollowRedirects,
		UseChatEndpoint: cfg.Backend.UseChatEndpoint,
	}
	if cfg.Backend.MaxOutputTokens > 0 {
		bc.MaxOutputTokens = &cfg.Backend.MaxOutputTokens
	}
	if len(cfg.Backend.ExtraBody) > 0 {
		bc.ExtraBody = map[backend.Endpoint]map[string]any{}
		for k, v := range cfg.Backend.ExtraBody {
			bc.ExtraBody[backend.Endpoint(k)] = v
		}
	}
	if len(cfg.Backend.ExtraQuery) > 0 {
		bc.ExtraQuery = map[backend.Endpoint]map[string]any{}
		for k, v := range cfg.Backend.ExtraQuery {
			bc.ExtraQuery[backend.Endpoint(k)] = v
		}
	}
	return bc
}

func buildRequestSource(cfg *config.Config) (reqsource.Source, error) {
	if cfg.RequestSource.Kind == "file" {
		return reqsource.LoadFileSource(cfg.RequestSource.Path)
	}
	return reqsource.NewSyntheticSource(reqsource.SyntheticConfig{
		Count:        cfg.RequestSource.Count,
		PromptTokens: cfg.RequestSource.PromptTokens,
		OutputTokens: cfg.RequestSource.OutputTokens,
		Chat:         cfg.RequestSource.Chat,
		Model:        cfg.Backend.Model,
		Seed:         cfg.RequestSource.Seed,
	}), nil
}

func buildProfile(cfg *config.Config) (strategy.Profile, error) {
	maxProcs := cfg.Scheduler.MaxWorkerProcesses
	maxConc := cfg.Scheduler.MaxConcurrency

	switch cfg.Profile.Strategy {
	case "", "synchronous":
		return &strategy.StaticProfile{Strategies: []strategy.Strategy{strategy.Synchronous{}}}, nil
	case "concurrent":
		streams := cfg.Profile.Streams
		if streams < 1 {
			streams = 1
		}
		return &strategy.StaticProfile{Strategies: []strategy.Strategy{strategy.Concurrent{Streams: streams}}}, nil
	case "throughput":
		return &strategy.StaticProfile{Strategies: []strategy.Strategy{
			strategy.Throughput{MaxWorkerProcesses: maxProcs, MaxConcurrency: maxConc},
		}}, nil
	case "async_constant":
		return &strategy.StaticProfile{Strategies: []strategy.Strategy{&strategy.AsyncConstant{
			Rate: cfg.Profile.Rate, InitialBurst: cfg.Profile.Burst,
			MaxWorkerProcesses: maxProcs, MaxConcurrency: maxConc,
		}}}, nil
	case "async_poisson":
		return &strategy.StaticProfile{Strategies: []strategy.Strategy{&strategy.AsyncPoisson{
			Rate: cfg.Profile.Rate, MaxWorkerProcesses: maxProcs, MaxConcurrency: maxConc,
		}}}, nil
	case "sweep":
		return strategy.NewSweepProfile(cfg.Profile.Size, maxProcs, maxConc), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", cfg.Profile.Strategy)
	}
}

func writeReport(format string, summaries []aggregate.BenchmarkSummary) error {
	switch format {
	case "json":
		return report.NewJSONWriter(os.Stdout, true).Write(summaries)
	default:
		return report.NewConsoleWriter(os.Stdout).Write(summaries)
	}
}

func secondsToDuration(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
