package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"refagent/internal/agent"
	"refagent/internal/config"
	"refagent/internal/domain"
	"refagent/internal/domains"
	"refagent/internal/graph"
	"refagent/internal/provider"
	"refagent/internal/registry"
	"refagent/internal/transcript"
)

const (
	graphCacheSize = 512
	graphCacheTTL  = 5 * time.Minute
)

// app holds everything a command needs, wired from the config file.
type app struct {
	cfg         *config.Config
	graph       *graph.Neo4j
	reader      *graph.CachedReader
	registry    *registry.Registry
	provider    domain.Provider // nil unless built withLLM
	transcripts *transcript.Store
	closeLog    func()
}

// newApp loads the config, connects the graph layer and builds the tool
// catalog. withLLM also builds the provider chain and the transcript store.
func newApp(ctx context.Context, withLLM bool) (*app, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg}

	closeLog, err := setupLogger(cfg.General)
	if err != nil {
		return nil, err
	}
	a.closeLog = closeLog

	a.graph, err = openGraph(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.reader = graph.NewCachedReader(a.graph, graph.NewQueryCache(graphCacheSize, graphCacheTTL))

	a.registry = registry.New(registry.Options{
		DomainsFile: cfg.General.DomainsFile,
		Modules:     domains.Builtin(a.reader),
		Logger:      logger,
	})
	if err := a.registry.Load(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("load domains: %w", err)
	}

	if !withLLM {
		return a, nil
	}

	a.provider, err = provider.NewFactory(cfg.LLM, logger).Build()
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Transcripts.Enabled {
		a.transcripts, err = transcript.Open(cfg.Transcripts.DBPath, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("transcript store: %w", err)
		}
	}
	return a, nil
}

func openGraph(cfg *config.Config) (*graph.Neo4j, error) {
	return graph.NewNeo4j(graph.Config{
		URI:          cfg.Graph.URI,
		Username:     cfg.Graph.Username,
		Password:     cfg.Graph.Password,
		Database:     cfg.Graph.Database,
		QueryTimeout: time.Duration(cfg.Graph.QueryTimeoutSeconds) * time.Second,
	})
}

func (a *app) Close() {
	if a.transcripts != nil {
		a.transcripts.Close()
	}
	if a.graph != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.graph.Close(ctx)
	}
	if a.closeLog != nil {
		a.closeLog()
	}
}

func (a *app) toolTimeout() time.Duration {
	return time.Duration(a.cfg.General.ToolTimeoutSeconds) * time.Second
}

// newLoop builds a conversation loop from the config. observer may be nil.
func (a *app) newLoop(observer agent.Observer) *agent.Loop {
	cfg := a.cfg
	lc := agent.LoopConfig{
		Provider: a.provider,
		Tools:    a.registry,
		Prompt: agent.NewPromptBuilder(agent.PromptConfig{
			SystemPromptExtra: cfg.General.SystemPromptExtra,
		}),
		Logger:           logger,
		Model:            cfg.LLM.Model,
		MaxTokens:        cfg.LLM.MaxTokens,
		Temperature:      cfg.LLM.Temperature,
		MaxIterations:    cfg.General.MaxIterations,
		MaxParallelTools: cfg.General.MaxParallelTools,
		ToolTimeout:      a.toolTimeout(),
		Retry: agent.RetryPolicy{
			MaxRetries:  cfg.LLM.Retry.MaxRetries,
			InitialWait: cfg.LLM.Retry.InitialWait(),
			MaxWait:     cfg.LLM.Retry.MaxWait(),
		},
		RateLimiter: agent.NewRateLimiter(0, float64(cfg.LLM.RateLimitPerMinute)),
	}
	if len(cfg.General.DeniedTools) > 0 {
		lc.Filter = agent.NewToolFilter(nil, cfg.General.DeniedTools)
	}

	var observers multiObserver
	if observer != nil {
		observers = append(observers, observer)
	}
	if a.transcripts != nil {
		lc.Recorder = a.transcripts
		observers = append(observers, a.transcripts)
	}
	if len(observers) > 0 {
		lc.Observer = observers
	}
	return agent.NewLoop(lc)
}

// ask runs one conversation and stores its outcome when transcripts are on.
func (a *app) ask(ctx context.Context, loop *agent.Loop, question string) (*agent.Result, error) {
	res, err := loop.Run(ctx, question)
	if a.transcripts != nil && res != nil {
		if ferr := a.transcripts.Finish(context.WithoutCancel(ctx), res, err); ferr != nil {
			logger.Warn("failed to store conversation outcome", "conversation", res.ConversationID, "err", ferr)
		}
	}
	return res, err
}

// reloadOnHangup rebuilds the tool catalog on every SIGHUP until ctx is done.
func (a *app) reloadOnHangup(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := a.registry.Reload(ctx); err != nil {
				continue
			}
			a.reader.Cache().Clear()
		}
	}
}

// loopAsker adapts app.ask to server.Asker.
type loopAsker struct {
	app  *app
	loop *agent.Loop
}

func (l *loopAsker) Run(ctx context.Context, question string) (*agent.Result, error) {
	return l.app.ask(ctx, l.loop, question)
}

type multiObserver []agent.Observer

func (m multiObserver) StateChanged(id string, state agent.State, iteration int) {
	for _, o := range m {
		o.StateChanged(id, state, iteration)
	}
}

func (m multiObserver) ToolFinished(id string, outcome domain.ToolOutcome) {
	for _, o := range m {
		o.ToolFinished(id, outcome)
	}
}

// setupLogger replaces the bootstrap logger with one configured from gc.
// The returned func closes the log file, if any.
func setupLogger(gc config.GeneralConfig) (func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(gc.LogLevel))); err != nil {
		level = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	closer := func() {}
	if gc.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(gc.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("cannot create log directory: %w", err)
		}
		f, err := os.OpenFile(gc.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("cannot open log file: %w", err)
		}
		w = f
		closer = func() { f.Close() }
	}

	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return closer, nil
}
