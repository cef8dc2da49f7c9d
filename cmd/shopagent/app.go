package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dshills/stepflow/flow"
	"github.com/dshills/stepflow/flow/emit"
	"github.com/dshills/stepflow/flow/model"
	"github.com/dshills/stepflow/flow/model/anthropic"
	"github.com/dshills/stepflow/flow/model/google"
	"github.com/dshills/stepflow/flow/model/openai"
	"github.com/dshills/stepflow/flow/store"
	"github.com/dshills/stepflow/flow/tool"
	"github.com/dshills/stepflow/internal/config"
	"github.com/dshills/stepflow/shop"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// app is everything a command needs, built from one Config.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	engine  *flow.Engine
	store   store.Store[flow.Snapshot]
	metrics *prometheus.Registry
	costs   *model.CostTracker
	closers []func() error
}

// newApp wires the workflow named by workflow ("" uses the configured one).
func newApp(ctx context.Context, configPath, workflow string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if workflow == "" {
		workflow = cfg.Workflow
	}

	a := &app{
		cfg:     cfg,
		logger:  newLogger(cfg, os.Stderr),
		metrics: prometheus.NewRegistry(),
		costs:   model.NewCostTracker(),
	}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	chat, modelName, err := newChatModel(cfg)
	if err != nil {
		return nil, err
	}
	chat = model.Metered(chat, modelName, a.costs)

	agentOpts := []tool.HTTPOption{}
	if cfg.QueryAgent.Token != "" {
		agentOpts = append(agentOpts, tool.WithBearerToken(cfg.QueryAgent.Token))
	}
	if cfg.QueryAgent.RateLimit > 0 {
		agentOpts = append(agentOpts, tool.WithRateLimit(cfg.QueryAgent.RateLimit, 1))
	}
	queryAgent := tool.NewHTTPTool("query_agent", cfg.QueryAgent.URL, agentOpts...)

	agent, err := newAgent(cfg, workflow, chat, queryAgent)
	if err != nil {
		return nil, err
	}
	if workflow == shop.WorkflowAdmin {
		if agent.Items, err = shop.LoadItemsFile(cfg.Items); err != nil {
			return nil, fmt.Errorf("failed to load items: %w", err)
		}
		if agent.Writer, err = a.openCatalog(ctx); err != nil {
			return nil, err
		}
	}

	reg, err := shop.NewRegistry(workflow, agent)
	if err != nil {
		return nil, err
	}

	if a.store, err = a.openStore(); err != nil {
		return nil, err
	}

	emitters := []emit.Emitter{emit.NewSlogEmitter(a.logger)}
	if cfg.Tracing.Enabled {
		tracer, err := a.initTracing()
		if err != nil {
			return nil, err
		}
		emitters = append(emitters, emit.NewOTelEmitter(tracer))
	}

	a.engine, err = flow.New(reg,
		flow.WithStartEvent(shop.QueryStart),
		flow.WithMaxSteps(cfg.Engine.MaxSteps),
		flow.WithDefaultStepTimeout(cfg.Engine.StepTimeout),
		flow.WithParkTimeout(cfg.Engine.ParkTimeout),
		flow.WithEmitter(emit.NewMultiEmitter(emitters...)),
		flow.WithMetrics(flow.NewPrometheusMetrics(a.metrics)),
		flow.WithStore(a.store),
	)
	if err != nil {
		return nil, err
	}

	a.logger.Info("shopagent ready",
		"workflow", workflow,
		"provider", cfg.LLM.Provider,
		"model", modelName,
		"store", cfg.Store.Driver,
	)
	ok = true
	return a, nil
}

// Close releases databases and flushes tracing, in reverse order of
// opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// newAgent builds the collaborators every workflow shares. The classifier
// offers only the categories the workflow routes.
func newAgent(cfg *config.Config, workflow string, chat model.ChatModel, queryAgent tool.Tool) (*shop.Agent, error) {
	routes, err := shop.Routes(workflow)
	if err != nil {
		return nil, err
	}
	return &shop.Agent{
		Classifier: shop.NewLLMClassifier(chat, routes...),
		Retriever:  shop.NewQueryAgentClient(queryAgent, cfg.QueryAgent.Limit, cfg.QueryAgent.Collections...),
		Formatter:  shop.NewLLMFormatter(chat),
		Indexer:    shop.NewLLMIndexExtractor(chat),
	}, nil
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	_ = level.UnmarshalText([]byte(cfg.Log.Level))
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func newChatModel(cfg *config.Config) (model.ChatModel, string, error) {
	key := cfg.LLM.APIKey
	switch cfg.LLM.Provider {
	case "openai":
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		m := openai.NewChatModel(key, cfg.LLM.Model)
		return m, m.Name(), nil
	case "anthropic":
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		m := anthropic.NewChatModel(key, cfg.LLM.Model)
		return m, m.Name(), nil
	case "google":
		if key == "" {
			key = os.Getenv("GOOGLE_API_KEY")
		}
		m := google.NewChatModel(key, cfg.LLM.Model)
		return m, m.Name(), nil
	}
	return nil, "", fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
}

func (a *app) openCatalog(ctx context.Context) (shop.Writer, error) {
	switch a.cfg.Catalog.Driver {
	case "postgres":
		c, err := shop.OpenPGCatalog(ctx, a.cfg.Catalog.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { c.Close(); return nil })
		return c, nil
	default:
		c, err := shop.OpenSQLCatalog(ctx, shop.Dialect(a.cfg.Catalog.Driver), a.cfg.Catalog.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, c.Close)
		return c, nil
	}
}

func (a *app) openStore() (store.Store[flow.Snapshot], error) {
	switch a.cfg.Store.Driver {
	case "memory":
		return store.NewMemStore[flow.Snapshot](), nil
	case "mysql":
		st, err := store.NewMySQLStore[flow.Snapshot](a.cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, st.Close)
		return st, nil
	default:
		st, err := store.NewSQLiteStore[flow.Snapshot](a.cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, st.Close)
		return st, nil
	}
}

func (a *app) initTracing() (trace.Tracer, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", "shopagent"),
			attribute.String("service.version", version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	a.closers = append(a.closers, func() error { return tp.Shutdown(context.Background()) })
	return tp.Tracer("github.com/dshills/stepflow"), nil
}
