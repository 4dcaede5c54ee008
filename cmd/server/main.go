// Command server runs the AI coding-agent orchestrator's HTTP edge: the Run
// API (spec §6) wired over the Orchestrator Façade, the Graph Executor, and
// whichever storage/checkpoint/MCP backends the environment configures.
// Flag and shutdown handling follow the pattern goa-ai's cmd/assistant/main.go
// uses for its generated services, generalized to this process's single
// chi-routed HTTP server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"goa.design/clue/log"

	redisbus "github.com/siteforge-ai/core/features/emitter/redis"
	eventmem "github.com/siteforge-ai/core/features/event/memory"
	eventsql "github.com/siteforge-ai/core/features/event/sql"
	checkpointmem "github.com/siteforge-ai/core/features/graph/checkpoint/memory"
	checkpointsql "github.com/siteforge-ai/core/features/graph/checkpoint/sql"
	policybasic "github.com/siteforge-ai/core/features/policy/basic"
	runsql "github.com/siteforge-ai/core/features/run/sql"
	"github.com/siteforge-ai/core/features/sqlstore"
	statesql "github.com/siteforge-ai/core/features/state/sql"
	"github.com/siteforge-ai/core/runtime/collaborators/fakes"
	"github.com/siteforge-ai/core/runtime/config"
	"github.com/siteforge-ai/core/runtime/emitter"
	"github.com/siteforge-ai/core/runtime/event"
	"github.com/siteforge-ai/core/runtime/graph"
	"github.com/siteforge-ai/core/runtime/graph/engine/inmem"
	"github.com/siteforge-ai/core/runtime/graph/nodes"
	"github.com/siteforge-ai/core/runtime/httpapi"
	"github.com/siteforge-ai/core/runtime/mcpclient"
	"github.com/siteforge-ai/core/runtime/orchestrator"
	"github.com/siteforge-ai/core/runtime/registry"
	"github.com/siteforge-ai/core/runtime/run"
	"github.com/siteforge-ai/core/runtime/styleextractor"
	"github.com/siteforge-ai/core/runtime/telemetry"
)

func main() {
	var (
		addrF = flag.String("addr", ":8080", "HTTP listen address")
		dbgF  = flag.Bool("debug", false, "Log request and response bodies")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}
	logger := telemetry.NewClueLogger()

	cfg := config.Load()

	srv, cleanup, err := build(ctx, cfg, logger)
	if err != nil {
		log.Fatal(ctx, err)
	}
	defer cleanup()

	handler := http.Handler(srv)
	if metricsHandler, err := telemetry.NewPrometheusMetricsHandler(); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "metrics endpoint disabled"})
	} else {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		mux.Handle("/", srv)
		handler = mux
	}

	// Create channel used by both the signal handler and server goroutine
	// to notify the main goroutine when to stop.
	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	httpSrv := &http.Server{Addr: *addrF, Handler: handler}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Print(ctx, log.KV{K: "addr", V: *addrF})
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	log.Printf(ctx, "exiting (%v)", <-errc)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "graceful shutdown failed"})
	}
	wg.Wait()
	log.Printf(ctx, "exited")
}

// build wires every collaborator cmd/server needs and returns the assembled
// httpapi.Server plus a cleanup func that closes whatever was opened, in
// reverse acquisition order.
func build(ctx context.Context, cfg config.Config, logger telemetry.Logger) (*httpapi.Server, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("cmd/server: DATABASE_URL is required (run/state stores have no in-memory fallback)")
	}
	db, err := sqlstore.Open(ctx, cfg.OpenDatabase())
	if err != nil {
		return nil, nil, fmt.Errorf("cmd/server: open database: %w", err)
	}
	closers = append(closers, func() { _ = db.Close() })

	cancel := run.NewCancelSet()
	runs := runsql.New(db, cancel)
	states := statesql.New(db)

	eventStore, err := buildEventStore(db)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	em := emitter.New(eventStore, logger)
	if busURL := os.Getenv("REDIS_URL"); busURL != "" {
		opts, err := goredis.ParseURL(busURL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("cmd/server: parse REDIS_URL: %w", err)
		}
		client := goredis.NewClient(opts)
		closers = append(closers, func() { _ = client.Close() })
		bus := redisbus.New(client, os.Getenv("REDIS_CHANNEL_PREFIX"), logger)
		em = em.WithPublisher(bus)
	}

	checkpointer, checkpointCloser, err := buildCheckpointer(ctx, cfg, db)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if checkpointCloser != nil {
		closers = append(closers, checkpointCloser)
	}

	builder, err := buildNodes(cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	g := builder.Build(cfg.AestheticScoringEnabled, cfg.VerifyGateEnabled)

	eng := inmem.New()
	exec, err := graph.NewExecutor(ctx, g, eng, checkpointer, cancel, em, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("cmd/server: new graph executor: %w", err)
	}

	orch := orchestrator.New(runs, states, exec, em, cancel, logger)
	srv := httpapi.New(orch, runs, eventStore, cfg.HTTP, logger)

	janitor, err := run.NewJanitor(runs, "*/1 * * * *", 30*time.Minute, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("cmd/server: new run janitor: %w", err)
	}
	janitor.Start()
	closers = append(closers, janitor.Stop)

	return srv, cleanup, nil
}

// buildEventStore picks the Event Store backend. EVENT_STORE=memory is
// useful for a throwaway local run; every other deployment durably logs
// through the same database run/state already require.
func buildEventStore(db *sqlstore.DB) (event.Store, error) {
	switch os.Getenv("EVENT_STORE") {
	case "memory":
		return eventmem.New(), nil
	case "", "sql":
		return eventsql.New(db), nil
	default:
		return nil, fmt.Errorf("cmd/server: unrecognized EVENT_STORE %q", os.Getenv("EVENT_STORE"))
	}
}

// buildCheckpointer resolves config.Config's checkpoint backend selection.
// A distinct LANGGRAPH_CHECKPOINT_URL opens its own database so the Graph
// Executor's checkpoint table can live apart from the primary run/state/event
// schema (e.g. a separate, more aggressively-retained instance); otherwise
// it reuses the primary connection pool. "off" still needs a Checkpointer to
// satisfy graph.NewExecutor's signature, so it resolves to the in-memory
// store: no durability across process restarts, same as "off" implies.
func buildCheckpointer(ctx context.Context, cfg config.Config, primary *sqlstore.DB) (graph.Checkpointer, func(), error) {
	switch cfg.CheckpointBackend {
	case config.CheckpointMemory, config.CheckpointOff:
		return checkpointmem.New(), nil, nil
	case config.CheckpointSQLite, config.CheckpointPostgres:
		if cfg.CheckpointURL == "" || cfg.CheckpointURL == cfg.DatabaseURL {
			return checkpointsql.New(primary), nil, nil
		}
		db, err := sqlstore.Open(ctx, sqlstore.Config{URL: cfg.CheckpointURL})
		if err != nil {
			return nil, nil, fmt.Errorf("cmd/server: open checkpoint database: %w", err)
		}
		return checkpointsql.New(db), func() { _ = db.Close() }, nil
	default:
		return checkpointmem.New(), nil, nil
	}
}

// buildNodes wires the Graph Executor's ten static nodes. No pack vendor
// integration is configured by default, so every collaborator falls back to
// its runtime/collaborators/fakes in-memory implementation; a deployment
// that needs a real LLM, renderer, workspace, or data store swaps these for
// its own collaborators.* implementation at this call site.
func buildNodes(cfg config.Config, logger telemetry.Logger) (*nodes.Builder, error) {
	llm := &fakes.LLMProvider{}

	var reg *registry.Registry
	if path := os.Getenv("COMPONENT_REGISTRY_PATH"); path != "" {
		r, err := registry.Load(path)
		if err != nil {
			return nil, fmt.Errorf("cmd/server: load component registry: %w", err)
		}
		reg = r
	}

	var style *styleextractor.Extractor
	if cfg.StyleExtractorEnabled {
		style = styleextractor.New(llm, os.Getenv("LLM_MODEL"))
	}

	servers, err := loadMCPServers()
	if err != nil {
		return nil, err
	}
	var mcp *mcpclient.Client
	if len(servers) > 0 {
		mcp = mcpclient.New(servers, logger)
	}

	return nodes.New(nodes.Deps{
		MCP:        mcp,
		Classifier: fakes.Classifier{Default: "landing"},
		Style:      style,
		Registry:   reg,
		LLM:        llm,
		Renderer:   fakes.HTMLRenderer{},
		Workspace:  fakes.NewWorkspace(),
		DataStore:  fakes.NewDataStore(),
		Policy:     policybasic.New(cfg.PolicyOptions),
		Model:      os.Getenv("LLM_MODEL"),
		Logger:     logger,
	}), nil
}

// loadMCPServers parses MCP_SERVERS_JSON, a JSON array of mcpclient.ServerConfig,
// the same env-driven shape config.Load already uses for every other
// runtime toggle. A blank/unset value means no MCP servers are configured.
func loadMCPServers() ([]mcpclient.ServerConfig, error) {
	raw := os.Getenv("MCP_SERVERS_JSON")
	if raw == "" {
		return nil, nil
	}
	var servers []mcpclient.ServerConfig
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, fmt.Errorf("cmd/server: parse MCP_SERVERS_JSON: %w", err)
	}
	return servers, nil
}
