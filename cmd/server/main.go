// Command server is the memoria process entrypoint: it wires the full
// dependency graph (store, cache, embedder, LLM client, memory managers,
// agents, tools, step loop, streaming dispatcher, MCP adapter, HTTP
// surface) from config.Load and serves the §6 HTTP API.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"memoria/internal/agents"
	"memoria/internal/auth"
	"memoria/internal/cache"
	"memoria/internal/config"
	"memoria/internal/httpapi"
	"memoria/internal/ingest"
	"memoria/internal/llm/providers"
	"memoria/internal/llmclient"
	"memoria/internal/mcpadapter"
	"memoria/internal/memory"
	"memoria/internal/objectstore"
	"memoria/internal/observability"
	"memoria/internal/queue"
	"memoria/internal/rag/embedder"
	"memoria/internal/settings"
	"memoria/internal/steploop"
	"memoria/internal/store"
	"memoria/internal/streaming"
	"memoria/internal/telemetry"
	"memoria/internal/tools"
)

// httpTimeout bounds the graceful-shutdown window for both listeners.
const httpTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.InitOTel(ctx, cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel setup failed, continuing without tracing/metrics")
		shutdownOTel = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTel(context.Background()) }()

	st, err := store.NewStore(ctx, cfg.Database, cfg.Embedding)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}

	usageSink, err := telemetry.NewUsageSink(ctx, st, cfg.ClickHouse)
	if err != nil {
		log.Fatal().Err(err).Msg("open usage sink")
	}
	defer func() { _ = usageSink.Close() }()

	rd := cache.New(cfg.Cache)

	emb := embedder.Build(cfg.Embedding)

	llmHTTPClient := observability.NewHTTPClient(nil)
	provs, err := providers.BuildAll(cfg.LLM, llmHTTPClient)
	if err != nil {
		log.Fatal().Err(err).Msg("build llm providers")
	}
	llm := llmclient.New(cfg.LLM, provs, usageSink.OnUsage)

	var objStore objectstore.ObjectStore
	if cfg.ObjectStore.Bucket != "" {
		s3Store, err := objectstore.NewS3Store(ctx, cfg.ObjectStore)
		if err != nil {
			log.Fatal().Err(err).Msg("open s3 object store")
		}
		objStore = s3Store
	} else {
		objStore = objectstore.NewMemoryStore()
	}

	coreMgr := memory.NewCoreManager(st, memory.DefaultCoreBlockLimit)
	episodicMgr := memory.NewEpisodicManager(st, emb, cfg.Embedding.StorageDim)
	semanticMgr := memory.NewSemanticManager(st, emb, cfg.Embedding.StorageDim)
	proceduralMgr := memory.NewProceduralManager(st, emb, cfg.Embedding.StorageDim)
	resourceMgr := memory.NewResourceManager(st, emb, cfg.Embedding.StorageDim, objStore)
	kvMgr := memory.NewKnowledgeVaultManager(st)

	managers := map[memory.Class]memory.Manager{
		memory.ClassEpisodic:       episodicMgr,
		memory.ClassSemantic:       semanticMgr,
		memory.ClassProcedural:     proceduralMgr,
		memory.ClassResource:       resourceMgr,
		memory.ClassKnowledgeVault: kvMgr,
	}

	assembler := &agents.Assembler{
		Managers:    managers,
		CoreManager: coreMgr,
	}

	registry := tools.NewRegistry()
	for _, t := range tools.NewCoreMemoryTools(coreMgr) {
		registry.Register(t)
	}
	registry.Register(tools.NewClassMutatorTool("episodic_insert", "Record a new Episodic memory (an event with a timestamp).", episodicMgr))
	registry.Register(tools.NewSemanticMutatorTool(semanticMgr))
	registry.Register(tools.NewClassMutatorTool("procedural_upsert", "Record or update a Procedural memory (a learned how-to).", proceduralMgr))
	registry.Register(tools.NewClassMutatorTool("resource_insert", "Record a new Resource memory (a document or reference).", resourceMgr))
	registry.Register(tools.NewClassMutatorTool("knowledge_vault_insert", "Record a new Knowledge Vault entry (a credential or secret).", kvMgr))
	registry.Register(tools.NewArchivalSearchTool(managers))
	registry.Register(tools.NewSendMessageTool())
	registry.Register(tools.NewRequestConfirmationTool())
	registry.Register(tools.NewSummariseTool(llm, cfg.LLM.DefaultProvider, ""))

	dedupRegistry := tools.NewOtidDedupRegistry(registry, rd, st)
	recordingRegistry := tools.NewRecordingRegistry(dedupRegistry, func(ev tools.DispatchEvent) {
		if ev.Err != nil {
			log.Warn().Err(ev.Err).Str("tool", ev.Name).
				RawJSON("args", observability.RedactJSON(ev.Args)).
				Msg("tool dispatch failed")
		}
	})

	var memoriseQueue steploop.MemoriseProducer
	var consumer *queue.Consumer
	if cfg.Kafka.Brokers != "" {
		writer, err := queue.NewKafkaWriter(cfg.Kafka.Brokers)
		if err != nil {
			log.Fatal().Err(err).Msg("open kafka writer")
		}
		producer := queue.NewProducer(writer, cfg.Kafka.CommandsTopic)
		memoriseQueue = producer
	}

	loop := &steploop.Loop{
		Store:     st,
		LLM:       llm,
		Tools:     recordingRegistry,
		Cache:     rd,
		Assembler: assembler,
		Cfg:       cfg.StepLoop,
		Queue:     memoriseQueue,
	}

	if cfg.Kafka.Brokers != "" {
		consumer = queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.CommandsTopic, "memoria-memorise", loop.RunMemorise)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				log.Error().Err(err).Msg("memorise consumer stopped")
			}
		}()
	}

	dispatcher := &streaming.Dispatcher{Loop: loop, LLM: llm, Cfg: cfg.Stream}

	svc := settings.New(rd, st, settings.Defaults{
		ChatModel:   cfg.LLM.DeepSeek.Model,
		MemoryModel: cfg.LLM.DeepSeek.Model,
	})

	ingestor := &ingest.Preprocessor{Store: st, Loop: loop}

	verifier, err := auth.NewVerifier(ctx, cfg.OIDC)
	if err != nil {
		log.Fatal().Err(err).Msg("build oidc verifier")
	}

	server := httpapi.NewServer(httpapi.Deps{
		Store:    st,
		Cache:    rd,
		Loop:     loop,
		Stream:   dispatcher,
		Settings: svc,
		Ingest:   ingestor,
		Managers: managers,
		Core:     coreMgr,
		Auth:     verifier,
	})

	mcpAdapter := &mcpadapter.Adapter{
		Managers: managers,
		Core:     coreMgr,
		Loop:     loop,
		Store:    st,
		Resolve: func(context.Context) (string, bool) {
			return "", false // connection-identity routing is deployment-specific; wired once an auth layer provides it
		},
	}

	mcpSrv := &http.Server{Addr: cfg.MCP.Addr, Handler: mcpAdapter.Handler()}
	go func() {
		log.Info().Str("addr", cfg.MCP.Addr).Msg("mcp adapter listening")
		if err := mcpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("mcp adapter stopped")
		}
	}()

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: server}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http api listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http api stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpTimeout)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = mcpSrv.Shutdown(shutdownCtx)
}
