// Command ingestd wires the ingest core's collaborators together: config,
// logging, the resource manager, the metrics profiler, the model cache and
// ML service lifecycle, the dynamic batch engine, the broker connection
// pool, and the pgvector-backed store. It demonstrates the pipeline rather
// than serving a network protocol of its own — the spec names no external
// transport.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/indexforge/ingestcore/internal/amqp"
	"github.com/indexforge/ingestcore/internal/auth"
	"github.com/indexforge/ingestcore/internal/batch"
	"github.com/indexforge/ingestcore/internal/broker"
	"github.com/indexforge/ingestcore/internal/config"
	"github.com/indexforge/ingestcore/internal/embedding"
	"github.com/indexforge/ingestcore/internal/embedding/vertex"
	"github.com/indexforge/ingestcore/internal/logger"
	"github.com/indexforge/ingestcore/internal/metrics"
	"github.com/indexforge/ingestcore/internal/metricsink/prom"
	"github.com/indexforge/ingestcore/internal/mlservice"
	"github.com/indexforge/ingestcore/internal/modelcache"
	"github.com/indexforge/ingestcore/internal/resource"
	"github.com/indexforge/ingestcore/internal/textmodel/lexical"
	"github.com/indexforge/ingestcore/internal/tracer"
	"github.com/indexforge/ingestcore/internal/vectorstore/pgvector"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	metricsAddr := flag.String("metrics-addr", ":9090", "Address to serve /metrics on")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LoggingLevel)
	log.Info("starting ingestd", "version", Version, "commit", Commit, "logging_level", cfg.LoggingLevel)

	sink := prom.New()
	resMgr := resource.New(resource.Limits{
		MaxMemoryMB:    cfg.Resource.MaxMemoryMB,
		TargetDevice:   cfg.Resource.TargetDevice,
		FallbackDevice: cfg.Resource.FallbackDevice,
	})
	profiler := metrics.New(metrics.WithSink(sink))
	log.Info("resource manager initialized", "device", resMgr.Device(), "max_memory_mb", cfg.Resource.MaxMemoryMB)

	cache := modelcache.New(float64(cfg.Cache.MaxMemoryMB), cfg.Cache.MinHitCount, cfg.Cache.MaxEntries)
	tokenMgr := auth.NewVertexTokenManager(log)
	defer tokenMgr.Stop()

	annotatorFor := func(p mlservice.ProcessingParameters) (mlservice.TextAnnotator, error) {
		return lexical.New(), nil
	}
	encoderFor := func(p mlservice.EmbeddingParameters) (mlservice.EmbeddingEncoder, error) {
		if cached, ok := cache.Get(p.ModelName); ok {
			if model, ok := cached.(mlservice.EmbeddingEncoder); ok {
				return model, nil
			}
		}
		cache.RecordAccess(p.ModelName)

		credentials, err := loadVertexCredentials()
		if err != nil {
			return nil, err
		}
		model, err := vertex.NewWithTokenManager(context.Background(), vertex.Config{
			Project:         os.Getenv("VERTEX_PROJECT"),
			Location:        os.Getenv("VERTEX_LOCATION"),
			Model:           p.ModelName,
			Dimension:       int32(p.Dimension),
			CredentialsJSON: credentials,
		}, tokenMgr, p.ModelName, os.Getenv("VERTEX_CREDENTIALS_FILE"))
		if err != nil {
			return nil, err
		}
		_ = cache.CacheModel(p.ModelName, model, 64)
		return model, nil
	}

	svc := mlservice.New("ingestcore-ml", mlservice.NewFactory(annotatorFor, encoderFor))

	defaultEncoder, err := encoderFor(mlservice.EmbeddingParameters{ModelName: "text-embedding-005", Dimension: 768})
	var engineEmbedder embedding.Model
	if err != nil {
		log.Warn("default embedding model unavailable, batch engine will rely on pre-computed vectors", "error", err)
	} else if model, ok := defaultEncoder.(embedding.Model); ok {
		engineEmbedder = model
	}

	store, err := pgvector.Connect(context.Background(), cfg.VectorStore.DSN)
	if err != nil {
		log.Error("failed to connect vector store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	engine := batch.New(store, engineEmbedder, resMgr, profiler, batch.EngineConfig{
		Adaptive: batch.AdaptiveConfig{
			MinSize: cfg.Batch.MinSize, MaxSize: cfg.Batch.MaxSize, WindowSize: cfg.Batch.WindowSize,
			ShrinkFactor: cfg.Batch.ShrinkFactor, GrowFactor: cfg.Batch.GrowFactor,
			ErrorShrinkRate: cfg.Batch.ErrorShrinkRate, ErrorGrowCeil: cfg.Batch.ErrorGrowCeil,
			ThroughputFloor: cfg.Batch.ThroughputFloor,
		},
		InitialSize:   cfg.Batch.InitialSize,
		MemoCacheSize: cfg.Batch.MemoCacheSize,
		ItemMemoryMB:  1,
		Concurrency:   cfg.Batch.Concurrency,
	})
	log.Info("batch engine initialized", "initial_size", engine.CurrentBatchSize())

	brokerPool := broker.New(amqp.New(cfg.Broker.URL), broker.Config{
		MaxConnections:     cfg.Broker.MaxConnections,
		ChannelsPerConn:    cfg.Broker.ChannelsPerConn,
		MonitoringInterval: cfg.Broker.MonitoringInterval,
		ReconnectBaseDelay: cfg.Broker.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.Broker.ReconnectMaxDelay,
		DrainTimeout:       cfg.Broker.DrainTimeout,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	brokerPool.Start(ctx)
	log.Info("broker pool started", "max_connections", cfg.Broker.MaxConnections)

	trc := tracer.NewLogTracer(log)
	_, span := trc.StartSpan(ctx, "startup")
	span.SetAttribute("version", Version)
	span.SetStatus(true, "")
	span.End()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: *metricsAddr, Handler: mux}

	go func() {
		log.Info("metrics server starting", "addr", *metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "error", err)
		}
	}()

	_ = svc // wired into a request pipeline by callers of this package; not driven from main directly

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down ingestd")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server forced shutdown", "error", err)
	}
	if err := brokerPool.Close(); err != nil {
		log.Error("broker pool close failed", "error", err)
	}
	if err := svc.Cleanup(); err != nil {
		log.Error("ml service cleanup failed", "error", err)
	}

	log.Info("ingestd shutdown complete")
}

func loadVertexCredentials() ([]byte, error) {
	path := os.Getenv("VERTEX_CREDENTIALS_FILE")
	if path == "" {
		return nil, fmt.Errorf("VERTEX_CREDENTIALS_FILE not set")
	}
	return os.ReadFile(path)
}
