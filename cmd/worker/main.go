package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms/googleai"
	"google.golang.org/genai"

	"github.com/aurorafeed/broadcast-core/internal/blobstore"
	"github.com/aurorafeed/broadcast-core/internal/chunker"
	"github.com/aurorafeed/broadcast-core/internal/config"
	"github.com/aurorafeed/broadcast-core/internal/database"
	"github.com/aurorafeed/broadcast-core/internal/embedding"
	"github.com/aurorafeed/broadcast-core/internal/models"
	"github.com/aurorafeed/broadcast-core/internal/normalize"
	"github.com/aurorafeed/broadcast-core/internal/notify"
	"github.com/aurorafeed/broadcast-core/internal/orchestrator"
	"github.com/aurorafeed/broadcast-core/internal/queue"
	"github.com/aurorafeed/broadcast-core/internal/retrieval"
	"github.com/aurorafeed/broadcast-core/internal/scriptgen"
	"github.com/aurorafeed/broadcast-core/internal/tts"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	instanceID := fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	log.Info().Str("instance_id", instanceID).Msg("Starting broadcast-core worker")

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	blobs, err := blobstore.New(
		cfg.BlobEndpoint, cfg.BlobRegion, cfg.BlobBucket,
		cfg.BlobAccessKey, cfg.BlobSecretKey, cfg.BlobUseSSL, cfg.BlobPublicURL,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize blob storage client")
	}

	genaiClient, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      cfg.LLMAPIKey,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.LLMAPIEndpoint},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize genai client")
	}

	fallbackLLM, err := googleai.New(context.Background(),
		googleai.WithAPIKey(cfg.LLMAPIKey), googleai.WithDefaultModel(cfg.LLMModelFallback))
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize langchaingo fallback model, script generation has no fallback")
	}

	embedder, err := embedding.New(genaiClient, embedding.Options{
		Dim: cfg.EmbeddingDim, CacheSize: cfg.EmbeddingCacheSize,
		BatchSize: cfg.EmbeddingBatchSize, BatchDelay: cfg.EmbeddingBatchDelay,
		Model: cfg.EmbeddingModel,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize embedder")
	}

	retriever := retrieval.New(db, retrieval.Options{
		TopK: cfg.RAGTopK, VectorThreshold: cfg.RAGVectorThreshold, Timeout: cfg.RAGTimeout,
	})

	generator := scriptgen.New(genaiClient, cfg.LLMModelPrimary, cfg.LLMModelFallback, fallbackLLM)
	synth := tts.New(genaiClient, tts.Options{Model: cfg.TTSModel, Voice: cfg.TTSVoice})

	segments := database.NewSegmentRepository(db)
	assets := database.NewAssetRepository(db)
	kb := database.NewKBRepository(db)
	programs := database.NewProgramRepository(db)
	djs := database.NewDJRepository(db)
	health := database.NewHealthCheckRepository(db)

	notifier := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopicPrefix)
	defer notifier.Close()
	subscriber := notify.NewKafkaSubscriber(cfg.KafkaBrokers, cfg.KafkaTopicPrefix)

	store := queue.NewStore(db, notifier, cfg.JobBackoffBase, cfg.JobBackoffMax)

	kbIndexer := orchestrator.NewKBIndexer(kb, chunker.Options{
		MinTokens: cfg.ChunkMinTokens, MaxTokens: cfg.ChunkMaxTokens, OverlapTokens: cfg.ChunkOverlapTokens,
	}, embedder)

	segmentOrchestrator := orchestrator.NewSegmentOrchestrator(
		segments, assets, programs, djs, retriever, embedder, generator, synth, blobs, store, cfg.FutureYearOffset,
	)

	masteringOrchestrator := orchestrator.NewMasteringOrchestrator(
		segments, assets, blobs,
		normalize.Options{Bin: cfg.NormalizerBin, Timeout: cfg.NormalizerTimeout},
		"",
	)

	handlers := map[string]queue.Handler{
		models.JobTypeKBIndex:       kbIndexer,
		models.JobTypeSegmentMake:   segmentOrchestrator,
		models.JobTypeAudioFinalize: masteringOrchestrator,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	var runtimes []*queue.Runtime
	for _, workerType := range cfg.WorkerTypes {
		handler, ok := handlers[workerType]
		if !ok {
			log.Warn().Str("worker_type", workerType).Msg("no handler registered for worker type, skipping")
			continue
		}

		runtime := queue.NewRuntime(queue.Config{
			WorkerType:        workerType,
			InstanceID:        instanceID,
			MaxConcurrentJobs: cfg.MaxConcurrentJobs,
			LeaseSeconds:      cfg.LeaseSeconds,
			HeartbeatInterval: cfg.HeartbeatInterval,
			PollInterval:      cfg.PollInterval,
			DrainTimeout:      cfg.DrainDeadline,
		}, store, health, handler, subscriber)
		runtimes = append(runtimes, runtime)

		wg.Add(1)
		go func(rt *queue.Runtime, wt string) {
			defer wg.Done()
			log.Info().Str("worker_type", wt).Msg("worker runtime starting")
			rt.Run(ctx)
		}(runtime, workerType)
	}

	var reaper *queue.Reaper
	if cfg.ReaperEnabled {
		reaper = queue.NewReaper(store, cfg.ReaperInterval)
		reaper.Start(ctx)
	}

	log.Info().Strs("worker_types", cfg.WorkerTypes).Msg("worker started, claiming jobs...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker...")
	cancel()
	if reaper != nil {
		reaper.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("worker runtimes shut down cleanly")
	case <-time.After(cfg.DrainDeadline + 10*time.Second):
		log.Warn().Msg("worker shutdown timeout")
	}

	log.Info().Msg("Worker exited")
}
