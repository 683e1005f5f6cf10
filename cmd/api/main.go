package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/aurorafeed/broadcast-core/internal/blobstore"
	"github.com/aurorafeed/broadcast-core/internal/config"
	"github.com/aurorafeed/broadcast-core/internal/database"
	"github.com/aurorafeed/broadcast-core/internal/embedding"
	"github.com/aurorafeed/broadcast-core/internal/httpapi"
	"github.com/aurorafeed/broadcast-core/internal/playout"
	"github.com/aurorafeed/broadcast-core/internal/retrieval"
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

	log.Info().Msg("Starting broadcast-core API server")

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
		APIKey:      cfg.EmbeddingAPIKey,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.LLMAPIEndpoint},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize genai client")
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

	segments := database.NewSegmentRepository(db)
	assets := database.NewAssetRepository(db)
	toneReports := database.NewToneReportRepository(db)

	playoutHandler := playout.NewHandler(segments, assets, blobs, cfg.PlayoutSignTTL)
	apiHandler := httpapi.NewHandler(retriever, embedder, toneReports)

	router := mux.NewRouter()
	router.HandleFunc("/health", healthHandler(db)).Methods("GET")

	router.HandleFunc("/playout/next", playoutHandler.Next).Methods("GET")
	router.HandleFunc("/playout/now-playing", playoutHandler.NowPlaying).Methods("POST")
	router.HandleFunc("/playout/aired", playoutHandler.Aired).Methods("POST")

	router.HandleFunc("/rag/retrieve", apiHandler.Retrieve).Methods("POST")
	router.HandleFunc("/analytics/tone/aggregate", apiHandler.ToneAggregate).Methods("POST")

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func healthHandler(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if err := db.Health(); err != nil {
			log.Error().Err(err).Msg("Database health check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"status":"unhealthy","error":"database"}`)
			return
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"ok"}`)
	}
}
