// ./cmd/pdf-audio-service/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/pdf-audio-service/internal/audio"
	"github.com/book-expert/pdf-audio-service/internal/config"
	"github.com/book-expert/pdf-audio-service/internal/embed"
	"github.com/book-expert/pdf-audio-service/internal/ingest"
	"github.com/book-expert/pdf-audio-service/internal/library"
	"github.com/book-expert/pdf-audio-service/internal/llm"
	"github.com/book-expert/pdf-audio-service/internal/script"
	"github.com/book-expert/pdf-audio-service/internal/service"
	"github.com/book-expert/pdf-audio-service/internal/tts"
	"github.com/book-expert/pdf-audio-service/internal/vectorindex"
	"github.com/book-expert/pdf-audio-service/internal/worker"
)

const (
	scriptTemperature = 0.7
	scriptMaxTokens   = 4096
)

func main() {
	// A temporary logger for the bootstrap process
	log, err := logger.New(os.TempDir(), "pdf-audio-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create bootstrap logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load("", log)
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}

	log, err = logger.New(cfg.Paths.BaseLogsDir, "pdf-audio-service.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create final logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	svc, natsWorker, err := buildService(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize service: %v", err)
	}

	err = svc.Recover(ctx)
	if err != nil {
		log.Fatal("Failed to recover state from disk: %v", err)
	}

	go func() {
		log.Info("Starting NATS worker...")

		runErr := natsWorker.Run(ctx)
		if runErr != nil {
			log.Error("NATS worker stopped with error: %v", runErr)
			cancel()
		}
	}()

	<-sigChan
	log.Info("Shutdown signal received, gracefully shutting down...")
	cancel()
	natsWorker.Close()
	time.Sleep(2 * time.Second)
	log.Info("Shutdown complete.")
}

func buildService(
	ctx context.Context,
	cfg *config.Config,
	log *logger.Logger,
) (*service.Service, *worker.NatsWorker, error) {
	apiKey := cfg.GetAPIKey()
	if apiKey == "" {
		return nil, nil, fmt.Errorf(
			"gemini API key not set; ensure %s is exported: %w",
			cfg.Gemini.APIKeyEnvironmentVariable,
			os.ErrNotExist,
		)
	}

	llmClient, err := llm.New(ctx, llm.Config{
		APIKey:            apiKey,
		Models:            cfg.Gemini.Models,
		SpeechModel:       cfg.Gemini.SpeechModel,
		EmbeddingModel:    cfg.Gemini.EmbeddingModel,
		TimeoutSeconds:    cfg.Gemini.TimeoutSeconds,
		MaxRetries:        cfg.Gemini.MaxRetries,
		RetryDelaySeconds: cfg.Gemini.RetryDelaySeconds,
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize LLM client: %w", err)
	}

	docLibrary, err := library.New(
		cfg.Paths.DocumentLibraryDir,
		cfg.Ingest.MaxFileSizeMB,
		cfg.Ingest.AllowedExtensions,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize document library: %w", err)
	}

	clipCache, err := tts.NewClipCache(cfg.Paths.AudioDir, log)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize clip cache: %w", err)
	}

	toolbox := audio.NewToolbox(cfg.TTS.ProviderTimeoutSeconds, log)
	muxer := audio.NewMuxer(toolbox, log)

	temperature := cfg.Gemini.Temperature
	if temperature <= 0 {
		temperature = scriptTemperature
	}

	maxTokens := cfg.Gemini.MaxTokens
	if maxTokens <= 0 {
		maxTokens = scriptMaxTokens
	}

	synthesizer, err := script.NewSynthesizer(
		llmClient,
		temperature,
		maxTokens,
		cfg.Paths.ScriptsDir,
		log,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize script synthesizer: %w", err)
	}

	dispatcher, err := tts.NewDispatcher(
		buildProviderChain(cfg, llmClient),
		cfg.ForcedProvider(),
		clipCache,
		toolbox,
		muxer,
		cfg.Service.TTSWorkers,
		log,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize TTS dispatcher: %w", err)
	}

	svc := service.New(service.Options{
		Ingestor:              ingest.New(cfg.Ingest.MaxChunkChars, cfg.Ingest.OverlapChars, log),
		Embedder:              embed.NewGeminiEmbedder(llmClient, cfg.Embedding.Dimensions),
		Index:                 vectorindex.New(cfg.Embedding.Dimensions),
		Synthesizer:           synthesizer,
		Dispatcher:            dispatcher,
		Generator:             llmClient,
		Library:               docLibrary,
		Clips:                 clipCache,
		Scripts:               synthesizer,
		Logger:                log,
		RequestTimeoutSeconds: cfg.Service.RequestTimeoutSeconds,
	})

	natsWorker, err := worker.New(worker.Config{
		URL:                   cfg.NATS.URL,
		StreamName:            cfg.NATS.StreamName,
		UploadSubject:         cfg.NATS.UploadSubject,
		GenerateAudioSubject:  cfg.NATS.GenerateAudioSubject,
		ConsumerName:          cfg.NATS.ConsumerName,
		DocumentIndexedSubj:   cfg.NATS.DocumentIndexedSubject,
		AudioGeneratedSubject: cfg.NATS.AudioGeneratedSubject,
		DeadLetterSubject:     cfg.NATS.DeadLetterSubject,
		Workers:               cfg.Service.BackgroundWorkers,
	}, svc, log)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize NATS worker: %w", err)
	}

	return svc, natsWorker, nil
}

func buildProviderChain(cfg *config.Config, llmClient *llm.Client) []tts.Provider {
	timeout := cfg.TTS.ProviderTimeoutSeconds

	return []tts.Provider{
		tts.NewGeminiProvider(llmClient, cfg.Gemini.VoiceA, cfg.Gemini.VoiceB),
		tts.NewGoogleProvider(cfg.TTS.Google.Language, timeout),
		tts.NewEdgeProvider(cfg.TTS.Edge.VoiceA, cfg.TTS.Edge.VoiceB, timeout, ""),
		tts.NewHFProvider(cfg.GetHFToken(), cfg.TTS.HF.Model, timeout),
		tts.NewOfflineProvider(cfg.TTS.Offline.Voice, timeout, ""),
	}
}
