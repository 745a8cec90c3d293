// The ai-service daemon consumes the proctoring evidence queues, scores each
// stream for signs of academic dishonesty, and publishes violation results
// for the backend orchestrator.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/luckygarg1810/exam-platform/internal/api"
	"github.com/luckygarg1810/exam-platform/internal/audio"
	"github.com/luckygarg1810/exam-platform/internal/blob"
	"github.com/luckygarg1810/exam-platform/internal/broker"
	"github.com/luckygarg1810/exam-platform/internal/config"
	"github.com/luckygarg1810/exam-platform/internal/logging"
	"github.com/luckygarg1810/exam-platform/internal/metrics"
	"github.com/luckygarg1810/exam-platform/internal/ml"
	"github.com/luckygarg1810/exam-platform/internal/pipeline"
	"github.com/luckygarg1810/exam-platform/internal/risk"
	"github.com/luckygarg1810/exam-platform/internal/store"
	"github.com/luckygarg1810/exam-platform/internal/vision"
)

func main() {
	var debug = flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	cfg.LogConfig(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Service failed")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx := context.Background()

	// Model registry: loaded once, read-only afterwards. Heavy inference
	// backends register factories here when compiled in; every capability
	// degrades independently.
	registry := ml.Load(cfg.ObjectModelPath, cfg.BehaviorModelPath, ml.Factories{},
		logging.WithComponent(logger, "models"))
	for name, ready := range registry.Status() {
		v := 0.0
		if ready {
			v = 1.0
		}
		metrics.ModelReady.WithLabelValues(name).Set(v)
	}

	// Postgres is best-effort: without it raw behavior events are not
	// persisted but scoring continues.
	var db *store.Store
	if opened, err := store.Open(cfg.DatabaseURL); err != nil {
		logger.Error().Err(err).Msg("Database unavailable, behavior event persistence disabled")
	} else {
		db = opened
		defer db.Close()
	}

	blobs, err := blob.New(ctx, blob.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Secure:    cfg.MinioSecure,
		Logger:    logging.WithComponent(logger, "blob"),
	})
	if err != nil {
		return fmt.Errorf("object store client: %w", err)
	}
	if err := blobs.EnsureBucket(ctx, cfg.SnapshotsBucket); err != nil {
		logger.Warn().Err(err).Str("bucket", cfg.SnapshotsBucket).
			Msg("Snapshot bucket provisioning failed, uploads will retry it")
	}

	publisher, err := broker.NewPublisher(broker.PublisherConfig{
		URL:        cfg.RabbitURL,
		Exchange:   cfg.ExchangeName,
		RoutingKey: cfg.ResultsRoutingKey,
		BufferSize: cfg.PublishBuffer,
		Logger:     logging.WithComponent(logger, "publisher"),
	})
	if err != nil {
		return fmt.Errorf("create publisher: %w", err)
	}
	publisher.Start()

	var classifier risk.Classifier
	if clf, ok := registry.BehaviorClassifier.Get(); ok {
		classifier = clf
	}
	scorer := risk.NewScorer(risk.Thresholds{
		High:     cfg.HighRiskThreshold,
		Critical: cfg.CriticalThreshold,
	}, classifier, logging.WithComponent(logger, "risk"))

	analyzer := vision.NewAnalyzer(vision.Config{
		GazeYawThreshold:         cfg.GazeYawThreshold,
		GazePitchThreshold:       cfg.GazePitchThreshold,
		LipDistanceThreshold:     cfg.LipDistanceThreshold,
		PhoneConfidenceThreshold: cfg.PhoneConfidenceThreshold,
		NotesConfidenceThreshold: cfg.NotesConfidenceThreshold,
	}, registry.FaceMesh, registry.ObjectDetector, logging.WithComponent(logger, "vision"))

	vad := audio.NewAnalyzer(audio.EnergyEngine{}, cfg.SpeechRatioThreshold,
		logging.WithComponent(logger, "audio"))

	windows := pipeline.NewSessionWindows(cfg.BehaviorWindowCap, cfg.BehaviorWindow)

	framePipeline := pipeline.NewFramePipeline(analyzer, scorer, publisher, blobs,
		cfg.SnapshotsBucket, logging.WithComponent(logger, "frames"))
	audioPipeline := pipeline.NewAudioPipeline(vad, publisher,
		logging.WithComponent(logger, "audio"))

	var events pipeline.EventStore
	if db != nil {
		events = db
	}
	behaviorPipeline := pipeline.NewBehaviorPipeline(windows, scorer, publisher, events,
		logging.WithComponent(logger, "behavior"))

	consumers := make([]*broker.Consumer, 0, 3)
	for _, c := range []struct {
		queue   string
		handler broker.Handler
	}{
		{cfg.FrameQueue, framePipeline.Handle},
		{cfg.AudioQueue, audioPipeline.Handle},
		{cfg.BehaviorQueue, behaviorPipeline.Handle},
	} {
		consumer, err := broker.NewConsumer(broker.ConsumerConfig{
			URL:     cfg.RabbitURL,
			Queue:   c.queue,
			Handler: c.handler,
			Logger:  logging.WithComponent(logger, "consumer"),
		})
		if err != nil {
			return fmt.Errorf("create consumer for %s: %w", c.queue, err)
		}
		if err := consumer.Start(); err != nil {
			return fmt.Errorf("start consumer for %s: %w", c.queue, err)
		}
		consumers = append(consumers, consumer)
	}

	collector := metrics.NewCollector(cfg.MetricsInterval, logging.WithComponent(logger, "metrics"))
	collector.Start()

	var dbSeam api.Database
	if db != nil {
		dbSeam = db
	}
	server := api.NewServer(api.Config{
		Port:               cfg.Port,
		ProfilesBucket:     cfg.ProfilesBucket,
		SnapshotsBucket:    cfg.SnapshotsBucket,
		FaceMatchThreshold: cfg.FaceMatchThreshold,
		VerifyRateLimit:    cfg.VerifyRateLimit,
		VerifyRateBurst:    cfg.VerifyRateBurst,
	}, registry, dbSeam, blobs, logging.WithComponent(logger, "api"))

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("HTTP server failed, shutting down")
		}
	}

	// Stop inbound work first, then drain the publisher, then the rest.
	for _, consumer := range consumers {
		if err := consumer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Consumer stop failed")
		}
	}
	publisher.Stop()
	collector.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP shutdown failed")
	}

	logger.Info().Msg("Shutdown complete")
	return nil
}
