package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/chtugha/voicebridge/internal/api"
	"github.com/chtugha/voicebridge/internal/audio"
	"github.com/chtugha/voicebridge/internal/config"
	"github.com/chtugha/voicebridge/internal/database"
	"github.com/chtugha/voicebridge/internal/media"
	"github.com/chtugha/voicebridge/internal/metrics"
	"github.com/chtugha/voicebridge/internal/processor"
	sipengine "github.com/chtugha/voicebridge/internal/sip"
	"github.com/chtugha/voicebridge/internal/speech"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting voicebridge",
		"sip_port", cfg.SIPPort,
		"http_port", cfg.HTTPPort,
		"rtp_ports", fmt.Sprintf("%d-%d", cfg.RTPPortMin, cfg.RTPPortMax),
		"data_dir", cfg.DataDir,
	)

	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	lines := database.NewLineRepository(db)
	callers := database.NewCallerRepository(db)
	store := database.NewSessionRepository(db)

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Media transport: per-call RTP endpoints plus keepalive sweep.
	transport := media.NewTransport(cfg.RTPPortMin, cfg.RTPPortMax, cfg.RTPFallbackPort, logger)
	go transport.Run(appCtx)

	// Utterance chunker shared by all calls.
	chunker := audio.NewChunker(audio.ChunkerConfig{
		SampleRate: 8000,
		MinLen:     cfg.ChunkMin(),
		SilenceLen: cfg.ChunkSilence(),
		MaxLen:     cfg.ChunkMax(),
		Threshold:  cfg.VADThreshold,
	}, logger)
	go chunker.Run(appCtx)

	// SIP signaling.
	engine, err := sipengine.NewEngine(cfg, transport, lines, callers, store, logger)
	if err != nil {
		slog.Error("failed to create sip engine", "error", err)
		os.Exit(1)
	}
	if err := engine.Start(appCtx); err != nil {
		slog.Error("failed to start sip engine", "error", err)
		os.Exit(1)
	}

	// Upstream line registrations.
	registrar := sipengine.NewLineRegistrar(engine.UA(), lines, logger)
	go registrar.Run(appCtx)

	// Speech services and the audio processor tying it all together.
	stt := speech.NewClient(cfg.STTEndpoint)
	tts := speech.NewClient(cfg.TTSEndpoint)
	proc := processor.New(transport, chunker, store, stt, tts, engine.Events(), cfg.VADThreshold, cfg.SystemSpeed, logger)
	go proc.Run(appCtx)

	// Prometheus registry with process metrics plus our collector.
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(
			engine.Sessions(),
			&lineStatusAdapter{lines: lines, registrar: registrar},
			&rtpStatsAdapter{transport: transport},
			&chunkStatsAdapter{chunker: chunker, proc: proc},
			time.Now(),
		),
	)

	httpSrv := api.NewServer(cfg.HTTPPort, lines, &callsAdapter{engine: engine}, reg, logger)
	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	slog.Info("shutting down")
	registrar.StopAll()
	engine.Stop()
	appCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Stop(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("voicebridge stopped")
}
