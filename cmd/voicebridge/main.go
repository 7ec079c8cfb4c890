package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/gordonklaus/portaudio"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxlabs/voicebridge/internal/agent"
	"github.com/voxlabs/voicebridge/internal/audio"
	"github.com/voxlabs/voicebridge/internal/config"
	"github.com/voxlabs/voicebridge/internal/conversation"
	"github.com/voxlabs/voicebridge/internal/insert"
	"github.com/voxlabs/voicebridge/internal/observability"
	"github.com/voxlabs/voicebridge/internal/realtime"
	"github.com/voxlabs/voicebridge/internal/resilience"
	"github.com/voxlabs/voicebridge/internal/stt"
	"github.com/voxlabs/voicebridge/internal/tools"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("realtime_model", cfg.RealtimeModel).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("VoiceBridge starting")

	if err := portaudio.Initialize(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize audio subsystem")
	}
	defer portaudio.Terminate()

	// The microphone has a single owner at a time; the conversation and the
	// push-to-talk engine share this handle under the acquire/release contract.
	mic := audio.NewMic(&audio.PortAudioDevice{}, cfg.SampleRate, cfg.FramesPerBuffer)
	playback := audio.NewPlaybackQueue(cfg.PlaybackBuffer)
	metrics := observability.NewSessionMetrics()

	// HTTP server for metrics and health
	mux := http.NewServeMux()
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"agent": func(ctx context.Context) (bool, error) {
			if _, err := exec.LookPath(cfg.AgentCommand); err != nil {
				return false, fmt.Errorf("agent command %q not found", cfg.AgentCommand)
			}
			return true, nil
		},
	}))
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Realtime conversation pipeline
	session, err := realtime.Dial(ctx, realtime.DialConfig{
		URL:    cfg.RealtimeURL,
		APIKey: cfg.RealtimeAPIKey,
		Model:  cfg.RealtimeModel,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect realtime session")
	}

	orch := conversation.NewOrchestrator(session, mic, playback, conversation.Config{
		FatalErrorCodes: cfg.FatalErrorCodes,
		LevelSmoothing:  cfg.LevelSmoothing,
		Speech: audio.SpeechConfig{
			RMSThreshold:  cfg.SpeechRMSThreshold,
			SilenceFrames: cfg.SpeechSilenceFrames,
		},
	}, metrics)

	runner := agent.NewProcessRunner(cfg.AgentCommand)
	dispatcher := tools.NewDispatcher(runner, tools.CaptureScreen, orch, orch, orch, tools.DispatcherConfig{
		PollInterval: cfg.ToolPollInterval,
		Timeout:      cfg.ToolTimeout,
	}, metrics)
	orch.SetDispatcher(dispatcher)

	// Push-to-talk pipeline: transcripts land in the focused application.
	insertEngine := insert.NewEngine(insert.SystemClipboard{}, insert.KeyboardPaster{}, insert.EngineConfig{
		PreferredMethod:  insert.Method(cfg.InsertPreferredMethod),
		SettleDelay:      cfg.InsertSettleDelay,
		RestoreDelay:     cfg.InsertRestoreDelay,
		RestoreClipboard: cfg.InsertRestoreClipboard,
	})
	transcriber := stt.NewHTTPTranscriber(cfg.TranscriptionURL, cfg.TranscriptionAPIKey,
		&resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    cfg.RetryInitialBackoff,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		resilience.NewCircuitBreaker("transcription", cfg.CircuitBreakerMaxFailures, cfg.CircuitBreakerResetTimeout))
	sttEngine := stt.NewEngine(mic, transcriber, stt.EngineConfig{
		Model:          cfg.TranscriptionModel,
		LevelSmoothing: cfg.LevelSmoothing,
		OnTranscript: func(text string) {
			result := insertEngine.Insert(ctx, text, nil)
			if !result.Success() {
				logger.Error().Err(result.Err).Msg("Transcript insertion failed")
			}
		},
	}, metrics)

	if err := orch.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start conversation")
	}

	// SIGUSR1 toggles push-to-talk, SIGUSR2 cancels the running tool call.
	// While the conversation owns the microphone a toggle fails fast with
	// the capture-busy error instead of stealing the handle.
	toggle := make(chan os.Signal, 1)
	cancelTool := make(chan os.Signal, 1)
	signal.Notify(toggle, syscall.SIGUSR1)
	signal.Notify(cancelTool, syscall.SIGUSR2)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-toggle:
				if err := sttEngine.Toggle(ctx); err != nil {
					logger.Warn().Err(err).Msg("Push-to-talk toggle failed")
				}
			case <-cancelTool:
				orch.CancelTool()
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info().Msg("Shutting down...")
	case <-orch.Done():
		if err := orch.Err(); err != nil {
			logger.Error().Err(err).Msg("Conversation ended")
			_ = beeep.Alert("VoiceBridge", "Session ended: "+err.Error(), "")
		}
	}

	orch.Stop()
	sttEngine.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server forced to shutdown")
	}

	logger.Info().Msg("VoiceBridge exited gracefully")
}
