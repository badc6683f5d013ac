package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Perceptus-Labs/perceptus-screen-assistant/handlers"
	"github.com/Perceptus-Labs/perceptus-screen-assistant/utils"
	"github.com/lpernett/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// Load environment variables from .env file
func init() {
	zap.ReplaceGlobals(zap.Must(zap.NewDevelopment()))
	zap.L().Info("Loading environment variables")
	err := godotenv.Load()
	if err != nil {
		zap.L().Warn("Error loading .env file")
	}
}

func main() {
	cfg := utils.LoadConfig()

	pflag.StringVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	pflag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	pflag.StringVar(&cfg.CaptureSource, "capture-source", cfg.CaptureSource, "screen source: client or ffmpeg")
	pflag.DurationVar(&cfg.CaptureInterval, "capture-interval", cfg.CaptureInterval, "frame sampling interval")
	pflag.StringVar(&cfg.TTSMode, "tts", cfg.TTSMode, "speech playback: client, espeak or off")
	dev := pflag.Bool("dev", false, "human readable console logging")
	pflag.Parse()

	// Set up logging
	logger, err := utils.NewLogger(cfg.LogLevel, *dev)
	if err != nil {
		zap.L().Fatal("Failed to build logger", zap.Error(err))
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	logger.Info("Server Version: Screen Assistant V1")

	// Set up Redis connection
	redisClient := redis.NewClient(&redis.Options{
		Addr:        cfg.RedisHost,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: 20 * time.Second, // initial connection timeout
	})
	defer redisClient.Close()

	redisCtx, cancelRedis := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelRedis()

	_, err = redisClient.Ping(redisCtx).Result()
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	logger.Info("Successfully connected to Redis")

	httpClient, err := utils.NewHTTPClient(cfg.GeminiProxy)
	if err != nil {
		logger.Fatal("Failed to set up inference HTTP client", zap.Error(err))
	}
	geminiOptions := utils.GeminiOptions{
		BaseURL:         cfg.GeminiAPIBase,
		Model:           cfg.GeminiModel,
		Temperature:     cfg.GeminiTemperature,
		MaxOutputTokens: cfg.GeminiMaxOutputTokens,
		HTTPClient:      httpClient,
	}

	sessionCfg := handlers.SessionConfig{
		Recognizer:  utils.NewDeepgramRecognizer(cfg.DeepgramAPIKey, cfg.SpeechLanguage),
		Credentials: utils.NewRedisCredentialStore(redisClient),
		Validator:   utils.NewGeminiClient("", geminiOptions),
		NewAnalyzer: func(apiKey string) handlers.ScreenAnalyzer {
			return utils.NewGeminiClient(apiKey, geminiOptions)
		},
		CaptureInterval: cfg.CaptureInterval,
		JPEGQuality:     cfg.JPEGQuality,
		MaxFrameWidth:   cfg.MaxFrameWidth,
		SpeechRate:      cfg.TTSRate,
		SpeechPitch:     cfg.TTSPitch,
		AutoSpeak:       cfg.AutoSpeak,
	}

	switch cfg.CaptureSource {
	case utils.CaptureSourceFFmpeg:
		sessionCfg.Display = utils.NewFFmpegDisplay(cfg.CaptureDisplay)
	case utils.CaptureSourceClient:
	default:
		logger.Fatal("Unknown capture source", zap.String("capture_source", cfg.CaptureSource))
	}

	if cfg.TTSMode == utils.TTSModeEspeak {
		sessionCfg.Speaker = utils.NewExecSpeaker(cfg.TTSCommand, utils.EspeakVoice(cfg.SpeechLanguage))
	}

	session := handlers.NewAssistantSession(sessionCfg)
	defer session.Close()

	switch cfg.TTSMode {
	case utils.TTSModeClient:
		session.SetSpeaker(handlers.NewClientSpeaker(session))
	case utils.TTSModeEspeak, utils.TTSModeOff:
	default:
		logger.Warn("Unknown TTS mode, speech playback disabled", zap.String("tts_mode", cfg.TTSMode))
	}

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 5*time.Second)
	if err := session.Credentials.Load(loadCtx); err != nil {
		logger.Warn("Failed to load stored API key", zap.Error(err))
	}
	cancelLoad()

	// Define HTTP routes
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		handlers.HandleAssistantSession(w, r, session)
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		handlers.HandleStatus(w, r, session)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		handlers.HandleHealthCheck(w, r, redisClient)
	})

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	// Set up signal handling
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverExit := make(chan struct{})

	// Start HTTP server in a goroutine
	go func() {
		defer close(serverExit)
		logger.Info("Starting server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	// On termination, close all connections and shut down the server
	select {
	case <-stop:
		logger.Info("Shutting down server...")
	case <-serverExit:
		logger.Info("Server exited unexpectedly...")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server shutdown incomplete", zap.Error(err))
	}

	logger.Info("Server shut down gracefully")
}
