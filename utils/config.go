package utils

import (
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config holds the runtime settings, read from the environment after .env is loaded.
type Config struct {
	Port     string
	LogLevel string

	RedisHost     string
	RedisPassword string
	RedisDB       int

	GeminiAPIBase         string
	GeminiModel           string
	GeminiTemperature     float64
	GeminiMaxOutputTokens int
	GeminiProxy           string

	CaptureSource   string // "client" or "ffmpeg"
	CaptureInterval time.Duration
	CaptureDisplay  string
	JPEGQuality     int
	MaxFrameWidth   int

	DeepgramAPIKey string
	SpeechLanguage string

	TTSMode    string // "client", "espeak" or "off"
	TTSCommand string
	TTSRate    float64
	TTSPitch   float64
	AutoSpeak  bool
}

const (
	CaptureSourceClient = "client"
	CaptureSourceFFmpeg = "ffmpeg"

	TTSModeClient = "client"
	TTSModeEspeak = "espeak"
	TTSModeOff    = "off"
)

func DefaultConfig() Config {
	return Config{
		Port:                  "8080",
		LogLevel:              "info",
		GeminiAPIBase:         DefaultGeminiAPIBase,
		GeminiModel:           DefaultGeminiModel,
		GeminiTemperature:     0.7,
		GeminiMaxOutputTokens: 1000,
		CaptureSource:         CaptureSourceClient,
		CaptureInterval:       5 * time.Second,
		JPEGQuality:           80,
		SpeechLanguage:        "en-US",
		TTSMode:               TTSModeClient,
		TTSCommand:            "espeak-ng",
		TTSRate:               0.9,
		TTSPitch:              1.0,
	}
}

// LoadConfig overlays environment variables on DefaultConfig.
func LoadConfig() Config {
	cfg := DefaultConfig()

	cfg.Port = envString("PORT", cfg.Port)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)

	cfg.RedisHost = os.Getenv("REDIS_HOST")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisDB = envInt("REDIS_DB", 0)

	cfg.GeminiAPIBase = strings.TrimRight(envString("GEMINI_API_BASE", cfg.GeminiAPIBase), "/")
	cfg.GeminiModel = envString("GEMINI_MODEL", cfg.GeminiModel)
	cfg.GeminiTemperature = envFloat("GEMINI_TEMPERATURE", cfg.GeminiTemperature)
	cfg.GeminiMaxOutputTokens = envInt("GEMINI_MAX_OUTPUT_TOKENS", cfg.GeminiMaxOutputTokens)
	cfg.GeminiProxy = os.Getenv("GEMINI_PROXY")

	cfg.CaptureSource = envString("CAPTURE_SOURCE", cfg.CaptureSource)
	cfg.CaptureInterval = envDuration("CAPTURE_INTERVAL", cfg.CaptureInterval)
	cfg.CaptureDisplay = os.Getenv("CAPTURE_DISPLAY")
	cfg.JPEGQuality = envInt("JPEG_QUALITY", cfg.JPEGQuality)
	cfg.MaxFrameWidth = envInt("MAX_FRAME_WIDTH", cfg.MaxFrameWidth)

	cfg.DeepgramAPIKey = os.Getenv("DEEPGRAM_API_KEY")
	cfg.SpeechLanguage = envString("SPEECH_LANGUAGE", cfg.SpeechLanguage)

	cfg.TTSMode = envString("TTS_MODE", cfg.TTSMode)
	cfg.TTSCommand = envString("TTS_COMMAND", cfg.TTSCommand)
	cfg.TTSRate = envFloat("TTS_RATE", cfg.TTSRate)
	cfg.TTSPitch = envFloat("TTS_PITCH", cfg.TTSPitch)
	cfg.AutoSpeak = envBool("AUTO_SPEAK", false)

	return cfg
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		zap.L().Warn("Ignoring invalid integer setting", zap.String("key", key), zap.String("value", v))
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		zap.L().Warn("Ignoring invalid float setting", zap.String("key", key), zap.String("value", v))
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		zap.L().Warn("Ignoring invalid boolean setting", zap.String("key", key), zap.String("value", v))
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		zap.L().Warn("Ignoring invalid duration setting", zap.String("key", key), zap.String("value", v))
		return def
	}
	return d
}
