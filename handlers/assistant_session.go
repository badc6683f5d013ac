package handlers

import (
	"errors"
	"sync"
	"time"

	"github.com/Perceptus-Labs/perceptus-screen-assistant/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrClientAttached = errors.New("another client is already connected")
	ErrNoClient       = errors.New("no client connected")
)

// EventSink receives events for the connected client.
type EventSink interface {
	Send(msgType string, data interface{}) error
}

// SessionConfig wires the assistant to its external systems.
type SessionConfig struct {
	// Display is the capture source. When nil the connected client supplies
	// the display through a ClientDisplay.
	Display     DisplaySource
	Recognizer  Recognizer
	Speaker     Speaker
	Credentials CredentialStore
	Validator   KeyValidator
	// NewAnalyzer builds the inference client for an API key.
	NewAnalyzer func(apiKey string) ScreenAnalyzer

	CaptureInterval time.Duration
	JPEGQuality     int
	MaxFrameWidth   int

	SpeechRate  float64
	SpeechPitch float64
	AutoSpeak   bool
}

// AssistantSession owns all assistant state: the single capture session, the
// retained frame and question, the pending query flag and the credential.
type AssistantSession struct {
	ID        string
	Logger    *zap.Logger
	StartTime time.Time

	Capture       *CaptureHandler
	Voice         *VoiceHandler
	Query         *QueryHandler
	Credentials   *CredentialHandler
	ClientDisplay *ClientDisplay

	speaker     Speaker
	speechRate  float64
	speechPitch float64
	autoSpeak   bool

	mu           sync.RWMutex
	question     string
	client       EventSink
	lastActivity time.Time
}

func NewAssistantSession(cfg SessionConfig) *AssistantSession {
	id := uuid.New().String()

	// Create a logger with session ID context
	logger := zap.L().With(zap.String("session_id", id))

	if cfg.CaptureInterval <= 0 {
		cfg.CaptureInterval = 5 * time.Second
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 80
	}
	if cfg.SpeechRate <= 0 {
		cfg.SpeechRate = 0.9
	}
	if cfg.SpeechPitch <= 0 {
		cfg.SpeechPitch = 1.0
	}

	session := &AssistantSession{
		ID:           id,
		Logger:       logger,
		StartTime:    time.Now(),
		speechRate:   cfg.SpeechRate,
		speechPitch:  cfg.SpeechPitch,
		autoSpeak:    cfg.AutoSpeak,
		lastActivity: time.Now(),
	}

	display := cfg.Display
	if display == nil {
		session.ClientDisplay = NewClientDisplay(session)
		display = session.ClientDisplay
	}

	session.speaker = cfg.Speaker
	session.Capture = NewCaptureHandler(session, display, cfg.CaptureInterval, cfg.JPEGQuality, cfg.MaxFrameWidth)
	session.Voice = NewVoiceHandler(session, cfg.Recognizer)
	session.Query = NewQueryHandler(session)
	session.Credentials = NewCredentialHandler(session, cfg.Credentials, cfg.Validator, func(apiKey string) {
		// Rebuild the inference client whenever the credential changes
		if apiKey == "" || cfg.NewAnalyzer == nil {
			session.Query.SetAnalyzer(nil)
			return
		}
		session.Query.SetAnalyzer(cfg.NewAnalyzer(apiKey))
	})

	logger.Info("Assistant session created",
		zap.Duration("capture_interval", cfg.CaptureInterval),
		zap.Bool("client_display", session.ClientDisplay != nil))

	return session
}

// Attach makes sink the connected client. Only one client may be attached.
func (s *AssistantSession) Attach(sink EventSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return ErrClientAttached
	}
	s.client = sink
	s.lastActivity = time.Now()
	return nil
}

// Detach removes sink. A departing client takes its display and any voice
// attempt with it.
func (s *AssistantSession) Detach(sink EventSink) {
	s.mu.Lock()
	if s.client != sink {
		s.mu.Unlock()
		return
	}
	s.client = nil
	s.mu.Unlock()

	s.Voice.Stop()
	if s.ClientDisplay != nil {
		s.ClientDisplay.Disconnect()
	}
	s.Logger.Info("Client detached")
}

func (s *AssistantSession) HasClient() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client != nil
}

func (s *AssistantSession) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Emit sends an event to the connected client.
func (s *AssistantSession) Emit(msgType string, data interface{}) error {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()

	if client == nil {
		return ErrNoClient
	}
	return client.Send(msgType, data)
}

func (s *AssistantSession) sendWebSocketMessage(msgType string, data interface{}) {
	err := s.Emit(msgType, data)
	if errors.Is(err, ErrNoClient) {
		s.Logger.Debug("No client connected, dropping event", zap.String("type", msgType))
		return
	}
	if err != nil {
		s.Logger.Error("Failed to send websocket message", zap.Error(err), zap.String("type", msgType))
	}
}

func (s *AssistantSession) Question() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.question
}

// SetQuestion replaces the retained question. Last writer wins.
func (s *AssistantSession) SetQuestion(q string) {
	s.mu.Lock()
	s.question = q
	s.mu.Unlock()
}

// SetSpeaker replaces the speech playback backend; nil disables playback.
func (s *AssistantSession) SetSpeaker(sp Speaker) {
	s.mu.Lock()
	s.speaker = sp
	s.mu.Unlock()
}

// Speak plays text back through the configured speaker. Zero rate or pitch
// selects the session defaults.
func (s *AssistantSession) Speak(text string, rate, pitch float64) error {
	s.mu.RLock()
	speaker := s.speaker
	s.mu.RUnlock()

	if speaker == nil {
		return errors.New("speech playback disabled")
	}
	if text == "" {
		return errors.New("nothing to speak")
	}
	if rate <= 0 {
		rate = s.speechRate
	}
	if pitch <= 0 {
		pitch = s.speechPitch
	}
	return speaker.Speak(text, rate, pitch)
}

func (s *AssistantSession) Status() models.Status {
	s.mu.RLock()
	question := s.question
	connected := s.client != nil
	s.mu.RUnlock()

	return models.Status{
		SessionID:     s.ID,
		Connected:     connected,
		CaptureState:  s.Capture.State(),
		CaptureCount:  s.Capture.CaptureCount(),
		HasFrame:      s.Capture.LatestFrame() != nil,
		VoiceState:    s.Voice.State(),
		Processing:    s.Query.Busy(),
		CredentialSet: s.Credentials.Configured(),
		Question:      question,
		Uptime:        time.Since(s.StartTime).Round(time.Second).String(),
	}
}

// Close tears down capture and voice input.
func (s *AssistantSession) Close() {
	s.Logger.Info("Closing assistant session")
	s.Voice.Stop()
	s.Capture.Stop()
}
