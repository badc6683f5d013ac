package handlers

import (
	"context"
	"fmt"
	"sync"

	"github.com/Perceptus-Labs/perceptus-screen-assistant/models"
	"github.com/Perceptus-Labs/perceptus-screen-assistant/utils"
	"go.uber.org/zap"
)

// Recognizer starts single, non-continuous speech recognition attempts.
type Recognizer interface {
	Start(ctx context.Context) (utils.RecognitionAttempt, error)
}

// VoiceHandler runs the Idle -> Listening -> Idle voice input cycle. The first
// recognized utterance becomes the session question.
type VoiceHandler struct {
	session    *AssistantSession
	recognizer Recognizer

	mu        sync.Mutex
	state     models.VoiceState
	attempt   utils.RecognitionAttempt
	attemptID uint64
	stopped   chan struct{}
}

func NewVoiceHandler(session *AssistantSession, recognizer Recognizer) *VoiceHandler {
	return &VoiceHandler{
		session:    session,
		recognizer: recognizer,
		state:      models.VoiceIdle,
	}
}

// Start begins a recognition attempt. It is a no-op while already listening.
func (h *VoiceHandler) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.state == models.VoiceListening {
		h.mu.Unlock()
		return nil
	}
	if h.recognizer == nil {
		h.mu.Unlock()
		h.session.sendWebSocketMessage(models.EvtVoiceError, map[string]string{
			"error": models.ErrRecognitionUnavailable.Error(),
		})
		return models.ErrRecognitionUnavailable
	}
	h.state = models.VoiceListening
	h.attemptID++
	id := h.attemptID
	stopped := make(chan struct{})
	h.stopped = stopped
	h.mu.Unlock()

	attempt, err := h.recognizer.Start(ctx)

	h.mu.Lock()
	current := h.attemptID == id && h.state == models.VoiceListening
	if err != nil {
		if current {
			h.state = models.VoiceIdle
			h.stopped = nil
		}
		h.mu.Unlock()
		h.session.Logger.Warn("Failed to start speech recognition", zap.Error(err))
		h.session.sendWebSocketMessage(models.EvtVoiceError, map[string]string{
			"error": err.Error(),
		})
		return fmt.Errorf("failed to start voice input: %w", err)
	}
	if !current {
		// Stopped while the recognizer was connecting
		h.mu.Unlock()
		attempt.Stop()
		return nil
	}
	h.attempt = attempt
	h.mu.Unlock()

	h.session.Logger.Info("Listening for a question")
	h.session.sendWebSocketMessage(models.EvtVoiceStarted, nil)

	go h.awaitResult(id, attempt, stopped)
	return nil
}

func (h *VoiceHandler) awaitResult(id uint64, attempt utils.RecognitionAttempt, stopped <-chan struct{}) {
	var result models.Recognition
	select {
	case result = <-attempt.Result():
	case <-stopped:
		return
	}

	h.mu.Lock()
	if h.attemptID != id || h.state != models.VoiceListening {
		h.mu.Unlock()
		return
	}
	h.state = models.VoiceIdle
	h.attempt = nil
	h.stopped = nil
	h.mu.Unlock()

	attempt.Stop()

	if result.Err != nil {
		h.session.Logger.Warn("Speech recognition failed", zap.Error(result.Err))
		h.session.sendWebSocketMessage(models.EvtVoiceError, map[string]string{
			"error": result.Err.Error(),
		})
		return
	}

	h.session.SetQuestion(result.Transcript)
	h.session.Logger.Info("Voice captured", zap.String("transcript", result.Transcript))
	h.session.sendWebSocketMessage(models.EvtVoiceResult, map[string]interface{}{
		"transcript": result.Transcript,
		"confidence": result.Confidence,
	})
}

// Stop abandons the current attempt without delivering text.
func (h *VoiceHandler) Stop() {
	h.mu.Lock()
	if h.state != models.VoiceListening {
		h.mu.Unlock()
		return
	}
	h.state = models.VoiceIdle
	h.attemptID++
	attempt := h.attempt
	h.attempt = nil
	if h.stopped != nil {
		close(h.stopped)
		h.stopped = nil
	}
	h.mu.Unlock()

	if attempt != nil {
		attempt.Stop()
	}
	h.session.Logger.Info("Voice input stopped")
	h.session.sendWebSocketMessage(models.EvtVoiceStopped, nil)
}

// WriteAudio forwards captured audio to the active attempt. Audio arriving
// while idle is dropped.
func (h *VoiceHandler) WriteAudio(audio []byte) error {
	h.mu.Lock()
	attempt := h.attempt
	h.mu.Unlock()

	if attempt == nil {
		return nil
	}
	return attempt.Write(audio)
}

func (h *VoiceHandler) State() models.VoiceState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}
