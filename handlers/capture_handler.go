package handlers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Perceptus-Labs/perceptus-screen-assistant/models"
	"github.com/Perceptus-Labs/perceptus-screen-assistant/utils"
	"go.uber.org/zap"
)

// DisplaySource acquires a display stream. Open blocks while the user decides
// on the sharing permission.
type DisplaySource interface {
	Open(ctx context.Context) (utils.DisplayStream, error)
}

// CaptureHandler runs the Idle -> Sharing -> Idle capture lifecycle and the
// fixed-interval frame sampler.
type CaptureHandler struct {
	session  *AssistantSession
	source   DisplaySource
	interval time.Duration
	quality  int
	maxWidth int

	mu           sync.Mutex
	state        models.CaptureState
	opening      context.CancelFunc
	stream       utils.DisplayStream
	generation   uint64
	stopSampler  chan struct{}
	samplerDone  chan struct{}
	frame        *models.Frame
	captureCount int

	samplerActive atomic.Bool
}

func NewCaptureHandler(session *AssistantSession, source DisplaySource, interval time.Duration, quality, maxWidth int) *CaptureHandler {
	return &CaptureHandler{
		session:  session,
		source:   source,
		interval: interval,
		quality:  quality,
		maxWidth: maxWidth,
		state:    models.CaptureIdle,
	}
}

// Start requests a display and, once granted, starts sampling it.
func (h *CaptureHandler) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.state == models.CaptureSharing || h.opening != nil {
		h.mu.Unlock()
		h.session.sendWebSocketMessage(models.EvtCaptureFailed, map[string]string{
			"error": models.ErrAlreadySharing.Error(),
		})
		return models.ErrAlreadySharing
	}
	openCtx, cancel := context.WithCancel(ctx)
	h.opening = cancel
	h.mu.Unlock()

	h.session.Logger.Info("Requesting screen sharing")
	stream, err := h.source.Open(openCtx)

	h.mu.Lock()
	h.opening = nil
	aborted := openCtx.Err()
	cancel()

	if err == nil && aborted != nil {
		// Stop arrived while the permission prompt was open
		err = aborted
		h.mu.Unlock()
		stream.Close()
		h.mu.Lock()
	}
	if err != nil {
		h.mu.Unlock()
		h.session.Logger.Warn("Screen sharing failed", zap.Error(err))
		h.session.sendWebSocketMessage(models.EvtCaptureFailed, map[string]string{
			"error": err.Error(),
		})
		return fmt.Errorf("failed to start screen sharing: %w", err)
	}

	h.generation++
	gen := h.generation
	stop := make(chan struct{})
	done := make(chan struct{})
	h.stream = stream
	h.state = models.CaptureSharing
	h.captureCount = 0
	h.frame = nil
	h.stopSampler = stop
	h.samplerDone = done
	h.samplerActive.Store(true)
	h.mu.Unlock()

	go h.runSampler(gen, stream, stop, done)
	go h.watchStream(gen, stream, stop)

	h.session.Logger.Info("Screen sharing started", zap.Duration("interval", h.interval))
	h.session.sendWebSocketMessage(models.EvtCaptureStarted, map[string]interface{}{
		"interval": h.interval.String(),
	})
	return nil
}

// Stop ends screen sharing, or abandons a pending permission request.
func (h *CaptureHandler) Stop() {
	h.mu.Lock()
	if h.opening != nil {
		h.opening()
	}
	gen := h.generation
	h.mu.Unlock()

	h.teardown(gen, models.StopReasonUser)
}

func (h *CaptureHandler) runSampler(gen uint64, stream utils.DisplayStream, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer h.samplerActive.Store(false)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.sample(gen, stream)
		}
	}
}

// sample rasterizes the current surface and replaces the retained frame. A
// tick finishing after teardown is discarded.
func (h *CaptureHandler) sample(gen uint64, stream utils.DisplayStream) {
	img, err := stream.Image()
	if err != nil {
		h.session.Logger.Debug("Skipping sample, surface unreadable", zap.Error(err))
		return
	}
	if img == nil {
		return
	}

	data, bounds, err := utils.EncodeFrame(img, h.quality, h.maxWidth)
	if errors.Is(err, utils.ErrEmptyImage) {
		return
	}
	if err != nil {
		h.session.Logger.Warn("Failed to encode frame", zap.Error(err))
		return
	}

	h.mu.Lock()
	if h.generation != gen || h.state != models.CaptureSharing {
		h.mu.Unlock()
		return
	}
	h.captureCount++
	frame := &models.Frame{
		Data:       data,
		MIMEType:   utils.FrameMIMEType,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		Sequence:   h.captureCount,
		CapturedAt: time.Now(),
	}
	h.frame = frame
	h.mu.Unlock()

	h.session.Logger.Debug("Captured frame", zap.Int("sequence", frame.Sequence), zap.Int("size", len(data)))
	h.session.sendWebSocketMessage(models.EvtFrameCaptured, map[string]interface{}{
		"sequence": frame.Sequence,
		"size":     len(frame.Data),
		"width":    frame.Width,
		"height":   frame.Height,
	})
}

func (h *CaptureHandler) watchStream(gen uint64, stream utils.DisplayStream, stop <-chan struct{}) {
	select {
	case <-stream.Done():
		if h.teardown(gen, models.StopReasonEnded) {
			h.session.Logger.Info("Screen sharing ended outside the assistant")
		}
	case <-stop:
	}
}

// teardown moves the capture generation gen back to Idle: the sampler is
// stopped and waited for, the stream released and the retained frame cleared.
// It reports whether anything was torn down.
func (h *CaptureHandler) teardown(gen uint64, reason string) bool {
	h.mu.Lock()
	if h.state != models.CaptureSharing || h.generation != gen {
		h.mu.Unlock()
		return false
	}
	h.generation++
	close(h.stopSampler)
	done := h.samplerDone
	stream := h.stream
	h.stopSampler = nil
	h.samplerDone = nil
	h.stream = nil
	h.frame = nil
	h.captureCount = 0
	h.state = models.CaptureIdle
	h.mu.Unlock()

	<-done

	if err := stream.Close(); err != nil {
		h.session.Logger.Warn("Failed to release display stream", zap.Error(err))
	}

	h.session.Logger.Info("Screen sharing stopped", zap.String("reason", reason))
	h.session.sendWebSocketMessage(models.EvtCaptureStopped, map[string]string{
		"reason": reason,
	})
	return true
}

func (h *CaptureHandler) State() models.CaptureState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// LatestFrame returns the retained sample, or nil.
func (h *CaptureHandler) LatestFrame() *models.Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frame
}

func (h *CaptureHandler) CaptureCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.captureCount
}

// SamplerActive reports whether the sampler goroutine is running.
func (h *CaptureHandler) SamplerActive() bool {
	return h.samplerActive.Load()
}
