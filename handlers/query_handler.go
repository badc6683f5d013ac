package handlers

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Perceptus-Labs/perceptus-screen-assistant/models"
	"go.uber.org/zap"
)

// ScreenAnalyzer answers a question about a sampled frame.
type ScreenAnalyzer interface {
	AnalyzeScreen(ctx context.Context, question string, frame *models.Frame) (string, error)
}

// QueryHandler dispatches at most one query at a time to the inference
// endpoint. There is no queue: a dispatch while busy is rejected.
type QueryHandler struct {
	session *AssistantSession

	mu         sync.RWMutex
	analyzer   ScreenAnalyzer
	lastAnswer *models.Answer

	busy atomic.Bool
}

func NewQueryHandler(session *AssistantSession) *QueryHandler {
	return &QueryHandler{session: session}
}

// SetAnalyzer swaps the inference client, or removes it when a is nil.
func (h *QueryHandler) SetAnalyzer(a ScreenAnalyzer) {
	h.mu.Lock()
	h.analyzer = a
	h.mu.Unlock()
}

func (h *QueryHandler) currentAnalyzer() ScreenAnalyzer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.analyzer
}

// Dispatch sends the retained question and frame to the inference endpoint and
// waits for the answer. The call is never retried.
func (h *QueryHandler) Dispatch(ctx context.Context) (*models.Answer, error) {
	answer, err := h.dispatch(ctx)
	if err != nil {
		h.session.Logger.Warn("Query failed", zap.Error(err))
		h.session.sendWebSocketMessage(models.EvtQueryFailed, map[string]string{
			"kind":  models.QueryErrorKind(err),
			"error": err.Error(),
		})
		return nil, err
	}

	h.session.sendWebSocketMessage(models.EvtAnswer, map[string]interface{}{
		"question":    answer.Question,
		"text":        answer.Text,
		"frame_seq":   answer.FrameSeq,
		"duration_ms": answer.Duration.Milliseconds(),
	})

	if h.session.autoSpeak {
		if err := h.session.Speak(answer.Text, 0, 0); err != nil {
			h.session.Logger.Warn("Failed to speak answer", zap.Error(err))
		}
	}
	return answer, nil
}

func (h *QueryHandler) dispatch(ctx context.Context) (*models.Answer, error) {
	question := strings.TrimSpace(h.session.Question())
	if question == "" {
		return nil, models.ErrEmptyQuestion
	}

	frame := h.session.Capture.LatestFrame()
	if frame.Empty() {
		return nil, models.ErrNoFrame
	}

	analyzer := h.currentAnalyzer()
	if analyzer == nil {
		return nil, models.ErrNoCredential
	}

	if !h.busy.CompareAndSwap(false, true) {
		return nil, models.ErrQueryPending
	}
	defer h.busy.Store(false)

	h.session.Logger.Info("Dispatching query",
		zap.String("question", question),
		zap.Int("frame_seq", frame.Sequence),
		zap.Int("frame_size", len(frame.Data)))
	h.sendStage(models.EvtQueryStarted, models.StageCapturing, frame)
	h.sendStage(models.EvtQueryStage, models.StageAnalyzing, frame)
	h.sendStage(models.EvtQueryStage, models.StageGenerating, frame)

	start := time.Now()
	text, err := analyzer.AnalyzeScreen(ctx, question, frame)
	if err != nil {
		return nil, err
	}

	answer := &models.Answer{
		Question:   question,
		Text:       text,
		FrameSeq:   frame.Sequence,
		AnsweredAt: time.Now(),
		Duration:   time.Since(start),
	}

	h.mu.Lock()
	h.lastAnswer = answer
	h.mu.Unlock()

	h.session.Logger.Info("Query answered", zap.Duration("elapsed", answer.Duration))
	return answer, nil
}

func (h *QueryHandler) sendStage(msgType, stage string, frame *models.Frame) {
	h.session.sendWebSocketMessage(msgType, map[string]interface{}{
		"stage":     stage,
		"frame_seq": frame.Sequence,
	})
}

// Busy reports whether a query is in flight.
func (h *QueryHandler) Busy() bool {
	return h.busy.Load()
}

func (h *QueryHandler) LastAnswer() *models.Answer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastAnswer
}
