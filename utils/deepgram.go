package utils

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Perceptus-Labs/perceptus-screen-assistant/models"
	"go.uber.org/zap"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/listen"
)

// RecognitionAttempt is one non-continuous speech recognition attempt.
type RecognitionAttempt interface {
	// Write feeds captured audio to the recognizer.
	Write(audio []byte) error
	// Result yields exactly one value: the first utterance or the failure.
	Result() <-chan models.Recognition
	// Stop ends the attempt without waiting for a result.
	Stop()
}

var errRecognitionClosed = errors.New("speech recognition closed before an utterance was recognized")

// DeepgramRecognizer runs each attempt over its own Deepgram live connection.
type DeepgramRecognizer struct {
	APIKey              string
	Language            string
	Model               string
	Encoding            string
	SampleRate          int
	ConfidenceThreshold float64
}

func NewDeepgramRecognizer(apiKey, lang string) *DeepgramRecognizer {
	if lang == "" {
		lang = "en-US"
	}
	return &DeepgramRecognizer{
		APIKey:              apiKey,
		Language:            lang,
		Model:               "nova-2",
		Encoding:            "linear16",
		SampleRate:          16000,
		ConfidenceThreshold: 0.3,
	}
}

func (r *DeepgramRecognizer) Start(ctx context.Context) (RecognitionAttempt, error) {
	if r.APIKey == "" {
		return nil, fmt.Errorf("%w: DEEPGRAM_API_KEY not set", models.ErrRecognitionUnavailable)
	}

	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Language:       r.Language,
		Encoding:       r.Encoding,
		SampleRate:     r.SampleRate,
		Channels:       1,
		Endpointing:    "300",
		InterimResults: false,
		FillerWords:    false,
		Model:          r.Model,
	}

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}

	attempt := newDeepgramAttempt(r.ConfidenceThreshold)

	dgClient, err := listen.NewWebSocketUsingCallback(ctx, r.APIKey, clientOptions, transcriptOptions, attempt)
	if err != nil {
		return nil, fmt.Errorf("%w: creating live transcription: %v", models.ErrRecognitionUnavailable, err)
	}

	if !dgClient.Connect() {
		return nil, fmt.Errorf("%w: failed to connect to Deepgram", models.ErrRecognitionUnavailable)
	}
	attempt.dgClient = dgClient

	zap.L().Debug("Deepgram recognition attempt started", zap.String("language", r.Language), zap.String("model", r.Model))
	return attempt, nil
}

// deepgramAttempt implements both RecognitionAttempt and Deepgram's live
// message callback.
type deepgramAttempt struct {
	dgClient  *listen.WSCallback
	threshold float64

	result     chan models.Recognition
	resultOnce sync.Once
	stopOnce   sync.Once

	mu                  sync.Mutex
	totalAudioBytesSent int64
}

func newDeepgramAttempt(threshold float64) *deepgramAttempt {
	return &deepgramAttempt{
		threshold: threshold,
		result:    make(chan models.Recognition, 1),
	}
}

func (a *deepgramAttempt) deliver(r models.Recognition) {
	a.resultOnce.Do(func() {
		a.result <- r
	})
}

func (a *deepgramAttempt) Result() <-chan models.Recognition {
	return a.result
}

func (a *deepgramAttempt) Write(audio []byte) error {
	reader := bufio.NewReader(bytes.NewReader(audio))
	err := a.dgClient.Stream(reader)
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to stream audio to Deepgram: %w", err)
	}
	a.mu.Lock()
	a.totalAudioBytesSent += int64(len(audio))
	a.mu.Unlock()
	return nil
}

func (a *deepgramAttempt) Stop() {
	a.stopOnce.Do(func() {
		if a.dgClient != nil {
			a.dgClient.Stop()
		}
		a.mu.Lock()
		sent := a.totalAudioBytesSent
		a.mu.Unlock()
		zap.L().Debug("Deepgram recognition attempt stopped", zap.Int64("audio_bytes", sent))
	})
}

func (a *deepgramAttempt) Open(or *msginterfaces.OpenResponse) error {
	zap.L().Debug("Deepgram socket connection opened")
	return nil
}

func (a *deepgramAttempt) Message(mr *msginterfaces.MessageResponse) error {
	if !mr.IsFinal || len(mr.Channel.Alternatives) == 0 {
		return nil
	}

	alternative := mr.Channel.Alternatives[0]
	transcript := strings.TrimSpace(alternative.Transcript)
	if transcript == "" {
		return nil
	}

	if alternative.Confidence < a.threshold {
		zap.L().Debug("Discarding low confidence transcript", zap.String("transcript", transcript), zap.Float64("confidence", alternative.Confidence))
		return nil
	}

	a.deliver(models.Recognition{Transcript: transcript, Confidence: alternative.Confidence})
	return nil
}

func (a *deepgramAttempt) Metadata(md *msginterfaces.MetadataResponse) error {
	return nil
}

func (a *deepgramAttempt) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	zap.L().Debug("Speech started")
	return nil
}

func (a *deepgramAttempt) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	return nil
}

func (a *deepgramAttempt) Close(cr *msginterfaces.CloseResponse) error {
	zap.L().Debug("Deepgram socket connection closed")
	a.deliver(models.Recognition{Err: errRecognitionClosed})
	return nil
}

func (a *deepgramAttempt) Error(er *msginterfaces.ErrorResponse) error {
	zap.L().Warn("Deepgram recognition error", zap.Any("error", er))
	a.deliver(models.Recognition{Err: fmt.Errorf("speech recognition failed: %+v", er)})
	return nil
}

func (a *deepgramAttempt) UnhandledEvent(byData []byte) error {
	zap.L().Debug("Unhandled Deepgram event", zap.ByteString("event", byData))
	return nil
}
