package utils

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Perceptus-Labs/perceptus-screen-assistant/models"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transcriptMessage(t *testing.T, raw string) *msginterfaces.MessageResponse {
	t.Helper()
	var mr msginterfaces.MessageResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &mr))
	return &mr
}

func TestDeepgramAttemptDeliversFirstFinalTranscript(t *testing.T) {
	attempt := newDeepgramAttempt(0.3)

	// interim results and low confidence are ignored
	attempt.Message(transcriptMessage(t, `{"is_final":false,"channel":{"alternatives":[{"transcript":"what","confidence":0.9}]}}`))
	attempt.Message(transcriptMessage(t, `{"is_final":true,"channel":{"alternatives":[{"transcript":"mumble","confidence":0.1}]}}`))
	attempt.Message(transcriptMessage(t, `{"is_final":true,"channel":{"alternatives":[{"transcript":"  ","confidence":0.9}]}}`))
	select {
	case r := <-attempt.Result():
		t.Fatalf("unexpected result %+v", r)
	default:
	}

	attempt.Message(transcriptMessage(t, `{"is_final":true,"channel":{"alternatives":[{"transcript":"what is this error","confidence":0.92}]}}`))
	attempt.Message(transcriptMessage(t, `{"is_final":true,"channel":{"alternatives":[{"transcript":"second","confidence":0.99}]}}`))
	attempt.Close(&msginterfaces.CloseResponse{})

	r := <-attempt.Result()
	require.NoError(t, r.Err)
	assert.Equal(t, "what is this error", r.Transcript)
	assert.InDelta(t, 0.92, r.Confidence, 1e-9)

	select {
	case r := <-attempt.Result():
		t.Fatalf("second result delivered: %+v", r)
	default:
	}
}

func TestDeepgramAttemptCloseWithoutSpeech(t *testing.T) {
	attempt := newDeepgramAttempt(0.3)
	attempt.Close(&msginterfaces.CloseResponse{})

	r := <-attempt.Result()
	assert.Error(t, r.Err)
	assert.Empty(t, r.Transcript)
}

func TestDeepgramAttemptError(t *testing.T) {
	attempt := newDeepgramAttempt(0.3)
	attempt.Error(&msginterfaces.ErrorResponse{})

	r := <-attempt.Result()
	assert.Error(t, r.Err)
}

func TestDeepgramRecognizerRequiresKey(t *testing.T) {
	r := NewDeepgramRecognizer("", "")
	assert.Equal(t, "en-US", r.Language)

	_, err := r.Start(context.Background())
	assert.ErrorIs(t, err, models.ErrRecognitionUnavailable)
}
