package models

import (
	"encoding/json"
	"time"
)

// Commands accepted from the websocket client.
const (
	CmdStartCapture    = "start_capture"
	CmdStopCapture     = "stop_capture"
	CmdVideoFrame      = "video_frame"
	CmdCaptureGranted  = "capture_granted"
	CmdCaptureDenied   = "capture_denied"
	CmdCaptureEnded    = "capture_ended"
	CmdStartVoice      = "start_voice"
	CmdStopVoice       = "stop_voice"
	CmdAudioData       = "audio_data"
	CmdQuestion        = "question"
	CmdAsk             = "ask"
	CmdSpeak           = "speak"
	CmdSetCredential   = "set_credential"
	CmdClearCredential = "clear_credential"
	CmdStatus          = "status"
	CmdPing            = "ping"
)

// Events sent to the websocket client.
const (
	EvtCaptureRequest    = "capture_request"
	EvtCaptureStarted    = "capture_started"
	EvtCaptureFailed     = "capture_failed"
	EvtCaptureStopped    = "capture_stopped"
	EvtFrameCaptured     = "frame_captured"
	EvtVoiceStarted      = "voice_started"
	EvtVoiceResult       = "voice_result"
	EvtVoiceError        = "voice_error"
	EvtVoiceStopped      = "voice_stopped"
	EvtQuestionSet       = "question_set"
	EvtQueryStarted      = "query_started"
	EvtQueryStage        = "query_stage"
	EvtAnswer            = "answer"
	EvtQueryFailed       = "query_failed"
	EvtSpeak             = "speak"
	EvtCredentialSaved   = "credential_saved"
	EvtCredentialFailed  = "credential_failed"
	EvtCredentialCleared = "credential_cleared"
	EvtStatus            = "status"
	EvtPong              = "pong"
	EvtHeartbeat         = "heartbeat"
	EvtError             = "error"
)

// WebSocketMessage is the envelope for both commands and events.
type WebSocketMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type TextPayload struct {
	Text string `json:"text"`
}

// MediaPayload carries base64 media from the client (frames and audio).
type MediaPayload struct {
	Data     string `json:"data"`
	MIMEType string `json:"mime_type,omitempty"`
}

type CredentialPayload struct {
	APIKey string `json:"api_key"`
}

type SpeakPayload struct {
	Text  string  `json:"text"`
	Rate  float64 `json:"rate"`
	Pitch float64 `json:"pitch"`
}
