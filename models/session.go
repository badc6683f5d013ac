package models

import (
	"time"
)

// CaptureState is the lifecycle state of the screen capture session.
type CaptureState string

const (
	CaptureIdle    CaptureState = "idle"
	CaptureSharing CaptureState = "sharing"
)

// VoiceState is the lifecycle state of voice input.
type VoiceState string

const (
	VoiceIdle      VoiceState = "idle"
	VoiceListening VoiceState = "listening"
)

// Reasons reported when a capture session ends.
const (
	StopReasonUser  = "user"
	StopReasonEnded = "ended"
)

// Stages a query passes through, in order.
const (
	StageCapturing  = "capturing"
	StageAnalyzing  = "analyzing"
	StageGenerating = "generating"
)

// Frame is an encoded still image sampled from the shared screen.
type Frame struct {
	Data       []byte
	MIMEType   string
	Width      int
	Height     int
	Sequence   int
	CapturedAt time.Time
}

func (f *Frame) Empty() bool {
	return f == nil || len(f.Data) == 0
}

// Recognition is the outcome of a single speech recognition attempt.
type Recognition struct {
	Transcript string
	Confidence float64
	Err        error
}

type Answer struct {
	Question   string
	Text       string
	FrameSeq   int
	AnsweredAt time.Time
	Duration   time.Duration
}

// Status is a snapshot of the assistant state.
type Status struct {
	SessionID     string       `json:"session_id"`
	Connected     bool         `json:"connected"`
	CaptureState  CaptureState `json:"capture_state"`
	CaptureCount  int          `json:"capture_count"`
	HasFrame      bool         `json:"has_frame"`
	VoiceState    VoiceState   `json:"voice_state"`
	Processing    bool         `json:"processing"`
	CredentialSet bool         `json:"credential_set"`
	Question      string       `json:"question"`
	Uptime        string       `json:"uptime"`
}
