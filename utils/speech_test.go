package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpeechArgs(t *testing.T) {
	s := NewExecSpeaker("", "")
	assert.Equal(t, "espeak-ng", s.Command)

	tests := []struct {
		name  string
		rate  float64
		pitch float64
		want  []string
	}{
		{"defaults", 0, 0, []string{"-s", "175", "-p", "50", "--", "hello"}},
		{"slower", 0.9, 1.0, []string{"-s", "157", "-p", "50", "--", "hello"}},
		{"pitch capped", 1.0, 2.5, []string{"-s", "175", "-p", "99", "--", "hello"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.SpeechArgs("hello", tt.rate, tt.pitch))
		})
	}
}

func TestSpeechArgsVoiceAndDashText(t *testing.T) {
	s := NewExecSpeaker("espeak", "en-us")
	args := s.SpeechArgs("-rf /", 1, 1)
	assert.Equal(t, []string{"-s", "175", "-p", "50", "-v", "en-us", "--", "-rf /"}, args)
}

func TestEspeakVoice(t *testing.T) {
	assert.Equal(t, "en-us", EspeakVoice("en-US"))
	assert.Equal(t, "pt-br", EspeakVoice(" pt_BR "))
	assert.Equal(t, "de", EspeakVoice("de"))
	assert.Equal(t, "", EspeakVoice(""))

	cfg := DefaultConfig()
	s := NewExecSpeaker("", EspeakVoice(cfg.SpeechLanguage))
	assert.Contains(t, s.SpeechArgs("hi", 1, 1), "en-us")
}

func TestSpeakEmptyTextIsNoop(t *testing.T) {
	s := NewExecSpeaker("/nonexistent/speaker", "")
	assert.NoError(t, s.Speak("", 1, 1))
	assert.Error(t, s.Speak("hi", 1, 1))
}
