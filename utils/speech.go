package utils

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	espeakBaseRate  = 175 // words per minute at rate 1.0
	espeakBasePitch = 50  // espeak pitch at pitch 1.0, range 0-99
)

// ExecSpeaker plays text through espeak-ng (or a compatible command). Speak
// returns once playback has started.
type ExecSpeaker struct {
	Command string
	Voice   string
}

func NewExecSpeaker(command, voice string) *ExecSpeaker {
	if command == "" {
		command = "espeak-ng"
	}
	return &ExecSpeaker{Command: command, Voice: voice}
}

// EspeakVoice turns a BCP-47 language tag such as "en-US" into the espeak-ng
// voice name "en-us".
func EspeakVoice(lang string) string {
	lang = strings.TrimSpace(lang)
	return strings.ToLower(strings.ReplaceAll(lang, "_", "-"))
}

// SpeechArgs maps rate and pitch multipliers (1.0 = normal) to espeak flags.
func (s *ExecSpeaker) SpeechArgs(text string, rate, pitch float64) []string {
	if rate <= 0 {
		rate = 1
	}
	if pitch <= 0 {
		pitch = 1
	}

	wpm := int(espeakBaseRate * rate)
	p := int(espeakBasePitch * pitch)
	if p > 99 {
		p = 99
	}

	args := []string{"-s", strconv.Itoa(wpm), "-p", strconv.Itoa(p)}
	if s.Voice != "" {
		args = append(args, "-v", s.Voice)
	}
	return append(args, "--", text)
}

func (s *ExecSpeaker) Speak(text string, rate, pitch float64) error {
	if text == "" {
		return nil
	}

	cmd := exec.Command(s.Command, s.SpeechArgs(text, rate, pitch)...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start speech synthesis: %w", err)
	}

	go func() {
		if err := cmd.Wait(); err != nil {
			zap.L().Warn("Speech synthesis exited with error", zap.Error(err))
		}
	}()
	return nil
}
