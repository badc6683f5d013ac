package handlers

import "github.com/Perceptus-Labs/perceptus-screen-assistant/models"

// Speaker plays text back audibly. Speak does not wait for playback to finish.
type Speaker interface {
	Speak(text string, rate, pitch float64) error
}

// ClientSpeaker hands playback to the connected client's speech synthesis.
type ClientSpeaker struct {
	session *AssistantSession
}

func NewClientSpeaker(session *AssistantSession) *ClientSpeaker {
	return &ClientSpeaker{session: session}
}

func (s *ClientSpeaker) Speak(text string, rate, pitch float64) error {
	return s.session.Emit(models.EvtSpeak, models.SpeakPayload{
		Text:  text,
		Rate:  rate,
		Pitch: pitch,
	})
}
