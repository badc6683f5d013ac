package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Perceptus-Labs/perceptus-screen-assistant/models"
	"github.com/Perceptus-Labs/perceptus-screen-assistant/utils"
	"github.com/stretchr/testify/require"
)

type event struct {
	Type string
	Data json.RawMessage
}

func (e event) decode(t *testing.T, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(e.Data, v))
}

// recordingSink captures every event sent to the client.
type recordingSink struct {
	mu     sync.Mutex
	events []event
}

func (s *recordingSink) Send(msgType string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.events = append(s.events, event{Type: msgType, Data: raw})
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) find(msgType string) (event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.Type == msgType {
			return ev, true
		}
	}
	return event{}, false
}

func (s *recordingSink) count(msgType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Type == msgType {
			n++
		}
	}
	return n
}

func (s *recordingSink) waitFor(t *testing.T, msgType string) event {
	t.Helper()
	var found event
	require.Eventually(t, func() bool {
		ev, ok := s.find(msgType)
		if ok {
			found = ev
		}
		return ok
	}, 2*time.Second, 5*time.Millisecond, "no %s event", msgType)
	return found
}

func newTestSession(t *testing.T, cfg SessionConfig) (*AssistantSession, *recordingSink) {
	t.Helper()
	session := NewAssistantSession(cfg)
	sink := &recordingSink{}
	require.NoError(t, session.Attach(sink))
	t.Cleanup(session.Close)
	return session, sink
}

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 30, G: 90, B: 160, A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(w, h)))
	return buf.Bytes()
}

type fakeStream struct {
	img     image.Image
	done    chan struct{}
	endOnce sync.Once
	closed  atomic.Bool
}

func newFakeStream(img image.Image) *fakeStream {
	return &fakeStream{img: img, done: make(chan struct{})}
}

func (s *fakeStream) Image() (image.Image, error) {
	return s.img, nil
}

func (s *fakeStream) Done() <-chan struct{} {
	return s.done
}

func (s *fakeStream) end() {
	s.endOnce.Do(func() { close(s.done) })
}

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	s.end()
	return nil
}

type fakeDisplay struct {
	stream *fakeStream
	err    error
	block  bool
	opens  atomic.Int32
}

func (d *fakeDisplay) Open(ctx context.Context) (utils.DisplayStream, error) {
	d.opens.Add(1)
	if d.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

type fakeAnalyzer struct {
	text    string
	err     error
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32

	mu       sync.Mutex
	question string
}

func (a *fakeAnalyzer) AnalyzeScreen(ctx context.Context, question string, frame *models.Frame) (string, error) {
	a.calls.Add(1)
	a.mu.Lock()
	a.question = question
	a.mu.Unlock()

	if a.entered != nil {
		a.entered <- struct{}{}
	}
	if a.release != nil {
		<-a.release
	}
	return a.text, a.err
}

func (a *fakeAnalyzer) lastQuestion() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.question
}

type spoken struct {
	Text  string
	Rate  float64
	Pitch float64
}

type fakeSpeaker struct {
	mu    sync.Mutex
	calls []spoken
}

func (s *fakeSpeaker) Speak(text string, rate, pitch float64) error {
	s.mu.Lock()
	s.calls = append(s.calls, spoken{Text: text, Rate: rate, Pitch: pitch})
	s.mu.Unlock()
	return nil
}

func (s *fakeSpeaker) history() []spoken {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]spoken(nil), s.calls...)
}

type memoryStore struct {
	mu    sync.Mutex
	value string
	err   error
}

func (m *memoryStore) Load(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, m.err
}

func (m *memoryStore) Save(ctx context.Context, credential string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.value = credential
	return nil
}

func (m *memoryStore) Delete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.value = ""
	return nil
}

func (m *memoryStore) stored() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value
}

type fakeValidator struct {
	err   error
	calls atomic.Int32
}

func (v *fakeValidator) ValidateKey(ctx context.Context, apiKey string) error {
	v.calls.Add(1)
	return v.err
}

type fakeAttempt struct {
	result  chan models.Recognition
	stopped atomic.Bool

	mu      sync.Mutex
	written [][]byte
}

func (a *fakeAttempt) Write(audio []byte) error {
	a.mu.Lock()
	a.written = append(a.written, audio)
	a.mu.Unlock()
	return nil
}

func (a *fakeAttempt) Result() <-chan models.Recognition {
	return a.result
}

func (a *fakeAttempt) Stop() {
	a.stopped.Store(true)
}

func (a *fakeAttempt) writes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.written)
}

type fakeRecognizer struct {
	err    error
	starts atomic.Int32

	mu      sync.Mutex
	attempt *fakeAttempt
}

func (r *fakeRecognizer) Start(ctx context.Context) (utils.RecognitionAttempt, error) {
	r.starts.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	attempt := &fakeAttempt{result: make(chan models.Recognition, 1)}
	r.mu.Lock()
	r.attempt = attempt
	r.mu.Unlock()
	return attempt, nil
}

func (r *fakeRecognizer) current() *fakeAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt
}
