package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Perceptus-Labs/perceptus-screen-assistant/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWSServer(t *testing.T, session *AssistantSession) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandleAssistantSession(w, r, session)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendCommand(t *testing.T, conn *websocket.Conn, msgType string, data interface{}) {
	t.Helper()
	msg := models.WebSocketMessage{Type: msgType, Timestamp: time.Now()}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		msg.Data = raw
	}
	require.NoError(t, conn.WriteJSON(msg))
}

// readEvent reads until an event of msgType arrives, skipping others.
func readEvent(t *testing.T, conn *websocket.Conn, msgType string) models.WebSocketMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg models.WebSocketMessage
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", msgType)
		if msg.Type == msgType {
			return msg
		}
	}
}

func newWSSession(t *testing.T, validator *fakeValidator) *AssistantSession {
	t.Helper()
	session := NewAssistantSession(SessionConfig{
		CaptureInterval: testInterval,
		Credentials:     &memoryStore{},
		Validator:       validator,
		NewAnalyzer:     func(apiKey string) ScreenAnalyzer { return &fakeAnalyzer{text: "ok"} },
	})
	t.Cleanup(session.Close)
	return session
}

func TestWebSocketPingAndQuestion(t *testing.T) {
	session := newWSSession(t, &fakeValidator{})
	conn := dialWS(t, newWSServer(t, session))

	status := readEvent(t, conn, models.EvtStatus)
	var snapshot models.Status
	require.NoError(t, json.Unmarshal(status.Data, &snapshot))
	assert.Equal(t, session.ID, snapshot.SessionID)
	assert.True(t, snapshot.Connected)
	assert.Equal(t, models.CaptureIdle, snapshot.CaptureState)

	sendCommand(t, conn, models.CmdPing, nil)
	readEvent(t, conn, models.EvtPong)

	sendCommand(t, conn, models.CmdQuestion, models.TextPayload{Text: "what is on screen"})
	evt := readEvent(t, conn, models.EvtQuestionSet)
	assert.JSONEq(t, `{"question":"what is on screen"}`, string(evt.Data))
	assert.Equal(t, "what is on screen", session.Question())

	sendCommand(t, conn, "dance", nil)
	readEvent(t, conn, models.EvtError)
}

func TestWebSocketSecondClientRejected(t *testing.T) {
	session := newWSSession(t, &fakeValidator{})
	url := newWSServer(t, session)

	first := dialWS(t, url)
	readEvent(t, first, models.EvtStatus)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	first.Close()
	require.Eventually(t, func() bool { return !session.HasClient() }, 2*time.Second, 5*time.Millisecond)

	second := dialWS(t, url)
	readEvent(t, second, models.EvtStatus)
}

func TestWebSocketCredentialFormatRejected(t *testing.T) {
	validator := &fakeValidator{}
	session := newWSSession(t, validator)
	conn := dialWS(t, newWSServer(t, session))

	sendCommand(t, conn, models.CmdSetCredential, models.CredentialPayload{APIKey: "badkey"})
	evt := readEvent(t, conn, models.EvtCredentialFailed)

	var failed map[string]string
	require.NoError(t, json.Unmarshal(evt.Data, &failed))
	assert.Equal(t, models.ErrCredentialFormat.Error(), failed["error"])
	assert.Zero(t, validator.calls.Load())

	sendCommand(t, conn, models.CmdSetCredential, models.CredentialPayload{APIKey: "AIzaFine"})
	readEvent(t, conn, models.EvtCredentialSaved)
	assert.True(t, session.Credentials.Configured())

	sendCommand(t, conn, models.CmdClearCredential, nil)
	readEvent(t, conn, models.EvtCredentialCleared)
	assert.False(t, session.Credentials.Configured())
}

func TestWebSocketClientCaptureAndAsk(t *testing.T) {
	session := newWSSession(t, &fakeValidator{})
	session.Query.SetAnalyzer(&fakeAnalyzer{text: "A terminal window."})
	conn := dialWS(t, newWSServer(t, session))

	sendCommand(t, conn, models.CmdStartCapture, nil)
	readEvent(t, conn, models.EvtCaptureRequest)
	sendCommand(t, conn, models.CmdCaptureGranted, nil)
	readEvent(t, conn, models.EvtCaptureStarted)

	frame := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t, 12, 12))
	sendCommand(t, conn, models.CmdVideoFrame, models.MediaPayload{Data: frame, MIMEType: "image/png"})
	readEvent(t, conn, models.EvtFrameCaptured)

	sendCommand(t, conn, models.CmdQuestion, models.TextPayload{Text: "what app is this"})
	sendCommand(t, conn, models.CmdAsk, nil)
	answer := readEvent(t, conn, models.EvtAnswer)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(answer.Data, &got))
	assert.Equal(t, "A terminal window.", got["text"])
	assert.Equal(t, "what app is this", got["question"])

	sendCommand(t, conn, models.CmdStopCapture, nil)
	stopped := readEvent(t, conn, models.EvtCaptureStopped)
	assert.JSONEq(t, `{"reason":"user"}`, string(stopped.Data))
	assert.Nil(t, session.Capture.LatestFrame())
}

func TestWebSocketDisconnectEndsClientCapture(t *testing.T) {
	session := newWSSession(t, &fakeValidator{})
	conn := dialWS(t, newWSServer(t, session))

	sendCommand(t, conn, models.CmdStartCapture, nil)
	readEvent(t, conn, models.EvtCaptureRequest)
	sendCommand(t, conn, models.CmdCaptureGranted, nil)
	readEvent(t, conn, models.EvtCaptureStarted)

	conn.Close()
	require.Eventually(t, func() bool {
		return !session.HasClient() && session.Capture.State() == models.CaptureIdle
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDecodeMedia(t *testing.T) {
	raw, _ := json.Marshal(models.MediaPayload{Data: base64.StdEncoding.EncodeToString([]byte("pcm"))})
	got, err := decodeMedia(raw)
	require.NoError(t, err)
	assert.Equal(t, []byte("pcm"), got)

	_, err = decodeMedia(json.RawMessage(`{"data":""}`))
	assert.Error(t, err)

	_, err = decodeMedia(json.RawMessage(`{"data":"***"}`))
	assert.Error(t, err)
}

func TestDecodeText(t *testing.T) {
	assert.Equal(t, "hi", decodeText(json.RawMessage(`{"text":"hi"}`)))
	assert.Equal(t, "hi", decodeText(json.RawMessage(`"hi"`)))
	assert.Equal(t, "", decodeText(nil))
}

func TestHandleStatus(t *testing.T) {
	session := newWSSession(t, &fakeValidator{})
	session.SetQuestion("where is the save button")

	rec := httptest.NewRecorder()
	HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil), session)
	require.Equal(t, http.StatusOK, rec.Code)

	var status models.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, session.ID, status.SessionID)
	assert.False(t, status.Connected)
	assert.Equal(t, "where is the save button", status.Question)

	rec = httptest.NewRecorder()
	HandleStatus(rec, httptest.NewRequest(http.MethodPost, "/status", nil), session)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleHealthCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	rec := httptest.NewRecorder()
	HandleHealthCheck(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil), client)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	mr.Close()
	rec = httptest.NewRecorder()
	HandleHealthCheck(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil), client)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
