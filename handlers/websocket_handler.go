package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Perceptus-Labs/perceptus-screen-assistant/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	writeWait         = 10 * time.Second
	heartbeatInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow connections from any origin
	},
}

// wsClient is the EventSink for a websocket connection.
type wsClient struct {
	ID     string
	conn   *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex
}

func (c *wsClient) Send(msgType string, data interface{}) error {
	msg := models.WebSocketMessage{
		Type:      msgType,
		Timestamp: time.Now(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal %s event: %w", msgType, err)
		}
		msg.Data = raw
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

// HandleAssistantSession attaches a websocket client to the assistant and
// serves its commands until it disconnects.
func HandleAssistantSession(w http.ResponseWriter, r *http.Request, session *AssistantSession) {
	if session.HasClient() {
		http.Error(w, ErrClientAttached.Error(), http.StatusConflict)
		return
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		session.Logger.Error("Failed to upgrade to websocket", zap.Error(err))
		return
	}
	defer conn.Close()

	clientID := uuid.New().String()
	client := &wsClient{
		ID:     clientID,
		conn:   conn,
		logger: session.Logger.With(zap.String("connection_id", clientID)),
	}

	if err := session.Attach(client); err != nil {
		client.logger.Warn("Refusing second client", zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(writeWait))
		return
	}
	defer session.Detach(client)

	client.logger.Info("Client connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go session.runHeartbeat(ctx, client, heartbeatInterval)

	session.sendWebSocketMessage(models.EvtStatus, session.Status())
	session.listenWebsocketMessages(client)

	client.logger.Info("Client disconnected")
}

func (s *AssistantSession) listenWebsocketMessages(client *wsClient) {
	for {
		var msg models.WebSocketMessage
		err := client.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				client.logger.Error("WebSocket error", zap.Error(err))
			}
			return
		}

		s.Touch()
		s.handleMessage(msg)
	}
}

// handleMessage routes one client command. Commands that wait on an external
// system run in their own goroutine so the read loop keeps serving replies
// such as capture_granted.
func (s *AssistantSession) handleMessage(msg models.WebSocketMessage) {
	switch msg.Type {
	case models.CmdStartCapture:
		go s.Capture.Start(context.Background())

	case models.CmdStopCapture:
		s.Capture.Stop()

	case models.CmdCaptureGranted:
		if s.ClientDisplay != nil {
			s.ClientDisplay.Grant()
		}

	case models.CmdCaptureDenied:
		if s.ClientDisplay != nil {
			s.ClientDisplay.Deny(decodeText(msg.Data))
		}

	case models.CmdCaptureEnded:
		if s.ClientDisplay != nil {
			s.ClientDisplay.End()
		}

	case models.CmdVideoFrame:
		s.handleVideoFrame(msg.Data)

	case models.CmdStartVoice:
		go s.Voice.Start(context.Background())

	case models.CmdStopVoice:
		s.Voice.Stop()

	case models.CmdAudioData:
		s.handleAudioData(msg.Data)

	case models.CmdQuestion:
		s.SetQuestion(decodeText(msg.Data))
		s.sendWebSocketMessage(models.EvtQuestionSet, map[string]string{
			"question": s.Question(),
		})

	case models.CmdAsk:
		// In-flight queries run to completion even if the client leaves
		go s.Query.Dispatch(context.Background())

	case models.CmdSpeak:
		s.handleSpeak(msg.Data)

	case models.CmdSetCredential:
		var payload models.CredentialPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			s.sendWebSocketMessage(models.EvtCredentialFailed, map[string]string{
				"error": "invalid credential payload",
			})
			return
		}
		go s.Credentials.Submit(context.Background(), payload.APIKey)

	case models.CmdClearCredential:
		s.Credentials.Clear(context.Background())

	case models.CmdStatus:
		s.sendWebSocketMessage(models.EvtStatus, s.Status())

	case models.CmdPing:
		s.sendWebSocketMessage(models.EvtPong, nil)

	default:
		s.Logger.Warn("Unknown message type", zap.String("type", msg.Type))
		s.sendWebSocketMessage(models.EvtError, map[string]string{
			"error": fmt.Sprintf("unknown message type %q", msg.Type),
		})
	}
}

func (s *AssistantSession) handleVideoFrame(data json.RawMessage) {
	if s.ClientDisplay == nil {
		s.Logger.Debug("Ignoring client frame, capture source is local")
		return
	}

	frame, err := decodeMedia(data)
	if err != nil {
		s.Logger.Warn("Failed to decode video_frame", zap.Error(err))
		return
	}
	if err := s.ClientDisplay.PushFrame(frame); err != nil {
		s.Logger.Debug("Dropping client frame", zap.Error(err))
	}
}

func (s *AssistantSession) handleAudioData(data json.RawMessage) {
	audio, err := decodeMedia(data)
	if err != nil {
		s.Logger.Warn("Failed to decode audio_data", zap.Error(err))
		return
	}
	if err := s.Voice.WriteAudio(audio); err != nil {
		s.Logger.Error("Failed to process audio data", zap.Error(err))
	}
}

func (s *AssistantSession) handleSpeak(data json.RawMessage) {
	var payload models.SpeakPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			s.Logger.Warn("Invalid speak payload", zap.Error(err))
		}
	}

	text := payload.Text
	if text == "" {
		if last := s.Query.LastAnswer(); last != nil {
			text = last.Text
		}
	}

	if err := s.Speak(text, payload.Rate, payload.Pitch); err != nil {
		s.sendWebSocketMessage(models.EvtError, map[string]string{
			"error": err.Error(),
		})
	}
}

func (s *AssistantSession) runHeartbeat(ctx context.Context, client *wsClient, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			client.logger.Debug("Session heartbeat")
			if err := client.Send(models.EvtHeartbeat, map[string]interface{}{
				"session_id": s.ID,
				"uptime":     time.Since(s.StartTime).String(),
			}); err != nil {
				client.logger.Debug("Heartbeat failed", zap.Error(err))
			}
		}
	}
}

// decodeText accepts either {"text": "..."} or a bare JSON string.
func decodeText(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var payload models.TextPayload
	if err := json.Unmarshal(data, &payload); err == nil {
		return payload.Text
	}
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		return text
	}
	return ""
}

// decodeMedia extracts base64 media from {"data": "..."}; data URLs are
// accepted.
func decodeMedia(data json.RawMessage) ([]byte, error) {
	var payload models.MediaPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("invalid media payload: %w", err)
	}

	encoded := payload.Data
	if strings.HasPrefix(encoded, "data:") {
		if i := strings.Index(encoded, ","); i >= 0 {
			encoded = encoded[i+1:]
		}
	}
	if encoded == "" {
		return nil, fmt.Errorf("empty media payload")
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 media: %w", err)
	}
	return decoded, nil
}

// HandleStatus reports the assistant state as JSON.
func HandleStatus(w http.ResponseWriter, r *http.Request, session *AssistantSession) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(session.Status())
}

// HandleHealthCheck reports whether the credential store is reachable.
func HandleHealthCheck(w http.ResponseWriter, r *http.Request, redisClient *redis.Client) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := redisClient.Ping(ctx).Err(); err != nil {
		zap.L().Warn("Health check failed", zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}

	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
	})
}
