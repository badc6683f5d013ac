package handlers

import (
	"context"
	"strings"
	"sync"

	"github.com/Perceptus-Labs/perceptus-screen-assistant/models"
	"go.uber.org/zap"
)

// CredentialPrefix is the fixed prefix of Google API keys.
const CredentialPrefix = "AIza"

// CredentialStore persists the active credential.
type CredentialStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, credential string) error
	Delete(ctx context.Context) error
}

// KeyValidator checks a credential against the inference endpoint.
type KeyValidator interface {
	ValidateKey(ctx context.Context, apiKey string) error
}

type CredentialHandler struct {
	session   *AssistantSession
	store     CredentialStore
	validator KeyValidator
	onChange  func(apiKey string)

	mu     sync.RWMutex
	active string
}

func NewCredentialHandler(session *AssistantSession, store CredentialStore, validator KeyValidator, onChange func(apiKey string)) *CredentialHandler {
	return &CredentialHandler{
		session:   session,
		store:     store,
		validator: validator,
		onChange:  onChange,
	}
}

// Load activates the persisted credential, if any.
func (h *CredentialHandler) Load(ctx context.Context) error {
	if h.store == nil {
		return nil
	}
	apiKey, err := h.store.Load(ctx)
	if err != nil {
		return err
	}
	if apiKey == "" {
		h.session.Logger.Info("No stored API key")
		return nil
	}
	h.activate(apiKey)
	h.session.Logger.Info("Loaded stored API key")
	return nil
}

// Submit validates candidate and, when the endpoint accepts it, persists it
// and makes it active. Keys without the expected prefix are rejected before
// any network call.
func (h *CredentialHandler) Submit(ctx context.Context, candidate string) error {
	err := h.submit(ctx, candidate)
	if err != nil {
		h.session.Logger.Warn("API key rejected", zap.Error(err))
		h.session.sendWebSocketMessage(models.EvtCredentialFailed, map[string]string{
			"error": err.Error(),
		})
		return err
	}

	h.session.Logger.Info("API key validated and saved")
	h.session.sendWebSocketMessage(models.EvtCredentialSaved, nil)
	return nil
}

func (h *CredentialHandler) submit(ctx context.Context, candidate string) error {
	apiKey := strings.TrimSpace(candidate)
	if apiKey == "" {
		return models.ErrCredentialRequired
	}
	if !strings.HasPrefix(apiKey, CredentialPrefix) {
		return models.ErrCredentialFormat
	}

	if err := h.validator.ValidateKey(ctx, apiKey); err != nil {
		return err
	}

	if h.store != nil {
		if err := h.store.Save(ctx, apiKey); err != nil {
			return err
		}
	}

	h.activate(apiKey)
	return nil
}

// Clear removes the persisted credential and deactivates it.
func (h *CredentialHandler) Clear(ctx context.Context) error {
	if h.store != nil {
		if err := h.store.Delete(ctx); err != nil {
			h.session.Logger.Error("Failed to remove API key", zap.Error(err))
			h.session.sendWebSocketMessage(models.EvtError, map[string]string{
				"error": err.Error(),
			})
			return err
		}
	}

	h.activate("")
	h.session.Logger.Info("API key removed")
	h.session.sendWebSocketMessage(models.EvtCredentialCleared, nil)
	return nil
}

func (h *CredentialHandler) activate(apiKey string) {
	h.mu.Lock()
	h.active = apiKey
	h.mu.Unlock()

	if h.onChange != nil {
		h.onChange(apiKey)
	}
}

func (h *CredentialHandler) Active() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.active
}

func (h *CredentialHandler) Configured() bool {
	return h.Active() != ""
}
