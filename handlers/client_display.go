package handlers

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/Perceptus-Labs/perceptus-screen-assistant/models"
	"github.com/Perceptus-Labs/perceptus-screen-assistant/utils"
	"go.uber.org/zap"
)

var ErrNoActiveStream = errors.New("no active client display stream")

// ClientDisplay is a display source backed by the connected client: the client
// answers the permission prompt and pushes frames of the surface it shares.
type ClientDisplay struct {
	session *AssistantSession

	mu      sync.Mutex
	pending chan error
	stream  *clientStream
}

func NewClientDisplay(session *AssistantSession) *ClientDisplay {
	return &ClientDisplay{session: session}
}

// Open asks the client to share its screen and waits for the answer.
func (d *ClientDisplay) Open(ctx context.Context) (utils.DisplayStream, error) {
	reply := make(chan error, 1)

	d.mu.Lock()
	if d.pending != nil {
		d.mu.Unlock()
		return nil, models.ErrAlreadySharing
	}
	d.pending = reply
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		if d.pending == reply {
			d.pending = nil
		}
		d.mu.Unlock()
	}()

	if err := d.session.Emit(models.EvtCaptureRequest, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrCaptureUnavailable, err)
	}

	select {
	case err := <-reply:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	stream := &clientStream{owner: d, done: make(chan struct{})}

	d.mu.Lock()
	old := d.stream
	d.stream = stream
	d.mu.Unlock()

	if old != nil {
		old.end()
	}
	return stream, nil
}

func (d *ClientDisplay) answer(err error) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return false
	}
	select {
	case d.pending <- err:
		return true
	default:
		return false
	}
}

// Grant answers a pending permission prompt positively.
func (d *ClientDisplay) Grant() {
	if !d.answer(nil) {
		d.session.Logger.Debug("Ignoring capture grant without a pending request")
	}
}

// Deny answers a pending permission prompt negatively.
func (d *ClientDisplay) Deny(reason string) {
	if reason == "" {
		reason = "please allow screen sharing permissions"
	}
	if !d.answer(fmt.Errorf("%w: %s", models.ErrCapturePermission, reason)) {
		d.session.Logger.Debug("Ignoring capture denial without a pending request")
	}
}

// PushFrame replaces the surface contents with an encoded still from the client.
func (d *ClientDisplay) PushFrame(data []byte) error {
	d.mu.Lock()
	stream := d.stream
	d.mu.Unlock()

	if stream == nil {
		return ErrNoActiveStream
	}
	stream.setFrame(data)
	return nil
}

// End reports that the client stopped sharing on its own.
func (d *ClientDisplay) End() {
	d.mu.Lock()
	stream := d.stream
	d.stream = nil
	d.mu.Unlock()

	if stream != nil {
		stream.end()
	}
}

// Disconnect fails a pending prompt and ends the stream.
func (d *ClientDisplay) Disconnect() {
	d.answer(fmt.Errorf("%w: client disconnected", models.ErrCaptureUnavailable))
	d.End()
}

func (d *ClientDisplay) release(s *clientStream) {
	d.mu.Lock()
	if d.stream == s {
		d.stream = nil
	}
	d.mu.Unlock()
}

type clientStream struct {
	owner *ClientDisplay

	mu     sync.Mutex
	latest []byte

	done    chan struct{}
	endOnce sync.Once
}

func (s *clientStream) setFrame(data []byte) {
	s.mu.Lock()
	s.latest = data
	s.mu.Unlock()
}

func (s *clientStream) Image() (image.Image, error) {
	s.mu.Lock()
	data := s.latest
	s.mu.Unlock()

	if data == nil {
		return nil, nil
	}
	img, err := utils.DecodeImage(data)
	if err != nil {
		zap.L().Debug("Client pushed an undecodable frame", zap.Error(err))
		return nil, err
	}
	return img, nil
}

func (s *clientStream) Done() <-chan struct{} {
	return s.done
}

func (s *clientStream) end() {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.latest = nil
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *clientStream) Close() error {
	s.end()
	s.owner.release(s)
	return nil
}
