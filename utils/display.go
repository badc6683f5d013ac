package utils

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/Perceptus-Labs/perceptus-screen-assistant/models"
	"go.uber.org/zap"
)

// DisplayStream is a live display surface granted by the user.
type DisplayStream interface {
	// Image returns the current contents of the surface, or nil when no frame
	// has arrived yet.
	Image() (image.Image, error)
	// Done is closed when the stream ends out-of-band.
	Done() <-chan struct{}
	// Close releases the stream. It is safe to call more than once.
	Close() error
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

const (
	maxJPEGFrameSize = 32 << 20
	stderrTailSize   = 4 << 10
)

// FFmpegDisplay grabs the local screen with ffmpeg, which emits an MJPEG stream
// on stdout.
type FFmpegDisplay struct {
	Command   string
	Display   string
	FrameRate int
}

func NewFFmpegDisplay(display string) *FFmpegDisplay {
	return &FFmpegDisplay{
		Command:   "ffmpeg",
		Display:   display,
		FrameRate: 1,
	}
}

func (d *FFmpegDisplay) args() ([]string, error) {
	rate := strconv.Itoa(d.FrameRate)
	var input []string

	// Different grabbers based on operating system
	switch runtime.GOOS {
	case "linux":
		display := d.Display
		if display == "" {
			display = os.Getenv("DISPLAY")
		}
		if display == "" {
			display = ":0.0"
		}
		input = []string{"-f", "x11grab", "-framerate", rate, "-i", display}
	case "darwin":
		display := d.Display
		if display == "" {
			display = "Capture screen 0"
		}
		input = []string{"-f", "avfoundation", "-capture_cursor", "1", "-framerate", rate, "-i", display + ":none"}
	case "windows":
		display := d.Display
		if display == "" {
			display = "desktop"
		}
		input = []string{"-f", "gdigrab", "-framerate", rate, "-i", display}
	default:
		return nil, fmt.Errorf("%w: unsupported operating system: %s", models.ErrCaptureUnavailable, runtime.GOOS)
	}

	args := append([]string{"-hide_banner", "-loglevel", "error"}, input...)
	args = append(args,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "2", // High quality JPEG
		"-")
	return args, nil
}

// Open starts the grabber and waits for its first frame, the grabber exiting,
// or ctx.
func (d *FFmpegDisplay) Open(ctx context.Context) (DisplayStream, error) {
	args, err := d.args()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(d.Command, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}
	stream := &FFmpegStream{
		cmd:   cmd,
		done:  make(chan struct{}),
		first: make(chan struct{}),
	}
	cmd.Stderr = &stream.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrCaptureUnavailable, err)
	}

	zap.L().Debug("Started screen grabber", zap.String("command", d.Command), zap.Strings("args", args))
	go stream.readFrames(stdout)

	select {
	case <-stream.first:
		return stream, nil
	case <-stream.done:
		return nil, classifyGrabberExit(stream.stderr.String())
	case <-ctx.Done():
		stream.Close()
		return nil, ctx.Err()
	}
}

func classifyGrabberExit(stderr string) error {
	msg := strings.TrimSpace(stderr)
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "permission") || strings.Contains(lower, "not authorized") {
		return fmt.Errorf("%w: %s", models.ErrCapturePermission, msg)
	}
	if msg == "" {
		msg = "screen grabber exited"
	}
	return fmt.Errorf("%w: %s", models.ErrCaptureUnavailable, msg)
}

type FFmpegStream struct {
	cmd *exec.Cmd

	mu     sync.Mutex
	latest []byte

	first     chan struct{}
	firstOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
	stderr    tailBuffer
}

func (s *FFmpegStream) readFrames(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 1<<20), maxJPEGFrameSize)
	scanner.Split(SplitJPEG)

	for scanner.Scan() {
		frame := append([]byte(nil), scanner.Bytes()...)
		s.mu.Lock()
		s.latest = frame
		s.mu.Unlock()
		s.firstOnce.Do(func() { close(s.first) })
	}
	if err := scanner.Err(); err != nil {
		zap.L().Warn("Screen grabber stream read failed", zap.Error(err))
		// unblock a grabber stuck writing to the pipe
		_ = s.cmd.Process.Kill()
	}

	err := s.cmd.Wait()
	zap.L().Debug("Screen grabber exited", zap.Error(err))
	close(s.done)
}

func (s *FFmpegStream) Image() (image.Image, error) {
	s.mu.Lock()
	data := s.latest
	s.mu.Unlock()
	if data == nil {
		return nil, nil
	}
	return DecodeImage(data)
}

func (s *FFmpegStream) Done() <-chan struct{} {
	return s.done
}

func (s *FFmpegStream) Close() error {
	s.closeOnce.Do(func() {
		if s.cmd.Process != nil {
			if err := s.cmd.Process.Kill(); err != nil {
				zap.L().Debug("Failed to kill screen grabber", zap.Error(err))
			}
		}
	})
	<-s.done
	return nil
}

// SplitJPEG is a bufio.SplitFunc yielding complete JPEG images from a
// concatenated MJPEG stream. Bytes outside SOI..EOI are dropped.
func SplitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// keep a trailing 0xFF that may begin a marker
		if len(data) > 1 {
			return len(data) - 1, nil, nil
		}
		return 0, nil, nil
	}

	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}

	stop := start + len(jpegSOI) + end + len(jpegEOI)
	return stop, data[start:stop], nil
}

// tailBuffer keeps the last stderrTailSize bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > stderrTailSize {
		t.buf = t.buf[len(t.buf)-stderrTailSize:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
