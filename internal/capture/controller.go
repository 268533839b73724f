// Package capture runs one image capture session: select or shoot,
// compress, then accept or reject.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	ErrNothingCaptured = errors.New("capture: nothing captured")
	ErrEmptyCapture    = errors.New("capture: camera returned no data")
	ErrSessionEnded    = errors.New("capture: session ended")
	// ErrDiscarded is delivered for a result rejected or replaced while it
	// was being compressed.
	ErrDiscarded = errors.New("capture: result discarded")
)

// NoticeCaptureFailed is shown when a shot cannot be stored or compressed.
const NoticeCaptureFailed = "could not capture image"

// Notifier surfaces short user-visible notices.
type Notifier interface {
	Notify(msg string)
}

// Result is the outcome of one select or shutter: the compressed file
// path, or an error.
type Result struct {
	Path string
	Err  error
}

// Controller owns at most one raw capture and one compressed image.
type Controller struct {
	log    zerolog.Logger
	comp   *Compressor
	notify Notifier
	mount  int

	mu          sync.Mutex
	orientation int
	rawPath     string
	compressed  string
	gen         int // bumped whenever pending results become stale
	ended       bool
}

// NewController starts a capture session. mount is the camera's mounting
// orientation in degrees.
func NewController(log zerolog.Logger, comp *Compressor, notify Notifier, mount int) *Controller {
	return &Controller{
		log:    log.With().Str("component", "capture").Logger(),
		comp:   comp,
		notify: notify,
		mount:  mount,
	}
}

// SetOrientation records the device orientation in degrees.
func (c *Controller) SetOrientation(deg int) {
	c.mu.Lock()
	c.orientation = deg
	c.mu.Unlock()
}

// SelectExisting compresses an existing image in the background,
// turning it upright by its EXIF orientation. A result still pending
// from an earlier select or shutter becomes stale.
func (c *Controller) SelectExisting(ctx context.Context, src io.Reader) <-chan Result {
	ch := make(chan Result, 1)

	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		ch <- Result{Err: ErrSessionEnded}
		return ch
	}
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go func() {
		data, err := io.ReadAll(src)
		if err != nil {
			ch <- c.install(gen, "", fmt.Errorf("read image: %w", err))
			return
		}
		rotation := ExifRotation(data)
		c.log.Debug().Int("rotation", rotation).Int("bytes", len(data)).Msg("select existing")
		path, err := c.comp.Compress(ctx, bytes.NewReader(data), rotation)
		ch <- c.install(gen, path, err)
	}()
	return ch
}

// Shutter stores the camera bytes, then compresses them with the
// rotation for the current orientation. The raw file belongs to the
// compressing goroutine and is deleted once it finishes, whatever the
// outcome.
func (c *Controller) Shutter(ctx context.Context, data []byte) <-chan Result {
	ch := make(chan Result, 1)

	if len(data) == 0 {
		c.log.Error().Msg("camera device returned an empty capture")
		c.notifyFailure()
		ch <- Result{Err: ErrEmptyCapture}
		return ch
	}

	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		ch <- Result{Err: ErrSessionEnded}
		return ch
	}
	rotation := CaptureRotation(c.orientation, c.mount)
	c.gen++
	gen := c.gen
	raw, err := c.writeRaw(data)
	if err != nil {
		c.mu.Unlock()
		c.log.Error().Err(err).Msg("storing capture failed")
		c.notifyFailure()
		ch <- Result{Err: err}
		return ch
	}
	c.rawPath = raw
	c.mu.Unlock()

	c.log.Debug().Int("rotation", rotation).Str("raw", raw).Msg("shutter")

	go func() {
		path, err := c.compressFile(ctx, raw, rotation)

		c.mu.Lock()
		if c.rawPath == raw {
			c.rawPath = ""
		}
		c.mu.Unlock()
		removeFile(c.log, raw)

		ch <- c.install(gen, path, err)
	}()
	return ch
}

func (c *Controller) compressFile(ctx context.Context, path string, rotation int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()
	return c.comp.Compress(ctx, f, rotation)
}

func (c *Controller) writeRaw(data []byte) (string, error) {
	f, err := createImageFile(c.comp.TempDir, "capture")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write capture: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write capture: %w", err)
	}
	return f.Name(), nil
}

// install makes path the session's compressed image unless the session
// moved on while it was being produced. Stale results are deleted and
// reported as ErrDiscarded, failures included.
func (c *Controller) install(gen int, path string, err error) Result {
	c.mu.Lock()
	if gen != c.gen || c.ended {
		c.mu.Unlock()
		if path != "" {
			removeFile(c.log, path)
		}
		return Result{Err: ErrDiscarded}
	}
	if err != nil {
		c.mu.Unlock()
		c.log.Warn().Err(err).Msg("image compression failed")
		c.notifyFailure()
		return Result{Err: err}
	}
	if c.compressed != "" {
		removeFile(c.log, c.compressed)
	}
	c.compressed = path
	c.mu.Unlock()
	return Result{Path: path}
}

// Reject discards the raw and compressed files; the session stays open.
func (c *Controller) Reject() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discardLocked()
}

// Cancel discards everything and ends the session.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discardLocked()
	c.ended = true
}

// Accept ends the session and hands over the compressed file; the
// caller owns it from now on.
func (c *Controller) Accept() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return "", ErrSessionEnded
	}
	if c.compressed == "" {
		return "", ErrNothingCaptured
	}
	path := c.compressed
	c.compressed = ""
	c.removeRawLocked()
	c.gen++
	c.ended = true
	return path, nil
}

// Compressed returns the current compressed file, if any.
func (c *Controller) Compressed() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compressed
}

func (c *Controller) discardLocked() {
	c.gen++
	c.removeRawLocked()
	if c.compressed != "" {
		removeFile(c.log, c.compressed)
		c.compressed = ""
	}
}

func (c *Controller) removeRawLocked() {
	if c.rawPath != "" {
		removeFile(c.log, c.rawPath)
		c.rawPath = ""
	}
}

func (c *Controller) notifyFailure() {
	if c.notify != nil {
		c.notify.Notify(NoticeCaptureFailed)
	}
}

func removeFile(log zerolog.Logger, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", path).Msg("image file not removed")
	}
}
