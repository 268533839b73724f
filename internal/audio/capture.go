package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FFmpegDevice records from a microphone through ffmpeg.
// InputFormat/Input are ffmpeg's -f and -i, e.g. "pulse"/"default" on
// Linux or "avfoundation"/":default" on macOS.
type FFmpegDevice struct {
	InputFormat string
	Input       string
}

func (d *FFmpegDevice) CheckFFmpeg() error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found in PATH")
	}
	return nil
}

// Open prepares a capture at sampleRate.
func (d *FFmpegDevice) Open(sampleRate int) (*FFmpegCapture, error) {
	if err := d.CheckFFmpeg(); err != nil {
		return nil, err
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	return &FFmpegCapture{device: d, sampleRate: sampleRate}, nil
}

// captureStartTimeout bounds the wait for the first PCM bytes.
const captureStartTimeout = 3 * time.Second

// FFmpegCapture is one mic capture process.
type FFmpegCapture struct {
	device     *FFmpegDevice
	sampleRate int

	mu      sync.Mutex
	cmd     *exec.Cmd
	stderr  *bytes.Buffer
	done    chan struct{}
	copyErr error // set before done closes
}

// Start launches ffmpeg and streams s16le mono PCM into w until Stop.
// It returns once the first audio arrives; a device that cannot be
// opened makes ffmpeg exit early, which is reported as an error.
func (c *FFmpegCapture) Start(w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil {
		return errors.New("capture already started")
	}

	cmd := exec.Command("ffmpeg",
		"-f", c.device.InputFormat,
		"-i", c.device.Input,
		"-ac", "1",
		"-ar", strconv.Itoa(c.sampleRate),
		"-f", "s16le",
		"-loglevel", "error",
		"pipe:1",
	)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start: %w", err)
	}

	first := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 32*1024)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				first <- nil
				_, c.copyErr = io.Copy(w, io.MultiReader(bytes.NewReader(buf[:n]), stdout))
				return
			}
			if err != nil {
				first <- err
				return
			}
		}
	}()

	select {
	case err := <-first:
		if err == nil {
			c.cmd = cmd
			c.stderr = stderr
			c.done = done
			return nil
		}
		<-done
		werr := cmd.Wait()
		return fmt.Errorf("ffmpeg exited before capturing audio: %v%s", werr, detail(stderr))
	case <-time.After(captureStartTimeout):
		_ = cmd.Process.Kill()
		<-done
		_ = cmd.Wait()
		return fmt.Errorf("ffmpeg produced no audio within %s%s", captureStartTimeout, detail(stderr))
	}
}

// Stop asks ffmpeg to finish and waits until no more data reaches the
// writer. A process that already ended by itself is an error.
func (c *FFmpegCapture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd == nil {
		return nil
	}

	exited := false
	select {
	case <-c.done:
		exited = c.copyErr == nil
	default:
	}

	_ = c.cmd.Process.Signal(os.Interrupt)
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		_ = c.cmd.Process.Kill()
		<-c.done
	}

	err := c.cmd.Wait()
	c.cmd = nil
	if exited {
		return fmt.Errorf("ffmpeg exited during capture: %v%s", err, detail(c.stderr))
	}
	if c.copyErr != nil {
		return fmt.Errorf("write capture: %w", c.copyErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// ffmpeg exits non-zero on SIGINT
		return nil
	}
	return err
}

// Release kills a capture that was never stopped.
func (c *FFmpegCapture) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd == nil {
		return
	}
	_ = c.cmd.Process.Kill()
	<-c.done
	_ = c.cmd.Wait()
	c.cmd = nil
}

func detail(stderr *bytes.Buffer) string {
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return ": " + msg
	}
	return ""
}
