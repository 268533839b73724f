package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

// opusPayloadType is the dynamic payload type browsers use for Opus.
const opusPayloadType = 111

// OggConverter packages a codec stream into an Ogg/Opus file.
type OggConverter struct{}

// Convert reads the codec stream at src and writes an Ogg container to dst.
func (OggConverter) Convert(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open codec stream: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	defer out.Close()

	if err := writeOgg(ctx, in, out); err != nil {
		return err
	}
	return out.Close()
}

// Ext is the container file extension.
func (OggConverter) Ext() string { return ".ogg" }

// MimeType is the container media type.
func (OggConverter) MimeType() string { return MimeOggOpus }

// writeOgg feeds each packet to the pion Ogg writer as an RTP packet.
// Granule positions follow the RTP timestamps, so they advance by one
// frame at the 48kHz Opus clock per packet.
func writeOgg(ctx context.Context, in io.Reader, out io.Writer) error {
	pr, err := NewPacketReader(in)
	if err != nil {
		return err
	}

	// oggwriter closes streams that implement io.Closer; the caller owns out.
	ogg, err := oggwriter.NewWith(writerOnly{out}, pr.Header.SampleRate, pr.Header.Channels)
	if err != nil {
		return fmt.Errorf("ogg writer: %w", err)
	}

	step := uint32(RTPClockRate) * uint32(pr.Header.FrameMs) / 1000
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:     2,
			PayloadType: opusPayloadType,
			SSRC:        1,
		},
	}

	for {
		if err := ctx.Err(); err != nil {
			ogg.Close()
			return err
		}
		payload, err := pr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			ogg.Close()
			return fmt.Errorf("read packet: %w", err)
		}

		pkt.Payload = payload
		if err := ogg.WriteRTP(pkt); err != nil {
			ogg.Close()
			return fmt.Errorf("write ogg page: %w", err)
		}
		pkt.SequenceNumber++
		pkt.Timestamp += step
	}

	if err := ogg.Close(); err != nil {
		return fmt.Errorf("close ogg: %w", err)
	}
	return nil
}

type writerOnly struct{ io.Writer }

// M4AConverter pipes the Ogg rendition through ffmpeg into an M4A file
// for clients that cannot play Ogg.
type M4AConverter struct{}

func (M4AConverter) Convert(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open codec stream: %w", err)
	}
	defer in.Close()

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-f", "ogg",
		"-i", "pipe:0",
		"-c:a", "aac",
		"-b:a", "32k",
		"-f", "ipod",
		"-loglevel", "error",
		"-y",
		dst,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdin: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start: %w", err)
	}

	writeErr := writeOgg(ctx, in, stdin)
	stdin.Close()
	waitErr := cmd.Wait()

	if writeErr != nil {
		return writeErr
	}
	if waitErr != nil {
		return fmt.Errorf("ffmpeg m4a: %w\n%s", waitErr, stderr.String())
	}
	return nil
}

func (M4AConverter) Ext() string { return ".m4a" }

func (M4AConverter) MimeType() string { return MimeM4A }
