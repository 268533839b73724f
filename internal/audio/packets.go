package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// The codec stream is a flat sequence of length-prefixed Opus packets
// behind a small header:
//
//	"OPKT" | rate u32 | channels u16 | frame ms u16 | (len u16 | packet)*
//
// It exists only between the encode and container stages.
var packetMagic = [4]byte{'O', 'P', 'K', 'T'}

var errBadPacketStream = errors.New("not an opus packet stream")

// StreamHeader describes a codec stream.
type StreamHeader struct {
	SampleRate uint32
	Channels   uint16
	FrameMs    uint16
}

// PacketWriter writes a codec stream.
type PacketWriter struct {
	w *bufio.Writer
}

// NewPacketWriter writes the header and returns a writer for packets.
func NewPacketWriter(w io.Writer, h StreamHeader) (*PacketWriter, error) {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(packetMagic[:]); err != nil {
		return nil, err
	}
	if err := binary.Write(bw, binary.BigEndian, h); err != nil {
		return nil, err
	}
	return &PacketWriter{w: bw}, nil
}

// WritePacket appends one encoded packet.
func (pw *PacketWriter) WritePacket(pkt []byte) error {
	if len(pkt) > 0xFFFF {
		return fmt.Errorf("packet too large: %d bytes", len(pkt))
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(pkt)))
	if _, err := pw.w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := pw.w.Write(pkt)
	return err
}

// Flush flushes buffered packets to the underlying writer.
func (pw *PacketWriter) Flush() error {
	return pw.w.Flush()
}

// PacketReader reads a codec stream.
type PacketReader struct {
	r      *bufio.Reader
	Header StreamHeader
}

// NewPacketReader validates and consumes the stream header.
func NewPacketReader(r io.Reader) (*PacketReader, error) {
	br := bufio.NewReader(r)
	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadPacketStream, err)
	}
	if magic != packetMagic {
		return nil, errBadPacketStream
	}
	pr := &PacketReader{r: br}
	if err := binary.Read(br, binary.BigEndian, &pr.Header); err != nil {
		return nil, fmt.Errorf("read stream header: %w", err)
	}
	return pr, nil
}

// Next returns the next packet, or io.EOF after the last one.
func (pr *PacketReader) Next() ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(pr.r, lenBuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("truncated packet length: %w", err)
		}
		return nil, err
	}
	pkt := make([]byte, binary.BigEndian.Uint16(lenBuf[:]))
	if _, err := io.ReadFull(pr.r, pkt); err != nil {
		return nil, fmt.Errorf("truncated packet: %w", err)
	}
	return pkt, nil
}
