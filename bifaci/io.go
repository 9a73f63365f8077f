package bifaci

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FrameReader reads length-prefixed CBOR frames from a stream
type FrameReader struct {
	reader io.Reader
	limits Limits
}

// NewFrameReader creates a new FrameReader
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		reader: r,
		limits: DefaultLimits(),
	}
}

// SetLimits updates the reader's limits
func (fr *FrameReader) SetLimits(limits Limits) {
	fr.limits = limits.normalize()
}

// ReadFrame reads a single frame from the stream
func (fr *FrameReader) ReadFrame() (*Frame, error) {
	// Read 4-byte length prefix (big-endian)
	var lengthBuf [4]byte
	if _, err := io.ReadFull(fr.reader, lengthBuf[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])

	if int(length) > fr.limits.MaxFrame {
		return nil, &LinkError{
			Type:    LinkErrorTypeFrameTooLarge,
			Message: fmt.Sprintf("frame size %d exceeds max_frame limit %d", length, fr.limits.MaxFrame),
		}
	}
	if int(length) > MaxFrameHardLimit {
		return nil, &LinkError{
			Type:    LinkErrorTypeFrameTooLarge,
			Message: fmt.Sprintf("frame size %d exceeds hard limit %d", length, MaxFrameHardLimit),
		}
	}

	frameBuf := make([]byte, length)
	if _, err := io.ReadFull(fr.reader, frameBuf); err != nil {
		return nil, err
	}

	frame, err := DecodeFrame(frameBuf)
	if err != nil {
		return nil, &LinkError{Type: LinkErrorTypeCbor, Message: err.Error()}
	}
	return frame, nil
}

// FrameWriter writes length-prefixed CBOR frames to a stream. It is not safe
// for concurrent use.
type FrameWriter struct {
	writer io.Writer
	limits Limits
}

// NewFrameWriter creates a new FrameWriter
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{
		writer: w,
		limits: DefaultLimits(),
	}
}

// SetLimits updates the writer's limits
func (fw *FrameWriter) SetLimits(limits Limits) {
	fw.limits = limits.normalize()
}

// WriteFrame encodes and writes a single frame
func (fw *FrameWriter) WriteFrame(frame *Frame) error {
	frameBuf, err := EncodeFrame(frame)
	if err != nil {
		return &LinkError{Type: LinkErrorTypeCbor, Message: err.Error()}
	}
	return fw.WriteEncoded(frameBuf)
}

// WriteEncoded writes an already encoded frame behind its length prefix.
func (fw *FrameWriter) WriteEncoded(frameBuf []byte) error {
	if err := checkFrameSize(len(frameBuf), fw.limits); err != nil {
		return err
	}

	var lengthBuf [4]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(frameBuf)))
	if _, err := fw.writer.Write(lengthBuf[:]); err != nil {
		return err
	}
	if _, err := fw.writer.Write(frameBuf); err != nil {
		return err
	}
	return nil
}

func checkFrameSize(size int, limits Limits) error {
	if size > limits.MaxFrame {
		return &LinkError{
			Type:    LinkErrorTypeFrameTooLarge,
			Message: fmt.Sprintf("encoded frame size %d exceeds max_frame limit %d", size, limits.MaxFrame),
		}
	}
	if size > MaxFrameHardLimit {
		return &LinkError{
			Type:    LinkErrorTypeFrameTooLarge,
			Message: fmt.Sprintf("encoded frame size %d exceeds hard limit %d", size, MaxFrameHardLimit),
		}
	}
	return nil
}

// HandshakeAccept performs the handshake from the accepting side: read the
// peer's HELLO, answer with our own, and return the negotiated limits.
func HandshakeAccept(reader *FrameReader, writer *FrameWriter, local Limits) (Limits, error) {
	local = local.normalize()

	helloFrame, err := reader.ReadFrame()
	if err != nil {
		return Limits{}, &LinkError{Type: LinkErrorTypeHandshake, Message: fmt.Sprintf("failed to read HELLO: %v", err)}
	}
	remote, err := helloLimits(helloFrame)
	if err != nil {
		return Limits{}, err
	}

	if err := writer.WriteFrame(NewHello(local)); err != nil {
		return Limits{}, &LinkError{Type: LinkErrorTypeHandshake, Message: fmt.Sprintf("failed to write HELLO response: %v", err)}
	}

	return NegotiateLimits(local, remote), nil
}

// HandshakeInitiate performs the handshake from the initiating side: send
// our HELLO, read the peer's, and return the negotiated limits.
func HandshakeInitiate(reader *FrameReader, writer *FrameWriter, local Limits) (Limits, error) {
	local = local.normalize()

	if err := writer.WriteFrame(NewHello(local)); err != nil {
		return Limits{}, &LinkError{Type: LinkErrorTypeHandshake, Message: fmt.Sprintf("failed to write HELLO: %v", err)}
	}

	responseFrame, err := reader.ReadFrame()
	if err != nil {
		return Limits{}, &LinkError{Type: LinkErrorTypeHandshake, Message: fmt.Sprintf("failed to read HELLO response: %v", err)}
	}
	remote, err := helloLimits(responseFrame)
	if err != nil {
		return Limits{}, err
	}

	return NegotiateLimits(local, remote), nil
}

func helloLimits(frame *Frame) (Limits, error) {
	if frame.FrameType != FrameTypeHello {
		return Limits{}, &LinkError{
			Type:    LinkErrorTypeHandshake,
			Message: fmt.Sprintf("expected HELLO, got %s", frame.FrameType),
		}
	}
	var remote Limits
	if frame.Meta != nil {
		remote.MaxFrame = extractIntFromMeta(frame.Meta, "max_frame")
	}
	return remote.normalize(), nil
}
