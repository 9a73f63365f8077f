package bifaci

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/machinefabric/bridge-go/bridge"
)

// TEST521: frames written through FrameWriter come back from FrameReader in order
func TestReaderWriterRoundtrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)
	r := NewFrameReader(&buf)

	first := NewCall(NewMessageIdRandom(), bridge.Call{Bridge: "a", Method: "m", Params: []byte("{}")})
	second := NewResult(first.Id, []byte{0}, bridge.CodeNone, "")
	for _, f := range []*Frame{first, second} {
		if err := w.WriteFrame(f); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}

	got1, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	got2, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got1.FrameType != FrameTypeCall || got2.FrameType != FrameTypeResult {
		t.Errorf("order: %s %s", got1.FrameType, got2.FrameType)
	}
	if !got2.Id.Equals(first.Id) {
		t.Error("result id mismatch")
	}
	if _, err := r.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF, got %v", err)
	}
}

// TEST522: writer refuses frames over the limit
func TestWriterEnforcesMaxFrame(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)
	w.SetLimits(Limits{MaxFrame: 64})

	big := NewResult(NewMessageIdRandom(), make([]byte, 128), bridge.CodeNone, "")
	err := w.WriteFrame(big)
	var le *LinkError
	if !errors.As(err, &le) || le.Type != LinkErrorTypeFrameTooLarge {
		t.Fatalf("expected FrameTooLarge, got %v", err)
	}
	if buf.Len() != 0 {
		t.Error("nothing should be written")
	}
}

// TEST523: reader refuses a length prefix over the limit without reading the body
func TestReaderEnforcesMaxFrame(t *testing.T) {
	var buf bytes.Buffer
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], 1024)
	buf.Write(prefix[:])

	r := NewFrameReader(&buf)
	r.SetLimits(Limits{MaxFrame: 512})
	_, err := r.ReadFrame()
	var le *LinkError
	if !errors.As(err, &le) || le.Type != LinkErrorTypeFrameTooLarge {
		t.Fatalf("expected FrameTooLarge, got %v", err)
	}
}

// TEST524: limits above the hard limit are clamped and zero means default
func TestLimitsNormalize(t *testing.T) {
	if got := (Limits{}).normalize().MaxFrame; got != DefaultMaxFrame {
		t.Errorf("zero: %d", got)
	}
	if got := (Limits{MaxFrame: MaxFrameHardLimit * 2}).normalize().MaxFrame; got != MaxFrameHardLimit {
		t.Errorf("clamp: %d", got)
	}
	if got := NegotiateLimits(Limits{MaxFrame: 10}, Limits{MaxFrame: 20}).MaxFrame; got != 10 {
		t.Errorf("negotiate: %d", got)
	}
}

// TEST525: handshake over a pipe settles on the smaller max_frame on both sides
func TestHandshakeNegotiatesMin(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	type result struct {
		limits Limits
		err    error
	}
	accepted := make(chan result, 1)
	go func() {
		l, err := HandshakeAccept(NewFrameReader(b), NewFrameWriter(b), Limits{MaxFrame: 8192})
		accepted <- result{l, err}
	}()

	initiated, err := HandshakeInitiate(NewFrameReader(a), NewFrameWriter(a), Limits{MaxFrame: 100_000})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	acc := <-accepted
	if acc.err != nil {
		t.Fatalf("accept: %v", acc.err)
	}
	if initiated.MaxFrame != 8192 || acc.limits.MaxFrame != 8192 {
		t.Errorf("negotiated %d / %d", initiated.MaxFrame, acc.limits.MaxFrame)
	}
}

// TEST526: handshake fails when the first frame is not HELLO
func TestHandshakeRequiresHello(t *testing.T) {
	var buf bytes.Buffer
	if err := NewFrameWriter(&buf).WriteFrame(NewHeartbeat(NewMessageIdRandom())); err != nil {
		t.Fatal(err)
	}
	_, err := HandshakeAccept(NewFrameReader(&buf), NewFrameWriter(io.Discard), DefaultLimits())
	var le *LinkError
	if !errors.As(err, &le) || le.Type != LinkErrorTypeHandshake {
		t.Fatalf("expected Handshake error, got %v", err)
	}
}

// TEST527: LinkError matches by type
func TestLinkErrorIs(t *testing.T) {
	err := error(&LinkError{Type: LinkErrorTypeClosed})
	if !errors.Is(err, ErrClosed) {
		t.Error("closed errors should match ErrClosed")
	}
	if errors.Is(&LinkError{Type: LinkErrorTypeIo, Message: "x"}, ErrClosed) {
		t.Error("io error should not match ErrClosed")
	}
	if got := (&LinkError{Type: LinkErrorTypeHandshake, Message: "boom"}).Error(); got != "Handshake failed: boom" {
		t.Errorf("got %q", got)
	}
}
