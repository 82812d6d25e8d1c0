// File: protocol/engine_test.go
package protocol_test

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/corvidlabs/wsrelay/protocol"
)

// driveErr feeds raw bytes through the engine's watermark loop, exactly as a
// connection's read loop would, stopping once every byte has been consumed
// and the engine has reached a frame boundary (NEEDS_INITIAL or CLOSED). A
// zero watermark (e.g. a CLOSE frame with no payload) is still fed so the
// dispatch that depends on it still runs.
func driveErr(t *testing.T, e *protocol.Engine, raw []byte) ([][]byte, error) {
	t.Helper()
	var replies [][]byte
	for {
		w := e.Watermark()
		if w > len(raw) {
			t.Fatalf("watermark %d exceeds remaining input %d (state=%v)", w, len(raw), e.State())
		}
		out, err := e.Feed(raw[:w])
		raw = raw[w:]
		if out != nil {
			replies = append(replies, out)
		}
		if err != nil {
			return replies, err
		}
		if len(raw) == 0 && (e.State() == protocol.StateNeedsInitial || e.State() == protocol.StateClosed) {
			return replies, nil
		}
	}
}

// drive is driveErr for tests that expect no protocol error.
func drive(t *testing.T, e *protocol.Engine, raw []byte) [][]byte {
	t.Helper()
	replies, err := driveErr(t, e, raw)
	if err != nil {
		t.Fatalf("unexpected Feed error: %v", err)
	}
	return replies
}

func maskedFrame(fin bool, opcode byte, mask [4]byte, payload []byte) []byte {
	var b0 byte = opcode & 0x0F
	if fin {
		b0 |= 0x80
	}
	n := len(payload)
	buf := []byte{b0}
	switch {
	case n <= 125:
		buf = append(buf, byte(n)|0x80)
	case n <= 0xFFFF:
		buf = append(buf, 126|0x80, byte(n>>8), byte(n))
	default:
		buf = append(buf, 127|0x80, 0, 0, 0, 0, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	}
	buf = append(buf, mask[:]...)
	masked := make([]byte, n)
	for i, b := range payload {
		masked[i] = b ^ mask[i%4]
	}
	return append(buf, masked...)
}

func newAcceptedEngine(onMsg protocol.MessageFunc) *protocol.Engine {
	e := protocol.NewEngine(onMsg)
	e.CompleteHandshake()
	return e
}

func TestSingleTextFrame(t *testing.T) {
	// spec section 8, scenario 3: mask 37fa213d, masked payload 7f9f4d5158 -> "Hello"
	mask, _ := hex.DecodeString("37fa213d")
	var mk [4]byte
	copy(mk[:], mask)

	var got []byte
	var isBin bool
	e := newAcceptedEngine(func(binary bool, data []byte) {
		isBin = binary
		got = append([]byte(nil), data...)
	})

	frame := maskedFrame(true, protocol.OpcodeText, mk, []byte("Hello"))
	drive(t, e, frame)

	if string(got) != "Hello" {
		t.Fatalf("got message %q, want Hello", got)
	}
	if isBin {
		t.Fatal("expected text message, got binary")
	}
	if e.State() != protocol.StateNeedsInitial {
		t.Fatalf("state = %v, want NEEDS_INITIAL", e.State())
	}
}

func TestPingPong(t *testing.T) {
	e := newAcceptedEngine(nil)
	frame := maskedFrame(true, protocol.OpcodePing, [4]byte{0, 0, 0, 0}, []byte("ping"))
	replies := drive(t, e, frame)
	if len(replies) != 1 {
		t.Fatalf("got %d replies, want 1", len(replies))
	}
	want := protocol.EncodeFrame(protocol.OpcodePong, []byte("ping"))
	if !bytes.Equal(replies[0], want) {
		t.Fatalf("reply = %x, want %x", replies[0], want)
	}
}

func TestContinuationAssembly(t *testing.T) {
	var got []byte
	e := newAcceptedEngine(func(_ bool, data []byte) {
		got = append([]byte(nil), data...)
	})

	key := [4]byte{1, 2, 3, 4}
	raw := append(maskedFrame(false, protocol.OpcodeText, key, []byte("Hel")),
		maskedFrame(false, protocol.OpcodeContinuation, key, []byte("lo"))...)
	raw = append(raw, maskedFrame(true, protocol.OpcodeContinuation, key, []byte(", world"))...)

	drive(t, e, raw)

	if string(got) != "Hello, world" {
		t.Fatalf("got %q, want %q", got, "Hello, world")
	}
}

func TestReservedBitsCloses(t *testing.T) {
	e := newAcceptedEngine(nil)
	frame := maskedFrame(true, protocol.OpcodeText, [4]byte{}, []byte("x"))
	frame[0] |= 0x40 // set an RSV bit
	_, err := driveErr(t, e, frame)
	if err == nil {
		t.Fatal("expected protocol error for reserved bit")
	}
	if e.State() != protocol.StateClosed {
		t.Fatalf("state = %v, want CLOSED", e.State())
	}
}

func TestUnmaskedFrameCloses(t *testing.T) {
	e := newAcceptedEngine(nil)
	buf := []byte{0x81, 0x05} // FIN+TEXT, len=5, MASK bit clear
	_, err := driveErr(t, e, buf)
	if err == nil {
		t.Fatal("expected protocol error for unmasked frame")
	}
	if e.State() != protocol.StateClosed {
		t.Fatalf("state = %v, want CLOSED", e.State())
	}
}

func encodeLen64(n uint64) []byte {
	var ext [8]byte
	for i := 0; i < 8; i++ {
		ext[7-i] = byte(n >> (8 * i))
	}
	return ext[:]
}

func TestOversizedPayloadCloses(t *testing.T) {
	e := newAcceptedEngine(nil)
	buf := []byte{0x81, 0xFF} // FIN+TEXT, masked, len=127 (64-bit extended)
	raw := append(append([]byte{}, buf...), encodeLen64(uint64(protocol.MaxFramePayload)+1)...)
	_, err := driveErr(t, e, raw)
	if err == nil {
		t.Fatal("expected ErrFrameTooLarge")
	}
	if e.State() != protocol.StateClosed {
		t.Fatalf("state = %v, want CLOSED", e.State())
	}
}

func TestMaxAcceptedPayloadLength(t *testing.T) {
	e := newAcceptedEngine(nil)
	buf := []byte{0x81, 0xFF}
	if _, err := e.Feed(buf); err != nil {
		t.Fatalf("header feed: %v", err)
	}
	if _, err := e.Feed(encodeLen64(uint64(protocol.MaxFramePayload))); err != nil {
		t.Fatalf("length feed: %v", err)
	}
	if e.State() != protocol.StateNeedsMaskingKey {
		t.Fatalf("state = %v, want NEEDS_MASKING_KEY for exactly MaxFramePayload", e.State())
	}
}

func TestUnknownOpcodeCloses(t *testing.T) {
	e := newAcceptedEngine(nil)
	frame := maskedFrame(true, 0x3, [4]byte{}, nil)
	_, err := driveErr(t, e, frame)
	if err == nil {
		t.Fatal("expected ErrUnknownOpcode")
	}
	if e.State() != protocol.StateClosed {
		t.Fatalf("state = %v, want CLOSED", e.State())
	}
}

func TestFragmentedPingCloses(t *testing.T) {
	e := newAcceptedEngine(nil)
	frame := maskedFrame(false, protocol.OpcodePing, [4]byte{}, []byte("x"))
	_, err := driveErr(t, e, frame)
	if err == nil {
		t.Fatal("expected ErrFragmentedControlFrame")
	}
	if e.State() != protocol.StateClosed {
		t.Fatalf("state = %v, want CLOSED", e.State())
	}
}

func TestOversizedControlFrameCloses(t *testing.T) {
	e := newAcceptedEngine(nil)
	buf := []byte{0x80 | protocol.OpcodePong, 0x80 | 126, 0, 0}
	_, err := driveErr(t, e, buf)
	if err == nil {
		t.Fatal("expected ErrControlFrameTooLarge")
	}
	if e.State() != protocol.StateClosed {
		t.Fatalf("state = %v, want CLOSED", e.State())
	}
}

func TestNextPingIncrementsCounter(t *testing.T) {
	e := newAcceptedEngine(nil)
	p0 := e.NextPing()
	p1 := e.NextPing()
	if bytes.Equal(p0, p1) {
		t.Fatal("expected successive pings to differ")
	}
	want0 := protocol.EncodeFrame(protocol.OpcodePing, []byte("0"))
	if !bytes.Equal(p0, want0) {
		t.Fatalf("first ping = %x, want %x", p0, want0)
	}
}

func TestEngineStartsInNeedsInitialWithWatermarkTwo(t *testing.T) {
	e := newAcceptedEngine(nil)
	if e.State() != protocol.StateNeedsInitial {
		t.Fatalf("state = %v, want NEEDS_INITIAL", e.State())
	}
	if w := e.Watermark(); w != 2 {
		t.Fatalf("watermark = %d, want 2", w)
	}
}
