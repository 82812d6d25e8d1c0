// File: protocol/frame_test.go
package protocol_test

import (
	"bytes"
	"testing"

	"github.com/corvidlabs/wsrelay/protocol"
)

func TestEncodeFrameShortPayload(t *testing.T) {
	got := protocol.EncodeFrame(protocol.OpcodeText, []byte("hi"))
	want := []byte{0x81, 0x02, 'h', 'i'}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x, want %x", got, want)
	}
}

func TestEncodeFrameMediumPayload(t *testing.T) {
	payload := bytes.Repeat([]byte{'a'}, 126)
	got := protocol.EncodeFrame(protocol.OpcodeBinary, payload)
	if got[0] != 0x82 {
		t.Fatalf("first byte = %x", got[0])
	}
	if got[1] != 126 {
		t.Fatalf("length byte = %d, want 126", got[1])
	}
	if len(got) != 2+2+len(payload) {
		t.Fatalf("len = %d", len(got))
	}
}

func TestEncodeFrameLargePayload(t *testing.T) {
	payload := bytes.Repeat([]byte{'b'}, 70000)
	got := protocol.EncodeFrame(protocol.OpcodeBinary, payload)
	if got[1] != 127 {
		t.Fatalf("length byte = %d, want 127", got[1])
	}
	if len(got) != 2+8+len(payload) {
		t.Fatalf("len = %d", len(got))
	}
}

func TestEncodeFrameNeverMasked(t *testing.T) {
	got := protocol.EncodeFrame(protocol.OpcodeText, []byte("x"))
	if got[1]&0x80 != 0 {
		t.Fatal("server-originated frame must not set the mask bit")
	}
}

func TestEncodeFrameAlwaysFinal(t *testing.T) {
	got := protocol.EncodeFrame(protocol.OpcodeText, []byte("x"))
	if got[0]&0x80 == 0 {
		t.Fatal("server-originated frame must set FIN")
	}
}
