// File: pubsub/envelope_test.go
package pubsub

import "testing"

func TestDecodeInboundSubscribe(t *testing.T) {
	in, err := DecodeInbound([]byte(`{"action":"sub","key":"weather"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.Action != ActionSubscribe || in.Key != "weather" {
		t.Fatalf("got %+v", in)
	}
}

func TestDecodeInboundUnsubscribe(t *testing.T) {
	in, err := DecodeInbound([]byte(`{"action":"unsub","key":"weather"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.Action != ActionUnsubscribe || in.Key != "weather" {
		t.Fatalf("got %+v", in)
	}
}

func TestDecodeInboundPublish(t *testing.T) {
	in, err := DecodeInbound([]byte(`{"action":"pub","key":"weather","data":"hi"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.Action != ActionPublish || in.Key != "weather" || in.Data != "hi" {
		t.Fatalf("got %+v", in)
	}
}

func TestDecodeInboundRejectsMissingKey(t *testing.T) {
	if _, err := DecodeInbound([]byte(`{"action":"sub"}`)); err != ErrInvalidEnvelope {
		t.Fatalf("err = %v, want ErrInvalidEnvelope", err)
	}
}

func TestDecodeInboundRejectsMissingDataForPublish(t *testing.T) {
	if _, err := DecodeInbound([]byte(`{"action":"pub","key":"weather"}`)); err != ErrInvalidEnvelope {
		t.Fatalf("err = %v, want ErrInvalidEnvelope", err)
	}
}

func TestDecodeInboundRejectsUnknownAction(t *testing.T) {
	if _, err := DecodeInbound([]byte(`{"action":"nope","key":"weather"}`)); err != ErrInvalidEnvelope {
		t.Fatalf("err = %v, want ErrInvalidEnvelope", err)
	}
}

func TestDecodeInboundRejectsMalformedJSON(t *testing.T) {
	if _, err := DecodeInbound([]byte(`not json`)); err != ErrInvalidEnvelope {
		t.Fatalf("err = %v, want ErrInvalidEnvelope", err)
	}
}

func TestEncodeOutboundShape(t *testing.T) {
	got, err := EncodeOutbound("weather", []byte("hi"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"key":"weather","data":"hi"}`
	if string(got) != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}
