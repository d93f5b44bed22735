package wire

import (
	"bytes"
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := Entry{
		CachedAt:  time.Now().Unix(),
		TTLSecs:   100,
		StaleSecs: 10,
		Payload:   []byte(`{"id":"p1"}`),
	}
	out, err := Decode(Encode(in))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.CachedAt != in.CachedAt || out.TTLSecs != in.TTLSecs || out.StaleSecs != in.StaleSecs {
		t.Fatalf("header mismatch: got %+v want %+v", out, in)
	}
	if !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("payload mismatch: %q vs %q", out.Payload, in.Payload)
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	out, err := Decode(Encode(Entry{CachedAt: 1, TTLSecs: 1, StaleSecs: 1}))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out.Payload) != 0 {
		t.Fatalf("expected empty payload, got %q", out.Payload)
	}
}

// Decode must reject trailing bytes (strict framing).
func TestDecodeRejectsTrailing(t *testing.T) {
	b := Encode(Entry{CachedAt: 7, TTLSecs: 60, StaleSecs: 30, Payload: []byte("x")})
	b = append(b, 0xDE, 0xAD)
	if _, err := Decode(b); err == nil {
		t.Fatalf("Decode should reject trailing bytes")
	}
}

func TestDecodeRejectsBadMagicAndVersion(t *testing.T) {
	good := Encode(Entry{CachedAt: 1, TTLSecs: 1, StaleSecs: 1, Payload: []byte("v")})

	bad := append([]byte(nil), good...)
	bad[0] = 'X'
	if _, err := Decode(bad); err == nil {
		t.Fatalf("Decode should reject bad magic")
	}

	bad = append([]byte(nil), good...)
	bad[4] = 99 // version
	if _, err := Decode(bad); err == nil {
		t.Fatalf("Decode should reject unknown version")
	}

	bad = append([]byte(nil), good...)
	bad[5] = 42 // kind
	if _, err := Decode(bad); err == nil {
		t.Fatalf("Decode should reject unknown kind")
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	b := Encode(Entry{CachedAt: 1, TTLSecs: 1, StaleSecs: 1, Payload: []byte("payload")})
	for i := 0; i < len(b); i++ {
		if _, err := Decode(b[:i]); err == nil {
			t.Fatalf("Decode should reject truncation at %d bytes", i)
		}
	}
}

func TestStaleAndExpiryDerivation(t *testing.T) {
	e := Entry{CachedAt: 1000, TTLSecs: 100, StaleSecs: 10}
	if got := e.StaleAt().Unix(); got != 1010 {
		t.Fatalf("StaleAt = %d, want 1010", got)
	}
	if got := e.ExpiresAt().Unix(); got != 1100 {
		t.Fatalf("ExpiresAt = %d, want 1100", got)
	}
}
