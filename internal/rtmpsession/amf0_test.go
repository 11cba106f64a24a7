package rtmpsession

import "testing"

func TestEncodeDecodeAMF0String(t *testing.T) {
	encoded := EncodeAMF0String("connect")
	values, err := DecodeAMF0Sequence(encoded)
	if err != nil {
		t.Fatalf("DecodeAMF0Sequence: %v", err)
	}
	if len(values) != 1 {
		t.Fatalf("expected 1 value, got %d", len(values))
	}
	if got, ok := values[0].(string); !ok || got != "connect" {
		t.Fatalf("got %#v, want \"connect\"", values[0])
	}
}

func TestEncodeDecodeAMF0Number(t *testing.T) {
	encoded := EncodeAMF0Number(3.0)
	values, err := DecodeAMF0Sequence(encoded)
	if err != nil {
		t.Fatalf("DecodeAMF0Sequence: %v", err)
	}
	if got, ok := values[0].(float64); !ok || got != 3.0 {
		t.Fatalf("got %#v, want 3.0", values[0])
	}
}

func TestDecodeAMF0CommandSequence(t *testing.T) {
	buf := EncodeAMF0String("publish")
	buf = append(buf, EncodeAMF0Number(0)...)
	buf = append(buf, EncodeAMF0Null()...)
	buf = append(buf, EncodeAMF0String("my-stream-key")...)

	values, err := DecodeAMF0Sequence(buf)
	if err != nil {
		t.Fatalf("DecodeAMF0Sequence: %v", err)
	}
	if len(values) != 4 {
		t.Fatalf("expected 4 values, got %d: %#v", len(values), values)
	}
	if key, _ := values[3].(string); key != "my-stream-key" {
		t.Fatalf("expected stream key, got %#v", values[3])
	}
}

func TestDecodeAMF0Object(t *testing.T) {
	fields := map[string]AMF0Value{"app": "live"}
	encoded := EncodeAMF0Object(fields)

	values, err := DecodeAMF0Sequence(encoded)
	if err != nil {
		t.Fatalf("DecodeAMF0Sequence: %v", err)
	}
	obj, ok := values[0].(map[string]AMF0Value)
	if !ok {
		t.Fatalf("expected object, got %#v", values[0])
	}
	if app, _ := obj["app"].(string); app != "live" {
		t.Fatalf("expected app=live, got %#v", obj["app"])
	}
}

func TestIsVideoSequenceHeader(t *testing.T) {
	// frame type 1 (keyframe) << 4 | codec id 7 (AVC); AVC packet type 0 (seq header).
	seqHeader := []byte{0x17, 0x00, 0x00, 0x00, 0x00}
	if !IsVideoSequenceHeader(seqHeader) {
		t.Fatalf("expected sequence header to be detected")
	}

	nalu := []byte{0x17, 0x01, 0x00, 0x00, 0x00}
	if IsVideoSequenceHeader(nalu) {
		t.Fatalf("expected NALU packet not to be detected as sequence header")
	}
}

func TestIsVideoKeyframe(t *testing.T) {
	keyframe := []byte{0x17, 0x01, 0x00, 0x00, 0x00}
	interframe := []byte{0x27, 0x01, 0x00, 0x00, 0x00}

	if !IsVideoKeyframe(keyframe) {
		t.Fatalf("expected frame type 1 to be a keyframe")
	}
	if IsVideoKeyframe(interframe) {
		t.Fatalf("expected frame type 2 not to be a keyframe")
	}
}
