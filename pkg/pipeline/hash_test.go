package pipeline

import "testing"

func TestPipelineNameDeterministic(t *testing.T) {
	a := PipelineName("abc", "10.0.0.5", "nonce-1")
	b := PipelineName("abc", "10.0.0.5", "nonce-1")
	if a != b {
		t.Fatalf("PipelineName not deterministic: %q != %q", a, b)
	}
	if want := "ffmpeg-"; len(a) <= len(want) || a[:len(want)] != want {
		t.Fatalf("expected %q prefix, got %q", want, a)
	}
	if len(a) != len("ffmpeg-")+8 {
		t.Fatalf("expected 8 hex chars after the prefix, got %q", a)
	}
}

func TestPipelineNameDiffersByStreamKey(t *testing.T) {
	a := PipelineName("abc", "10.0.0.5", "nonce-1")
	b := PipelineName("xyz", "10.0.0.5", "nonce-1")
	if a == b {
		t.Fatalf("expected different names for different stream keys, got %q for both", a)
	}
}

func TestPipelineNameDiffersByPodIPAndNonce(t *testing.T) {
	base := PipelineName("abc", "10.0.0.5", "nonce-1")
	if got := PipelineName("abc", "10.0.0.6", "nonce-1"); got == base {
		t.Fatalf("expected different names for different pod IPs, got %q for both", got)
	}
	if got := PipelineName("abc", "10.0.0.5", "nonce-2"); got == base {
		t.Fatalf("expected different names for different nonces, got %q for both", got)
	}
}

func TestSpecHashStableAcrossEqualValues(t *testing.T) {
	spec := StrimSpec{
		Source: StrimSource{InternalURL: "rtmp://origin/live/abc"},
		Target: StrimTarget{Bucket: "b", Endpoint: "e", Region: "r", Secret: "s", KeyPrefix: "p/"},
	}
	h1, err := SpecHash(spec)
	if err != nil {
		t.Fatalf("SpecHash: %v", err)
	}
	h2, err := SpecHash(spec)
	if err != nil {
		t.Fatalf("SpecHash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("SpecHash not stable: %q != %q", h1, h2)
	}
}

func TestSpecHashChangesWithTarget(t *testing.T) {
	base := StrimSpec{
		Source: StrimSource{InternalURL: "rtmp://origin/live/abc"},
		Target: StrimTarget{Bucket: "b", Endpoint: "e", Region: "r", Secret: "s", KeyPrefix: "p/"},
	}
	changed := base
	changed.Target.Bucket = "different-bucket"

	h1, _ := SpecHash(base)
	h2, _ := SpecHash(changed)
	if h1 == h2 {
		t.Fatalf("expected SpecHash to change when target.bucket changes")
	}
}
