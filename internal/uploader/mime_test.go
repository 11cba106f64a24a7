package uploader

import "testing"

func TestContentTypeFor(t *testing.T) {
	cases := map[string]string{
		"/hls/live.m3u8":     "application/vnd.apple.mpegurl",
		"/hls/seg-000.ts":    "video/mp2t",
		"/hls/captions.vtt":  "text/vtt",
		"/hls/unknown.xyz":   "application/octet-stream",
		"/hls/noextension":   "application/octet-stream",
	}
	for path, want := range cases {
		if got := contentTypeFor(path); got != want {
			t.Errorf("contentTypeFor(%q) = %q, want %q", path, got, want)
		}
	}
}
