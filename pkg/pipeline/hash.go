package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// PipelineName derives the deterministic name a newly published stream
// gets for both its Pipeline (Strim) object and its worker pod —
// there is no separate pod-naming scheme, the pod created by
// strim-reconciler is simply named after the Strim it belongs to. The
// name is "ffmpeg-" plus the first 8 hex characters of
// sha256(streamKey || podIP || nonce): streamKey ties the name back to
// the RTMP session that created it, podIP and nonce keep two ingestd
// replicas (or two publishes racing the same key) from ever computing
// the same name.
func PipelineName(streamKey, podIP, nonce string) string {
	sum := sha256.Sum256([]byte(streamKey + podIP + nonce))
	return "ffmpeg-" + hex.EncodeToString(sum[:])[:8]
}

// SpecHash computes a stable hash of a StrimSpec for drift detection:
// the reconciler compares this against an annotation recorded on the
// worker pod at creation time to decide whether the pod matches the
// current spec or must be recreated.
func SpecHash(spec StrimSpec) (string, error) {
	b, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("hash spec: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
