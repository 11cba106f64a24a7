package ingest

// mediaChannel is the in-memory fan-out point for one published stream
// key, named "channel" in spec.md §3. It holds just enough state for a
// newly joined viewer to start rendering immediately: the most recent
// sequence headers and metadata, never a GOP cache (see SPEC_FULL.md's
// SUPPLEMENTED section — GOP replay for late joiners is a deliberate
// omission, not an oversight).
type mediaChannel struct {
	name string // RTMP app, e.g. "live"
	key  string // publish/play stream key

	pipelineName string // shared name of the Strim and its worker pod

	publisherID uint64
	publishing  bool

	viewers map[uint64]bool

	videoSequenceHeader []byte
	audioSequenceHeader []byte
	lastMetadata        []byte
}

func newMediaChannel(name, key, pipelineName string) *mediaChannel {
	return &mediaChannel{
		name:         name,
		key:          key,
		pipelineName: pipelineName,
		viewers:      map[uint64]bool{},
	}
}

// recordMedia keeps the channel's cached sequence headers up to date.
// Called by the owner loop for every video/audio message from the
// publisher before fan-out, so a viewer that joins immediately after
// can still be bootstrapped correctly.
func (ch *mediaChannel) recordMedia(kind int, payload []byte, isSequenceHeader bool) {
	if !isSequenceHeader {
		return
	}
	switch kind {
	case mediaKindVideo:
		ch.videoSequenceHeader = append([]byte(nil), payload...)
	case mediaKindAudio:
		ch.audioSequenceHeader = append([]byte(nil), payload...)
	}
}

const (
	mediaKindVideo = iota
	mediaKindAudio
)
