package ingest

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/beebs-dev/strim/internal/logging"
	"github.com/beebs-dev/strim/internal/metrics"
	"github.com/beebs-dev/strim/internal/rtmpsession"
	"github.com/beebs-dev/strim/pkg/pipeline"
)

func publishOrPlayEvent(key string) *rtmpsession.Event {
	return &rtmpsession.Event{StreamKey: key}
}

type fakePipelineClient struct {
	mu      sync.Mutex
	created []string
	deleted []string
}

func (f *fakePipelineClient) CreatePipeline(ctx context.Context, s *pipeline.Strim) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, s.Name)
	return nil
}

func (f *fakePipelineClient) DeletePipeline(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	return nil
}

func newTestServer(t *testing.T, fake *fakePipelineClient) *Server {
	t.Helper()
	return &Server{
		cfg: Config{
			Namespace: "strim",
			PodIP:     "10.0.0.5",
			RTMPPort:  1935,
			Target:    pipeline.StrimTarget{Bucket: "b"},
		},
		log:         logging.New("test"),
		metrics:     metrics.NewIngest(),
		pipelines:   fake,
		events:      make(chan event, 16),
		connections: map[uint64]*connection{},
		channels:    map[string]*mediaChannel{},
		ipCounts:    map[string]uint32{},
		nextID:      1,
	}
}

func newTestConnection(id uint64) *connection {
	return &connection{
		id:     id,
		outbox: make(chan outboundFrame, 16),
	}
}

func TestHandlePublishCreatesChannelAndRejectsSecondPublisher(t *testing.T) {
	fake := &fakePipelineClient{}
	srv := newTestServer(t, fake)

	pub := newTestConnection(1)
	pub.app = "live"
	srv.connections[1] = pub

	srv.handlePublish(context.Background(), pub, publishOrPlayEvent("abc"))

	if !pub.isPublisher {
		t.Fatalf("expected connection to become publisher")
	}
	ch := srv.channels[channelKey("live", "abc")]
	if ch == nil || !ch.publishing {
		t.Fatalf("expected channel to be marked publishing")
	}

	second := newTestConnection(2)
	second.app = "live"
	second.conn, _ = net.Pipe()
	srv.connections[2] = second
	srv.handlePublish(context.Background(), second, publishOrPlayEvent("abc"))
	if second.isPublisher {
		t.Fatalf("expected second publisher to be rejected")
	}
}

func TestHandlePlayBeforePublishMarksViewerIdle(t *testing.T) {
	fake := &fakePipelineClient{}
	srv := newTestServer(t, fake)

	viewer := newTestConnection(1)
	viewer.app = "live"
	srv.connections[1] = viewer

	srv.handlePlay(viewer, publishOrPlayEvent("abc"))

	if !viewer.isIdling {
		t.Fatalf("expected viewer to be idling when no publisher exists yet")
	}
	if viewer.isPlaying {
		t.Fatalf("viewer should not be playing yet")
	}
}

func TestPublishThenPlayStartsViewerImmediately(t *testing.T) {
	fake := &fakePipelineClient{}
	srv := newTestServer(t, fake)

	pub := newTestConnection(1)
	pub.app = "live"
	srv.connections[1] = pub
	srv.handlePublish(context.Background(), pub, publishOrPlayEvent("abc"))

	viewer := newTestConnection(2)
	viewer.app = "live"
	srv.connections[2] = viewer
	srv.handlePlay(viewer, publishOrPlayEvent("abc"))

	if viewer.isIdling {
		t.Fatalf("viewer should not be idling once publisher is live")
	}
	if !viewer.isPlaying {
		t.Fatalf("expected viewer to be playing immediately")
	}
}

func TestStopPublishingIdlesViewersAndDeletesPipeline(t *testing.T) {
	fake := &fakePipelineClient{}
	srv := newTestServer(t, fake)

	pub := newTestConnection(1)
	pub.app = "live"
	srv.connections[1] = pub
	srv.handlePublish(context.Background(), pub, publishOrPlayEvent("abc"))

	viewer := newTestConnection(2)
	viewer.app = "live"
	srv.connections[2] = viewer
	srv.handlePlay(viewer, publishOrPlayEvent("abc"))

	srv.stopPublishing(context.Background(), pub)

	if !viewer.isIdling || viewer.isPlaying {
		t.Fatalf("expected viewer to go idle after publisher stops")
	}

	waitForAsync(t, func() bool {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		return len(fake.deleted) == 1
	})
}

func TestCreatePipelineOnPublish(t *testing.T) {
	fake := &fakePipelineClient{}
	srv := newTestServer(t, fake)

	pub := newTestConnection(1)
	pub.app = "live"
	srv.connections[1] = pub
	srv.handlePublish(context.Background(), pub, publishOrPlayEvent("abc"))

	waitForAsync(t, func() bool {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		return len(fake.created) == 1
	})
}

func TestFanOutMediaGatesOnFirstKeyframe(t *testing.T) {
	fake := &fakePipelineClient{}
	srv := newTestServer(t, fake)

	pub := newTestConnection(1)
	pub.app = "live"
	pub.isPublisher = true
	pub.channel = channelKey("live", "abc")
	srv.connections[1] = pub

	viewer := newTestConnection(2)
	viewer.isPlaying = true
	srv.connections[2] = viewer

	ch := newMediaChannel("live", "abc", "")
	ch.publishing = true
	ch.publisherID = 1
	ch.viewers = map[uint64]bool{2: true}
	srv.channels[pub.channel] = ch

	interframe := &rtmpsession.Event{Kind: rtmpsession.EventVideo, Payload: []byte{0x27, 0x01, 0x00, 0x00, 0x00}}
	srv.fanOutMedia(pub, interframe, mediaKindVideo)
	if len(viewer.outbox) != 0 {
		t.Fatalf("expected inter-frame to be suppressed before the first keyframe")
	}

	audio := &rtmpsession.Event{Kind: rtmpsession.EventAudio, Payload: []byte{0xAF, 0x01, 0x00}}
	srv.fanOutMedia(pub, audio, mediaKindAudio)
	if len(viewer.outbox) != 0 {
		t.Fatalf("expected non-sequence-header audio to be suppressed before the first keyframe")
	}

	keyframe := &rtmpsession.Event{Kind: rtmpsession.EventVideo, Payload: []byte{0x17, 0x01, 0x00, 0x00, 0x00}}
	srv.fanOutMedia(pub, keyframe, mediaKindVideo)
	if len(viewer.outbox) != 1 {
		t.Fatalf("expected keyframe to be delivered, got %d queued frames", len(viewer.outbox))
	}
	if !viewer.hasReceivedVideoKeyframe {
		t.Fatalf("expected viewer to be marked as having received a keyframe")
	}

	srv.fanOutMedia(pub, interframe, mediaKindVideo)
	if len(viewer.outbox) != 2 {
		t.Fatalf("expected subsequent inter-frames to be delivered once past the first keyframe")
	}
}

func TestBootstrapViewerSendsMetadataThenSequenceHeaders(t *testing.T) {
	fake := &fakePipelineClient{}
	srv := newTestServer(t, fake)

	viewer := newTestConnection(1)
	srv.connections[1] = viewer

	ch := newMediaChannel("live", "abc", "")
	ch.lastMetadata = []byte("meta")
	ch.videoSequenceHeader = []byte{0x17, 0x00}
	ch.audioSequenceHeader = []byte{0xAF, 0x00}

	srv.bootstrapViewer(viewer, ch)

	if len(viewer.outbox) != 3 {
		t.Fatalf("expected metadata + video seq header + audio seq header, got %d", len(viewer.outbox))
	}
	first := <-viewer.outbox
	if first.kind != rtmpsession.EventMetadata {
		t.Fatalf("expected metadata to be sent first, got %v", first.kind)
	}
	second := <-viewer.outbox
	if second.kind != rtmpsession.EventVideo {
		t.Fatalf("expected video sequence header second, got %v", second.kind)
	}
	third := <-viewer.outbox
	if third.kind != rtmpsession.EventAudio {
		t.Fatalf("expected audio sequence header third, got %v", third.kind)
	}
}

func waitForAsync(t *testing.T, done func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if done() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}
