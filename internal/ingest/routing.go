package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/beebs-dev/strim/internal/rtmpsession"
	"github.com/beebs-dev/strim/pkg/pipeline"
)

// handleRTMPEvent is the routing table from spec.md §4.1: it runs
// entirely on the owner goroutine and never blocks on I/O itself —
// cluster API calls are handed off via dispatchPipelineCreate/
// dispatchPipelineDelete, and viewer
// fan-out only ever enqueues onto a buffered, drop-on-full channel.
func (srv *Server) handleRTMPEvent(ctx context.Context, connID uint64, ev *rtmpsession.Event) {
	conn := srv.connections[connID]
	if conn == nil {
		return
	}

	switch ev.Kind {
	case rtmpsession.EventConnect:
		conn.app = ev.App

	case rtmpsession.EventPublish:
		srv.handlePublish(ctx, conn, ev)

	case rtmpsession.EventPlay:
		srv.handlePlay(conn, ev)

	case rtmpsession.EventDeleteStream:
		if conn.isPublisher {
			srv.stopPublishing(ctx, conn)
		} else if conn.isPlayer {
			srv.stopPlaying(conn)
		}

	case rtmpsession.EventMetadata:
		srv.fanOutMetadata(conn, ev)

	case rtmpsession.EventVideo:
		srv.fanOutMedia(conn, ev, mediaKindVideo)

	case rtmpsession.EventAudio:
		srv.fanOutMedia(conn, ev, mediaKindAudio)

	case rtmpsession.EventPing:
		conn.lastPong = time.Now()
		conn.lastPing = time.Time{}
	}
}

func (srv *Server) handlePublish(ctx context.Context, conn *connection, ev *rtmpsession.Event) {
	key := channelKey(conn.app, ev.StreamKey)
	ch := srv.channels[key]

	if ch != nil && ch.publishing {
		// Already publishing: reject the second publisher outright,
		// matching spec.md §4.1's single-publisher-per-channel rule.
		srv.log.Warningf("rejected duplicate publish on %s from connection #%d", key, conn.id)
		conn.conn.Close()
		return
	}

	nonce := uuid.NewString()
	pipelineName := pipeline.PipelineName(ev.StreamKey, srv.cfg.PodIP, nonce)

	if ch == nil {
		ch = newMediaChannel(conn.app, ev.StreamKey, pipelineName)
		srv.channels[key] = ch
	}
	ch.publishing = true
	ch.publisherID = conn.id
	ch.pipelineName = pipelineName
	ch.videoSequenceHeader = nil
	ch.audioSequenceHeader = nil
	ch.lastMetadata = nil

	conn.isPublisher = true
	conn.channel = key

	srv.metrics.Publishes.Inc()

	internalURL := fmt.Sprintf("rtmp://%s:%d/%s/%s", srv.cfg.PodIP, srv.cfg.RTMPPort, conn.app, ev.StreamKey)
	srv.dispatchPipelineCreate(ctx, ch, internalURL)

	for _, viewerID := range srv.idlePlayersFor(key) {
		if viewer := srv.connections[viewerID]; viewer != nil {
			viewer.isIdling = false
			viewer.isPlaying = true
			viewer.hasReceivedVideoKeyframe = false
		}
	}
}

func (srv *Server) idlePlayersFor(key string) []uint64 {
	ch := srv.channels[key]
	if ch == nil {
		return nil
	}
	var ids []uint64
	for id := range ch.viewers {
		if v := srv.connections[id]; v != nil && v.isIdling {
			ids = append(ids, id)
		}
	}
	return ids
}

func (srv *Server) stopPublishing(ctx context.Context, conn *connection) {
	ch := srv.channels[conn.channel]
	if ch == nil || ch.publisherID != conn.id {
		return
	}

	ch.publishing = false
	ch.publisherID = 0

	for id := range ch.viewers {
		if v := srv.connections[id]; v != nil {
			v.isIdling = true
			v.isPlaying = false
		}
	}

	srv.dispatchPipelineDelete(ctx, ch)

	conn.isPublisher = false
	if len(ch.viewers) == 0 {
		delete(srv.channels, conn.channel)
	}
}

func (srv *Server) handlePlay(conn *connection, ev *rtmpsession.Event) {
	key := channelKey(conn.app, ev.StreamKey)
	ch := srv.channels[key]
	if ch == nil {
		ch = newMediaChannel(conn.app, ev.StreamKey, "")
		srv.channels[key] = ch
	}

	if ch.viewers == nil {
		ch.viewers = map[uint64]bool{}
	}
	ch.viewers[conn.id] = true
	conn.isPlayer = true
	conn.channel = key

	if ch.publishing {
		conn.isIdling = false
		conn.isPlaying = true
		conn.hasReceivedVideoKeyframe = false
		srv.bootstrapViewer(conn, ch)
	} else {
		conn.isIdling = true
	}
}

// bootstrapViewer sends whatever the channel has cached for a newly
// joined viewer, in the order the Play-request rule in spec.md §4.1
// requires: stored metadata first, then the video sequence header,
// then the audio sequence header. Neither sequence header flips
// hasReceivedVideoKeyframe — that only happens once a real keyframe
// clears fanOutMedia's gate, so an inter-frame still never reaches a
// viewer before its first keyframe. The viewer receives every
// subsequent video/audio message through the ordinary fan-out path;
// this is the exact boundary SPEC_FULL.md's SUPPLEMENTED section
// documents: sequence headers and metadata are replayed, but no GOP
// cache fills in the frames between the publish and the viewer's join.
func (srv *Server) bootstrapViewer(conn *connection, ch *mediaChannel) {
	if ch.lastMetadata != nil {
		conn.enqueue(outboundFrame{kind: rtmpsession.EventMetadata, payload: ch.lastMetadata})
	}
	if ch.videoSequenceHeader != nil {
		conn.enqueue(outboundFrame{kind: rtmpsession.EventVideo, payload: ch.videoSequenceHeader})
	}
	if ch.audioSequenceHeader != nil {
		conn.enqueue(outboundFrame{kind: rtmpsession.EventAudio, payload: ch.audioSequenceHeader})
	}
}

func (srv *Server) stopPlaying(conn *connection) {
	ch := srv.channels[conn.channel]
	if ch != nil {
		delete(ch.viewers, conn.id)
		if !ch.publishing && len(ch.viewers) == 0 {
			delete(srv.channels, conn.channel)
		}
	}
	conn.isPlayer = false
	conn.isIdling = false
	conn.isPlaying = false
}

func (srv *Server) fanOutMetadata(conn *connection, ev *rtmpsession.Event) {
	ch := srv.channels[conn.channel]
	if ch == nil || !conn.isPublisher {
		return
	}
	ch.lastMetadata = append([]byte(nil), ev.Payload...)
	for id := range ch.viewers {
		if v := srv.connections[id]; v != nil && v.isPlaying {
			v.enqueue(outboundFrame{kind: rtmpsession.EventMetadata, timestamp: ev.Timestamp, payload: ev.Payload})
		}
	}
}

// fanOutMedia enforces the keyframe-gating invariant from spec.md
// §4.1/§8: no inter-frame is ever delivered to a viewer before its
// first video keyframe. A viewer is eligible for a packet once it has
// already received a keyframe, or the packet itself is a sequence
// header or a keyframe — audio before that point is suppressed
// entirely except for audio sequence headers, since a decoder cannot
// do anything useful with audio until its video has started.
func (srv *Server) fanOutMedia(conn *connection, ev *rtmpsession.Event, kind int) {
	ch := srv.channels[conn.channel]
	if ch == nil || !conn.isPublisher {
		return
	}

	var isSeq, isKeyframe bool
	evKind := rtmpsession.EventVideo
	if kind == mediaKindVideo {
		isSeq = rtmpsession.IsVideoSequenceHeader(ev.Payload)
		isKeyframe = rtmpsession.IsVideoKeyframe(ev.Payload)
	} else {
		isSeq = rtmpsession.IsAudioSequenceHeader(ev.Payload)
		evKind = rtmpsession.EventAudio
	}
	ch.recordMedia(kind, ev.Payload, isSeq)

	for id := range ch.viewers {
		v := srv.connections[id]
		if v == nil || !v.isPlaying {
			continue
		}

		if kind == mediaKindVideo {
			if !v.hasReceivedVideoKeyframe && !isKeyframe {
				continue
			}
		} else if !v.hasReceivedVideoKeyframe && !isSeq {
			continue
		}

		if !v.enqueue(outboundFrame{kind: evKind, timestamp: ev.Timestamp, payload: ev.Payload}) {
			continue
		}
		if kind == mediaKindVideo && isKeyframe && !isSeq {
			v.hasReceivedVideoKeyframe = true
		}
	}
}

func (srv *Server) handleDisconnect(ctx context.Context, connID uint64) {
	conn := srv.connections[connID]
	if conn == nil {
		return
	}
	close(conn.outbox)
	if conn.isPublisher {
		srv.stopPublishing(ctx, conn)
	} else if conn.isPlayer {
		srv.stopPlaying(conn)
	}
	delete(srv.connections, connID)
}

// handleCommand applies an out-of-band Redis command. Both actions are
// blunt by design — they close sockets rather than trying to negotiate
// an RTMP-level teardown, which is the same remedy an operator has for
// a stuck session via any other RTMP server's admin tooling.
func (srv *Server) handleCommand(ctx context.Context, ev event) {
	switch ev.cmd.action {
	case "kill-session":
		if conn := srv.connections[ev.cmd.sessionID]; conn != nil {
			conn.conn.Close()
		}
	case "close-stream":
		if ch := srv.channels[ev.cmd.channel]; ch != nil && ch.publishing {
			if pub := srv.connections[ch.publisherID]; pub != nil {
				pub.conn.Close()
			}
		}
	}
}
