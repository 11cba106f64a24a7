package ingest

import (
	"net"
	"time"

	"github.com/beebs-dev/strim/internal/rtmpsession"
)

// connection is the per-socket entity named in spec.md §3, owned
// exclusively by the Server.ownerLoop goroutine once registered. The
// reader goroutine (Server.handleConnection) only ever touches sess and conn —
// never the maps on Server — so there is nothing for it to race with
// the owner loop over.
type connection struct {
	id   uint64
	ip   string
	conn net.Conn
	sess *rtmpsession.Session

	app         string
	isPublisher bool
	isPlayer    bool
	isPlaying   bool
	isIdling    bool
	channel     string

	// hasReceivedVideoKeyframe gates media fan-out for this viewer: no
	// inter-frame is ever delivered before its first video keyframe.
	hasReceivedVideoKeyframe bool

	outbox chan outboundFrame

	lastPing time.Time
	lastPong time.Time
	closed   bool
}

// outboundFrame is a unit of work handed to a connection's dedicated
// writer goroutine, keeping socket writes off the owner goroutine.
type outboundFrame struct {
	kind      rtmpsession.EventKind
	timestamp int64
	payload   []byte
}

func newConnection(id uint64, ip string, conn net.Conn, sess *rtmpsession.Session) *connection {
	return &connection{
		id:     id,
		ip:     ip,
		conn:   conn,
		sess:   sess,
		outbox: make(chan outboundFrame, 1024),
	}
}

// writeLoop drains outbox and writes to the session, closing the
// connection on the first write error (a slow or gone viewer). It runs
// in its own goroutine so a stalled viewer socket never blocks the
// owner loop or any other connection.
func (c *connection) writeLoop() {
	for frame := range c.outbox {
		var err error
		switch frame.kind {
		case rtmpsession.EventVideo, rtmpsession.EventAudio:
			err = c.sess.SendMedia(frame.kind, frame.timestamp, frame.payload)
		case rtmpsession.EventMetadata:
			err = c.sess.SendMetadata(frame.timestamp, frame.payload)
		case rtmpsession.EventPing:
			err = c.sess.SendPingRequest(frame.timestamp)
		}
		if err != nil {
			_ = c.conn.Close()
			return
		}
	}
}

// enqueue drops the frame instead of blocking when outbox is full,
// matching spec.md §4.1's backpressure policy for slow viewers: a
// saturated outbound queue degrades that one viewer's stream rather
// than stalling the publisher or any other viewer.
func (c *connection) enqueue(frame outboundFrame) (delivered bool) {
	select {
	case c.outbox <- frame:
		return true
	default:
		return false
	}
}
