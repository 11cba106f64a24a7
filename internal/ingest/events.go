package ingest

import "github.com/beebs-dev/strim/internal/rtmpsession"

// event is the single type that ever crosses onto the owner
// goroutine's channel. Every field the owner loop reads was produced
// by a connection's own reader goroutine doing the (blocking) work of
// handshake and chunk decode; the owner goroutine itself never blocks
// on I/O, matching spec.md §4.1's scheduling invariant.
type event struct {
	kind      eventKind
	connID    uint64
	conn      *connection
	rtmpEvent *rtmpsession.Event
	cmd       command
	err       error
}

type eventKind int

const (
	eventConnAccepted eventKind = iota
	eventConnMessage
	eventConnClosed
	eventTick
	eventCommand // out-of-band Redis command
)

// command is a parsed out-of-band instruction from the Redis command
// channel (redis.go), dispatched through the same owner loop as RTMP
// events so it never races with connection/channel state.
type command struct {
	action    string // "kill-session" | "close-stream"
	channel   string
	sessionID uint64
}
