package rtmpsession

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"time"
)

// EventKind classifies a decoded RTMP message for internal/ingest's
// owner goroutine. internal/ingest never looks at chunk headers or AMF
// values itself — Session.Next is the entire wire-codec surface it
// consumes, per SPEC_FULL.md §1's "event-driven surface" boundary.
type EventKind int

const (
	EventConnect EventKind = iota
	EventPublish
	EventPlay
	EventDeleteStream
	EventMetadata
	EventVideo
	EventAudio
	EventPing
	EventUnknown
)

// Event is one decoded, classified RTMP message.
type Event struct {
	Kind      EventKind
	App       string
	StreamKey string // channel/key portion of a publish or play request
	Timestamp int64
	Payload   []byte // raw message payload, only set for EventVideo/EventAudio/EventMetadata
	StreamID  uint32
}

// Session wraps one accepted TCP/TLS connection through the RTMP
// handshake and chunk stream, exposing only the classified-event
// surface above. It is not safe for concurrent use — exactly one
// goroutine reads from a Session at a time, matching the owner-loop
// model in SPEC_FULL.md §4.1.
type Session struct {
	conn         net.Conn
	r            *reader
	w            *bufio.Writer
	outChunkSize int
	streamID     uint32
	playApp      string
}

// NewSession wraps conn. Handshake must be called before Next.
func NewSession(conn net.Conn, outChunkSize int) *Session {
	if outChunkSize <= 0 {
		outChunkSize = DefaultChunkSize
	}
	return &Session{
		conn:         conn,
		r:            newReader(conn),
		w:            bufio.NewWriter(conn),
		outChunkSize: outChunkSize,
		streamID:     1,
	}
}

// Handshake performs the server side of the RTMP handshake (C0/C1 in,
// S0/S1/S2 out, C2 in), matching the teacher's generateS0S1S2 flow.
func (s *Session) Handshake(timeout time.Duration) error {
	if timeout > 0 {
		_ = s.conn.SetDeadline(time.Now().Add(timeout))
		defer s.conn.SetDeadline(time.Time{})
	}

	c0c1 := make([]byte, 1+rtmpHandshakeSize)
	if _, err := io.ReadFull(s.conn, c0c1); err != nil {
		return fmt.Errorf("rtmpsession: read C0/C1: %w", err)
	}
	if c0c1[0] != rtmpVersion {
		return fmt.Errorf("rtmpsession: unsupported RTMP version %d", c0c1[0])
	}

	s0s1s2 := generateS0S1S2(c0c1[1:])
	if _, err := s.conn.Write(s0s1s2); err != nil {
		return fmt.Errorf("rtmpsession: write S0/S1/S2: %w", err)
	}

	c2 := make([]byte, rtmpHandshakeSize)
	if _, err := io.ReadFull(s.conn, c2); err != nil {
		return fmt.Errorf("rtmpsession: read C2: %w", err)
	}

	return nil
}

// isVideoKeyframe matches the exact FLV video tag prefix for an AVC
// keyframe: byte 0 == 0x17 (frame type 1 << 4 | codec id 7). This is
// also the prefix an AVC sequence header carries, since a sequence
// header is itself tagged as a keyframe.
func isVideoKeyframe(payload []byte) bool {
	return len(payload) >= 1 && payload[0] == 0x17
}

// isAVCPacketTypeZero matches byte 1 == 0x00, the AVCPacketType that
// marks a sequence header (AVCDecoderConfigurationRecord) rather than
// a NALU.
func isAVCPacketTypeZero(payload []byte) bool {
	return len(payload) >= 2 && payload[1] == 0
}

// IsVideoSequenceHeader reports whether payload is an AVC sequence
// header (the first video packet a new viewer must always receive):
// byte 0 == 0x17, byte 1 == 0x00.
func IsVideoSequenceHeader(payload []byte) bool {
	return isVideoKeyframe(payload) && isAVCPacketTypeZero(payload)
}

// IsAudioSequenceHeader reports whether payload is an AAC sequence
// header: byte 0 == 0xAF (soundformat 10 AAC << 4 | rest), byte 1 ==
// 0x00 (AACPacketType sequence header).
func IsAudioSequenceHeader(payload []byte) bool {
	return len(payload) >= 2 && payload[0] == 0xAF && payload[1] == 0
}

// IsVideoKeyframe reports whether payload carries the AVC keyframe
// prefix (byte 0 == 0x17). It also returns true for an AVC sequence
// header, which carries the same prefix.
func IsVideoKeyframe(payload []byte) bool {
	return isVideoKeyframe(payload)
}

// Next blocks until the next classifiable message arrives and returns
// it. Protocol-control messages (set chunk size, window ack size, peer
// bandwidth, acknowledgement, abort) are consumed transparently and
// never surfaced as events; a User Control PingResponse is surfaced as
// EventPing, and other user control events are skipped.
func (s *Session) Next() (*Event, error) {
	for {
		msg, err := s.r.ReadMessage()
		if err != nil {
			return nil, err
		}

		switch msg.header.packetType {
		case typeInvokeAMF0:
			ev, ok, err := s.decodeCommand(msg)
			if err != nil {
				return nil, err
			}
			if ok {
				return ev, nil
			}
			// Unrecognized command (e.g. FCUnpublish): keep reading.
			continue
		case typeVideo:
			return &Event{Kind: EventVideo, Timestamp: msg.header.timestamp, Payload: msg.payload, StreamID: msg.header.streamID}, nil
		case typeAudio:
			return &Event{Kind: EventAudio, Timestamp: msg.header.timestamp, Payload: msg.payload, StreamID: msg.header.streamID}, nil
		case typeDataAMF0:
			return &Event{Kind: EventMetadata, Timestamp: msg.header.timestamp, Payload: msg.payload, StreamID: msg.header.streamID}, nil
		case typeUserControlEvent:
			if len(msg.payload) >= 2 && msg.payload[0] == 0 && msg.payload[1] == userControlPingResponse {
				return &Event{Kind: EventPing, Timestamp: msg.header.timestamp}, nil
			}
			continue
		case typeSetChunkSize, typeWindowAckSize, typeSetPeerBandwidth, typeAcknowledgement, typeAbort:
			continue
		default:
			continue
		}
	}
}

func (s *Session) decodeCommand(msg *packet) (*Event, bool, error) {
	values, err := DecodeAMF0Sequence(msg.payload)
	if err != nil || len(values) == 0 {
		return nil, false, nil
	}

	name, _ := values[0].(string)

	switch name {
	case "connect":
		app := ""
		if len(values) > 2 {
			if obj, ok := values[2].(map[string]AMF0Value); ok {
				if a, ok := obj["app"].(string); ok {
					app = a
				}
			}
		}
		return &Event{Kind: EventConnect, App: app}, true, nil
	case "publish":
		key := ""
		if len(values) > 3 {
			if k, ok := values[3].(string); ok {
				key = k
			}
		}
		return &Event{Kind: EventPublish, StreamKey: key, StreamID: msg.header.streamID}, true, nil
	case "play":
		key := ""
		if len(values) > 3 {
			if k, ok := values[3].(string); ok {
				key = k
			}
		}
		return &Event{Kind: EventPlay, StreamKey: key, StreamID: msg.header.streamID}, true, nil
	case "deleteStream", "closeStream", "FCUnpublish":
		return &Event{Kind: EventDeleteStream, StreamID: msg.header.streamID}, true, nil
	default:
		return nil, false, nil
	}
}

func (s *Session) writePacket(p *packet) error {
	_, err := s.w.Write(createChunks(p, s.outChunkSize))
	if err != nil {
		return err
	}
	return s.w.Flush()
}

// SendWindowAckSize sends the protocol control message announcing the
// server's window acknowledgement size.
func (s *Session) SendWindowAckSize(size uint32) error {
	payload := make([]byte, 4)
	putBE32(payload, size)
	return s.writePacket(&packet{header: packetHeader{format: chunkType0, cid: channelProtocol, packetType: typeWindowAckSize, length: 4}, payload: payload})
}

// SendSetPeerBandwidth sends the protocol control message capping the
// peer's send bandwidth.
func (s *Session) SendSetPeerBandwidth(size uint32, limitType byte) error {
	payload := make([]byte, 5)
	putBE32(payload, size)
	payload[4] = limitType
	return s.writePacket(&packet{header: packetHeader{format: chunkType0, cid: channelProtocol, packetType: typeSetPeerBandwidth, length: 5}, payload: payload})
}

// SendStreamBegin announces stream 1 is ready via a User Control
// Message (event type streamBegin).
func (s *Session) SendStreamBegin() error {
	payload := make([]byte, 6)
	payload[1] = streamBegin
	putBE32(payload[2:], 1)
	return s.writePacket(&packet{header: packetHeader{format: chunkType0, cid: channelProtocol, packetType: typeUserControlEvent, length: 6}, payload: payload})
}

// SendCommandResult replies to a connect/publish/play invoke with a
// bare _result/onStatus command carrying the given AMF0 info object.
func (s *Session) SendCommandResult(command string, transactionID float64, info map[string]rtmpsessionAMF0) error {
	payload := EncodeAMF0String(command)
	payload = append(payload, EncodeAMF0Number(transactionID)...)
	payload = append(payload, EncodeAMF0Null()...)
	fields := map[string]AMF0Value{}
	for k, v := range info {
		fields[k] = AMF0Value(v)
	}
	payload = append(payload, EncodeAMF0Object(fields)...)

	return s.writePacket(&packet{
		header:  packetHeader{format: chunkType0, cid: channelInvoke, packetType: typeInvokeAMF0, length: uint32(len(payload))},
		payload: payload,
	})
}

// rtmpsessionAMF0 is a package-local alias of the exported AMF0Value,
// used in SendCommandResult's signature.
type rtmpsessionAMF0 = AMF0Value

// SendMedia forwards a previously received video/audio payload
// verbatim to this viewer, preserving its original timestamp.
func (s *Session) SendMedia(kind EventKind, timestamp int64, payload []byte) error {
	var cid, packetType uint32
	switch kind {
	case EventVideo:
		cid, packetType = channelVideo, typeVideo
	case EventAudio:
		cid, packetType = channelAudio, typeAudio
	default:
		return fmt.Errorf("rtmpsession: SendMedia called with non-media kind %d", kind)
	}

	return s.writePacket(&packet{
		header: packetHeader{
			format:     chunkType0,
			cid:        cid,
			packetType: packetType,
			streamID:   s.streamID,
			timestamp:  timestamp,
			length:     uint32(len(payload)),
		},
		payload: payload,
	})
}

// SendPingRequest sends a User Control Message PingRequest carrying
// timestampMillis, the server half of the keepalive exchange
// internal/ingest's ticker drives. A well-behaved client answers with
// a PingResponse carrying the same timestamp, surfaced to Next's
// caller as EventPing.
func (s *Session) SendPingRequest(timestampMillis int64) error {
	payload := make([]byte, 6)
	payload[1] = userControlPingRequest
	putBE32(payload[2:], uint32(timestampMillis))
	return s.writePacket(&packet{
		header:  packetHeader{format: chunkType0, cid: channelProtocol, packetType: typeUserControlEvent, length: 6},
		payload: payload,
	})
}

// SendMetadata forwards an onMetaData AMF0 data message verbatim.
func (s *Session) SendMetadata(timestamp int64, payload []byte) error {
	return s.writePacket(&packet{
		header: packetHeader{
			format:     chunkType0,
			cid:        channelData,
			packetType: typeDataAMF0,
			streamID:   s.streamID,
			timestamp:  timestamp,
			length:     uint32(len(payload)),
		},
		payload: payload,
	})
}

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}
