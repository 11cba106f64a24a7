// Package rtmpsession is the RTMP chunk/AMF0/handshake codec consumed
// by internal/ingest purely through the event-driven Session surface
// in session.go — spec.md treats the wire codec as out of scope, so
// internal/ingest never reaches into chunk headers or AMF fields
// directly. Adapted from the teacher's rtmp_utils.go/rtmp_packet.go/
// handshake.go/amf0.go/bitop.go.
package rtmpsession

const (
	rtmpVersion         = 3
	rtmpHandshakeSize   = 1536
	maxChunkHeaderBytes = 18

	chunkType0 = 0 // 11 bytes: timestamp(3) + length(3) + type(1) + stream id(4)
	chunkType1 = 1 // 7 bytes: delta(3) + length(3) + type(1)
	chunkType2 = 2 // 3 bytes: delta(3)
	chunkType3 = 3 // 0 bytes

	channelProtocol = 2
	channelInvoke   = 3
	channelAudio    = 4
	channelVideo    = 5
	channelData     = 6

	typeSetChunkSize           = 1
	typeAbort                  = 2
	typeAcknowledgement        = 3
	typeWindowAckSize          = 5
	typeSetPeerBandwidth       = 6
	typeUserControlEvent       = 4
	typeAudio                  = 8
	typeVideo                  = 9
	typeDataAMF0               = 18
	typeSharedObjectAMF0       = 19
	typeInvokeAMF0             = 20

	// DefaultChunkSize is the outbound chunk size before a peer-specific
	// override is negotiated, matching the teacher's RTMP_CHUNK_SIZE.
	DefaultChunkSize = 128

	// PingInterval and PingTimeout mirror the teacher's RTMP_PING_TIME /
	// RTMP_PING_TIMEOUT in milliseconds. internal/ingest does not read
	// them; its keepalive sweep uses its own 60s/30s defaults.
	PingInterval = 60000
	PingTimeout  = 30000

	streamBegin = 0x00
	streamEOF   = 0x01

	// User Control Message event subtypes used for the keepalive
	// exchange: the server sends a PingRequest and expects a matching
	// PingResponse back from the client.
	userControlPingRequest  = 6
	userControlPingResponse = 7
)

var chunkHeaderSizeByType = [4]uint32{11, 7, 3, 0}
