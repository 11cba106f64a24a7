package rtmpsession

import "encoding/binary"

// packetHeader mirrors the teacher's RTMPPacketHeader: the decoded
// chunk message header, independent of how many physical chunks it
// took to transmit.
type packetHeader struct {
	timestamp  int64
	format     uint32
	cid        uint32
	packetType uint32
	streamID   uint32
	length     uint32
}

// packet is a fully reassembled RTMP message: header plus payload.
type packet struct {
	header  packetHeader
	payload []byte
}

func chunkBasicHeader(format, cid uint32) []byte {
	switch {
	case cid >= 64+255:
		return []byte{byte(format<<6) | 1, byte(cid-64) & 0xff, byte((cid-64)>>8) & 0xff}
	case cid >= 64:
		return []byte{byte(format << 6), byte(cid-64) & 0xff}
	default:
		return []byte{byte(format<<6) | byte(cid)}
	}
}

func chunkMessageHeader(h packetHeader) []byte {
	var out []byte

	if h.format <= chunkType2 {
		var b [4]byte
		ts := h.timestamp
		if ts >= 0xffffff {
			binary.BigEndian.PutUint32(b[:], 0xffffff)
		} else {
			binary.BigEndian.PutUint32(b[:], uint32(ts))
		}
		out = append(out, b[1:]...)
	}

	if h.format <= chunkType1 {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], h.length)
		out = append(out, b[1:]...)
		out = append(out, byte(h.packetType))
	}

	if h.format == chunkType0 {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], h.streamID)
		out = append(out, b[:]...)
	}

	return out
}

// createChunks serializes p into wire chunks of at most outChunkSize
// payload bytes each, inserting a type-3 continuation header between
// chunks of the same message. Adapted from the teacher's
// RTMPPacket.CreateChunks.
func createChunks(p *packet, outChunkSize int) []byte {
	basic := chunkBasicHeader(p.header.format, p.header.cid)
	basic3 := chunkBasicHeader(chunkType3, p.header.cid)
	msgHeader := chunkMessageHeader(p.header)

	extended := p.header.timestamp >= 0xffffff

	var out []byte
	out = append(out, basic...)
	out = append(out, msgHeader...)
	if extended {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(p.header.timestamp))
		out = append(out, b[:]...)
	}

	payload := p.payload
	for len(payload) > 0 {
		n := outChunkSize
		if n > len(payload) {
			n = len(payload)
		}
		out = append(out, payload[:n]...)
		payload = payload[n:]
		if len(payload) > 0 {
			out = append(out, basic3...)
			if extended {
				var b [4]byte
				binary.BigEndian.PutUint32(b[:], uint32(p.header.timestamp))
				out = append(out, b[:]...)
			}
		}
	}

	return out
}
