package rtmpsession

import (
	"encoding/binary"
	"fmt"
	"io"
)

// chunkStreamState tracks the last-seen header and partially
// assembled payload for one chunk stream id (cid), since types 1-3
// only carry a delta against the previous chunk on the same cid.
type chunkStreamState struct {
	header       packetHeader
	payload      []byte
	extendedTS   bool
}

// reader pulls complete RTMP messages off a byte stream, handling the
// basic-header/message-header/extended-timestamp/payload state machine
// the teacher implements inline in rtmp_session_utils.go.
type reader struct {
	r          io.Reader
	chunkSize  uint32
	states     map[uint32]*chunkStreamState
}

func newReader(r io.Reader) *reader {
	return &reader{r: r, chunkSize: DefaultChunkSize, states: map[uint32]*chunkStreamState{}}
}

func (r *reader) readFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	_, err := io.ReadFull(r.r, buf)
	return buf, err
}

// readBasicHeader decodes the 1-3 byte basic header, returning the
// chunk format (fmt) and channel id.
func (r *reader) readBasicHeader() (uint32, uint32, error) {
	b, err := r.readFull(1)
	if err != nil {
		return 0, 0, err
	}

	format := uint32(b[0]>>6) & 0x03
	cid := uint32(b[0]) & 0x3f

	switch cid {
	case 0:
		b2, err := r.readFull(1)
		if err != nil {
			return 0, 0, err
		}
		return format, uint32(b2[0]) + 64, nil
	case 1:
		b2, err := r.readFull(2)
		if err != nil {
			return 0, 0, err
		}
		return format, uint32(b2[0]) + uint32(b2[1])<<8 + 64, nil
	default:
		return format, cid, nil
	}
}

// ReadMessage blocks until a complete RTMP message is reassembled from
// one or more chunks and returns it.
func (r *reader) ReadMessage() (*packet, error) {
	for {
		format, cid, err := r.readBasicHeader()
		if err != nil {
			return nil, err
		}

		state := r.states[cid]
		if state == nil {
			state = &chunkStreamState{}
			r.states[cid] = state
		}

		header := state.header
		header.cid = cid
		header.format = format

		headerSize := chunkHeaderSizeByType[format]
		if headerSize > 0 {
			b, err := r.readFull(int(headerSize))
			if err != nil {
				return nil, err
			}
			switch format {
			case chunkType0:
				header.timestamp = int64(uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]))
				header.length = uint32(b[3])<<16 | uint32(b[4])<<8 | uint32(b[5])
				header.packetType = uint32(b[6])
				header.streamID = binary.LittleEndian.Uint32(b[7:11])
			case chunkType1:
				delta := int64(uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]))
				header.timestamp = state.header.timestamp + delta
				header.length = uint32(b[3])<<16 | uint32(b[4])<<8 | uint32(b[5])
				header.packetType = uint32(b[6])
			case chunkType2:
				delta := int64(uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]))
				header.timestamp = state.header.timestamp + delta
			}
		}

		if header.timestamp >= 0xffffff {
			b, err := r.readFull(4)
			if err != nil {
				return nil, err
			}
			header.timestamp = int64(binary.BigEndian.Uint32(b))
		}

		remaining := int(header.length) - len(state.payload)
		if remaining < 0 {
			remaining = 0
		}
		toRead := remaining
		if toRead > int(r.chunkSize) {
			toRead = int(r.chunkSize)
		}

		chunk, err := r.readFull(toRead)
		if err != nil {
			return nil, err
		}
		state.payload = append(state.payload, chunk...)
		state.header = header

		if uint32(len(state.payload)) >= header.length {
			finished := &packet{header: header, payload: state.payload}
			state.payload = nil

			if header.packetType == typeSetChunkSize {
				if len(finished.payload) >= 4 {
					r.chunkSize = binary.BigEndian.Uint32(finished.payload[:4])
				}
			}

			return finished, nil
		}
	}
}

var errShortPacket = fmt.Errorf("rtmpsession: packet too short")
