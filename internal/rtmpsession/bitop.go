package rtmpsession

// bitReader reads arbitrary bit-widths out of a byte slice, suited to
// decoding AVC/AAC sequence header internals (profile, level, sample
// rate index). Nothing in the package calls it: keyframe and sequence
// header detection use the fixed byte prefixes in session.go. Ported
// from the teacher's bitop.go.
type bitReader struct {
	buffer []byte
	buflen uint32
	bufpos uint32
	bufoff uint32
}

func newBitReader(buffer []byte) bitReader {
	return bitReader{buffer: buffer, buflen: uint32(len(buffer))}
}

func (b *bitReader) Read(n uint32) uint32 {
	var v, d uint32

	for n > 0 {
		if b.bufpos >= b.buflen {
			return 0
		}

		if b.bufoff+n > 8 {
			d = 8 - b.bufoff
		} else {
			d = n
		}

		v <<= d
		v += uint32((b.buffer[b.bufpos] >> byte(8-b.bufoff-d)) & (0xff >> byte(8-d)))

		b.bufoff += d
		n -= d

		if b.bufoff == 8 {
			b.bufpos++
			b.bufoff = 0
		}
	}

	return v
}

func (b *bitReader) ReadGolomb() uint32 {
	var n uint32
	for b.Read(1) == 0 {
		n++
		if n > 32 {
			return 0
		}
	}
	return (1 << n) + b.Read(n) - 1
}
