package nanojpeg

// Bitstream handling

// bitReader reads the entropy-coded segment of a scan.
//
// Bits are kept right-aligned in acc; the low n bits are valid. Once the segment ends
// (a marker or the end of the buffer) the reader appends 1-bits so that lookahead
// always succeeds, and pad counts how many of the n bits are such padding.
type bitReader struct {
	data []byte
	pos  int // Next unread byte in data.
	acc  uint32
	n    int // Number of valid bits in acc.
	pad  int // Number of padding bits at the bottom of acc.
	end  bool
}

// reset positions the reader at data[pos] with an empty accumulator.
func (br *bitReader) reset(data []byte, pos int) {
	*br = bitReader{data: data, pos: pos}
}

// nextByte returns the next data byte of the segment, removing byte stuffing.
// It reports false when the segment has ended, leaving pos at the marker.
func (br *bitReader) nextByte() (byte, bool) {
	if br.end || br.pos >= len(br.data) {
		br.end = true

		return 0, false
	}

	b := br.data[br.pos]
	if b != 0xFF {
		br.pos++

		return b, true
	}

	if br.pos+1 >= len(br.data) {
		// A lone 0xFF at the end of the buffer, the input was cut off.
		br.end = true

		return 0, false
	}

	if br.data[br.pos+1] == 0x00 {
		// Stuffed 0xFF00 is a literal 0xFF.
		br.pos += 2

		return 0xFF, true
	}

	// Marker or fill bytes, stay on the 0xFF so the parser can see it.
	br.end = true

	return 0, false
}

// fill makes sure at least need bits (need <= 16) are available.
func (br *bitReader) fill(need int) {
	for br.n < need {
		b, ok := br.nextByte()
		if !ok {
			b = 0xFF
			br.pad += 8
		}

		br.acc = br.acc<<8 | uint32(b)
		br.n += 8
	}
}

// peek returns the next k bits without consuming them.
func (br *bitReader) peek(k int) uint32 {
	br.fill(k)

	return (br.acc >> uint(br.n-k)) & (1<<uint(k) - 1)
}

// consume drops k bits. Consuming padding means the scan ran out of data.
func (br *bitReader) consume(k int) {
	if k > br.n-br.pad {
		throw(errTruncatedScan)
	}

	br.n -= k
}

// readBits reads and consumes k bits (k <= 16).
func (br *bitReader) readBits(k int) int {
	if k == 0 {
		return 0
	}

	v := br.peek(k)
	br.consume(k)

	return int(v)
}

// readBit reads and consumes a single bit.
func (br *bitReader) readBit() int {
	return br.readBits(1)
}

// receiveExtend reads an s-bit magnitude and sign-extends it.
func (br *bitReader) receiveExtend(s int) int {
	if s == 0 {
		return 0
	}

	v := br.readBits(s)
	if v < 1<<uint(s-1) {
		v += (-1 << uint(s)) + 1
	}

	return v
}

// alignToByte discards the remaining bits of a partially consumed byte.
func (br *bitReader) alignToByte() {
	br.n -= (br.n - br.pad) & 7
}

// markerAt returns the marker code at data[p], skipping fill bytes, and the position
// following it.
func markerAt(data []byte, p int) (code byte, next int, ok bool) {
	if p >= len(data) || data[p] != 0xFF {
		return 0, p, false
	}

	for p+1 < len(data) && data[p+1] == 0xFF {
		p++
	}

	if p+1 >= len(data) || data[p+1] == 0x00 {
		return 0, p, false
	}

	return data[p+1], p + 2, true
}

// atMarker reports the marker the reader is positioned at, if any.
// Only meaningful once the accumulator holds no unread data bytes.
func (br *bitReader) atMarker() (byte, bool) {
	code, _, ok := markerAt(br.data, br.pos)

	return code, ok
}

// readRestart expects the restart marker RSTn at the current byte boundary and
// consumes it. The bit state is cleared.
func (br *bitReader) readRestart(n int) bool {
	br.alignToByte()
	if br.n-br.pad != 0 {
		return false
	}

	code, next, ok := markerAt(br.data, br.pos)
	if !ok || code != 0xD0+byte(n&7) {
		return false
	}

	*br = bitReader{data: br.data, pos: next}

	return true
}
