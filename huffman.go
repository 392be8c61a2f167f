package nanojpeg

import "fmt"

const (
	// lutBits is the number of bits resolved by a single lookup.
	lutBits = 9
	// maxCodeLength is the longest Huffman code JPEG permits.
	maxCodeLength = 16
	// maxNumValues is the maximum number of symbols in one table.
	maxNumValues = 256
)

// huffmanTable is a canonical Huffman decoding table.
type huffmanTable struct {
	defined bool
	// nCodes is the number of codes in the table.
	nCodes int32
	// lut maps the next lutBits bits to (value << 8 | length) for codes of at most
	// lutBits bits. A zero entry means the code is longer.
	lut [1 << lutBits]uint16
	// vals are the decoded values, sorted by their encoding.
	vals [maxNumValues]uint8
	// minCodes[i] is the smallest code of length i+1, or -1 if there are none.
	minCodes [maxCodeLength]int32
	// maxCodes[i] is the largest code of length i+1, or -1 if there are none.
	maxCodes [maxCodeLength]int32
	// valsIndices[i] is the index into vals of minCodes[i].
	valsIndices [maxCodeLength]int32
}

// build constructs the table from the per-length code counts and the symbol values.
func (h *huffmanTable) build(counts *[maxCodeLength]uint8, vals []byte) error {
	var n int
	for _, c := range counts {
		n += int(c)
	}

	if n == 0 || n > maxNumValues || n != len(vals) {
		return fmt.Errorf("bad Huffman table size %d: %w", n, ErrSyntax)
	}

	*h = huffmanTable{}
	h.nCodes = int32(n)
	copy(h.vals[:], vals)

	// Derive the canonical codes, rejecting over-subscribed length counts.
	var code, k int32
	for i := 0; i < maxCodeLength; i++ {
		nc := int32(counts[i])
		if nc == 0 {
			h.minCodes[i] = -1
			h.maxCodes[i] = -1
			h.valsIndices[i] = -1
		} else {
			h.minCodes[i] = code
			h.maxCodes[i] = code + nc - 1
			h.valsIndices[i] = k
			code += nc
			k += nc
		}

		if code > 1<<uint(i+1) {
			return fmt.Errorf("over-subscribed Huffman code lengths: %w", ErrSyntax)
		}

		code <<= 1
	}

	// Fill the lookup table for the short codes.
	code, k = 0, 0
	for i := 0; i < lutBits; i++ {
		shift := uint(lutBits - 1 - i)
		for j := int32(0); j < int32(counts[i]); j++ {
			entry := uint16(h.vals[k])<<8 | uint16(i+1)
			base := code << shift
			for x := int32(0); x < 1<<shift; x++ {
				h.lut[base|x] = entry
			}

			code++
			k++
		}

		code <<= 1
	}

	h.defined = true

	return nil
}

// decodeHuffman decodes one symbol from br.
func (br *bitReader) decodeHuffman(h *huffmanTable) uint8 {
	if e := h.lut[br.peek(lutBits)]; e != 0 {
		br.consume(int(e & 0xFF))

		return uint8(e >> 8)
	}

	var code int32
	for i := 0; i < maxCodeLength; i++ {
		code = code<<1 | int32(br.readBit())
		if code <= h.maxCodes[i] {
			return h.vals[h.valsIndices[i]+code-h.minCodes[i]]
		}
	}

	throw(errBadHuffmanCode)

	return 0
}
