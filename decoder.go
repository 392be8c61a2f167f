package nanojpeg

import (
	"fmt"
)

// Markers.
const (
	markerSOF0 = 0xC0
	markerSOF1 = 0xC1
	markerSOF2 = 0xC2
	markerDHT  = 0xC4
	markerJPG  = 0xC8
	markerDAC  = 0xCC
	markerRST0 = 0xD0
	markerRST7 = 0xD7
	markerSOI  = 0xD8
	markerEOI  = 0xD9
	markerSOS  = 0xDA
	markerDQT  = 0xDB
	markerDNL  = 0xDC
	markerDRI  = 0xDD
	markerAPP0 = 0xE0
	markerAPPF = 0xEF
	markerCOM  = 0xFE
)

// State is the position of a decoder in the decoding pipeline.
type State int

const (
	StateIdle State = iota
	StateParsingHeaders
	StateReadingTables
	StateDecodingScan
	StateReconstructing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateParsingHeaders:
		return "parsing headers"
	case StateReadingTables:
		return "reading tables"
	case StateDecodingScan:
		return "decoding scan"
	case StateReconstructing:
		return "reconstructing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// component stores information about a single color component (Y, Cb or Cr).
type component struct {
	id                 int    // Component identifier.
	ssX, ssY           int    // Sampling factors.
	width, height      int    // Dimensions of this component in pixels.
	stride             int    // The number of bytes from one row of pixels to the next.
	qtSel              int    // Quantization table selector.
	acTabSel, dcTabSel int    // Huffman table selectors for AC and DC coefficients.
	dcPred             int    // DC prediction value for differential coding.
	pixels             []byte // Decoded samples of this component.
}

// decoder holds the state of the JPEG decoding process.
type decoder struct {
	data              []byte
	pos               int // Current position in data.
	length            int // Remaining payload of the current marker segment.
	width, height     int
	mbWidth, mbHeight int // Dimensions of the image in MCUs.
	mbSizeX, mbSizeY  int // Dimensions of a single MCU in pixels.
	ssxMax, ssyMax    int
	ncomp             int
	comp              [3]component
	sofSeen           bool
	qtAvail           int // Bitmask of defined quantization tables.
	qtab              [4][64]int32
	huff              [2][4]huffmanTable // Indexed by class (DC, AC) and id.
	rstInterval       int
	br                bitReader
	block             [64]int32
	pixels            []byte
	status            Status
	state             State

	// Configuration, kept across resets.
	layout         Layout
	upsampleMethod UpsampleMethod
	alloc          Allocator
}

// errDecode is used for internal panics during the hot decoding path.
type errDecode struct{ error }

var (
	errTruncatedScan  = fmt.Errorf("entropy-coded data ended early: %w", ErrSyntax)
	errBadHuffmanCode = fmt.Errorf("invalid Huffman code: %w", ErrSyntax)
	errUnexpectedEnd  = fmt.Errorf("unexpected end of data: %w", ErrSyntax)
)

// throw signals a decoding error from the hot path. It is recovered in decodeScan.
func throw(err error) {
	panic(errDecode{err})
}

// newDecoder creates a new decoder instance.
func newDecoder() *decoder {
	return new(decoder)
}

// reset clears the decoder state for reuse, preserving the configuration.
func (d *decoder) reset() {
	layout, method, alloc := d.layout, d.upsampleMethod, d.alloc

	// Zero the struct. This drops references to the input and the planes.
	*d = decoder{}

	d.layout, d.upsampleMethod, d.alloc = layout, method, alloc
}

// fail drops partial results and marks the decoder as failed.
func (d *decoder) fail() {
	d.reset()
	d.state = StateFailed
}

// zz is the zigzag ordering table. It maps the 1D order of coefficients in the JPEG stream to their 2D position in an 8x8 block.
var zz = [64]int{
	0, 1, 8, 16, 9, 2, 3, 10, 17, 24, 32, 25, 18,
	11, 4, 5, 12, 19, 26, 33, 40, 48, 41, 34, 27, 20, 13, 6, 7, 14, 21, 28, 35,
	42, 49, 56, 57, 50, 43, 36, 29, 22, 15, 23, 30, 37, 44, 51, 58, 59, 52, 45,
	38, 31, 39, 46, 53, 60, 61, 54, 47, 55, 62, 63,
}

// clip clamps an int32 value to the valid 8-bit pixel range [0, 255].
func clip(x int32) byte {
	if x < 0 {
		return 0
	}

	if x > 255 {
		return 255
	}

	return byte(x)
}

// remaining returns the number of unread bytes.
func (d *decoder) remaining() int {
	return len(d.data) - d.pos
}

// skip advances the current position by count bytes within the current segment.
func (d *decoder) skip(count int) error {
	if count > d.remaining() {
		return errUnexpectedEnd
	}

	d.pos += count
	if d.length >= count {
		d.length -= count
	} else {
		d.length = 0
	}

	return nil
}

// decode16 reads a 16-bit big-endian integer from the specified offset.
func (d *decoder) decode16(offset int) int {
	p := d.pos + offset

	return (int(d.data[p]) << 8) | int(d.data[p+1])
}

// decodeLength reads the 16-bit length field of a marker segment.
// Afterwards d.length holds the size of the remaining payload, which is
// guaranteed to lie inside the buffer.
func (d *decoder) decodeLength() error {
	if d.remaining() < 2 {
		return errUnexpectedEnd
	}

	d.length = d.decode16(0)
	if d.length < 2 {
		return fmt.Errorf("segment length %d: %w", d.length, ErrSyntax)
	}

	if d.length > d.remaining() {
		return errUnexpectedEnd
	}

	return d.skip(2)
}

// skipMarker reads the length of the current marker's payload and skips it.
func (d *decoder) skipMarker() error {
	if err := d.decodeLength(); err != nil {
		return err
	}

	return d.skip(d.length)
}

// nextMarker reads the next marker, skipping 0xFF fill bytes.
func (d *decoder) nextMarker() (byte, error) {
	if d.remaining() < 2 {
		return 0, errUnexpectedEnd
	}

	if d.data[d.pos] != 0xFF {
		return 0, fmt.Errorf("expected marker, found 0x%02x: %w", d.data[d.pos], ErrSyntax)
	}

	code, next, ok := markerAt(d.data, d.pos)
	if !ok {
		if next+1 >= len(d.data) {
			return 0, errUnexpectedEnd
		}

		return 0, fmt.Errorf("stuffed byte outside of a scan: %w", ErrSyntax)
	}

	d.pos = next

	return code, nil
}

// Marker Decoders

// decodeSOF decodes the baseline Start of Frame segment. It extracts image dimensions,
// number of components, and component-specific information like sampling factors.
// If configOnly is true, it doesn't allocate memory for pixel data.
func (d *decoder) decodeSOF(configOnly bool) error {
	if d.sofSeen {
		return fmt.Errorf("multiple frame headers: %w", ErrSyntax)
	}

	if err := d.decodeLength(); err != nil {
		return err
	}

	if d.length < 6 {
		return fmt.Errorf("short frame header: %w", ErrSyntax)
	}

	if d.data[d.pos] != 8 {
		return fmt.Errorf("%d-bit precision: %w", d.data[d.pos], ErrUnsupported)
	}

	d.height = d.decode16(1)
	d.width = d.decode16(3)
	if d.width == 0 || d.height == 0 {
		return fmt.Errorf("image size %dx%d: %w", d.width, d.height, ErrUnsupported)
	}

	d.ncomp = int(d.data[d.pos+5])
	if err := d.skip(6); err != nil {
		return err
	}

	switch d.ncomp {
	case 1, 3: // Grayscale or YCbCr
	default:
		return fmt.Errorf("%d components: %w", d.ncomp, ErrUnsupported)
	}

	if d.length < d.ncomp*3 {
		return fmt.Errorf("short frame header: %w", ErrSyntax)
	}

	d.ssxMax, d.ssyMax = 0, 0
	for i := 0; i < d.ncomp; i++ {
		c := &d.comp[i]
		c.id = int(d.data[d.pos])

		c.ssX = int(d.data[d.pos+1]) >> 4
		c.ssY = int(d.data[d.pos+1]) & 15
		if c.ssX == 0 || c.ssY == 0 {
			return fmt.Errorf("zero sampling factor: %w", ErrSyntax)
		}

		// Sampling factors must be 1, 2 or 4.
		if c.ssX&(c.ssX-1) != 0 || c.ssY&(c.ssY-1) != 0 {
			return fmt.Errorf("sampling factor %dx%d: %w", c.ssX, c.ssY, ErrUnsupported)
		}

		c.qtSel = int(d.data[d.pos+2])
		if c.qtSel&0xFC != 0 {
			return fmt.Errorf("quantization table selector %d: %w", c.qtSel, ErrSyntax)
		}

		if err := d.skip(3); err != nil {
			return err
		}

		d.ssxMax = max(d.ssxMax, c.ssX)
		d.ssyMax = max(d.ssyMax, c.ssY)
	}

	if d.ncomp == 1 {
		c := &d.comp[0]
		c.ssX, c.ssY = 1, 1
		d.ssxMax, d.ssyMax = 1, 1
	}

	// Calculate MCU dimensions and image dimensions in MCUs.
	d.mbSizeX = d.ssxMax << 3
	d.mbSizeY = d.ssyMax << 3
	d.mbWidth = (d.width + d.mbSizeX - 1) / d.mbSizeX
	d.mbHeight = (d.height + d.mbSizeY - 1) / d.mbSizeY

	for i := 0; i < d.ncomp; i++ {
		c := &d.comp[i]
		c.width = (d.width*c.ssX + d.ssxMax - 1) / d.ssxMax
		c.height = (d.height*c.ssY + d.ssyMax - 1) / d.ssyMax
		c.stride = d.mbWidth * c.ssX << 3

		if d.upsampleMethod == CatmullRom &&
			((c.width < 3 && c.ssX != d.ssxMax) || (c.height < 3 && c.ssY != d.ssyMax)) {
			return fmt.Errorf("plane %dx%d too small for smooth upsampling: %w", c.width, c.height, ErrUnsupported)
		}
	}

	d.sofSeen = true

	if !configOnly {
		if err := d.allocate(); err != nil {
			return err
		}
	}

	return d.skip(d.length)
}

// allocate reserves the component planes and the output buffer.
func (d *decoder) allocate() error {
	for i := 0; i < d.ncomp; i++ {
		c := &d.comp[i]

		size := c.stride * (d.mbHeight * c.ssY << 3)
		if size <= 0 {
			return ErrOutOfMemory
		}

		pixels, err := d.alloc.Alloc(size)
		if err != nil {
			return err
		}

		c.pixels = pixels
	}

	size := d.width * d.height * d.layout.bytesPerPixel(d.ncomp)
	if size <= 0 {
		return ErrOutOfMemory
	}

	pixels, err := d.alloc.Alloc(size)
	if err != nil {
		return err
	}

	d.pixels = pixels

	return nil
}

// decodeDHT decodes the Define Huffman Table segment.
func (d *decoder) decodeDHT() error {
	var counts [maxCodeLength]uint8
	if err := d.decodeLength(); err != nil {
		return err
	}

	for d.length >= 17 {
		tc := int(d.data[d.pos] >> 4)
		th := int(d.data[d.pos] & 0x0F)
		if tc > 1 || th > 3 {
			return fmt.Errorf("Huffman table class %d id %d: %w", tc, th, ErrSyntax)
		}

		copy(counts[:], d.data[d.pos+1:d.pos+17])
		if err := d.skip(17); err != nil {
			return err
		}

		var n int
		for _, num := range counts {
			n += int(num)
		}

		if n > d.length {
			return fmt.Errorf("Huffman table exceeds its segment: %w", ErrSyntax)
		}

		if err := d.huff[tc][th].build(&counts, d.data[d.pos:d.pos+n]); err != nil {
			return err
		}

		if err := d.skip(n); err != nil {
			return err
		}
	}

	if d.length != 0 {
		return fmt.Errorf("%d trailing bytes in DHT: %w", d.length, ErrSyntax)
	}

	return nil
}

// decodeDQT decodes the Define Quantization Table segment.
func (d *decoder) decodeDQT() error {
	if err := d.decodeLength(); err != nil {
		return err
	}

	for d.length >= 1 {
		pq := int(d.data[d.pos] >> 4)
		tq := int(d.data[d.pos] & 0x0F)
		if pq != 0 {
			return fmt.Errorf("16-bit quantization table: %w", ErrUnsupported)
		}

		if tq > 3 {
			return fmt.Errorf("quantization table id %d: %w", tq, ErrSyntax)
		}

		if d.length < 65 {
			break
		}

		t := &d.qtab[tq]
		for j := 0; j < 64; j++ {
			t[j] = int32(d.data[d.pos+j+1])
		}

		d.qtAvail |= 1 << tq

		if err := d.skip(65); err != nil {
			return err
		}
	}

	if d.length != 0 {
		return fmt.Errorf("%d trailing bytes in DQT: %w", d.length, ErrSyntax)
	}

	return nil
}

// decodeDRI decodes the Define Restart Interval segment.
func (d *decoder) decodeDRI() error {
	if err := d.decodeLength(); err != nil {
		return err
	}

	if d.length < 2 {
		return fmt.Errorf("short DRI segment: %w", ErrSyntax)
	}

	d.rstInterval = d.decode16(0)

	return d.skip(d.length)
}

// decodeSOS decodes the Start of Scan header and validates it against the frame.
func (d *decoder) decodeSOS() error {
	if err := d.decodeLength(); err != nil {
		return err
	}

	if d.length < 1 {
		return fmt.Errorf("short scan header: %w", ErrSyntax)
	}

	if int(d.data[d.pos]) != d.ncomp {
		return fmt.Errorf("scan with %d of %d components: %w", d.data[d.pos], d.ncomp, ErrUnsupported)
	}

	if d.length < 4+2*d.ncomp {
		return fmt.Errorf("short scan header: %w", ErrSyntax)
	}

	if err := d.skip(1); err != nil {
		return err
	}

	for i := 0; i < d.ncomp; i++ {
		c := &d.comp[i]
		if int(d.data[d.pos]) != c.id {
			return fmt.Errorf("scan component %d out of frame order: %w", d.data[d.pos], ErrSyntax)
		}

		c.dcTabSel = int(d.data[d.pos+1]) >> 4
		c.acTabSel = int(d.data[d.pos+1]) & 0x0F
		if c.dcTabSel > 3 || c.acTabSel > 3 {
			return fmt.Errorf("Huffman table selector: %w", ErrSyntax)
		}

		if err := d.skip(2); err != nil {
			return err
		}
	}

	// Baseline scans cover the whole spectrum without successive approximation.
	if d.data[d.pos] != 0 || d.data[d.pos+1] != 63 || d.data[d.pos+2] != 0 {
		return fmt.Errorf("spectral selection or successive approximation: %w", ErrUnsupported)
	}

	for i := 0; i < d.ncomp; i++ {
		c := &d.comp[i]
		if d.qtAvail&(1<<c.qtSel) == 0 {
			return fmt.Errorf("quantization table %d not defined: %w", c.qtSel, ErrSyntax)
		}

		if !d.huff[0][c.dcTabSel].defined || !d.huff[1][c.acTabSel].defined {
			return fmt.Errorf("Huffman table not defined for component %d: %w", c.id, ErrSyntax)
		}
	}

	return d.skip(d.length)
}

// finishScan looks for the marker that follows the entropy-coded data.
func (d *decoder) finishScan() {
	d.status = StatusMissingEOI

	if code, ok := d.br.atMarker(); ok {
		if code == markerEOI {
			d.status = StatusComplete
		}

		return
	}

	for p := d.br.pos; p+1 < len(d.data); p++ {
		if d.data[p] != 0xFF {
			continue
		}

		if code, _, ok := markerAt(d.data, p); ok {
			if code == markerEOI {
				d.status = StatusComplete
			}

			return
		}
	}
}

// decode parses the JPEG stream in data, decodes the scan data and reconstructs the
// output pixels. If configOnly is true, it stops after reading the frame header.
func (d *decoder) decode(data []byte, configOnly bool) (err error) {
	d.data = data
	d.pos = 0
	d.state = StateParsingHeaders

	defer func() {
		if err != nil {
			d.state = StateFailed
		}
	}()

	// Check for SOI (Start of Image) marker.
	if len(data) < 2 || data[0] != 0xFF || data[1] != markerSOI {
		return ErrNoJPEG
	}

	d.pos = 2

	if !configOnly {
		d.alloc.Reset()
	}

	for {
		marker, err := d.nextMarker()
		if err != nil {
			return err
		}

		switch {
		case marker == markerSOF0:
			if err := d.decodeSOF(configOnly); err != nil {
				return err
			}

			if configOnly {
				return nil
			}

			d.state = StateReadingTables
		case marker == markerDHT:
			if err := d.decodeDHT(); err != nil {
				return err
			}
		case marker == markerDQT:
			if err := d.decodeDQT(); err != nil {
				return err
			}
		case marker == markerDRI:
			if err := d.decodeDRI(); err != nil {
				return err
			}
		case marker == markerSOS:
			if !d.sofSeen {
				return fmt.Errorf("scan before frame header: %w", ErrSyntax)
			}

			if err := d.decodeSOS(); err != nil {
				return err
			}

			d.state = StateDecodingScan
			if err := d.decodeScan(); err != nil {
				return err
			}

			d.finishScan()

			d.state = StateReconstructing
			if err := d.reconstruct(); err != nil {
				return err
			}

			d.state = StateDone

			return nil
		case marker >= markerAPP0 && marker <= markerAPPF, marker == markerCOM:
			if err := d.skipMarker(); err != nil {
				return err
			}
		case marker >= markerRST0 && marker <= markerRST7:
			// Restart markers outside of a scan carry no data.
		case marker == markerSOI, marker == markerEOI:
			return fmt.Errorf("marker 0x%02x before the scan: %w", marker, ErrSyntax)
		default:
			// Other frame types (progressive, lossless, arithmetic), DAC, DNL, DHP, EXP, JPG.
			return fmt.Errorf("marker 0x%02x: %w", marker, ErrUnsupported)
		}
	}
}

// reconstruct upsamples the chroma planes and converts the image into the output layout.
func (d *decoder) reconstruct() error {
	if err := d.upsample(); err != nil {
		return err
	}

	return d.convert()
}
