package nanojpeg

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"math/bits"
	"testing"
)

// Standard luminance Huffman tables (ITU T.81, Annex K.3).
var (
	stdDCCounts = [16]byte{0, 1, 5, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0, 0, 0, 0}
	stdDCValues = []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}

	stdACCounts = [16]byte{0, 2, 1, 3, 3, 2, 4, 3, 5, 5, 4, 4, 0, 0, 1, 0x7d}
	stdACValues = []byte{
		0x01, 0x02, 0x03, 0x00, 0x04, 0x11, 0x05, 0x12, 0x21, 0x31, 0x41, 0x06, 0x13, 0x51, 0x61, 0x07,
		0x22, 0x71, 0x14, 0x32, 0x81, 0x91, 0xa1, 0x08, 0x23, 0x42, 0xb1, 0xc1, 0x15, 0x52, 0xd1, 0xf0,
		0x24, 0x33, 0x62, 0x72, 0x82, 0x09, 0x0a, 0x16, 0x17, 0x18, 0x19, 0x1a, 0x25, 0x26, 0x27, 0x28,
		0x29, 0x2a, 0x34, 0x35, 0x36, 0x37, 0x38, 0x39, 0x3a, 0x43, 0x44, 0x45, 0x46, 0x47, 0x48, 0x49,
		0x4a, 0x53, 0x54, 0x55, 0x56, 0x57, 0x58, 0x59, 0x5a, 0x63, 0x64, 0x65, 0x66, 0x67, 0x68, 0x69,
		0x6a, 0x73, 0x74, 0x75, 0x76, 0x77, 0x78, 0x79, 0x7a, 0x83, 0x84, 0x85, 0x86, 0x87, 0x88, 0x89,
		0x8a, 0x92, 0x93, 0x94, 0x95, 0x96, 0x97, 0x98, 0x99, 0x9a, 0xa2, 0xa3, 0xa4, 0xa5, 0xa6, 0xa7,
		0xa8, 0xa9, 0xaa, 0xb2, 0xb3, 0xb4, 0xb5, 0xb6, 0xb7, 0xb8, 0xb9, 0xba, 0xc2, 0xc3, 0xc4, 0xc5,
		0xc6, 0xc7, 0xc8, 0xc9, 0xca, 0xd2, 0xd3, 0xd4, 0xd5, 0xd6, 0xd7, 0xd8, 0xd9, 0xda, 0xe1, 0xe2,
		0xe3, 0xe4, 0xe5, 0xe6, 0xe7, 0xe8, 0xe9, 0xea, 0xf1, 0xf2, 0xf3, 0xf4, 0xf5, 0xf6, 0xf7, 0xf8,
		0xf9, 0xfa,
	}
)

// A small tolerance is needed to account for differences in color conversion.
const defaultTolerance = 2

// isClose checks if two color component values are within the allowed tolerance.
func isClose(a, b, tol uint8) bool {
	if a > b {
		return a-b <= tol
	}

	return b-a <= tol
}

// bitWriter packs entropy-coded bits MSB first and stuffs 0xFF bytes.
type bitWriter struct {
	buf []byte
	acc uint32
	n   int
}

func (w *bitWriter) write(code uint32, size int) {
	for i := size - 1; i >= 0; i-- {
		w.acc = w.acc<<1 | (code>>uint(i))&1
		w.n++

		if w.n == 8 {
			b := byte(w.acc)
			w.buf = append(w.buf, b)
			if b == 0xFF {
				w.buf = append(w.buf, 0x00)
			}

			w.acc, w.n = 0, 0
		}
	}
}

// flush pads the last partial byte with 1-bits.
func (w *bitWriter) flush() {
	for w.n != 0 {
		w.write(1, 1)
	}
}

type huffCode struct {
	code uint32
	size int
}

// huffEncoder maps symbols to canonical codes.
type huffEncoder map[byte]huffCode

func newHuffEncoder(counts [16]byte, values []byte) huffEncoder {
	enc := huffEncoder{}

	var code uint32
	k := 0
	for l := 1; l <= 16; l++ {
		for i := 0; i < int(counts[l-1]); i++ {
			enc[values[k]] = huffCode{code: code, size: l}
			code++
			k++
		}

		code <<= 1
	}

	return enc
}

func (w *bitWriter) symbol(enc huffEncoder, sym byte) {
	c, ok := enc[sym]
	if !ok {
		panic("symbol not in table")
	}

	w.write(c.code, c.size)
}

// magnitude returns the JPEG size category of v and its additional bits.
func magnitude(v int32) (int, uint32) {
	a := v
	if a < 0 {
		a = -a
	}

	s := bits.Len32(uint32(a))
	if v < 0 {
		v--
	}

	return s, uint32(v) & (1<<uint(s) - 1)
}

// testComponent describes a frame component of a synthetic image.
type testComponent struct {
	h, v int
}

// testImage is a synthetic baseline JPEG built from quantized coefficients.
type testImage struct {
	width, height int
	comps         []testComponent
	restart       int
	// qt is used for every component. Zero entries are written as 1.
	qt [64]byte
	// coef returns the zig-zag ordered, quantized coefficients of block (bx, by)
	// of component ci.
	coef    func(ci, bx, by int) [64]int32
	omitEOI bool
}

func segment(out []byte, marker byte, payload []byte) []byte {
	n := len(payload) + 2
	out = append(out, 0xFF, marker, byte(n>>8), byte(n))

	return append(out, payload...)
}

// encode writes the image as an interchange-format JPEG stream.
func (ti *testImage) encode() []byte {
	out := []byte{0xFF, 0xD8}

	dqt := []byte{0x00}
	for _, q := range ti.qt {
		if q == 0 {
			q = 1
		}

		dqt = append(dqt, q)
	}

	out = segment(out, markerDQT, dqt)

	hmax, vmax := 1, 1
	for _, c := range ti.comps {
		hmax = max(hmax, c.h)
		vmax = max(vmax, c.v)
	}

	sof := []byte{8, byte(ti.height >> 8), byte(ti.height), byte(ti.width >> 8), byte(ti.width), byte(len(ti.comps))}
	for i, c := range ti.comps {
		sof = append(sof, byte(i+1), byte(c.h<<4|c.v), 0)
	}

	out = segment(out, markerSOF0, sof)

	dht := append([]byte{0x00}, stdDCCounts[:]...)
	dht = append(dht, stdDCValues...)
	dht = append(dht, 0x10)
	dht = append(dht, stdACCounts[:]...)
	dht = append(dht, stdACValues...)
	out = segment(out, markerDHT, dht)

	if ti.restart > 0 {
		out = segment(out, markerDRI, []byte{byte(ti.restart >> 8), byte(ti.restart)})
	}

	sos := []byte{byte(len(ti.comps))}
	for i := range ti.comps {
		sos = append(sos, byte(i+1), 0x00)
	}

	sos = append(sos, 0, 63, 0)
	out = segment(out, markerSOS, sos)

	dc := newHuffEncoder(stdDCCounts, stdDCValues)
	ac := newHuffEncoder(stdACCounts, stdACValues)

	mbw := (ti.width + hmax*8 - 1) / (hmax * 8)
	mbh := (ti.height + vmax*8 - 1) / (vmax * 8)
	preds := make([]int32, len(ti.comps))

	w := &bitWriter{}
	rst := 0
	for my := 0; my < mbh; my++ {
		for mx := 0; mx < mbw; mx++ {
			for ci, c := range ti.comps {
				for v := 0; v < c.v; v++ {
					for h := 0; h < c.h; h++ {
						coefs := ti.coef(ci, mx*c.h+h, my*c.v+v)
						w.block(dc, ac, &coefs, &preds[ci])
					}
				}
			}

			n := my*mbw + mx + 1
			if ti.restart > 0 && n%ti.restart == 0 && n < mbw*mbh {
				w.flush()
				w.buf = append(w.buf, 0xFF, byte(markerRST0+rst))
				rst = (rst + 1) & 7
				clear(preds)
			}
		}
	}

	w.flush()
	out = append(out, w.buf...)

	if !ti.omitEOI {
		out = append(out, 0xFF, markerEOI)
	}

	return out
}

// block entropy-codes one block of zig-zag ordered coefficients.
func (w *bitWriter) block(dc, ac huffEncoder, coefs *[64]int32, pred *int32) {
	diff := coefs[0] - *pred
	*pred = coefs[0]

	s, extra := magnitude(diff)
	w.symbol(dc, byte(s))
	w.write(extra, s)

	run := 0
	for k := 1; k < 64; k++ {
		v := coefs[k]
		if v == 0 {
			run++

			continue
		}

		for run > 15 {
			w.symbol(ac, 0xF0)
			run -= 16
		}

		s, extra := magnitude(v)
		w.symbol(ac, byte(run<<4|s))
		w.write(extra, s)
		run = 0
	}

	if run > 0 {
		w.symbol(ac, 0x00)
	}
}

// lcg is a tiny deterministic generator for synthetic coefficients.
type lcg uint32

func (l *lcg) next() uint32 {
	*l = *l*1664525 + 1013904223

	return uint32(*l >> 8)
}

// randomCoefs returns a generator of small pseudo-random coefficients.
func randomCoefs(seed uint32) func(ci, bx, by int) [64]int32 {
	return func(ci, bx, by int) [64]int32 {
		r := lcg(seed ^ uint32(ci*7919+bx*104729+by*1299709))

		var c [64]int32
		c[0] = int32(r.next()%64) - 32
		for k := 1; k < 12; k++ {
			c[k] = int32(r.next()%9) - 4
		}

		// An isolated high-frequency coefficient exercises ZRL.
		if r.next()%3 == 0 {
			c[40] = int32(r.next()%5) - 2
		}

		return c
	}
}

// flatCoefs returns DC-only blocks whose sample value is 128+k.
func flatCoefs(k func(ci, bx, by int) int32) func(ci, bx, by int) [64]int32 {
	return func(ci, bx, by int) [64]int32 {
		var c [64]int32
		c[0] = 8 * k(ci, bx, by)

		return c
	}
}

// findMarker returns the offset of the first segment with the given marker before
// the scan data, or -1.
func findMarker(data []byte, marker byte) int {
	p := 2
	for p+4 <= len(data) && data[p] == 0xFF {
		if data[p+1] == marker {
			return p
		}

		if data[p+1] == markerSOS {
			return -1
		}

		p += 2 + (int(data[p+2])<<8 | int(data[p+3]))
	}

	return -1
}

// gradient returns a smooth RGBA test pattern.
func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x * 255 / w),
				G: uint8(y * 255 / h),
				B: uint8((x + y) * 127 / (w + h)),
				A: 255,
			})
		}
	}

	return img
}

// encodeStd encodes img with the standard library encoder.
func encodeStd(t testing.TB, img image.Image, quality int) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		t.Fatalf("jpeg.Encode failed: %v", err)
	}

	return buf.Bytes()
}

// stdRGB returns the pixel at (x, y) of an image decoded by image/jpeg.
func stdRGB(img image.Image, x, y int) (r, g, b uint8) {
	switch m := img.(type) {
	case *image.YCbCr:
		c := m.YCbCrAt(x, y)

		return color.YCbCrToRGB(c.Y, c.Cb, c.Cr)
	case *image.Gray:
		v := m.GrayAt(x, y).Y

		return v, v, v
	default:
		c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)

		return c.R, c.G, c.B
	}
}

// decodeBytes decodes data with a fresh decoder.
func decodeBytes(t testing.TB, data []byte, opts ...*Options) *ImageInfo {
	t.Helper()

	dec := New(opts...)

	info, err := dec.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	return info
}

// compareWithStd checks every pixel of an RGB24 or gray decode against image/jpeg.
func compareWithStd(t *testing.T, data []byte, info *ImageInfo, tol uint8) {
	t.Helper()

	ref, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("std jpeg.Decode failed: %v", err)
	}

	if ref.Bounds().Dx() != info.Width || ref.Bounds().Dy() != info.Height {
		t.Fatalf("bounds mismatch: got %dx%d, want %v", info.Width, info.Height, ref.Bounds())
	}

	bpp := info.BytesPerPixel()
	errs := 0
	for y := 0; y < info.Height; y++ {
		for x := 0; x < info.Width; x++ {
			r, g, b := stdRGB(ref, x, y)
			p := info.Pixels[(y*info.Width+x)*bpp:]

			var got [3]uint8
			if bpp == 1 {
				got = [3]uint8{p[0], p[0], p[0]}
			} else {
				got = [3]uint8{p[0], p[1], p[2]}
			}

			if !isClose(got[0], r, tol) || !isClose(got[1], g, tol) || !isClose(got[2], b, tol) {
				t.Errorf("pixel (%d, %d): got %v, want close to [%d %d %d]", x, y, got, r, g, b)
				errs++
				if errs > 10 {
					t.FailNow()
				}
			}
		}
	}
}

// isDecodeError reports whether err wraps one of the given sentinels.
func isDecodeError(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}

// catchDecodeError runs f and returns the error of an internal decoding panic.
func catchDecodeError(f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			de, ok := r.(errDecode)
			if !ok {
				panic(r)
			}

			err = de.error
		}
	}()

	f()

	return nil
}
