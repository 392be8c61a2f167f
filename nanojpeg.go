// Package nanojpeg is a small baseline JPEG decoder.
//
// It decodes sequential, Huffman coded, 8-bit JPEG images with one (grayscale) or
// three (YCbCr) components into a packed pixel buffer. Progressive and arithmetic
// coded images are rejected with ErrUnsupported.
//
// A Decoder owns its tables and its output buffer. Decoders are independent of each
// other, so concurrent decoding only requires one Decoder per goroutine.
package nanojpeg

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

// Standard error types for JPEG decoding.
var (
	ErrNoJPEG      = errors.New("not a JPEG file")
	ErrUnsupported = errors.New("unsupported format")
	ErrOutOfMemory = errors.New("out of memory")
	ErrInternal    = errors.New("internal error")
	ErrSyntax      = errors.New("syntax error")
)

// Lifecycle and configuration errors.
var (
	ErrAlreadyInitialized = errors.New("decoder already initialized")
	ErrNotInitialized     = errors.New("decoder not initialized")
	ErrInvalidLayout      = errors.New("invalid pixel layout")
)

// UpsampleMethod defines the algorithm used for chroma upsampling.
type UpsampleMethod int

const (
	// NearestNeighbor replicates every chroma sample over its footprint.
	NearestNeighbor UpsampleMethod = iota
	// CatmullRom is a higher-quality bicubic upsampling method.
	CatmullRom
)

// String returns the method name accepted by ParseUpsample.
func (m UpsampleMethod) String() string {
	switch m {
	case NearestNeighbor:
		return "nearest"
	case CatmullRom:
		return "catmullrom"
	default:
		return fmt.Sprintf("UpsampleMethod(%d)", int(m))
	}
}

// ParseUpsample maps "nearest" and "catmullrom" to an upsampling method.
// Matching ignores case and dashes.
func ParseUpsample(name string) (UpsampleMethod, bool) {
	switch strings.ToLower(strings.ReplaceAll(name, "-", "")) {
	case "nearest", "nearestneighbor":
		return NearestNeighbor, true
	case "catmullrom":
		return CatmullRom, true
	default:
		return NearestNeighbor, false
	}
}

// Options specifies decoding parameters.
type Options struct {
	// Layout selects the output pixel layout. The zero value is LayoutRGB24.
	Layout Layout
	// UpsampleMethod defines the algorithm used for chroma upsampling.
	UpsampleMethod UpsampleMethod
	// Allocator provides the decoder's working memory.
	// If nil, a heap allocator limited to DefaultMemoryLimit bytes per decode is used.
	Allocator Allocator
}

// Status describes how a successful decode ended.
type Status int

const (
	// StatusComplete means the scan was followed by an end-of-image marker.
	StatusComplete Status = iota
	// StatusMissingEOI means all MCUs were decoded but no end-of-image marker followed.
	StatusMissingEOI
)

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusMissingEOI:
		return "missing EOI"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ImageInfo is the result of a successful decode.
// Pixels aliases the decoder's output buffer and is only valid until the next
// Decode or Close on the same Decoder.
type ImageInfo struct {
	Width      int
	Height     int
	Components int
	IsColor    bool
	Layout     Layout
	Status     Status
	Pixels     []byte
}

// BytesPerPixel returns the number of bytes each pixel occupies in Pixels.
func (i *ImageInfo) BytesPerPixel() int {
	return i.Layout.bytesPerPixel(i.Components)
}

// Stride returns the number of bytes from one row of Pixels to the next.
func (i *ImageInfo) Stride() int {
	return i.Width * i.BytesPerPixel()
}

// instance is set while a decoder created by Init is open.
var instance atomic.Bool

// Decoder is a decoding context. It is not safe for concurrent use.
type Decoder struct {
	d         *decoder
	info      ImageInfo
	valid     bool
	closed    bool
	exclusive bool
}

// New creates an independent decoder.
func New(opts ...*Options) *Decoder {
	dec := &Decoder{d: newDecoder()}
	dec.configure(opts...)

	return dec
}

// Init creates a decoder under the single-instance policy: it fails with
// ErrAlreadyInitialized while another decoder returned by Init has not been closed.
// Decoders created with New are not affected by the policy.
func Init(opts ...*Options) (*Decoder, error) {
	if !instance.CompareAndSwap(false, true) {
		return nil, ErrAlreadyInitialized
	}

	dec := New(opts...)
	dec.exclusive = true

	return dec, nil
}

// configure applies options, falling back to defaults for nil values.
func (dec *Decoder) configure(opts ...*Options) {
	d := dec.d
	d.layout = Layout{}
	d.upsampleMethod = NearestNeighbor
	d.alloc = nil

	if len(opts) > 0 && opts[0] != nil {
		d.layout = opts[0].Layout
		d.upsampleMethod = opts[0].UpsampleMethod
		d.alloc = opts[0].Allocator
	}

	if d.alloc == nil {
		d.alloc = NewHeapAllocator(DefaultMemoryLimit)
	}
}

// Decode decodes one JPEG image held entirely in data.
// On failure the decoder is left in the not-decoded state and the error wraps one of
// ErrNoJPEG, ErrUnsupported, ErrOutOfMemory, ErrInternal or ErrSyntax.
func (dec *Decoder) Decode(data []byte) (*ImageInfo, error) {
	if dec.closed {
		return nil, ErrNotInitialized
	}

	dec.valid = false
	dec.info = ImageInfo{}

	d := dec.d
	if err := d.layout.validate(); err != nil {
		return nil, err
	}

	d.reset()
	if err := d.decode(data, false); err != nil {
		d.fail()

		return nil, err
	}

	if len(d.pixels) == 0 || len(d.pixels) != d.width*d.height*d.layout.bytesPerPixel(d.ncomp) {
		d.fail()

		return nil, ErrInternal
	}

	dec.info = ImageInfo{
		Width:      d.width,
		Height:     d.height,
		Components: d.ncomp,
		IsColor:    d.ncomp == 3,
		Layout:     d.layout,
		Status:     d.status,
		Pixels:     d.pixels,
	}
	dec.valid = true

	info := dec.info

	return &info, nil
}

// Close releases the decoder's tables and buffers. Closing a decoder twice returns
// ErrNotInitialized.
func (dec *Decoder) Close() error {
	if dec.closed {
		return ErrNotInitialized
	}

	dec.closed = true
	dec.valid = false
	dec.info = ImageInfo{}
	dec.d.reset()
	dec.d.alloc.Reset()

	if dec.exclusive {
		instance.Store(false)
	}

	return nil
}

// Info returns the result of the last successful decode, or nil.
func (dec *Decoder) Info() *ImageInfo {
	if !dec.valid {
		return nil
	}

	info := dec.info

	return &info
}

// Width returns the image width in pixels, or 0 without a successful decode.
func (dec *Decoder) Width() int {
	return dec.info.Width
}

// Height returns the image height in pixels, or 0 without a successful decode.
func (dec *Decoder) Height() int {
	return dec.info.Height
}

// IsColor reports whether the last decoded image had three components.
func (dec *Decoder) IsColor() bool {
	return dec.info.IsColor
}

// Image returns the decoded pixels, or nil without a successful decode.
func (dec *Decoder) Image() []byte {
	return dec.info.Pixels
}

// ImageSize returns len(Image()).
func (dec *Decoder) ImageSize() int {
	return len(dec.info.Pixels)
}

// State returns the pipeline state reached by the last decode.
func (dec *Decoder) State() State {
	return dec.d.state
}

// A reasonable upper limit for the size of JPEG headers.
// Most headers are well under this size (64KB).
const maxHeaderSize = 65536

// A pool for header-sized buffers to reduce allocations in DecodeConfig.
var headerBufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, maxHeaderSize)

		return &b
	},
}

// decoderPool is a pool of decoders for the image.Image helpers.
var decoderPool = sync.Pool{
	New: func() interface{} {
		return New()
	},
}

// Interface to check if a reader knows its remaining length.
type readerWithLen interface {
	Len() int
}

// readAllData reads data from r, pre-allocating if the size is known.
func readAllData(r io.Reader) ([]byte, error) {
	if rl, ok := r.(readerWithLen); ok {
		size := rl.Len()
		if size > 0 {
			data := make([]byte, size)
			_, err := io.ReadFull(r, data)
			if err != nil {
				return nil, fmt.Errorf("failed to read image data: %w", err)
			}

			return data, nil
		}
	}

	return io.ReadAll(r)
}

// Decode reads a JPEG image from r and returns it as an *image.Gray or *image.RGBA.
// Only Options.UpsampleMethod is honored; the layout is always RGBA and memory comes
// from the heap because the returned image keeps the pixel buffer.
func Decode(r io.Reader, opts ...*Options) (image.Image, error) {
	data, err := readAllData(r)
	if err != nil {
		return nil, err
	}

	o := &Options{Layout: LayoutRGB32}
	if len(opts) > 0 && opts[0] != nil {
		o.UpsampleMethod = opts[0].UpsampleMethod
	}

	dec := decoderPool.Get().(*Decoder)
	defer decoderPool.Put(dec)

	dec.configure(o)

	info, err := dec.Decode(data)
	if err != nil {
		return nil, err
	}

	// Detach the pixels from the pooled decoder.
	dec.valid = false
	dec.info = ImageInfo{}
	dec.d.reset()

	rect := image.Rect(0, 0, info.Width, info.Height)
	if !info.IsColor {
		return &image.Gray{Pix: info.Pixels, Stride: info.Stride(), Rect: rect}, nil
	}

	return &image.RGBA{Pix: info.Pixels, Stride: info.Stride(), Rect: rect}, nil
}

// DecodeConfig returns the color model and dimensions of a JPEG image without
// decoding the entropy-coded data.
func DecodeConfig(r io.Reader) (image.Config, error) {
	bufPtr := headerBufferPool.Get().(*[]byte)
	defer headerBufferPool.Put(bufPtr)
	headerData := *bufPtr

	// We expect an io.ErrUnexpectedEOF if the file is smaller than our buffer.
	n, err := io.ReadFull(r, headerData)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return image.Config{}, err
	}

	if n == 0 {
		return image.Config{}, ErrNoJPEG
	}

	d := newDecoder()

	err = d.decode(headerData[:n], true)
	if err != nil && errors.Is(err, ErrSyntax) && n == maxHeaderSize {
		// The frame header lies beyond the first chunk, retry with everything.
		rest, rerr := io.ReadAll(r)
		if rerr != nil {
			return image.Config{}, rerr
		}

		full := bytes.Join([][]byte{headerData[:n], rest}, nil)
		d.reset()
		err = d.decode(full, true)
	}

	if err != nil {
		return image.Config{}, err
	}

	cm := color.Model(color.RGBAModel)
	if d.ncomp == 1 {
		cm = color.GrayModel
	}

	return image.Config{
		ColorModel: cm,
		Width:      d.width,
		Height:     d.height,
	}, nil
}

// init registers the JPEG format with the standard library's image package.
func init() {
	decodeWrapper := func(r io.Reader) (image.Image, error) {
		return Decode(r)
	}

	image.RegisterFormat("jpeg", "\xff\xd8", decodeWrapper, DecodeConfig)
}
