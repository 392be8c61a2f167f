package nanojpeg

import "fmt"

// DefaultMemoryLimit is the per-decode allocation limit of the default heap allocator.
const DefaultMemoryLimit = 512 << 20

// Allocator provides the memory a decoder needs for component planes, upsampling
// intermediates and the output buffer.
//
// Reset is called at the start of every decode. Memory handed out before a Reset
// may be reused afterwards, so slices obtained from an allocator are only valid until
// the next decode on the owning decoder.
type Allocator interface {
	// Alloc returns a zeroed slice of length n or ErrOutOfMemory.
	Alloc(n int) ([]byte, error)
	// Reset releases everything allocated since the previous Reset.
	Reset()
}

// HeapAllocator allocates from the Go heap and enforces a byte limit per decode.
type HeapAllocator struct {
	limit int
	used  int
}

// NewHeapAllocator returns a heap allocator that fails once more than limit bytes
// were requested since the last Reset. A limit of 0 disables the check.
func NewHeapAllocator(limit int) *HeapAllocator {
	return &HeapAllocator{limit: limit}
}

// Alloc implements Allocator.
func (a *HeapAllocator) Alloc(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrOutOfMemory
	}

	if a.limit > 0 && (n > a.limit || a.used > a.limit-n) {
		return nil, fmt.Errorf("%w: %d bytes requested, limit %d", ErrOutOfMemory, a.used+n, a.limit)
	}

	a.used += n

	return make([]byte, n), nil
}

// Reset implements Allocator.
func (a *HeapAllocator) Reset() {
	a.used = 0
}

// Arena carves every allocation from one caller-provided workspace.
// It never touches the Go heap, which makes it usable where a general allocator
// is not wanted. Each decode starts again at the beginning of the workspace.
type Arena struct {
	buf []byte
	off int
}

// NewArena returns an arena backed by buf.
func NewArena(buf []byte) *Arena {
	return &Arena{buf: buf}
}

// Alloc implements Allocator.
func (a *Arena) Alloc(n int) ([]byte, error) {
	if n < 0 || n > len(a.buf)-a.off {
		return nil, fmt.Errorf("%w: arena exhausted (%d of %d bytes used, %d requested)", ErrOutOfMemory, a.off, len(a.buf), n)
	}

	b := a.buf[a.off : a.off+n : a.off+n]
	a.off += n
	clear(b)

	return b, nil
}

// Reset implements Allocator.
func (a *Arena) Reset() {
	a.off = 0
}

// Used reports how many bytes of the workspace the last decode consumed.
func (a *Arena) Used() int {
	return a.off
}

// ArenaSize returns a workspace size that is sufficient for decoding a width x height
// image with ncomp components and nearest-neighbor upsampling into layout.
// Sampling factors up to 4x4 (luma) are assumed, which is the worst case baseline
// permits.
func ArenaSize(width, height, ncomp int, layout Layout) int {
	if width <= 0 || height <= 0 {
		return 0
	}

	// Planes are padded to whole MCUs (at most 32x32 pixels).
	pw := (width + 31) &^ 31
	ph := (height + 31) &^ 31

	size := ncomp * pw * ph
	if ncomp > 1 {
		// Upsampled chroma planes.
		size += (ncomp - 1) * pw * ph
	}

	return size + width*height*layout.bytesPerPixel(ncomp)
}
