package nanojpeg

import "fmt"

// PixelOrder is the channel order of color pixels.
type PixelOrder int

const (
	OrderRGB PixelOrder = iota
	OrderBGR
)

// Layout describes how decoded pixels are packed into the output buffer.
//
// Grayscale images are written with one byte per pixel unless ExpandGray is set,
// in which case they use the color layout with R = G = B.
type Layout struct {
	// BytesPerPixel is 3 or 4. Zero means 3.
	BytesPerPixel int
	// Order is the color channel order.
	Order PixelOrder
	// Pad is written to the fourth byte of 4-byte pixels.
	Pad byte
	// ExpandGray writes grayscale images in the color layout.
	ExpandGray bool
}

// Predefined layouts.
var (
	LayoutRGB24 = Layout{BytesPerPixel: 3, Order: OrderRGB}
	LayoutBGR24 = Layout{BytesPerPixel: 3, Order: OrderBGR}
	LayoutRGB32 = Layout{BytesPerPixel: 4, Order: OrderRGB, Pad: 0xFF}
	LayoutBGR32 = Layout{BytesPerPixel: 4, Order: OrderBGR, Pad: 0xFF}
)

// validate checks that the layout can be produced.
func (l Layout) validate() error {
	switch l.BytesPerPixel {
	case 0, 3, 4:
	default:
		return fmt.Errorf("%d bytes per pixel: %w", l.BytesPerPixel, ErrInvalidLayout)
	}

	if l.Order != OrderRGB && l.Order != OrderBGR {
		return fmt.Errorf("pixel order %d: %w", l.Order, ErrInvalidLayout)
	}

	return nil
}

// bytesPerPixel returns the output pixel size for an image with ncomp components.
func (l Layout) bytesPerPixel(ncomp int) int {
	if ncomp == 1 && !l.ExpandGray {
		return 1
	}

	if l.BytesPerPixel == 0 {
		return 3
	}

	return l.BytesPerPixel
}

// channels returns the offsets of the red and blue channel within a pixel.
func (l Layout) channels() (r, b int) {
	if l.Order == OrderBGR {
		return 2, 0
	}

	return 0, 2
}

// convert writes the component planes into the output buffer.
func (d *decoder) convert() error {
	bpp := d.layout.bytesPerPixel(d.ncomp)
	if len(d.pixels) < d.width*d.height*bpp {
		return ErrInternal
	}

	for i := 0; i < d.ncomp; i++ {
		c := &d.comp[i]
		if c.width < d.width || c.height < d.height || len(c.pixels) < (d.height-1)*c.stride+d.width {
			return fmt.Errorf("plane %d smaller than the image: %w", i, ErrInternal)
		}
	}

	switch {
	case d.ncomp == 3:
		yCbCrToPixels(&d.comp[0], &d.comp[1], &d.comp[2], d.pixels, d.width, d.height, d.layout)
	case bpp == 1:
		grayToPixels(&d.comp[0], d.pixels, d.width, d.height)
	default:
		grayExpand(&d.comp[0], d.pixels, d.width, d.height, d.layout)
	}

	return nil
}

// yCbCrToPixels converts a 3-component YCbCr image into layout.
func yCbCrToPixels(y, cb, cr *component, dst []byte, width, height int, layout Layout) {
	bpp := layout.bytesPerPixel(3)
	ri, bi := layout.channels()
	off := 0

	for row := 0; row < height; row++ {
		py := y.pixels[row*y.stride : row*y.stride+width]
		pcb := cb.pixels[row*cb.stride : row*cb.stride+width]
		pcr := cr.pixels[row*cr.stride : row*cr.stride+width]

		for x := 0; x < width; x++ {
			yy := int32(py[x]) << 8
			u := int32(pcb[x]) - 128
			v := int32(pcr[x]) - 128

			p := dst[off : off+bpp]
			p[ri] = clip((yy + 359*v + 128) >> 8)
			p[1] = clip((yy - 88*u - 183*v + 128) >> 8)
			p[bi] = clip((yy + 454*u + 128) >> 8)

			if bpp == 4 {
				p[3] = layout.Pad
			}

			off += bpp
		}
	}
}

// grayToPixels compacts the luma plane into one byte per pixel.
func grayToPixels(c *component, dst []byte, width, height int) {
	for row := 0; row < height; row++ {
		copy(dst[row*width:(row+1)*width], c.pixels[row*c.stride:])
	}
}

// grayExpand writes luma into all color channels of layout.
func grayExpand(c *component, dst []byte, width, height int, layout Layout) {
	bpp := layout.bytesPerPixel(1)
	off := 0

	for row := 0; row < height; row++ {
		for _, v := range c.pixels[row*c.stride : row*c.stride+width] {
			dst[off] = v
			dst[off+1] = v
			dst[off+2] = v

			if bpp == 4 {
				dst[off+3] = layout.Pad
			}

			off += bpp
		}
	}
}
