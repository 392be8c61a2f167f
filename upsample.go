package nanojpeg

import "math/bits"

// Upsampling

// Constants for a 4-tap Catmull-Rom upsampling filter.
const (
	cf4A = -9
	cf4B = 111
	cf4C = 29
	cf4D = -3
	cf3A = 28
	cf3B = 109
	cf3C = -9
	cf3X = 104
	cf3Y = 27
	cf3Z = -3
	cf2A = 139
	cf2B = -11
)

// cf applies the final step of the filter calculation.
func cf(x int32) byte {
	return clip((x + 64) >> 7)
}

// upsample brings every subsampled plane to at least the image size.
func (d *decoder) upsample() error {
	for i := 0; i < d.ncomp; i++ {
		c := &d.comp[i]
		if c.width >= d.width && c.height >= d.height {
			continue
		}

		var err error
		switch d.upsampleMethod {
		case CatmullRom:
			err = upsampleCatmullRom(c, d.width, d.height, d.alloc)
		default:
			// Sampling factors are powers of two, so are their ratios.
			xShift := bits.TrailingZeros(uint(d.ssxMax / c.ssX))
			yShift := bits.TrailingZeros(uint(d.ssyMax / c.ssY))
			err = upsampleNearestNeighbor(c, xShift, yShift, d.alloc)
		}

		if err != nil {
			return err
		}

		if c.width < d.width || c.height < d.height {
			return ErrInternal
		}
	}

	return nil
}

// upsampleNearestNeighbor replicates every sample of c over a (1<<xShift)x(1<<yShift)
// footprint.
func upsampleNearestNeighbor(c *component, xShift, yShift int, alloc Allocator) error {
	if xShift == 0 && yShift == 0 {
		return nil
	}

	width := c.width << xShift
	height := c.height << yShift

	out, err := alloc.Alloc(width * height)
	if err != nil {
		return err
	}

	for y := 0; y < height; y++ {
		dst := out[y*width : (y+1)*width]

		// Rows that repeat the source row above are plain copies.
		if y&(1<<yShift-1) != 0 {
			copy(dst, out[(y-1)*width:y*width])

			continue
		}

		src := c.pixels[(y>>yShift)*c.stride:]
		src = src[:c.width]

		if xShift == 1 {
			for x, v := range src {
				dst[2*x] = v
				dst[2*x+1] = v
			}

			continue
		}

		for x := range dst {
			dst[x] = src[x>>xShift]
		}
	}

	c.width = width
	c.height = height
	c.stride = width
	c.pixels = out

	return nil
}

// upsampleCatmullRom performs upsampling by using the 4-tap Catmull-Rom interpolation filter.
func upsampleCatmullRom(c *component, width, height int, alloc Allocator) error {
	for c.width < width || c.height < height {
		if c.width < width {
			if err := upsampleH(c, alloc); err != nil {
				return err
			}
		}

		if c.height < height {
			if err := upsampleV(c, alloc); err != nil {
				return err
			}
		}
	}

	return nil
}

// upsampleH performs a 2x horizontal upsampling on a component's pixel data.
// The frame header guarantees a width of at least 3.
func upsampleH(c *component, alloc Allocator) error {
	newWidth := c.width << 1

	out, err := alloc.Alloc(newWidth * c.height)
	if err != nil {
		return err
	}

	for y := 0; y < c.height; y++ {
		lin := c.pixels[y*c.stride : y*c.stride+c.width]
		lout := out[y*newWidth : (y+1)*newWidth]

		// Left edge.
		lout[0] = cf(cf2A*int32(lin[0]) + cf2B*int32(lin[1]))
		lout[1] = cf(cf3X*int32(lin[0]) + cf3Y*int32(lin[1]) + cf3Z*int32(lin[2]))
		lout[2] = cf(cf3A*int32(lin[0]) + cf3B*int32(lin[1]) + cf3C*int32(lin[2]))

		for x := 0; x < c.width-3; x++ {
			p0, p1, p2, p3 := int32(lin[x]), int32(lin[x+1]), int32(lin[x+2]), int32(lin[x+3])

			lout[2*x+3] = cf(cf4A*p0 + cf4B*p1 + cf4C*p2 + cf4D*p3)
			lout[2*x+4] = cf(cf4D*p0 + cf4C*p1 + cf4B*p2 + cf4A*p3)
		}

		// Right edge, mirrored.
		w := c.width
		p0, p1, p2 := int32(lin[w-1]), int32(lin[w-2]), int32(lin[w-3])

		lout[newWidth-3] = cf(cf3A*p0 + cf3B*p1 + cf3C*p2)
		lout[newWidth-2] = cf(cf3X*p0 + cf3Y*p1 + cf3Z*p2)
		lout[newWidth-1] = cf(cf2A*p0 + cf2B*p1)
	}

	c.width = newWidth
	c.stride = newWidth
	c.pixels = out

	return nil
}

// upsampleV performs a 2x vertical upsampling on a component's pixel data.
// The frame header guarantees a height of at least 3.
func upsampleV(c *component, alloc Allocator) error {
	w := c.width
	s := c.stride
	newHeight := c.height << 1

	out, err := alloc.Alloc(w * newHeight)
	if err != nil {
		return err
	}

	at := func(x, y int) int32 {
		return int32(c.pixels[y*s+x])
	}

	for x := 0; x < w; x++ {
		// Top edge.
		out[x] = cf(cf2A*at(x, 0) + cf2B*at(x, 1))
		out[w+x] = cf(cf3X*at(x, 0) + cf3Y*at(x, 1) + cf3Z*at(x, 2))
		out[2*w+x] = cf(cf3A*at(x, 0) + cf3B*at(x, 1) + cf3C*at(x, 2))

		for y := 0; y < c.height-3; y++ {
			p0, p1, p2, p3 := at(x, y), at(x, y+1), at(x, y+2), at(x, y+3)

			out[(2*y+3)*w+x] = cf(cf4A*p0 + cf4B*p1 + cf4C*p2 + cf4D*p3)
			out[(2*y+4)*w+x] = cf(cf4D*p0 + cf4C*p1 + cf4B*p2 + cf4A*p3)
		}

		// Bottom edge, mirrored.
		h := c.height
		p0, p1, p2 := at(x, h-1), at(x, h-2), at(x, h-3)

		out[(newHeight-3)*w+x] = cf(cf3A*p0 + cf3B*p1 + cf3C*p2)
		out[(newHeight-2)*w+x] = cf(cf3X*p0 + cf3Y*p1 + cf3Z*p2)
		out[(newHeight-1)*w+x] = cf(cf2A*p0 + cf2B*p1)
	}

	c.height = newHeight
	c.stride = w
	c.pixels = out

	return nil
}
