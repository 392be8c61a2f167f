package nanojpeg

import "fmt"

// Entropy Decoding

// decodeBlock decodes a single 8x8 block of a component. This involves
// entropy decoding of DC and AC coefficients, dequantization, and applying the IDCT.
func (d *decoder) decodeBlock(c *component, outOffset int) {
	// This clears the array to zeros.
	d.block = [64]int32{}

	qt := &d.qtab[c.qtSel]
	ac := &d.huff[1][c.acTabSel]

	// Decode DC coefficient.
	s := d.br.decodeHuffman(&d.huff[0][c.dcTabSel])
	if s > 11 {
		throw(fmt.Errorf("DC magnitude category %d: %w", s, ErrSyntax))
	}

	c.dcPred += d.br.receiveExtend(int(s))
	d.block[0] = int32(c.dcPred) * qt[0]

	// Decode AC coefficients.
	for coef := 0; coef < 63; {
		code := d.br.decodeHuffman(ac)
		if code == 0 { // EOB (End of Block)
			break
		}

		size := int(code & 0x0F)
		if size == 0 && code != 0xF0 {
			throw(fmt.Errorf("AC symbol 0x%02x: %w", code, ErrSyntax))
		}

		// Skip the run of zeros, ZRL skips sixteen.
		coef += int(code>>4) + 1
		if coef > 63 {
			throw(fmt.Errorf("coefficient index %d out of range: %w", coef, ErrSyntax))
		}

		// Dequantize and store in natural order.
		d.block[zz[coef]] = int32(d.br.receiveExtend(size)) * qt[coef]
	}

	idct(&d.block, c.pixels, outOffset, c.stride)
}

// resetPredictors sets the DC predictors of all components to zero.
func (d *decoder) resetPredictors() {
	for k := range d.comp {
		d.comp[k].dcPred = 0
	}
}

// decodeScan decodes the image scan data. It iterates through all MCUs in the
// image, decoding each block for each component.
// Handles panics from the hot path.
func (d *decoder) decodeScan() (err error) {
	// Setup recovery for panics in the hot path (decodeHuffman, decodeBlock).
	defer func() {
		if r := recover(); r != nil {
			if de, ok := r.(errDecode); ok {
				err = de.error
			} else {
				// Propagate other panics (e.g., runtime errors like index out of bounds)
				panic(r)
			}
		}
	}()

	d.br.reset(d.data, d.pos)
	d.resetPredictors()

	rstCount := d.rstInterval
	nextRst := 0
	last := d.mbWidth*d.mbHeight - 1

	for mby := 0; mby < d.mbHeight; mby++ {
		for mbx := 0; mbx < d.mbWidth; mbx++ {
			for i := 0; i < d.ncomp; i++ {
				c := &d.comp[i]

				for sby := 0; sby < c.ssY; sby++ {
					for sbx := 0; sbx < c.ssX; sbx++ {
						offset := ((mby*c.ssY+sby)*c.stride + mbx*c.ssX + sbx) << 3

						d.decodeBlock(c, offset)
					}
				}
			}

			// Handle restart markers, none follows the final MCU.
			if d.rstInterval == 0 || mby*d.mbWidth+mbx == last {
				continue
			}

			rstCount--
			if rstCount == 0 {
				if !d.br.readRestart(nextRst) {
					throw(fmt.Errorf("missing restart marker RST%d: %w", nextRst, ErrSyntax))
				}

				nextRst = (nextRst + 1) & 7
				rstCount = d.rstInterval
				d.resetPredictors()
			}
		}
	}

	d.br.alignToByte()

	return nil
}
