package nanojpeg

import (
	"math"
	"math/rand/v2"
	"testing"
)

// referenceIdct computes the level-shifted, rounded and clamped DCT-III of a
// natural-order block in floating point.
func referenceIdct(blk *[64]int32) [64]byte {
	var out [64]byte

	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			var sum float64

			for v := 0; v < 8; v++ {
				for u := 0; u < 8; u++ {
					f := float64(blk[v*8+u])
					if f == 0 {
						continue
					}

					cu, cv := 1.0, 1.0
					if u == 0 {
						cu = math.Sqrt2 / 2
					}

					if v == 0 {
						cv = math.Sqrt2 / 2
					}

					sum += cu * cv * f *
						math.Cos(float64((2*x+1)*u)*math.Pi/16) *
						math.Cos(float64((2*y+1)*v)*math.Pi/16)
				}
			}

			out[y*8+x] = byte(min(max(math.Round(sum/4)+128, 0), 255))
		}
	}

	return out
}

// randomBlock fills a block with a DC term and a few sparse AC terms, the way
// quantized image data usually looks.
func randomBlock(rng *rand.Rand) [64]int32 {
	var blk [64]int32

	blk[0] = rng.Int32N(1025) - 512
	for n := rng.IntN(12); n > 0; n-- {
		blk[1+rng.IntN(63)] = rng.Int32N(161) - 80
	}

	return blk
}

func absDiff(a, b byte) int {
	if a > b {
		return int(a - b)
	}

	return int(b - a)
}

func TestIdctMatchesReference(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 2000; i++ {
		blk := randomBlock(rng)
		want := referenceIdct(&blk)

		in := blk
		var got [64]byte
		idct(&in, got[:], 0, 8)

		for j := range got {
			if absDiff(got[j], want[j]) > 1 {
				t.Fatalf("block %d %v: sample %d = %d, reference %d", i, blk, j, got[j], want[j])
			}
		}
	}
}

func TestIdctDC(t *testing.T) {
	for _, tc := range []struct {
		dc   int32
		want byte
	}{
		{0, 128},
		{512, 192},
		{-8, 127},
		{8 * 127, 255},
		{-8 * 127, 1},
		{-8 * 128, 0},
		{8 * 1024, 255},
		{-8 * 1024, 0},
	} {
		blk := [64]int32{tc.dc}

		var got [64]byte
		idct(&blk, got[:], 0, 8)

		for i, v := range got {
			if v != tc.want {
				t.Fatalf("DC %d: sample %d = %d, want %d", tc.dc, i, v, tc.want)
			}
		}
	}
}

func TestIdctInPlane(t *testing.T) {
	const (
		stride = 40
		rows   = 24
		offset = 8*stride + 16
		guard  = 0xAA
	)

	rng := rand.New(rand.NewPCG(3, 4))
	blk := randomBlock(rng)
	want := referenceIdct(&blk)

	plane := make([]byte, stride*rows)
	for i := range plane {
		plane[i] = guard
	}

	in := blk
	idct(&in, plane, offset, stride)

	for y := 0; y < rows; y++ {
		for x := 0; x < stride; x++ {
			got := plane[y*stride+x]

			bx, by := x-16, y-8
			if bx < 0 || bx >= 8 || by < 0 || by >= 8 {
				if got != guard {
					t.Fatalf("(%d, %d) outside the block was overwritten with %d", x, y, got)
				}

				continue
			}

			if absDiff(got, want[by*8+bx]) > 1 {
				t.Fatalf("(%d, %d) = %d, reference %d", x, y, got, want[by*8+bx])
			}
		}
	}
}

func BenchmarkIdct(b *testing.B) {
	blk := randomBlock(rand.New(rand.NewPCG(5, 6)))
	var out [64]byte

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		in := blk
		idct(&in, out[:], 0, 8)
	}
}
