// Package dicomcodec plugs the baseline decoder into the go-dicom codec registry
// for the JPEG Baseline (Process 1) transfer syntax.
package dicomcodec

import (
	"fmt"

	"github.com/cocosip/go-dicom/pkg/dicom/transfer"
	"github.com/cocosip/go-dicom/pkg/imaging/codec"
	"github.com/cocosip/go-dicom/pkg/imaging/imagetypes"

	"github.com/gen2brain/nanojpeg"
)

var _ codec.Codec = (*Codec)(nil)

// Codec decodes JPEG Baseline 8-bit pixel data. Encoding is not supported.
type Codec struct {
	upsample nanojpeg.UpsampleMethod
}

// NewCodec creates a codec that upsamples chroma with the given method unless the
// parameters passed to Decode say otherwise.
func NewCodec(upsample nanojpeg.UpsampleMethod) *Codec {
	return &Codec{upsample: upsample}
}

// Name returns the codec name.
func (c *Codec) Name() string {
	return "JPEG Baseline (nanojpeg)"
}

// TransferSyntax returns the transfer syntax this codec handles.
func (c *Codec) TransferSyntax() *transfer.Syntax {
	return transfer.JPEGBaseline8Bit
}

// GetDefaultParameters returns the default codec parameters.
func (c *Codec) GetDefaultParameters() codec.Parameters {
	p := NewParameters()
	p.Upsample = c.upsample

	return p
}

// Encode is not supported.
func (c *Codec) Encode(oldPixelData imagetypes.PixelData, newPixelData imagetypes.PixelData, parameters codec.Parameters) error {
	return fmt.Errorf("JPEG Baseline encoding: %w", nanojpeg.ErrUnsupported)
}

// Decode decodes every frame of oldPixelData into 8-bit samples and appends them to
// newPixelData. Color frames are written as RGB, interleaved or planar according
// to the frame's planar configuration.
func (c *Codec) Decode(oldPixelData imagetypes.PixelData, newPixelData imagetypes.PixelData, parameters codec.Parameters) error {
	if oldPixelData == nil || newPixelData == nil {
		return fmt.Errorf("source and destination PixelData cannot be nil")
	}

	frameInfo := oldPixelData.GetFrameInfo()
	if frameInfo == nil {
		return fmt.Errorf("failed to get frame info from source pixel data")
	}

	if frameInfo.BitsAllocated != 0 && frameInfo.BitsAllocated != 8 {
		return fmt.Errorf("%d bits allocated: %w", frameInfo.BitsAllocated, nanojpeg.ErrUnsupported)
	}

	params := c.parameters(parameters)
	if err := params.Validate(); err != nil {
		return err
	}

	dec := nanojpeg.New(&nanojpeg.Options{
		Layout:         nanojpeg.LayoutRGB24,
		UpsampleMethod: params.Upsample,
	})
	defer dec.Close()

	planar := frameInfo.PlanarConfiguration == 1

	frameCount := oldPixelData.FrameCount()
	for frameIndex := 0; frameIndex < frameCount; frameIndex++ {
		frameData, err := oldPixelData.GetFrame(frameIndex)
		if err != nil {
			return fmt.Errorf("failed to get frame %d: %w", frameIndex, err)
		}

		if len(frameData) == 0 {
			return fmt.Errorf("frame %d pixel data is empty", frameIndex)
		}

		info, err := dec.Decode(frameData)
		if err != nil {
			return fmt.Errorf("JPEG Baseline decode failed for frame %d: %w", frameIndex, err)
		}

		if info.Width != int(frameInfo.Width) || info.Height != int(frameInfo.Height) {
			return fmt.Errorf("decoded dimensions (%dx%d) don't match expected (%dx%d)",
				info.Width, info.Height, frameInfo.Width, frameInfo.Height)
		}

		if info.Components != int(frameInfo.SamplesPerPixel) {
			return fmt.Errorf("decoded components (%d) don't match expected (%d)",
				info.Components, frameInfo.SamplesPerPixel)
		}

		// The decoder owns info.Pixels, the frame needs its own copy.
		var out []byte
		if planar && info.Components == 3 {
			out = toPlanar(info.Pixels, info.Width*info.Height)
		} else {
			out = append([]byte(nil), info.Pixels...)
		}

		if err := newPixelData.AddFrame(out); err != nil {
			return fmt.Errorf("failed to add decoded frame %d: %w", frameIndex, err)
		}
	}

	return nil
}

// parameters resolves the decode parameters, falling back to the codec defaults.
func (c *Codec) parameters(parameters codec.Parameters) *Parameters {
	if p, ok := parameters.(*Parameters); ok && p != nil {
		return p
	}

	p := NewParameters()
	p.Upsample = c.upsample

	if parameters != nil {
		p.SetParameter("upsample", parameters.GetParameter("upsample"))
	}

	return p
}

// toPlanar rearranges interleaved RGB samples into R, G and B planes.
func toPlanar(rgb []byte, n int) []byte {
	out := make([]byte, 3*n)
	for i := 0; i < n; i++ {
		out[i] = rgb[3*i]
		out[n+i] = rgb[3*i+1]
		out[2*n+i] = rgb[3*i+2]
	}

	return out
}

// Register registers the codec with the global go-dicom registry.
func Register() {
	registry := codec.GetGlobalRegistry()
	registry.RegisterCodec(transfer.JPEGBaseline8Bit, NewCodec(nanojpeg.NearestNeighbor))
}

func init() {
	Register()
}
