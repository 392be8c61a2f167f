package dicomcodec

import (
	"github.com/cocosip/go-dicom/pkg/imaging/codec"

	"github.com/gen2brain/nanojpeg"
)

var _ codec.Parameters = (*Parameters)(nil)

// Parameters contains the decoding parameters of the codec.
type Parameters struct {
	// Upsample selects the chroma upsampling filter.
	// Generic parameter "upsample": "nearest" or "catmullrom".
	Upsample nanojpeg.UpsampleMethod

	params map[string]interface{}
}

// NewParameters creates parameters with nearest-neighbor upsampling.
func NewParameters() *Parameters {
	return &Parameters{
		Upsample: nanojpeg.NearestNeighbor,
		params:   make(map[string]interface{}),
	}
}

// GetParameter retrieves a parameter by name.
func (p *Parameters) GetParameter(name string) interface{} {
	switch name {
	case "upsample":
		return p.Upsample.String()
	default:
		return p.params[name]
	}
}

// SetParameter sets a parameter value. Unknown upsampling names are ignored.
func (p *Parameters) SetParameter(name string, value interface{}) {
	switch name {
	case "upsample":
		switch v := value.(type) {
		case string:
			if m, ok := nanojpeg.ParseUpsample(v); ok {
				p.Upsample = m
			}
		case nanojpeg.UpsampleMethod:
			p.Upsample = v
		}
	default:
		p.params[name] = value
	}
}

// Validate resets an out-of-range upsampling method to the default.
func (p *Parameters) Validate() error {
	if p.Upsample != nanojpeg.NearestNeighbor && p.Upsample != nanojpeg.CatmullRom {
		p.Upsample = nanojpeg.NearestNeighbor
	}

	return nil
}
