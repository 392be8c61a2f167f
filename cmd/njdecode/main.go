package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/nanojpeg"
)

type config struct {
	input    string
	output   string
	format   string
	bgr      bool
	bpp32    bool
	upsample string
	info     bool
}

func main() {
	var cfg config
	flag.StringVar(&cfg.input, "input", "", "Input JPEG file")
	flag.StringVar(&cfg.output, "output", "", "Output file (optional, defaults to input filename with the format's extension)")
	flag.StringVar(&cfg.format, "format", "", "Output format: png, bmp, tiff, raw or zst (defaults to the output file extension, then png)")
	flag.BoolVar(&cfg.bgr, "bgr", false, "Write color pixels in BGR order (raw and zst only)")
	flag.BoolVar(&cfg.bpp32, "bpp32", false, "Write 4 bytes per color pixel")
	flag.StringVar(&cfg.upsample, "upsample", "nearest", "Chroma upsampling: nearest or catmullrom")
	flag.BoolVar(&cfg.info, "info", false, "Print image information")
	flag.Parse()

	if cfg.input == "" {
		log.Fatal("Input file is required. Use -input flag.")
	}

	output, err := run(cfg)
	if err != nil {
		var de *decodeError
		if errors.As(err, &de) {
			log.Printf("Failed to decode JPEG: %v", de.err)
			os.Exit(int(nanojpeg.ResultOf(de.err)))
		}

		log.Fatal(err)
	}

	if output != "" {
		fmt.Printf("Successfully converted %s to %s\n", cfg.input, output)
	}
}

// decodeError marks failures of the decoder itself, which exit with their result code.
type decodeError struct {
	err error
}

func (e *decodeError) Error() string {
	return e.err.Error()
}

func (e *decodeError) Unwrap() error {
	return e.err
}

// run decodes cfg.input and writes the output file. It returns the output path, which
// is empty when only information was requested.
func run(cfg config) (string, error) {
	method, ok := nanojpeg.ParseUpsample(cfg.upsample)
	if !ok {
		return "", fmt.Errorf("unknown upsampling method %q", cfg.upsample)
	}

	output := cfg.output
	format := cfg.format
	if format == "" {
		format = formatFromPath(output)
	}

	format = strings.ToLower(format)
	if _, ok := writers[format]; !ok {
		return "", fmt.Errorf("unknown output format %q", format)
	}

	if cfg.bgr && !rawFormat(format) {
		return "", fmt.Errorf("BGR order is only supported for raw outputs, not %s", format)
	}

	layout := nanojpeg.LayoutRGB24
	if cfg.bpp32 {
		layout = nanojpeg.LayoutRGB32
	}

	if cfg.bgr {
		layout.Order = nanojpeg.OrderBGR
	}

	data, err := os.ReadFile(cfg.input)
	if err != nil {
		return "", fmt.Errorf("failed to read input file: %w", err)
	}

	dec := nanojpeg.New(&nanojpeg.Options{Layout: layout, UpsampleMethod: method})
	defer dec.Close()

	info, err := dec.Decode(data)
	if err != nil {
		return "", &decodeError{err: err}
	}

	if cfg.info {
		fmt.Printf("Image size: %dx%d pixels\n", info.Width, info.Height)
		fmt.Printf("Components: %d (color: %v)\n", info.Components, info.IsColor)
		fmt.Printf("Output: %d bytes, %d bytes per pixel\n", len(info.Pixels), info.BytesPerPixel())
		fmt.Printf("Status: %s\n", info.Status)

		if cfg.output == "" && cfg.format == "" {
			return "", nil
		}
	}

	if output == "" {
		ext := filepath.Ext(cfg.input)
		output = cfg.input[:len(cfg.input)-len(ext)] + "." + format
	}

	file, err := os.Create(output)
	if err != nil {
		return "", fmt.Errorf("failed to create output file: %w", err)
	}

	if err := writers[format](file, info); err != nil {
		file.Close()

		return "", fmt.Errorf("failed to write %s: %w", format, err)
	}

	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", output, err)
	}

	return output, nil
}
