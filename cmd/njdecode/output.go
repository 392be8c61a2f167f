package main

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/gen2brain/nanojpeg"
)

// writers encode decoded pixels in one output format.
var writers = map[string]func(io.Writer, *nanojpeg.ImageInfo) error{
	"png":  writePNG,
	"bmp":  writeBMP,
	"tiff": writeTIFF,
	"raw":  writeRaw,
	"zst":  writeZstd,
}

// formatFromPath infers the output format from a file extension, defaulting to png.
func formatFromPath(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "tif":
		return "tiff"
	case "zstd":
		return "zst"
	case "bin", "rgb", "bgr":
		return "raw"
	}

	if _, ok := writers[ext]; ok {
		return ext
	}

	return "png"
}

// rawFormat reports whether format writes the pixel buffer as is.
func rawFormat(format string) bool {
	return format == "raw" || format == "zst"
}

// toImage wraps or converts the decoded pixels into an image.Image.
// Grayscale output is used directly; color output is expanded to RGBA.
func toImage(info *nanojpeg.ImageInfo) (image.Image, error) {
	rect := image.Rect(0, 0, info.Width, info.Height)
	bpp := info.BytesPerPixel()

	if bpp == 1 {
		return &image.Gray{Pix: info.Pixels, Stride: info.Stride(), Rect: rect}, nil
	}

	if info.Layout.Order != nanojpeg.OrderRGB {
		return nil, fmt.Errorf("BGR pixels cannot be stored as an image")
	}

	img := image.NewRGBA(rect)
	for i, o := 0, 0; i < len(info.Pixels); i, o = i+bpp, o+4 {
		img.Pix[o] = info.Pixels[i]
		img.Pix[o+1] = info.Pixels[i+1]
		img.Pix[o+2] = info.Pixels[i+2]
		img.Pix[o+3] = 0xFF
	}

	return img, nil
}

func writePNG(w io.Writer, info *nanojpeg.ImageInfo) error {
	img, err := toImage(info)
	if err != nil {
		return err
	}

	return png.Encode(w, img)
}

func writeBMP(w io.Writer, info *nanojpeg.ImageInfo) error {
	img, err := toImage(info)
	if err != nil {
		return err
	}

	return bmp.Encode(w, img)
}

func writeTIFF(w io.Writer, info *nanojpeg.ImageInfo) error {
	img, err := toImage(info)
	if err != nil {
		return err
	}

	return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
}

// writeRaw dumps the pixel buffer.
func writeRaw(w io.Writer, info *nanojpeg.ImageInfo) error {
	_, err := w.Write(info.Pixels)

	return err
}

// writeZstd dumps the pixel buffer as a zstd stream.
func writeZstd(w io.Writer, info *nanojpeg.ImageInfo) error {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}

	if _, err := enc.Write(info.Pixels); err != nil {
		_ = enc.Close()

		return err
	}

	return enc.Close()
}
