// Package ioimage implements the Image Normalizer (C1): deterministic
// decode, EXIF auto-orient, user transforms, resize, and re-encode to the
// dex-compatible PNG form described in spec §4.1.
package ioimage

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	"golang.org/x/image/webp"

	"github.com/fieldnote/dex/pkg/errcode"
)

// MaxDimension is the largest side a converted image may have (spec §3, §4.1).
const MaxDimension = 2560

// MaxUploadBytes rejects anything larger before decode is even attempted.
const MaxUploadBytes = 20 << 20 // 20 MiB

// Rotation is a user- or EXIF-driven axis-aligned rotation in degrees.
type Rotation int

const (
	Rotation0   Rotation = 0
	Rotation90  Rotation = 90
	Rotation180 Rotation = 180
	Rotation270 Rotation = 270
)

func (r Rotation) valid() bool {
	switch r {
	case Rotation0, Rotation90, Rotation180, Rotation270:
		return true
	}
	return false
}

// Crop is an axis-aligned crop rectangle in source-image pixel coordinates.
type Crop struct {
	X, Y, W, H int
}

// Transform is the caller-supplied transformation record (spec §3: Image
// Conversion.transformations_applied; spec §4.1 input).
type Transform struct {
	Rotation Rotation
	Crop     *Crop
}

// Options bundles the Normalize inputs not carried by Transform.
type Options struct {
	Transform          Transform
	ApplyEXIFRotation  bool // default true; caller passes explicit value
}

// Metadata is the output side-record (spec §4.1 Output).
type Metadata struct {
	OriginalFormat  string
	OriginalWidth   int
	OriginalHeight  int
	ProcessedWidth  int
	ProcessedHeight int
	EXIFOrientation int
	WasResized      bool
	WasConverted    bool
}

var supportedFormats = map[string]bool{
	"jpeg": true,
	"png":  true,
	"webp": true,
	"heic": true,
}

// Normalize runs the full C1 pipeline: decode, EXIF auto-orient, user
// rotation/crop, alpha flatten, resize, PNG re-encode. Deterministic: the
// same bytes and Options always produce byte-identical PNG output, so the
// Conversion Store's checksum is stable (spec §8 round-trip law).
func Normalize(raw []byte, declaredMIME string, opts Options) ([]byte, Metadata, error) {
	var meta Metadata

	if len(raw) > MaxUploadBytes {
		return nil, meta, errcode.New(errcode.ImageUnsupportedMediaError,
			"image exceeds maximum upload size of <em>20 MiB</em>", nil)
	}

	format := detectFormat(raw, declaredMIME)
	if !supportedFormats[format] {
		return nil, meta, errcode.New(errcode.ImageUnsupportedMediaError,
			"unsupported image format <em>%s</em>", nil)
	}
	if format == "heic" {
		// No pure-Go HEIC decoder is available in this deployment's
		// dependency set; recognize the MIME type and fail distinctly
		// rather than mis-decoding it as JPEG (DESIGN.md Open Question 4).
		return nil, meta, errcode.New(errcode.ImageUnsupportedMediaError,
			"HEIC decoding is not supported by this deployment", nil)
	}

	img, exifOrientation, err := decode(raw, format)
	if err != nil {
		return nil, meta, errcode.New(errcode.ImageUnsupportedMediaError, "failed to decode image", err)
	}

	meta.OriginalFormat = format
	b := img.Bounds()
	meta.OriginalWidth, meta.OriginalHeight = b.Dx(), b.Dy()
	meta.EXIFOrientation = exifOrientation

	applyEXIF := opts.ApplyEXIFRotation
	if applyEXIF {
		switch exifOrientation {
		case 3:
			img = rotate(img, Rotation180)
		case 6:
			img = rotate(img, Rotation90)
		case 8:
			img = rotate(img, Rotation270)
		}
	}

	if opts.Transform.Rotation != Rotation0 {
		if !opts.Transform.Rotation.valid() {
			return nil, meta, errcode.Validation("invalid rotation <em>%d</em>; must be one of 0/90/180/270", int(opts.Transform.Rotation))
		}
		img = rotate(img, opts.Transform.Rotation)
	}

	if c := opts.Transform.Crop; c != nil {
		img, err = crop(img, *c)
		if err != nil {
			return nil, meta, err
		}
	}

	img = flattenAndConvertRGB(img)

	wasResized := false
	bd := img.Bounds()
	if bd.Dx() > MaxDimension || bd.Dy() > MaxDimension {
		img = resize(img, MaxDimension)
		wasResized = true
	}

	out := img.Bounds()
	meta.ProcessedWidth, meta.ProcessedHeight = out.Dx(), out.Dy()
	meta.WasResized = wasResized
	meta.WasConverted = format != "png" || wasResized || opts.Transform.Rotation != Rotation0 || opts.Transform.Crop != nil

	var buf bytes.Buffer
	enc := &png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, meta, errcode.Internal("failed to encode PNG", err)
	}

	return buf.Bytes(), meta, nil
}

func detectFormat(raw []byte, declaredMIME string) string {
	switch {
	case len(raw) >= 3 && raw[0] == 0xFF && raw[1] == 0xD8 && raw[2] == 0xFF:
		return "jpeg"
	case len(raw) >= 8 && bytes.Equal(raw[:8], []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}):
		return "png"
	case len(raw) >= 12 && bytes.Equal(raw[0:4], []byte("RIFF")) && bytes.Equal(raw[8:12], []byte("WEBP")):
		return "webp"
	case len(raw) >= 12 && bytes.Equal(raw[4:8], []byte("ftyp")) &&
		(bytes.Contains(raw[8:12], []byte("heic")) || bytes.Contains(raw[8:12], []byte("heix")) || bytes.Contains(raw[8:12], []byte("mif1"))):
		return "heic"
	}
	switch declaredMIME {
	case "image/jpeg":
		return "jpeg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/heic", "image/heif":
		return "heic"
	}
	return "unknown"
}

func decode(raw []byte, format string) (image.Image, int, error) {
	orientation := exifOrientationOf(raw)
	r := bytes.NewReader(raw)
	var (
		img image.Image
		err error
	)
	switch format {
	case "jpeg":
		img, err = jpeg.Decode(r)
	case "png":
		img, err = png.Decode(r)
	case "webp":
		img, err = webp.Decode(r)
	default:
		return nil, 0, errcode.New(errcode.ImageUnsupportedMediaError, "unsupported format", nil)
	}
	if err != nil {
		return nil, 0, err
	}
	return img, orientation, nil
}

// exifOrientationOf performs a best-effort scan for the EXIF orientation
// tag (0x0112) within a JPEG APP1 segment. Returns 1 (no-op) when absent
// or the format carries no EXIF (PNG, WebP).
func exifOrientationOf(raw []byte) int {
	idx := bytes.Index(raw, []byte("Exif\x00\x00"))
	if idx < 0 || idx+16 >= len(raw) {
		return 1
	}
	tiff := raw[idx+6:]
	if len(tiff) < 8 {
		return 1
	}
	littleEndian := tiff[0] == 'I' && tiff[1] == 'I'
	readU16 := func(b []byte) int {
		if littleEndian {
			return int(b[0]) | int(b[1])<<8
		}
		return int(b[0])<<8 | int(b[1])
	}
	// The IFD0 offset at bytes 4-7 is 4 bytes wide in both byte orders.
	ifdOffset := int(tiff[4])<<24 | int(tiff[5])<<16 | int(tiff[6])<<8 | int(tiff[7])
	if littleEndian {
		ifdOffset = int(tiff[4]) | int(tiff[5])<<8 | int(tiff[6])<<16 | int(tiff[7])<<24
	}
	if ifdOffset+2 > len(tiff) {
		return 1
	}
	numEntries := readU16(tiff[ifdOffset : ifdOffset+2])
	for i := 0; i < numEntries; i++ {
		entryOffset := ifdOffset + 2 + i*12
		if entryOffset+12 > len(tiff) {
			break
		}
		tag := readU16(tiff[entryOffset : entryOffset+2])
		if tag == 0x0112 {
			val := readU16(tiff[entryOffset+8 : entryOffset+10])
			if val >= 1 && val <= 8 {
				return val
			}
		}
	}
	return 1
}

func rotate(img image.Image, r Rotation) image.Image {
	b := img.Bounds()
	switch r {
	case Rotation90:
		dst := image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				dst.Set(b.Max.Y-1-y+b.Min.Y, x-b.Min.X, img.At(x, y))
			}
		}
		return dst
	case Rotation180:
		dst := image.NewRGBA(b)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				dst.Set(b.Max.X-1-x+b.Min.X, b.Max.Y-1-y+b.Min.Y, img.At(x, y))
			}
		}
		return dst
	case Rotation270:
		dst := image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				dst.Set(y-b.Min.Y, b.Max.X-1-x+b.Min.X, img.At(x, y))
			}
		}
		return dst
	default:
		return img
	}
}

func crop(img image.Image, c Crop) (image.Image, error) {
	b := img.Bounds()
	if c.X < 0 || c.Y < 0 || c.W <= 0 || c.H <= 0 ||
		c.X+c.W > b.Dx() || c.Y+c.H > b.Dy() {
		return nil, errcode.Validation("crop rectangle lies outside image bounds")
	}
	rect := image.Rect(b.Min.X+c.X, b.Min.Y+c.Y, b.Min.X+c.X+c.W, b.Min.Y+c.Y+c.H)
	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(rect), nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, c.W, c.H))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst, nil
}

// flattenAndConvertRGB flattens any alpha onto a white background and
// produces a plain RGB-backed image (spec §4.1 step 5).
func flattenAndConvertRGB(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	white := image.NewUniform(color.White)
	draw.Draw(dst, dst.Bounds(), white, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

// resize scales img so its longer side equals maxSide, preserving aspect
// ratio, using draw.CatmullRom as the high-quality downsampling filter
// (spec §4.1 step 6: "Lanczos-equivalent").
func resize(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	var newW, newH int
	if w >= h {
		newW = maxSide
		newH = int(float64(h) * float64(maxSide) / float64(w))
	} else {
		newH = maxSide
		newW = int(float64(w) * float64(maxSide) / float64(h))
	}
	if newH < 1 {
		newH = 1
	}
	if newW < 1 {
		newW = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
