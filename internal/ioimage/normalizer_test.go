package ioimage

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/fieldnote/dex/pkg/errcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func encodePNGWithAlpha(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 0})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNormalize_ResizesOversizedImage(t *testing.T) {
	raw := encodeJPEG(t, 4000, 3000)
	out, meta, err := Normalize(raw, "image/jpeg", Options{})
	require.NoError(t, err)
	assert.True(t, meta.WasResized)
	assert.Equal(t, 4000, meta.OriginalWidth)
	assert.Equal(t, 3000, meta.OriginalHeight)
	assert.LessOrEqual(t, meta.ProcessedWidth, MaxDimension)
	assert.LessOrEqual(t, meta.ProcessedHeight, MaxDimension)
	assert.Equal(t, 2560, max(meta.ProcessedWidth, meta.ProcessedHeight))

	decoded, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, meta.ProcessedWidth, decoded.Bounds().Dx())
}

func TestNormalize_ExactMaxSideNotResized(t *testing.T) {
	raw := encodeJPEG(t, 2560, 1000)
	_, meta, err := Normalize(raw, "image/jpeg", Options{})
	require.NoError(t, err)
	assert.False(t, meta.WasResized)
}

func TestNormalize_Deterministic(t *testing.T) {
	raw := encodeJPEG(t, 800, 600)
	opts := Options{Transform: Transform{Rotation: Rotation90}}
	out1, _, err := Normalize(raw, "image/jpeg", opts)
	require.NoError(t, err)
	out2, _, err := Normalize(raw, "image/jpeg", opts)
	require.NoError(t, err)
	assert.Equal(t, out1, out2, "identical input+transform must yield byte-identical PNG output")
}

func TestNormalize_RotatesCorrectly(t *testing.T) {
	raw := encodeJPEG(t, 800, 600)
	out, meta, err := Normalize(raw, "image/jpeg", Options{Transform: Transform{Rotation: Rotation90}})
	require.NoError(t, err)
	assert.Equal(t, 600, meta.ProcessedWidth)
	assert.Equal(t, 800, meta.ProcessedHeight)
	decoded, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 600, decoded.Bounds().Dx())
}

func TestNormalize_InvalidRotationRejected(t *testing.T) {
	raw := encodeJPEG(t, 100, 100)
	_, _, err := Normalize(raw, "image/jpeg", Options{Transform: Transform{Rotation: 45}})
	require.Error(t, err)
	assert.Equal(t, errcode.ValidationError, errcode.CodeOf(err))
}

func TestNormalize_CropNoOpAtFullBounds(t *testing.T) {
	raw := encodeJPEG(t, 100, 80)
	_, meta, err := Normalize(raw, "image/jpeg", Options{Transform: Transform{Crop: &Crop{X: 0, Y: 0, W: 100, H: 80}}})
	require.NoError(t, err)
	assert.Equal(t, 100, meta.ProcessedWidth)
	assert.Equal(t, 80, meta.ProcessedHeight)
}

func TestNormalize_CropOutOfBoundsRejected(t *testing.T) {
	raw := encodeJPEG(t, 100, 80)
	_, _, err := Normalize(raw, "image/jpeg", Options{Transform: Transform{Crop: &Crop{X: 0, Y: 0, W: 200, H: 80}}})
	require.Error(t, err)
	assert.Equal(t, errcode.ValidationError, errcode.CodeOf(err))
}

func TestNormalize_FlattensAlphaOntoWhite(t *testing.T) {
	raw := encodePNGWithAlpha(t, 20, 20)
	out, _, err := Normalize(raw, "image/png", Options{})
	require.NoError(t, err)
	decoded, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	r, g, b, a := decoded.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), a, "output must be fully opaque")
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0xffff), g)
	assert.Equal(t, uint32(0xffff), b)
}

func TestNormalize_RejectsOversizeUpload(t *testing.T) {
	raw := make([]byte, MaxUploadBytes+1)
	_, _, err := Normalize(raw, "image/jpeg", Options{})
	require.Error(t, err)
	assert.Equal(t, errcode.ImageUnsupportedMediaError, errcode.CodeOf(err))
}

func TestNormalize_RejectsHEIC(t *testing.T) {
	raw := make([]byte, 32)
	copy(raw[4:], []byte("ftypheic"))
	_, _, err := Normalize(raw, "image/heic", Options{})
	require.Error(t, err)
	assert.Equal(t, errcode.ImageUnsupportedMediaError, errcode.CodeOf(err))
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// exifBlob builds a minimal APP1 payload: one IFD0 entry carrying the
// orientation tag (0x0112) in the requested byte order.
func exifBlob(bigEndian bool, orientation byte) []byte {
	blob := []byte("Exif\x00\x00")
	if bigEndian {
		return append(blob,
			'M', 'M', 0x00, 0x2A,
			0x00, 0x00, 0x00, 0x08, // IFD0 offset: 4 bytes
			0x00, 0x01, // one entry
			0x01, 0x12, // orientation tag
			0x00, 0x03, // SHORT
			0x00, 0x00, 0x00, 0x01,
			0x00, orientation, 0x00, 0x00,
		)
	}
	return append(blob,
		'I', 'I', 0x2A, 0x00,
		0x08, 0x00, 0x00, 0x00,
		0x01, 0x00,
		0x12, 0x01,
		0x03, 0x00,
		0x01, 0x00, 0x00, 0x00,
		orientation, 0x00, 0x00, 0x00,
	)
}

func TestExifOrientationOf_ReadsBothByteOrders(t *testing.T) {
	assert.Equal(t, 6, exifOrientationOf(exifBlob(false, 6)))
	assert.Equal(t, 6, exifOrientationOf(exifBlob(true, 6)))
	assert.Equal(t, 3, exifOrientationOf(exifBlob(true, 3)))
}

func TestExifOrientationOf_NoExifDefaultsToOne(t *testing.T) {
	assert.Equal(t, 1, exifOrientationOf([]byte("not an image at all")))
}
