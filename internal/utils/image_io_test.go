package utils

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o600))
	return p
}

func TestLoadImage(t *testing.T) {
	p := writePNG(t, t.TempDir(), "sheet.png", 120, 150)

	img, meta, err := LoadImage(p)
	require.NoError(t, err)
	assert.Equal(t, 120, img.Bounds().Dx())
	assert.Equal(t, "png", meta.Format)
	assert.Equal(t, p, meta.Path)
	assert.Positive(t, meta.SizeBytes)
	assert.InDelta(t, 0.8, meta.AspectRatio, 1e-9)
}

func TestLoadImage_Errors(t *testing.T) {
	_, _, err := LoadImage("")
	assert.Error(t, err)

	_, _, err = LoadImage("sheet.gif")
	assert.ErrorContains(t, err, "unsupported format")

	_, _, err = LoadImage(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.jpg")
	require.NoError(t, os.WriteFile(bad, []byte("not an image"), 0o600))
	_, _, err = LoadImage(bad)
	var ipe *ImageProcessingError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "decode", ipe.Operation)
}

func TestIsSupportedImage(t *testing.T) {
	for _, p := range []string{"a.JPG", "b.jpeg", "c.png", "d.bmp", "e.tiff", "f.tif", "g.webp"} {
		assert.True(t, IsSupportedImage(p), p)
	}
	assert.False(t, IsSupportedImage("scan.pdf"))
	assert.True(t, IsPDF("scan.PDF"))
}

func TestValidateImageConstraints(t *testing.T) {
	c := DefaultImageConstraints()
	assert.NoError(t, ValidateImageConstraints(image.NewGray(image.Rect(0, 0, 800, 1000)), c))
	assert.ErrorContains(t, ValidateImageConstraints(image.NewGray(image.Rect(0, 0, 50, 1000)), c), "too small")
	assert.ErrorContains(t, ValidateImageConstraints(image.NewGray(image.Rect(0, 0, 20000, 100)), c), "too large")
	assert.Error(t, ValidateImageConstraints(nil, c))
}
