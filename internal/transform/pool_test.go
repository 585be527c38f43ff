package transform

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaicapp/media-pipeline/internal/job"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testJPEG renders a width x height gradient so the encoded bytes are
// not trivially compressible.
func testJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 7 % 256),
				G: uint8(y * 13 % 256),
				B: uint8((x + y) % 256),
				A: 255,
			})
		}
	}
	buf := new(bytes.Buffer)
	require.NoError(t, jpeg.Encode(buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func TestPool_ProcessAll_PreservesOrder(t *testing.T) {
	pool := NewPool(&Config{Logger: testLogger(), Size: 4})
	defer pool.Close()

	// Distinct dimensions per input so outputs are distinguishable.
	blobs := [][]byte{
		testJPEG(t, 10, 10),
		testJPEG(t, 20, 20),
		testJPEG(t, 30, 30),
		testJPEG(t, 40, 40),
		testJPEG(t, 50, 50),
	}

	results, err := pool.ProcessAll(context.Background(), blobs)
	require.NoError(t, err)
	require.Len(t, results, len(blobs))

	for i, data := range results {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		require.NoError(t, err, "result %d", i)
		assert.Equal(t, (i+1)*10, cfg.Width, "result %d out of order", i)
	}
}

func TestPool_ProcessAll_InvalidImage(t *testing.T) {
	pool := NewPool(&Config{Logger: testLogger(), Size: 2})
	defer pool.Close()

	blobs := [][]byte{
		testJPEG(t, 10, 10),
		[]byte("definitely not an image"),
	}

	_, err := pool.ProcessAll(context.Background(), blobs)
	require.Error(t, err)
	assert.ErrorIs(t, err, job.ErrInvalidPayload)
}

func TestPool_ProcessAll_Empty(t *testing.T) {
	pool := NewPool(&Config{Logger: testLogger(), Size: 1})
	defer pool.Close()

	results, err := pool.ProcessAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestPool_DefaultSize(t *testing.T) {
	size := DefaultSize()
	assert.GreaterOrEqual(t, size, 1)
	assert.LessOrEqual(t, size, 8)

	pool := NewPool(&Config{Logger: testLogger()})
	defer pool.Close()
	assert.Equal(t, size, pool.Size())
}

func TestNormalizeImage_ConvertsToJPEG(t *testing.T) {
	data, err := normalizeImage(testPNG(t, 16, 16), DefaultMaxBytes)
	require.NoError(t, err)

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestNormalizeImage_DownscalesOversized(t *testing.T) {
	src := testJPEG(t, 800, 800)
	budget := len(src) / 4

	data, err := normalizeImage(src, budget)
	require.NoError(t, err)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Less(t, cfg.Width, 800)
	assert.Less(t, cfg.Height, 800)
	assert.Less(t, len(data), len(src))
}

func TestNormalizeImage_InvalidData(t *testing.T) {
	_, err := normalizeImage([]byte{0x00, 0x01, 0x02}, DefaultMaxBytes)
	require.Error(t, err)
	assert.ErrorIs(t, err, job.ErrInvalidPayload)
}
