package transform

import (
	"bytes"
	"fmt"
	"image"
	"math"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"

	"github.com/mosaicapp/media-pipeline/internal/job"
)

const (
	// DefaultMaxBytes is the per-image byte budget. Images over the budget
	// are downscaled before re-encoding.
	DefaultMaxBytes = 1 << 20

	baseQuality = 85
	minQuality  = 40
)

// normalizeImage decodes one image, downscales it when it exceeds the
// byte budget, and re-encodes it as JPEG. A decode failure is terminal:
// retrying a malformed blob can never succeed.
func normalizeImage(data []byte, maxBytes int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode image: %v", job.ErrInvalidPayload, err)
	}

	if len(data) > maxBytes {
		// Scale both dimensions by the square root of the byte ratio so the
		// pixel count shrinks roughly proportionally to the size overrun.
		ratio := math.Sqrt(float64(maxBytes) / float64(len(data)))
		bounds := img.Bounds()
		width := int(float64(bounds.Dx()) * ratio)
		height := int(float64(bounds.Dy()) * ratio)
		if width < 1 {
			width = 1
		}
		if height < 1 {
			height = 1
		}
		img = imaging.Resize(img, width, height, imaging.Lanczos)
	}

	quality := baseQuality
	if len(data) > maxBytes {
		quality = int(float64(baseQuality) * float64(maxBytes) / float64(len(data)))
		if quality < minQuality {
			quality = minQuality
		}
	}

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return buf.Bytes(), nil
}
