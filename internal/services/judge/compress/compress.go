// Package compress normalizes captured evidence into a bounded, lossy
// encoding suitable for a reasoning-model request payload.
package compress

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"

	apperrors "github.com/rplusq/run-judge/internal/platform/errors"
	"github.com/rplusq/run-judge/internal/services/judge/capture"
)

const (
	// MaxDimension bounds both sides of the encoded image.
	MaxDimension = 1000
	// Quality is the fixed lossy encoding tier.
	Quality = 50
)

// Compressed is a bounded-size, lossy re-encode of one activity's
// evidence. Transient: it lives only for the duration of a pipeline
// run.
type Compressed struct {
	ActivityID int64
	JPEG       []byte
}

// Compress downscales ev to fit MaxDimension×MaxDimension preserving
// aspect ratio (never upscaling) and re-encodes it lossily. The result
// is deterministic for identical input bytes.
func Compress(ev capture.Evidence) (Compressed, error) {
	src, err := png.Decode(bytes.NewReader(ev.PNG))
	if err != nil {
		return Compressed{}, apperrors.Wrap(apperrors.CodeCompressionFailure, "decode captured png", err)
	}

	scaled := scaleToFit(src, MaxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: Quality}); err != nil {
		return Compressed{}, apperrors.Wrap(apperrors.CodeCompressionFailure, "encode jpeg", err)
	}
	return Compressed{ActivityID: ev.ActivityID, JPEG: buf.Bytes()}, nil
}

func scaleToFit(src image.Image, maxDim int) image.Image {
	bounds := src.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width <= maxDim && height <= maxDim {
		return src
	}

	var targetWidth, targetHeight int
	if width >= height {
		targetWidth = maxDim
		targetHeight = height * maxDim / width
	} else {
		targetHeight = maxDim
		targetWidth = width * maxDim / height
	}
	if targetWidth < 1 {
		targetWidth = 1
	}
	if targetHeight < 1 {
		targetHeight = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, targetWidth, targetHeight))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}
