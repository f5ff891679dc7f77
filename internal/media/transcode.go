package media

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/iconidentify/postgrabba/internal/domain"
)

// fitWithin returns the size of a w×h image scaled so its longest side is
// exactly max, keeping the aspect ratio. Images already within max are
// returned unchanged.
func fitWithin(w, h, max int) (int, int) {
	if max <= 0 || (w <= max && h <= max) {
		return w, h
	}
	if w >= h {
		nh := int(math.Round(float64(h) * float64(max) / float64(w)))
		if nh < 1 {
			nh = 1
		}
		return max, nh
	}
	nw := int(math.Round(float64(w) * float64(max) / float64(h)))
	if nw < 1 {
		nw = 1
	}
	return nw, max
}

// transcodeImage decodes data, downscales it to the tier, flattens any alpha
// onto white and re-encodes it as JPEG at the tier quality.
func transcodeImage(data []byte, tier domain.QualityTier) ([]byte, int, int, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", domain.ErrUnsupportedMedia, err)
	}

	sb := src.Bounds()
	w, h := fitWithin(sb.Dx(), sb.Dy(), tier.MaxDimension)
	if w <= 0 || h <= 0 {
		return nil, 0, 0, fmt.Errorf("%w: empty image", domain.ErrUnsupportedMedia)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	if w == sb.Dx() && h == sb.Dy() {
		draw.Draw(dst, dst.Bounds(), src, sb.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, sb, draw.Over, nil)
	}

	quality := tier.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, 0, 0, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), w, h, nil
}
