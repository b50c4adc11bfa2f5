package capture

import (
	"image"

	"github.com/edirooss/groundstation/internal/domain/stream"
	"golang.org/x/image/draw"
)

// Convert applies the color mode, then the scaling. The result never aliases
// src when a conversion happens; pass-through returns src itself.
func Convert(src image.Image, mode stream.ColorMode, sc stream.Scaling) image.Image {
	out := src
	if mode == stream.Gray {
		out = toGray(out)
	}
	if !sc.IsSource() {
		out = scale(out, sc.Width, sc.Height)
	}
	return out
}

func toGray(src image.Image) image.Image {
	if g, ok := src.(*image.Gray); ok {
		return g
	}
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

func scale(src image.Image, w, h int) image.Image {
	b := src.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return src
	}

	rect := image.Rect(0, 0, w, h)
	var dst draw.Image
	if _, gray := src.(*image.Gray); gray {
		dst = image.NewGray(rect)
	} else {
		dst = image.NewRGBA(rect)
	}
	draw.BiLinear.Scale(dst, rect, src, b, draw.Src, nil)
	return dst
}
