package control

import (
	"bytes"
	"context"
	"image"
	"image/png"

	"github.com/chromedp/chromedp"
	"golang.org/x/image/draw"
)

// Screenshot captures the watched tab and returns a PNG no wider than
// maxWidth. maxWidth <= 0 returns the capture at full size.
func (c *Controller) Screenshot(ctx context.Context, maxWidth int) ([]byte, error) {
	tab, err := c.currentTab()
	if err != nil {
		return nil, err
	}
	var raw []byte
	if err := c.run(ctx, tab, chromedp.CaptureScreenshot(&raw)); err != nil {
		return nil, err
	}
	if maxWidth <= 0 {
		return raw, nil
	}
	return shrinkPNG(raw, maxWidth)
}

func shrinkPNG(raw []byte, maxWidth int) ([]byte, error) {
	src, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	if b.Dx() <= maxWidth {
		return raw, nil
	}
	h := b.Dy() * maxWidth / b.Dx()
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
