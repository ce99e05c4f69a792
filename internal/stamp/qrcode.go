package stamp

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	qrcode "github.com/skip2/go-qrcode"
)

// codePixels is the raster size of the code itself. The code is scaled down
// when placed on the page, so this only bounds print sharpness.
const codePixels = 512

// RenderCode renders text as a low error-correction QR code centred on an
// opaque white backing. padRatio is the backing padding relative to the code
// edge length. It returns the PNG bytes and the pixel edge of the image.
func RenderCode(text string, padRatio float64) ([]byte, int, error) {
	q, err := qrcode.New(text, qrcode.Low)
	if err != nil {
		return nil, 0, fmt.Errorf("encode %q: %w", text, err)
	}
	q.DisableBorder = true
	q.BackgroundColor = color.White
	q.ForegroundColor = color.Black
	code := q.Image(codePixels)

	pad := int(math.Round(float64(code.Bounds().Dx()) * math.Max(padRatio, 0)))
	edge := code.Bounds().Dx() + 2*pad

	canvas := image.NewRGBA(image.Rect(0, 0, edge, edge))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(canvas, image.Rect(pad, pad, pad+code.Bounds().Dx(), pad+code.Bounds().Dy()),
		code, code.Bounds().Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, 0, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), edge, nil
}
