package artifact

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// basicfont.Face7x13 metrics
const (
	charWidth  = 7
	lineHeight = 16
	padding    = 8
)

var (
	bannerColor = color.RGBA{R: 200, G: 30, B: 30, A: 230}
	white       = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	black       = color.RGBA{R: 0, G: 0, B: 0, A: 255}
)

// Annotate draws a red banner with the given lines on top of a png image and
// returns the new png.
func Annotate(pngData []byte, lines []string) ([]byte, error) {
	if len(lines) == 0 {
		return pngData, nil
	}
	img, err := png.Decode(bytes.NewReader(pngData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	rgba := toRGBA(img)
	b := rgba.Bounds()

	lines = wrap(lines, (b.Dx()-2*padding)/charWidth)
	bannerHeight := len(lines)*lineHeight + 2*padding
	if bannerHeight > b.Dy() {
		bannerHeight = b.Dy()
	}
	banner := image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+bannerHeight)
	draw.Draw(rgba, banner, image.NewUniform(bannerColor), image.Point{}, draw.Over)
	drawLines(rgba, lines, b.Min.X+padding, b.Min.Y+padding, white)
	return encode(rgba)
}

// RenderText renders lines as black text on white. A height of zero fits all
// lines.
func RenderText(lines []string, width, height int) ([]byte, error) {
	if width <= 0 {
		return nil, fmt.Errorf("invalid width %d", width)
	}
	lines = wrap(lines, (width-2*padding)/charWidth)
	if height <= 0 {
		height = len(lines)*lineHeight + 2*padding
	}
	rgba := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(rgba, rgba.Bounds(), image.NewUniform(white), image.Point{}, draw.Src)
	drawLines(rgba, lines, padding, padding, black)
	return encode(rgba)
}

func toRGBA(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)
	return rgba
}

// drawLines draws lines starting with the top left corner at x, y.
func drawLines(img *image.RGBA, lines []string, x, y int, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
	}
	ascent := basicfont.Face7x13.Metrics().Ascent.Ceil()
	for i, l := range lines {
		baseline := y + i*lineHeight + ascent
		if baseline > img.Bounds().Max.Y {
			return
		}
		d.Dot = fixed.P(x, baseline)
		d.DrawString(l)
	}
}

// wrap breaks lines longer than width runes.
func wrap(lines []string, width int) []string {
	if width <= 0 {
		return lines
	}
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		r := []rune(l)
		for len(r) > width {
			out = append(out, string(r[:width]))
			r = r[width:]
		}
		out = append(out, string(r))
	}
	return out
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
