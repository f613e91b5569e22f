// Package annotate draws element boxes and labels onto device screenshots.
package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/mj1618/smartscript/internal/model"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// LabelMode controls what text is drawn on each box.
type LabelMode int

const (
	// LabelCoords draws "(x,y)" center coordinates.
	LabelCoords LabelMode = iota
	// LabelIDs draws "[id]" element IDs.
	LabelIDs
	// LabelText draws the element label (resource id, description or text).
	LabelText
)

var (
	candidateColor = color.RGBA{R: 255, G: 0, B: 0, A: 180}
	targetColor    = color.RGBA{R: 0, G: 200, B: 0, A: 220}
	textColor      = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	outlineColor   = color.RGBA{R: 0, G: 0, B: 0, A: 200}
)

// Box is an element to outline. Primary boxes are drawn in a highlight colour.
type Box struct {
	Element model.Element
	Primary bool
}

// BoxesFromMatches outlines every match, the first one as primary.
func BoxesFromMatches(matches []model.Match) []Box {
	boxes := make([]Box, len(matches))
	for i, m := range matches {
		boxes[i] = Box{Element: m.Element, Primary: i == 0}
	}
	return boxes
}

// PNG decodes a PNG screenshot, draws boxes and re-encodes it. screen is the
// coordinate space of the element bounds; image pixels are scaled from it.
func PNG(data []byte, boxes []Box, screen [2]int, mode LabelMode) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	out := Image(img, boxes, screen, mode)
	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("failed to encode screenshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Image draws boxes onto a copy of img.
func Image(img image.Image, boxes []Box, screen [2]int, mode LabelMode) *image.RGBA {
	rgba := ToRGBA(img)

	b := img.Bounds()
	scaleX, scaleY := 1.0, 1.0
	if screen[0] > 0 {
		scaleX = float64(b.Dx()) / float64(screen[0])
	}
	if screen[1] > 0 {
		scaleY = float64(b.Dy()) / float64(screen[1])
	}

	// Primary boxes last so they stay on top.
	for _, primary := range []bool{false, true} {
		for _, box := range boxes {
			if box.Primary == primary {
				drawBox(rgba, box, scaleX, scaleY, mode)
			}
		}
	}
	return rgba
}

// ToRGBA converts any image to RGBA.
func ToRGBA(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)
	return rgba
}

func drawBox(img *image.RGBA, box Box, scaleX, scaleY float64, mode LabelMode) {
	el := box.Element
	x := int(float64(el.Bounds[0]) * scaleX)
	y := int(float64(el.Bounds[1]) * scaleY)
	w := int(float64(el.Bounds[2]) * scaleX)
	h := int(float64(el.Bounds[3]) * scaleY)

	c := candidateColor
	if box.Primary {
		c = targetColor
		drawRectangle(img, x-1, y-1, x+w+1, y+h+1, c)
	}
	drawRectangle(img, x, y, x+w, y+h, c)

	var label string
	switch mode {
	case LabelIDs:
		label = fmt.Sprintf("[%d]", el.ID)
	case LabelText:
		label = el.Label()
		if label == "" {
			label = fmt.Sprintf("[%d]", el.ID)
		}
	default:
		cx, cy := el.Center()
		label = fmt.Sprintf("(%d,%d)", cx, cy)
	}
	drawTextWithOutline(img, label, x+w/2, y+h/2)
}

func isWithinBounds(bounds image.Rectangle, x, y int) bool {
	return x >= bounds.Min.X && x < bounds.Max.X && y >= bounds.Min.Y && y < bounds.Max.Y
}

// drawRectangle draws a rectangle outline clamped to the image.
func drawRectangle(img *image.RGBA, x1, y1, x2, y2 int, c color.Color) {
	bounds := img.Bounds()
	x1, y1 = max(x1, bounds.Min.X), max(y1, bounds.Min.Y)
	x2, y2 = min(x2, bounds.Max.X), min(y2, bounds.Max.Y)
	if x2 <= x1 || y2 <= y1 {
		return
	}

	for x := x1; x < x2; x++ {
		if isWithinBounds(bounds, x, y1) {
			img.Set(x, y1, c)
		}
		if isWithinBounds(bounds, x, y2-1) {
			img.Set(x, y2-1, c)
		}
	}
	for y := y1; y < y2; y++ {
		if isWithinBounds(bounds, x1, y) {
			img.Set(x1, y, c)
		}
		if isWithinBounds(bounds, x2-1, y) {
			img.Set(x2-1, y, c)
		}
	}
}

// drawTextWithOutline centers text at (x, y) with a one pixel outline.
func drawTextWithOutline(img *image.RGBA, text string, x, y int) {
	// basicfont.Face7x13 glyphs are 7x13.
	offsetX := x - len(text)*7/2
	offsetY := y - 13/2

	stamp := func(dx, dy int, c color.Color) {
		d := &font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(c),
			Face: basicfont.Face7x13,
			Dot: fixed.Point26_6{
				X: fixed.I(offsetX + dx),
				Y: fixed.I(offsetY + dy),
			},
		}
		d.DrawString(text)
	}
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			if dx != 0 || dy != 0 {
				stamp(dx, dy, outlineColor)
			}
		}
	}
	stamp(0, 0, textColor)
}
