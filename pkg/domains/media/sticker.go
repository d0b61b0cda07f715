package media

import (
	"bytes"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

const borderTolerance = 12

// NormalizeSticker decodes PNG, JPEG or WebP, trims a uniform-colour border
// and re-encodes as PNG.
func NormalizeSticker(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	trimmed := TrimBorder(img, borderTolerance)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, trimmed, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TrimBorder crops rows and columns that match the top-left pixel within
// tolerance. An image that is uniform everywhere is returned unchanged.
func TrimBorder(img image.Image, tolerance uint8) image.Image {
	b := img.Bounds()
	if b.Empty() {
		return img
	}
	ref := color.NRGBAModel.Convert(img.At(b.Min.X, b.Min.Y)).(color.NRGBA)
	same := func(x, y int) bool {
		return near(ref, color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA), tolerance)
	}
	rowUniform := func(y int) bool {
		for x := b.Min.X; x < b.Max.X; x++ {
			if !same(x, y) {
				return false
			}
		}
		return true
	}
	colUniform := func(x, top, bottom int) bool {
		for y := top; y < bottom; y++ {
			if !same(x, y) {
				return false
			}
		}
		return true
	}

	top := b.Min.Y
	for top < b.Max.Y && rowUniform(top) {
		top++
	}
	if top == b.Max.Y {
		return img
	}
	bottom := b.Max.Y
	for bottom > top && rowUniform(bottom-1) {
		bottom--
	}
	left := b.Min.X
	for left < b.Max.X && colUniform(left, top, bottom) {
		left++
	}
	right := b.Max.X
	for right > left && colUniform(right-1, top, bottom) {
		right--
	}

	crop := image.Rect(left, top, right, bottom)
	if crop == b {
		return img
	}
	return imaging.Crop(img, crop)
}

func near(a, b color.NRGBA, tol uint8) bool {
	if a.A == 0 && b.A == 0 {
		return true
	}
	return diff(a.R, b.R) <= tol && diff(a.G, b.G) <= tol && diff(a.B, b.B) <= tol && diff(a.A, b.A) <= tol
}

func diff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}
