package artifacts

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"aktis/internal/render"
)

// WriteImagePNG encodes a rendered RGB image to a PNG file. Component values
// outside [0,1] are clamped.
func WriteImagePNG(path string, img *render.Image) error {
	if img == nil {
		return fmt.Errorf("image is required")
	}
	return writePNG(path, toNRGBA(img, 0, 0, image.NewNRGBA(image.Rect(0, 0, img.Width, img.Height))))
}

// WriteCollagePNG lays the given images out left to right in a single PNG.
// All images must share the same dimensions.
func WriteCollagePNG(path string, images []*render.Image) error {
	if len(images) == 0 {
		return fmt.Errorf("at least one image is required")
	}
	width, height := images[0].Width, images[0].Height
	for i, img := range images {
		if img == nil {
			return fmt.Errorf("image %d is nil", i)
		}
		if img.Width != width || img.Height != height {
			return fmt.Errorf("image %d dimensions mismatch: got=%dx%d want=%dx%d",
				i, img.Width, img.Height, width, height)
		}
	}

	out := image.NewNRGBA(image.Rect(0, 0, width*len(images), height))
	for i, img := range images {
		toNRGBA(img, i*width, 0, out)
	}
	return writePNG(path, out)
}

func toNRGBA(img *render.Image, dx, dy int, out *image.NRGBA) *image.NRGBA {
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			c := img.At(x, y)
			out.SetNRGBA(dx+x, dy+y, color.NRGBA{
				R: componentByte(c[0]),
				G: componentByte(c[1]),
				B: componentByte(c[2]),
				A: 255,
			})
		}
	}
	return out
}

func componentByte(v float64) uint8 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

func writePNG(path string, img image.Image) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return err
	}
	return file.Sync()
}
