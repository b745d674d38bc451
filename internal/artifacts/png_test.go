package artifacts

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"aktis/internal/render"
)

func solidImage(width, height int, c [3]float64) *render.Image {
	img := render.NewImage(width, height)
	img.Fill(c)
	return img
}

func TestWriteImagePNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "view.png")
	img := solidImage(4, 3, [3]float64{1, 0.5, 0})

	if err := WriteImagePNG(path, img); err != nil {
		t.Fatalf("write png: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open png: %v", err)
	}
	defer file.Close()

	decoded, err := png.Decode(file)
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	bounds := decoded.Bounds()
	if bounds.Dx() != 4 || bounds.Dy() != 3 {
		t.Fatalf("unexpected dimensions: got=%dx%d want=4x3", bounds.Dx(), bounds.Dy())
	}

	r, g, b, _ := decoded.At(0, 0).RGBA()
	if r>>8 != 255 || g>>8 != 128 || b>>8 != 0 {
		t.Fatalf("unexpected pixel: r=%d g=%d b=%d", r>>8, g>>8, b>>8)
	}
}

func TestWriteCollagePNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collage.png")
	left := solidImage(2, 2, [3]float64{1, 0, 0})
	right := solidImage(2, 2, [3]float64{0, 0, 1})

	if err := WriteCollagePNG(path, []*render.Image{left, right}); err != nil {
		t.Fatalf("write collage: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open collage: %v", err)
	}
	defer file.Close()

	decoded, err := png.Decode(file)
	if err != nil {
		t.Fatalf("decode collage: %v", err)
	}
	bounds := decoded.Bounds()
	if bounds.Dx() != 4 || bounds.Dy() != 2 {
		t.Fatalf("unexpected dimensions: got=%dx%d want=4x2", bounds.Dx(), bounds.Dy())
	}

	r, _, _, _ := decoded.At(0, 0).RGBA()
	if r>>8 != 255 {
		t.Fatalf("expected red left half, got r=%d", r>>8)
	}
	_, _, b, _ := decoded.At(3, 0).RGBA()
	if b>>8 != 255 {
		t.Fatalf("expected blue right half, got b=%d", b>>8)
	}
}

func TestWriteCollagePNGRejectsMismatchedDims(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collage.png")
	err := WriteCollagePNG(path, []*render.Image{
		solidImage(2, 2, [3]float64{1, 1, 1}),
		solidImage(3, 2, [3]float64{1, 1, 1}),
	})
	if err == nil {
		t.Fatal("expected error for mismatched dimensions")
	}
}

func TestComponentByteClampsAndRounds(t *testing.T) {
	cases := []struct {
		in   float64
		want uint8
	}{
		{-0.5, 0},
		{0, 0},
		{0.5, 128},
		{1, 255},
		{1.5, 255},
	}
	for _, tc := range cases {
		if got := componentByte(tc.in); got != tc.want {
			t.Fatalf("componentByte(%v): got=%d want=%d", tc.in, got, tc.want)
		}
	}
}
