package render

// Image is a dense RGB pixel grid with components in [0,1]. The rendering
// path writes each pixel once; consumers treat a finished image as read-only.
type Image struct {
	Width  int
	Height int
	Pix    []float64
}

func NewImage(width, height int) *Image {
	return &Image{
		Width:  width,
		Height: height,
		Pix:    make([]float64, 3*width*height),
	}
}

func (im *Image) At(x, y int) [3]float64 {
	i := 3 * (y*im.Width + x)
	return [3]float64{im.Pix[i], im.Pix[i+1], im.Pix[i+2]}
}

func (im *Image) Set(x, y int, c [3]float64) {
	i := 3 * (y*im.Width + x)
	im.Pix[i] = c[0]
	im.Pix[i+1] = c[1]
	im.Pix[i+2] = c[2]
}

// Fill sets every pixel to the given color.
func (im *Image) Fill(c [3]float64) {
	for i := 0; i < len(im.Pix); i += 3 {
		im.Pix[i] = c[0]
		im.Pix[i+1] = c[1]
		im.Pix[i+2] = c[2]
	}
}
