package batch

import (
	"image"
	"image/color"
	"os"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/unixpickle/essentials"
)

// ImageShape returns the tensor shape of an image:
// (height, width, 3).
func ImageShape(img image.Image) []int {
	return []int{img.Bounds().Dy(), img.Bounds().Dx(), 3}
}

// ImageToRow writes the RGB values of an image into dst,
// which must have room for height*width*3 values.
// Values range between 0 and 255 and are stored in
// (y, x, channel) order.
// The alpha channel is dropped without scaling the
// color channels, so a semi-transparent pixel keeps its
// stored color.
func ImageToRow(img image.Image, dst []float32) {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	minX := img.Bounds().Min.X
	minY := img.Bounds().Min.Y
	if len(dst) < w*h*3 {
		panic("destination too small for image")
	}

	idx := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(minX+x, minY+y)).(color.NRGBA)
			dst[idx] = float32(c.R)
			dst[idx+1] = float32(c.G)
			dst[idx+2] = float32(c.B)
			idx += 3
		}
	}
}

// LoadImage decodes an image file in any registered
// format.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, essentials.AddCtx("decode "+path, err)
	}
	return img, nil
}
