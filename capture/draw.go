package capture

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/GabrielJuan349/occultashield/domain"
)

func rect(x1, y1, x2, y2 int) image.Rectangle {
	return image.Rect(x1, y1, x2, y2)
}

func writeJPEG(path string, img gocv.Mat, quality int) error {
	ok := gocv.IMWriteWithParams(path, img, []int{gocv.IMWriteJpegQuality, quality})
	if !ok {
		return fmt.Errorf("writing %s failed", path)
	}
	return nil
}

var typeColors = map[domain.DetectionType]color.RGBA{
	domain.TypeFace:         {R: 255, G: 0, B: 0, A: 255},
	domain.TypePerson:       {R: 0, G: 200, B: 0, A: 255},
	domain.TypeLicensePlate: {R: 0, G: 128, B: 255, A: 255},
}

func colorFor(t domain.DetectionType) color.RGBA {
	if c, ok := typeColors[t]; ok {
		return c
	}
	return color.RGBA{R: 255, G: 255, B: 0, A: 255}
}

// drawAnnotation draws a type-colored rectangle and a "<type>
// <conf%>" label inside the crop's own coordinate system. The
// rectangle follows the crop's border, so it outlines the bbox plus
// its MarginPx margin rather than the bbox itself.
func drawAnnotation(img gocv.Mat, t domain.DetectionType, confidence float64) {
	c := colorFor(t)
	w, h := img.Cols(), img.Rows()
	gocv.Rectangle(&img, image.Rect(0, 0, w-1, h-1), c, 2)

	label := fmt.Sprintf("%s %.0f%%", t, confidence*100)
	gocv.PutText(&img, label, image.Pt(4, 16), gocv.FontHersheyPlain, 1.0, c, 1)
}
