package emotion

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

const (
	annotationFont      = gocv.FontHersheySimplex
	annotationScale     = 0.8
	annotationThickness = 2
	boxThickness        = 2
)

var (
	annotationGreen = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	annotationBlack = color.RGBA{R: 0, G: 0, B: 0, A: 0}
)

// labelBaseline returns the text baseline for a face box: above the box
// when there is room, below it otherwise.
func labelBaseline(face image.Rectangle) int {
	if face.Min.Y-10 > 20 {
		return face.Min.Y - 10
	}
	return face.Max.Y + 25
}

// labelBackground returns the filled box behind text of size textSize
// whose baseline starts at origin.
func labelBackground(origin, textSize image.Point) image.Rectangle {
	return image.Rect(origin.X, origin.Y-textSize.Y-5, origin.X+textSize.X+5, origin.Y+5)
}

// Annotate draws the face box and "Emotion: <label>" on frame in place.
func Annotate(frame *gocv.Mat, face image.Rectangle, label string) {
	if frame == nil || frame.Empty() {
		return
	}

	gocv.Rectangle(frame, face, annotationGreen, boxThickness)

	text := "Emotion: " + label
	textSize := gocv.GetTextSize(text, annotationFont, annotationScale, annotationThickness)
	origin := image.Pt(face.Min.X, labelBaseline(face))

	gocv.Rectangle(frame, labelBackground(origin, textSize), annotationBlack, -1)
	gocv.PutText(frame, text, origin, annotationFont, annotationScale, annotationGreen, annotationThickness)
}
