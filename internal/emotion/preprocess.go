package emotion

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// toGray converts a BGR, BGRA or single channel frame to a new gray Mat.
func toGray(frame gocv.Mat) (gocv.Mat, error) {
	gray := gocv.NewMat()
	switch frame.Channels() {
	case 1:
		frame.CopyTo(&gray)
	case 3:
		gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
	case 4:
		gocv.CvtColor(frame, &gray, gocv.ColorBGRAToGray)
	default:
		_ = gray.Close()
		return gocv.Mat{}, fmt.Errorf("%w: unsupported channel count %d", ErrInvalidFrame, frame.Channels())
	}
	return gray, nil
}

// faceTensor crops face out of gray, resizes it to FaceSize and scales
// pixels to [0,1]. The box is clamped to the image.
func faceTensor(gray gocv.Mat, face image.Rectangle) ([]float32, error) {
	bounds := image.Rect(0, 0, gray.Cols(), gray.Rows())
	face = face.Intersect(bounds)
	if face.Empty() {
		return nil, fmt.Errorf("%w: empty face region", ErrInference)
	}

	roi := gray.Region(face)
	defer roi.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(roi, &resized, image.Pt(FaceSize, FaceSize), 0, 0, gocv.InterpolationLinear)

	pixels := resized.ToBytes()
	if len(pixels) != FaceSize*FaceSize {
		return nil, fmt.Errorf("%w: resized face has %d bytes", ErrInference, len(pixels))
	}

	tensor := make([]float32, len(pixels))
	for i, p := range pixels {
		tensor[i] = float32(p) / 255.0
	}
	return tensor, nil
}

// argmax returns the index and value of the largest probability.
func argmax(probs []float32) (int, float32) {
	best, bestVal := 0, probs[0]
	for i, p := range probs[1:] {
		if p > bestVal {
			best, bestVal = i+1, p
		}
	}
	return best, bestVal
}
