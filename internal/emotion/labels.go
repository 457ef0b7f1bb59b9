// Package emotion locates faces with Haar cascades and classifies their
// expression with a 48x48 grayscale CNN.
package emotion

// FaceSize is the width and height of the classifier input.
const FaceSize = 48

// Result labels that are not emotions.
const (
	NoFaceDetected = "No Face Detected"
	ErrorLabel     = "Error"
)

// labels is in model output order.
var labels = [...]string{"Angry", "Disgust", "Fear", "Happy", "Sad", "Surprise", "Neutral"}

// NumLabels is the width of the classifier output.
const NumLabels = len(labels)

// Labels returns a copy of the emotion labels in model output order.
func Labels() []string {
	out := make([]string, NumLabels)
	copy(out, labels[:])
	return out
}

// IsLabel reports whether s is one of the emotion labels.
func IsLabel(s string) bool {
	for _, l := range labels {
		if l == s {
			return true
		}
	}
	return false
}
