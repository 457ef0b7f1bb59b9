package emotion

import "fmt"

// Preset is one set of cascade parameters.
type Preset struct {
	Equalize     bool    // run on the histogram-equalized image
	ScaleFactor  float64 // image scale step between detection passes
	MinNeighbors int     // neighbours a candidate needs to be kept
	MinSize      int     // smallest face side in pixels
}

func (p Preset) String() string {
	return fmt.Sprintf("equalize=%t scale=%.2f neighbors=%d min=%dx%d",
		p.Equalize, p.ScaleFactor, p.MinNeighbors, p.MinSize, p.MinSize)
}

// DefaultPresets are tried in order until one finds a face: a strict pass
// on the equalized image, a more sensitive pass on the raw image, and a
// coarse fallback.
var DefaultPresets = []Preset{
	{Equalize: true, ScaleFactor: 1.1, MinNeighbors: 5, MinSize: 30},
	{Equalize: false, ScaleFactor: 1.05, MinNeighbors: 4, MinSize: 30},
	{Equalize: false, ScaleFactor: 1.3, MinNeighbors: 5, MinSize: 30},
}
