// Package vision classifies materials by color in camera frames and runs
// the continuous frame acquisition loop feeding the classifier.
package vision

import (
	"image"
	"math"

	"codeberg.org/wrenware/roverd/internal/errors"
)

// Detection is the outcome of classifying one frame. At most one detection
// is current at any time; each frame produces a fresh value.
type Detection struct {
	Detected   bool    `json:"detected"`
	Color      string  `json:"color,omitempty"`
	Material   string  `json:"material,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Classifier matches the detection region of a frame against a color
// profile. It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	profile       Profile
	minConfidence float64
	squareSize    int
}

func NewClassifier(profile Profile, minConfidence float64, squareSize int) (*Classifier, error) {
	errFactory := errors.New()

	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if minConfidence < 0 || minConfidence > 100 {
		return nil, errFactory.WithData(errors.ErrInvalidArgument, minConfidence)
	}
	if squareSize <= 0 {
		return nil, errFactory.WithData(errors.ErrInvalidArgument, squareSize)
	}

	return &Classifier{
		profile:       profile,
		minConfidence: minConfidence,
		squareSize:    squareSize,
	}, nil
}

// Classify examines the centered detection square of the frame. Confidence
// is the percentage of region pixels inside an entry's HSV ranges; the
// highest confidence above the minimum wins, with earlier profile entries
// kept on ties.
func (c *Classifier) Classify(frame image.Image) Detection {
	if frame == nil {
		return Detection{}
	}

	region := centerSquare(frame.Bounds(), c.squareSize)
	total := region.Dx() * region.Dy()
	if total == 0 {
		return Detection{}
	}

	counts := make([]int, len(c.profile))
	for y := region.Min.Y; y < region.Max.Y; y++ {
		for x := region.Min.X; x < region.Max.X; x++ {
			r16, g16, b16, _ := frame.At(x, y).RGBA()
			px := rgbToHSV(uint8(r16>>8), uint8(g16>>8), uint8(b16>>8))
			for i := range c.profile {
				if c.profile[i].matches(px) {
					counts[i]++
				}
			}
		}
	}

	best := Detection{}
	for i, entry := range c.profile {
		confidence := round2(100 * float64(counts[i]) / float64(total))
		if confidence > c.minConfidence && confidence > best.Confidence {
			best = Detection{
				Detected:   true,
				Color:      entry.Name,
				Material:   entry.Material,
				Confidence: confidence,
			}
		}
	}

	return best
}

// Profile returns the immutable profile being matched against.
func (c *Classifier) Profile() Profile {
	return c.profile
}

// Materials lists the detectable materials keyed by color name.
func (c *Classifier) Materials() map[string]string {
	m := make(map[string]string, len(c.profile))
	for _, e := range c.profile {
		m[e.Name] = e.Material
	}

	return m
}

// centerSquare clamps a size x size square centered in bounds.
func centerSquare(bounds image.Rectangle, size int) image.Rectangle {
	cx := (bounds.Min.X + bounds.Max.X) / 2
	cy := (bounds.Min.Y + bounds.Max.Y) / 2
	half := size / 2

	return image.Rect(cx-half, cy-half, cx+half, cy+half).Intersect(bounds)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
