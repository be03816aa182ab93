package vision

// rgbToHSV converts an 8-bit RGB pixel to HSV in OpenCV scaling
// (H halved to fit [0,179], S and V in [0,255]).
func rgbToHSV(r, g, b uint8) HSV {
	maxC := r
	if g > maxC {
		maxC = g
	}
	if b > maxC {
		maxC = b
	}
	minC := r
	if g < minC {
		minC = g
	}
	if b < minC {
		minC = b
	}

	v := maxC
	if maxC == 0 {
		return HSV{0, 0, 0}
	}

	delta := int(maxC) - int(minC)
	s := uint8(255 * delta / int(maxC))
	if delta == 0 {
		return HSV{0, s, v}
	}

	var hue float64
	switch maxC {
	case r:
		hue = 60 * float64(int(g)-int(b)) / float64(delta)
	case g:
		hue = 120 + 60*float64(int(b)-int(r))/float64(delta)
	default:
		hue = 240 + 60*float64(int(r)-int(g))/float64(delta)
	}
	if hue < 0 {
		hue += 360
	}

	return HSV{uint8(hue / 2), s, v}
}
