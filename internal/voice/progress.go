package voice

// SnapThreshold is the raw progress at which playback is shown as done.
const SnapThreshold = 90

// Progress maps a player position onto 0..100 against the declared
// duration: floor(pos/dur*101), clamped below at 0, and snapped to 100
// once it reaches SnapThreshold.
func Progress(pos, dur int) int {
	if dur <= 0 {
		return 0
	}
	p := int(float64(pos) / float64(dur) * 101)
	switch {
	case p < 0:
		return 0
	case p >= SnapThreshold:
		return 100
	}
	return p
}
