package capture

import (
	"bytes"

	"github.com/rwcarlsen/goexif/exif"
)

// CaptureRotation returns the clockwise correction for a shot taken at
// device orientation deg on a camera mounted at mount degrees.
// Orientation is rounded to the nearest 90; upside-down (180) and a full
// turn (360) are left uncorrected.
func CaptureRotation(deg, mount int) int {
	r := (deg + 45) / 90 * 90
	if r == 180 || r == 360 {
		r = 0
	}
	return r + mount
}

// ExifRotation returns the clockwise rotation that makes a JPEG upright
// according to its EXIF Orientation tag, or 0 when there is none.
// Mirrored orientations are rotated but not flipped.
func ExifRotation(data []byte) int {
	if !bytes.HasPrefix(data, []byte{0xFF, 0xD8}) {
		return 0
	}
	// Decode can return the main IFD alongside a sub-IFD error.
	x, _ := exif.Decode(bytes.NewReader(data))
	if x == nil {
		return 0
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 0
	}
	v, err := tag.Int(0)
	if err != nil {
		return 0
	}
	switch v {
	case 3, 4:
		return 180
	case 5, 6:
		return 90
	case 7, 8:
		return 270
	}
	return 0
}
