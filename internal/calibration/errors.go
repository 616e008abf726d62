package calibration

import "errors"

// Calibration failure reasons reported back to the client.
var (
	ErrEmptyBurst     = errors.New("calibration burst contains no frames")
	ErrNoFaceDetected = errors.New("no_face_detected")
)
