// Package ml defines the model capabilities the analyzers depend on and
// loads them once at startup. Inference backends are pluggable; every
// capability degrades to Unavailable when its backend is missing, and the
// analyzers fall back to safe defaults.
package ml

import "image"

// COCO class IDs the object detector reports for exam-relevant objects.
const (
	ClassPerson = 0
	ClassPhone  = 67
	ClassBook   = 73
)

// Detection is one raw object found in a frame.
type Detection struct {
	ClassID    int
	Confidence float64
	Box        [4]float64 // x1, y1, x2, y2 in pixels
}

// ObjectDetector runs object detection over a decoded frame.
type ObjectDetector interface {
	Detect(img image.Image) ([]Detection, error)
}

// FaceLandmarks carries pose and lip measurements for the primary face.
type FaceLandmarks struct {
	Yaw            float64 // degrees, positive = turned right
	Pitch          float64 // degrees, positive = nodding down
	EyeAspectRatio float64 // averaged across both eyes
	LipDistance    float64 // inner-lip vertical gap, pixels
	MouthWidth     float64 // mouth corner distance, pixels
}

// FaceMesh provides landmark-based face analysis for a single frame.
type FaceMesh interface {
	// CountFaces reports how many faces are visible and the highest
	// detection confidence among them.
	CountFaces(img image.Image) (int, float64, error)
	// Landmarks returns measurements for the most prominent face;
	// ok is false when no face is found.
	Landmarks(img image.Image) (FaceLandmarks, bool, error)
}

// FaceEncoder produces face embeddings for identity comparison, one per
// detected face.
type FaceEncoder interface {
	Encodings(img image.Image) ([][]float64, error)
}
