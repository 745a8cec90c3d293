// Package vision runs the per-frame analyzers: face presence, gaze and head
// pose, mouth movement, and object detection. Every analyzer degrades to a
// safe default when its model capability is unavailable or errors, so a
// missing backend never fails the frame pipeline.
package vision

import (
	"image"
	"math"

	"github.com/rs/zerolog"

	"github.com/luckygarg1810/exam-platform/internal/ml"
)

// Eye aspect ratio below this means the eyes are closed.
const earThreshold = 0.20

// Config holds the detection thresholds.
type Config struct {
	GazeYawThreshold         float64 // degrees
	GazePitchThreshold       float64 // degrees
	LipDistanceThreshold     float64 // lip gap / mouth width
	PhoneConfidenceThreshold float64
	NotesConfidenceThreshold float64
}

// FaceReport is the face presence result for one frame.
type FaceReport struct {
	FacePresent   bool
	FaceCount     int
	FaceMissing   bool
	MultipleFaces bool
	Confidence    float64
}

// GazeReport is the head pose and eye state result for one frame.
type GazeReport struct {
	HeadYaw       float64 // degrees, positive = turned right
	HeadPitch     float64 // degrees, positive = nodding down
	GazeOffScreen bool
	EyesClosed    bool
	Confidence    float64
}

// MouthReport is the mouth movement result for one frame.
type MouthReport struct {
	MouthOpen  bool
	LipRatio   float64
	Confidence float64
}

// ObjectReport is the exam-relevant object detection result for one frame.
type ObjectReport struct {
	PhoneDetected   bool
	PhoneConfidence float64
	NotesDetected   bool
	NotesConfidence float64
	ExtraPerson     bool
	Detections      []ml.Detection
}

// Analyzer evaluates a decoded frame against all vision checks.
type Analyzer struct {
	cfg     Config
	mesh    ml.Capability[ml.FaceMesh]
	objects ml.Capability[ml.ObjectDetector]
	logger  zerolog.Logger
}

func NewAnalyzer(cfg Config, mesh ml.Capability[ml.FaceMesh], objects ml.Capability[ml.ObjectDetector], logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		cfg:     cfg,
		mesh:    mesh,
		objects: objects,
		logger:  logger,
	}
}

// Faces reports face presence and count.
func (a *Analyzer) Faces(img image.Image) FaceReport {
	mesh, ok := a.mesh.Get()
	if !ok {
		return defaultFaceReport()
	}

	count, conf, err := mesh.CountFaces(img)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Face detection failed")
		return defaultFaceReport()
	}

	if count == 0 {
		return FaceReport{FaceMissing: true}
	}
	return FaceReport{
		FacePresent:   true,
		FaceCount:     count,
		MultipleFaces: count >= 2,
		Confidence:    round3(conf),
	}
}

// defaultFaceReport assumes a face is present so an unavailable backend never
// floods the session with FACE_NOT_DETECTED violations.
func defaultFaceReport() FaceReport {
	return FaceReport{FacePresent: true, FaceCount: 1}
}

// Gaze estimates head pose and eye closure from face landmarks.
func (a *Analyzer) Gaze(img image.Image) GazeReport {
	mesh, ok := a.mesh.Get()
	if !ok {
		return GazeReport{}
	}

	lm, found, err := mesh.Landmarks(img)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Gaze analysis failed")
		return GazeReport{}
	}
	if !found {
		return GazeReport{}
	}

	gazeOff := math.Abs(lm.Yaw) > a.cfg.GazeYawThreshold ||
		math.Abs(lm.Pitch) > a.cfg.GazePitchThreshold

	return GazeReport{
		HeadYaw:       round2(lm.Yaw),
		HeadPitch:     round2(lm.Pitch),
		GazeOffScreen: gazeOff,
		EyesClosed:    lm.EyeAspectRatio < earThreshold,
		Confidence:    0.85,
	}
}

// Mouth measures the vertical lip gap relative to mouth width.
func (a *Analyzer) Mouth(img image.Image) MouthReport {
	mesh, ok := a.mesh.Get()
	if !ok {
		return MouthReport{}
	}

	lm, found, err := mesh.Landmarks(img)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Mouth analysis failed")
		return MouthReport{}
	}
	if !found {
		return MouthReport{}
	}

	lipRatio := lm.LipDistance / (lm.MouthWidth + 1e-6)
	mouthOpen := lipRatio > a.cfg.LipDistanceThreshold

	report := MouthReport{
		MouthOpen: mouthOpen,
		LipRatio:  round4(lipRatio),
	}
	if mouthOpen {
		report.Confidence = 0.75
	}
	return report
}

// Objects runs object detection and filters for phones, books, and extra
// persons. Per-class thresholds are applied here, not in the detector.
func (a *Analyzer) Objects(img image.Image) ObjectReport {
	detector, ok := a.objects.Get()
	if !ok {
		return ObjectReport{}
	}

	detections, err := detector.Detect(img)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Object detection failed")
		return ObjectReport{}
	}

	var phoneConf, notesConf float64
	personCount := 0
	for _, d := range detections {
		switch d.ClassID {
		case ml.ClassPhone:
			phoneConf = math.Max(phoneConf, d.Confidence)
		case ml.ClassBook:
			notesConf = math.Max(notesConf, d.Confidence)
		case ml.ClassPerson:
			personCount++
		}
	}

	return ObjectReport{
		PhoneDetected:   phoneConf >= a.cfg.PhoneConfidenceThreshold,
		PhoneConfidence: round3(phoneConf),
		NotesDetected:   notesConf >= a.cfg.NotesConfidenceThreshold,
		NotesConfidence: round3(notesConf),
		ExtraPerson:     personCount >= 2,
		Detections:      detections,
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
