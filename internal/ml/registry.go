package ml

import (
	"os"

	"github.com/rs/zerolog"
)

// Model names used in readiness reporting.
const (
	ModelObjectDetector     = "object_detector"
	ModelBehaviorClassifier = "behavior_classifier"
	ModelFaceEncoder        = "face_encoder"
	ModelFaceMesh           = "face_mesh"
)

// Registry holds every model capability, built once during startup and then
// read-only.
type Registry struct {
	ObjectDetector     Capability[ObjectDetector]
	FaceEncoder        Capability[FaceEncoder]
	FaceMesh           Capability[FaceMesh]
	BehaviorClassifier Capability[*LogisticClassifier]
}

// Factories produce the optional inference backends. A nil factory or a
// factory error leaves the corresponding capability unavailable.
type Factories struct {
	ObjectDetector func(modelPath string) (ObjectDetector, error)
	FaceEncoder    func() (FaceEncoder, error)
	FaceMesh       func() (FaceMesh, error)
}

// Load builds the registry. Every load is independent and non-fatal; the
// service degrades per capability:
//   - without the object detector, no phone/notes detection
//   - without the behavior classifier, rule-based behavior scoring
//   - without the face encoder, identity verification returns 503
//   - without the face mesh, gaze and mouth analysis report defaults
func Load(objectModelPath, behaviorModelPath string, factories Factories, logger zerolog.Logger) *Registry {
	reg := &Registry{}

	if factories.ObjectDetector == nil {
		logger.Warn().Msg("No object detection backend registered, object detection disabled")
	} else if detector, err := factories.ObjectDetector(objectModelPath); err != nil {
		logger.Warn().Err(err).Str("path", objectModelPath).
			Msg("Object detection model load failed, object detection disabled")
	} else {
		reg.ObjectDetector = Ready(detector)
		logger.Info().Str("path", objectModelPath).Msg("Object detection model loaded")
	}

	if _, err := os.Stat(behaviorModelPath); err != nil {
		logger.Warn().Str("path", behaviorModelPath).
			Msg("Behavior model not found, rule-based behavior scoring will be used")
	} else if clf, err := LoadLogisticClassifier(behaviorModelPath); err != nil {
		logger.Warn().Err(err).Str("path", behaviorModelPath).
			Msg("Behavior model load failed, rule-based behavior scoring will be used")
	} else {
		reg.BehaviorClassifier = Ready(clf)
		logger.Info().Str("path", behaviorModelPath).Msg("Behavior model loaded")
	}

	if factories.FaceEncoder == nil {
		logger.Warn().Msg("No face encoder registered, identity verification disabled")
	} else if encoder, err := factories.FaceEncoder(); err != nil {
		logger.Warn().Err(err).Msg("Face encoder load failed, identity verification disabled")
	} else {
		reg.FaceEncoder = Ready(encoder)
		logger.Info().Msg("Face encoder loaded")
	}

	if factories.FaceMesh == nil {
		logger.Warn().Msg("No face mesh backend registered, gaze and mouth analysis disabled")
	} else if mesh, err := factories.FaceMesh(); err != nil {
		logger.Warn().Err(err).Msg("Face mesh load failed, gaze and mouth analysis disabled")
	} else {
		reg.FaceMesh = Ready(mesh)
		logger.Info().Msg("Face mesh loaded")
	}

	return reg
}

// Status reports per-model readiness, keyed by model name.
func (r *Registry) Status() map[string]bool {
	_, objects := r.ObjectDetector.Get()
	_, behavior := r.BehaviorClassifier.Get()
	_, encoder := r.FaceEncoder.Get()
	_, mesh := r.FaceMesh.Get()
	return map[string]bool{
		ModelObjectDetector:     objects,
		ModelBehaviorClassifier: behavior,
		ModelFaceEncoder:        encoder,
		ModelFaceMesh:           mesh,
	}
}
