// Package risk combines the outputs of the vision, audio, and behavior
// analyzers into a normalised risk score (0.0 - 1.0) and a list of
// violations.
//
// Weighted formula for camera frames:
//
//	face risk     x 0.30
//	gaze risk     x 0.20
//	audio risk    x 0.20  (scored separately per audio chunk)
//	object risk   x 0.20
//	mouth risk    x 0.10
//
// Each component is clamped to [0, 1] before weighting.
package risk

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

// FeatureNames is the canonical feature order the behavior classifier was
// trained on. BehaviorFeatures.Vector and the classifier artifact must both
// follow it.
var FeatureNames = []string{
	"tab_switches",
	"copy_paste_count",
	"context_menu_count",
	"fullscreen_exits",
	"focus_loss_count",
	"event_rate_per_min",
}

// Severity buckets a risk score or labels a single violation.
type Severity string

const (
	SeverityNone     Severity = "NONE"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Violation event types.
const (
	EventFaceNotDetected    = "FACE_NOT_DETECTED"
	EventMultipleFaces      = "MULTIPLE_FACES"
	EventGazeAway           = "GAZE_AWAY"
	EventPhoneDetected      = "PHONE_DETECTED"
	EventNotesDetected      = "NOTES_DETECTED"
	EventMultiplePersons    = "MULTIPLE_PERSONS"
	EventSuspiciousAudio    = "SUSPICIOUS_AUDIO"
	EventSuspiciousBehavior = "SUSPICIOUS_BEHAVIOR"
)

// FrameSignals aggregates the outputs of all vision analyzers for one frame.
type FrameSignals struct {
	FacePresent   bool
	FaceCount     int
	GazeOffScreen bool
	EyesClosed    bool
	MouthOpen     bool
	PhoneDetected bool
	NotesDetected bool
	ExtraPerson   bool

	// Raw detector confidences, kept for violation payloads.
	PhoneConfidence float64
	NotesConfidence float64
}

// AudioSignals is the voice-activity result for a single audio chunk.
type AudioSignals struct {
	SpeechDetected   bool
	SpeechRatio      float64 // 0.0 - 1.0
	SpeechDurationMS float64
}

// BehaviorFeatures holds rolling-window behavioral event counts.
type BehaviorFeatures struct {
	TabSwitches      int
	CopyPasteCount   int
	ContextMenuCount int
	FullscreenExits  int
	FocusLossCount   int
	EventRatePerMin  float64
}

// Vector returns the feature values in FeatureNames order.
func (f BehaviorFeatures) Vector() []float64 {
	return []float64{
		float64(f.TabSwitches),
		float64(f.CopyPasteCount),
		float64(f.ContextMenuCount),
		float64(f.FullscreenExits),
		float64(f.FocusLossCount),
		f.EventRatePerMin,
	}
}

// Violation is a single proctoring finding attached to an assessment.
type Violation struct {
	EventType   string
	Severity    Severity
	Confidence  float64
	Description string
}

// Assessment is the aggregated risk output for one frame, audio chunk, or
// behavior snapshot.
type Assessment struct {
	RiskScore  float64
	Severity   Severity
	Violations []Violation
}

// Classifier predicts P(suspicious) from a behavior feature vector.
// Implementations return a probability in [0, 1].
type Classifier interface {
	Predict(features []float64) (float64, error)
}

// Thresholds are the configurable severity cutoffs. MEDIUM and LOW cutoffs
// are fixed.
type Thresholds struct {
	High     float64
	Critical float64
}

// Scorer turns analyzer signals into assessments. The classifier is optional;
// when nil or failing, behavior risk falls back to rule-based heuristics.
type Scorer struct {
	thresholds Thresholds
	classifier Classifier
	logger     zerolog.Logger
}

func NewScorer(t Thresholds, classifier Classifier, logger zerolog.Logger) *Scorer {
	return &Scorer{
		thresholds: t,
		classifier: classifier,
		logger:     logger,
	}
}

// SeverityFor buckets a risk score.
func (s *Scorer) SeverityFor(score float64) Severity {
	switch {
	case score >= s.thresholds.Critical:
		return SeverityCritical
	case score >= s.thresholds.High:
		return SeverityHigh
	case score >= 0.40:
		return SeverityMedium
	case score > 0.0:
		return SeverityLow
	default:
		return SeverityNone
	}
}

// ScoreFrame computes the risk for a single camera frame. Violations are
// emitted only at MEDIUM severity or above.
func (s *Scorer) ScoreFrame(v FrameSignals) Assessment {
	var violations []Violation

	// Face risk (weight 0.30)
	faceMissing := !v.FacePresent || v.FaceCount == 0
	multipleFaces := v.FaceCount >= 2

	var faceRisk float64
	switch {
	case faceMissing:
		faceRisk = 1.0
		violations = append(violations, Violation{
			EventType:   EventFaceNotDetected,
			Severity:    SeverityHigh,
			Confidence:  0.95,
			Description: "No face detected in frame.",
		})
	case multipleFaces:
		faceRisk = 0.80
		violations = append(violations, Violation{
			EventType:   EventMultipleFaces,
			Severity:    SeverityHigh,
			Confidence:  0.85,
			Description: fmt.Sprintf("%d faces detected in frame.", v.FaceCount),
		})
	}

	// Gaze risk (weight 0.20)
	var gazeRisk float64
	if v.GazeOffScreen {
		gazeRisk = 1.0
		violations = append(violations, Violation{
			EventType:   EventGazeAway,
			Severity:    SeverityMedium,
			Confidence:  0.80,
			Description: "Student's gaze is off screen.",
		})
	}

	// Object risk (weight 0.20)
	var objectRisk float64
	if v.PhoneDetected {
		objectRisk = math.Max(objectRisk, math.Max(v.PhoneConfidence, 0.75))
		violations = append(violations, Violation{
			EventType:   EventPhoneDetected,
			Severity:    SeverityHigh,
			Confidence:  round3(v.PhoneConfidence),
			Description: fmt.Sprintf("Mobile phone detected (conf=%.0f%%).", v.PhoneConfidence*100),
		})
	}
	if v.NotesDetected {
		objectRisk = math.Max(objectRisk, math.Max(v.NotesConfidence, 0.65))
		violations = append(violations, Violation{
			EventType:   EventNotesDetected,
			Severity:    SeverityMedium,
			Confidence:  round3(v.NotesConfidence),
			Description: fmt.Sprintf("Book/notes detected (conf=%.0f%%).", v.NotesConfidence*100),
		})
	}
	if v.ExtraPerson {
		objectRisk = math.Max(objectRisk, 0.85)
		violations = append(violations, Violation{
			EventType:   EventMultiplePersons,
			Severity:    SeverityHigh,
			Confidence:  0.85,
			Description: "Extra person detected in frame.",
		})
	}

	// Mouth open carries low weight on its own.
	var mouthRisk float64
	if v.MouthOpen {
		mouthRisk = 0.10
	}

	// Audio is scored separately per chunk and contributes zero here.
	finalScore := math.Min(1.0, faceRisk*0.30+gazeRisk*0.20+0.0*0.20+objectRisk*0.20+mouthRisk*0.10)

	emittable := violations[:0]
	for _, viol := range violations {
		switch viol.Severity {
		case SeverityMedium, SeverityHigh, SeverityCritical:
			emittable = append(emittable, viol)
		}
	}

	return Assessment{
		RiskScore:  round4(finalScore),
		Severity:   s.SeverityFor(finalScore),
		Violations: emittable,
	}
}

// ScoreAudio assesses one audio chunk.
func (s *Scorer) ScoreAudio(a AudioSignals) Assessment {
	var violations []Violation
	var riskScore float64

	if a.SpeechDetected {
		sev := SeverityMedium
		if a.SpeechRatio > 0.50 {
			sev = SeverityHigh
		}
		violations = append(violations, Violation{
			EventType:  EventSuspiciousAudio,
			Severity:   sev,
			Confidence: round3(a.SpeechRatio),
			Description: fmt.Sprintf("Speech detected (%.0f%% of audio chunk, %.0f ms).",
				a.SpeechRatio*100, a.SpeechDurationMS),
		})
		riskScore = round4(math.Min(1.0, a.SpeechRatio))
	}

	return Assessment{
		RiskScore:  riskScore,
		Severity:   s.SeverityFor(riskScore),
		Violations: violations,
	}
}

// ScoreBehavior assesses a behavior feature snapshot.
func (s *Scorer) ScoreBehavior(f BehaviorFeatures) Assessment {
	risk := s.behaviorRisk(f)
	var violations []Violation

	if risk >= 0.30 {
		violations = append(violations, Violation{
			EventType:  EventSuspiciousBehavior,
			Severity:   s.SeverityFor(risk),
			Confidence: round3(risk),
			Description: fmt.Sprintf("Suspicious behaviour pattern detected (tab_switches=%d, copy_paste=%d, rate=%.1f/min).",
				f.TabSwitches, f.CopyPasteCount, f.EventRatePerMin),
		})
	}

	return Assessment{
		RiskScore:  round4(risk),
		Severity:   s.SeverityFor(risk),
		Violations: violations,
	}
}

// behaviorRisk uses the trained classifier when available, otherwise the
// rule-based heuristics. The result is in [0, 1].
func (s *Scorer) behaviorRisk(f BehaviorFeatures) float64 {
	if s.classifier != nil {
		p, err := s.classifier.Predict(f.Vector())
		if err == nil {
			return math.Min(1.0, math.Max(0.0, p))
		}
		s.logger.Warn().Err(err).Msg("Behavior model inference failed, using rules")
	}

	score := 0.0
	score += math.Min(0.40, float64(f.TabSwitches)*0.06)
	score += math.Min(0.25, float64(f.CopyPasteCount)*0.05)
	score += math.Min(0.20, float64(f.ContextMenuCount)*0.04)
	score += math.Min(0.20, float64(f.FullscreenExits)*0.05)
	score += math.Min(0.20, float64(f.FocusLossCount)*0.04)
	score += math.Min(0.20, f.EventRatePerMin*0.02)
	return math.Min(1.0, score)
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
