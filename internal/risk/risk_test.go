package risk

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClassifier struct {
	p    float64
	err  error
	seen []float64
}

func (s *stubClassifier) Predict(features []float64) (float64, error) {
	s.seen = append([]float64(nil), features...)
	if s.err != nil {
		return 0, s.err
	}
	return s.p, nil
}

func newTestScorer(clf Classifier) *Scorer {
	return NewScorer(Thresholds{High: 0.75, Critical: 0.90}, clf, zerolog.Nop())
}

func TestScoreFrameCleanFrame(t *testing.T) {
	s := newTestScorer(nil)
	result := s.ScoreFrame(FrameSignals{FacePresent: true, FaceCount: 1})

	assert.Equal(t, 0.0, result.RiskScore)
	assert.Equal(t, SeverityNone, result.Severity)
	assert.Empty(t, result.Violations)
}

func TestScoreFrameFaceMissing(t *testing.T) {
	s := newTestScorer(nil)
	result := s.ScoreFrame(FrameSignals{FacePresent: false, FaceCount: 0})

	require.Len(t, result.Violations, 1)
	v := result.Violations[0]
	assert.Equal(t, EventFaceNotDetected, v.EventType)
	assert.Equal(t, SeverityHigh, v.Severity)
	assert.InDelta(t, 0.95, v.Confidence, 1e-9)
	assert.Equal(t, "No face detected in frame.", v.Description)

	assert.InDelta(t, 0.30, result.RiskScore, 1e-9)
	assert.Equal(t, SeverityLow, result.Severity)
}

func TestScoreFrameMultipleFaces(t *testing.T) {
	s := newTestScorer(nil)
	result := s.ScoreFrame(FrameSignals{FacePresent: true, FaceCount: 3})

	require.Len(t, result.Violations, 1)
	v := result.Violations[0]
	assert.Equal(t, EventMultipleFaces, v.EventType)
	assert.Equal(t, SeverityHigh, v.Severity)
	assert.Equal(t, "3 faces detected in frame.", v.Description)
	assert.InDelta(t, 0.24, result.RiskScore, 1e-9)
}

func TestScoreFramePhoneDetected(t *testing.T) {
	s := newTestScorer(nil)
	result := s.ScoreFrame(FrameSignals{
		FacePresent:     true,
		FaceCount:       1,
		PhoneDetected:   true,
		PhoneConfidence: 0.90,
	})

	require.Len(t, result.Violations, 1)
	v := result.Violations[0]
	assert.Equal(t, EventPhoneDetected, v.EventType)
	assert.Equal(t, SeverityHigh, v.Severity)
	assert.InDelta(t, 0.90, v.Confidence, 1e-9)
	assert.Equal(t, "Mobile phone detected (conf=90%).", v.Description)

	// Composite stays LOW even though the violation itself is HIGH.
	assert.InDelta(t, 0.18, result.RiskScore, 1e-9)
	assert.Equal(t, SeverityLow, result.Severity)
}

func TestScoreFrameGazeAway(t *testing.T) {
	s := newTestScorer(nil)
	result := s.ScoreFrame(FrameSignals{FacePresent: true, FaceCount: 1, GazeOffScreen: true})

	require.Len(t, result.Violations, 1)
	v := result.Violations[0]
	assert.Equal(t, EventGazeAway, v.EventType)
	assert.Equal(t, SeverityMedium, v.Severity)
	assert.Equal(t, "Student's gaze is off screen.", v.Description)
	assert.InDelta(t, 0.20, result.RiskScore, 1e-9)
}

func TestScoreFrameNotesAndExtraPerson(t *testing.T) {
	s := newTestScorer(nil)
	result := s.ScoreFrame(FrameSignals{
		FacePresent:     true,
		FaceCount:       1,
		NotesDetected:   true,
		NotesConfidence: 0.55,
		ExtraPerson:     true,
	})

	require.Len(t, result.Violations, 2)
	assert.Equal(t, EventNotesDetected, result.Violations[0].EventType)
	assert.Equal(t, "Book/notes detected (conf=55%).", result.Violations[0].Description)
	assert.Equal(t, EventMultiplePersons, result.Violations[1].EventType)
	assert.Equal(t, "Extra person detected in frame.", result.Violations[1].Description)

	// Object risk is the max of the notes floor (0.65) and the extra person
	// constant (0.85).
	assert.InDelta(t, 0.17, result.RiskScore, 1e-9)
}

func TestScoreFrameViolationOrder(t *testing.T) {
	s := newTestScorer(nil)
	result := s.ScoreFrame(FrameSignals{
		FacePresent:     false,
		FaceCount:       0,
		GazeOffScreen:   true,
		PhoneDetected:   true,
		PhoneConfidence: 0.90,
	})

	require.Len(t, result.Violations, 3)
	assert.Equal(t, EventFaceNotDetected, result.Violations[0].EventType)
	assert.Equal(t, EventGazeAway, result.Violations[1].EventType)
	assert.Equal(t, EventPhoneDetected, result.Violations[2].EventType)

	// 0.30*1.0 + 0.20*1.0 + 0.20*0.90
	assert.InDelta(t, 0.68, result.RiskScore, 1e-9)
	assert.Equal(t, SeverityMedium, result.Severity)
}

func TestScoreFrameMouthOpenAlone(t *testing.T) {
	s := newTestScorer(nil)
	result := s.ScoreFrame(FrameSignals{FacePresent: true, FaceCount: 1, MouthOpen: true})

	// Mouth movement alone never produces a violation, just a small score.
	assert.Empty(t, result.Violations)
	assert.InDelta(t, 0.01, result.RiskScore, 1e-9)
	assert.Equal(t, SeverityLow, result.Severity)
}

func TestScoreFrameIsPure(t *testing.T) {
	s := newTestScorer(nil)
	signals := FrameSignals{
		FacePresent:     false,
		FaceCount:       0,
		PhoneDetected:   true,
		PhoneConfidence: 0.77,
	}
	first := s.ScoreFrame(signals)
	second := s.ScoreFrame(signals)
	assert.Equal(t, first, second)
}

func TestScoreFrameRiskScoreBounded(t *testing.T) {
	s := newTestScorer(nil)
	cases := []FrameSignals{
		{},
		{FacePresent: true, FaceCount: 1},
		{FacePresent: false, FaceCount: 0, GazeOffScreen: true, MouthOpen: true,
			PhoneDetected: true, PhoneConfidence: 1.0,
			NotesDetected: true, NotesConfidence: 1.0, ExtraPerson: true},
		{FacePresent: true, FaceCount: 5, GazeOffScreen: true},
	}
	for _, signals := range cases {
		result := s.ScoreFrame(signals)
		assert.GreaterOrEqual(t, result.RiskScore, 0.0)
		assert.LessOrEqual(t, result.RiskScore, 1.0)
	}
}

func TestScoreAudioNoSpeech(t *testing.T) {
	s := newTestScorer(nil)
	result := s.ScoreAudio(AudioSignals{SpeechDetected: false, SpeechRatio: 0.05})

	assert.Empty(t, result.Violations)
	assert.Equal(t, 0.0, result.RiskScore)
	assert.Equal(t, SeverityNone, result.Severity)
}

func TestScoreAudioHighRatio(t *testing.T) {
	s := newTestScorer(nil)
	result := s.ScoreAudio(AudioSignals{
		SpeechDetected:   true,
		SpeechRatio:      0.80,
		SpeechDurationMS: 2400,
	})

	require.Len(t, result.Violations, 1)
	v := result.Violations[0]
	assert.Equal(t, EventSuspiciousAudio, v.EventType)
	assert.Equal(t, SeverityHigh, v.Severity)
	assert.InDelta(t, 0.80, v.Confidence, 1e-9)
	assert.Equal(t, "Speech detected (80% of audio chunk, 2400 ms).", v.Description)
	assert.InDelta(t, 0.80, result.RiskScore, 1e-9)
	assert.Equal(t, SeverityHigh, result.Severity)
}

func TestScoreAudioMediumRatio(t *testing.T) {
	s := newTestScorer(nil)
	result := s.ScoreAudio(AudioSignals{
		SpeechDetected:   true,
		SpeechRatio:      0.42,
		SpeechDurationMS: 1260,
	})

	require.Len(t, result.Violations, 1)
	assert.Equal(t, SeverityMedium, result.Violations[0].Severity)
	assert.InDelta(t, 0.42, result.RiskScore, 1e-9)
	assert.Equal(t, SeverityMedium, result.Severity)
}

func TestScoreBehaviorQuietSession(t *testing.T) {
	s := newTestScorer(nil)
	result := s.ScoreBehavior(BehaviorFeatures{EventRatePerMin: 0.5})

	assert.Empty(t, result.Violations)
	assert.InDelta(t, 0.01, result.RiskScore, 1e-9)
	assert.Equal(t, SeverityLow, result.Severity)
}

func TestScoreBehaviorBurstHitsRuleCaps(t *testing.T) {
	s := newTestScorer(nil)
	result := s.ScoreBehavior(BehaviorFeatures{
		TabSwitches:      15,
		CopyPasteCount:   10,
		ContextMenuCount: 5,
		FullscreenExits:  5,
		FocusLossCount:   8,
		EventRatePerMin:  12.0,
	})

	// Every rule term is capped; the sum clamps to 1.0.
	assert.InDelta(t, 1.0, result.RiskScore, 1e-9)
	assert.Equal(t, SeverityCritical, result.Severity)
	require.Len(t, result.Violations, 1)
	v := result.Violations[0]
	assert.Equal(t, EventSuspiciousBehavior, v.EventType)
	assert.Equal(t, SeverityCritical, v.Severity)
	assert.InDelta(t, 1.0, v.Confidence, 1e-9)
	assert.Equal(t,
		"Suspicious behaviour pattern detected (tab_switches=15, copy_paste=10, rate=12.0/min).",
		v.Description)
}

func TestScoreBehaviorUsesClassifier(t *testing.T) {
	clf := &stubClassifier{p: 0.42}
	s := newTestScorer(clf)
	result := s.ScoreBehavior(BehaviorFeatures{
		TabSwitches:     2,
		CopyPasteCount:  1,
		EventRatePerMin: 3.5,
	})

	require.Equal(t, []float64{2, 1, 0, 0, 0, 3.5}, clf.seen)
	assert.InDelta(t, 0.42, result.RiskScore, 1e-9)
	assert.Equal(t, SeverityMedium, result.Severity)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, EventSuspiciousBehavior, result.Violations[0].EventType)
}

func TestScoreBehaviorClassifierOutputClamped(t *testing.T) {
	s := newTestScorer(&stubClassifier{p: 1.7})
	result := s.ScoreBehavior(BehaviorFeatures{TabSwitches: 1})
	assert.InDelta(t, 1.0, result.RiskScore, 1e-9)

	s = newTestScorer(&stubClassifier{p: -0.3})
	result = s.ScoreBehavior(BehaviorFeatures{TabSwitches: 1})
	assert.Equal(t, 0.0, result.RiskScore)
}

func TestScoreBehaviorClassifierErrorFallsBack(t *testing.T) {
	s := newTestScorer(&stubClassifier{err: errors.New("model exploded")})
	result := s.ScoreBehavior(BehaviorFeatures{TabSwitches: 15})

	// Rules take over: min(0.40, 15*0.06) = 0.40.
	assert.InDelta(t, 0.40, result.RiskScore, 1e-9)
	assert.Equal(t, SeverityMedium, result.Severity)
}

func TestSeverityForTiers(t *testing.T) {
	s := newTestScorer(nil)
	cases := []struct {
		score float64
		want  Severity
	}{
		{0.0, SeverityNone},
		{0.001, SeverityLow},
		{0.39, SeverityLow},
		{0.40, SeverityMedium},
		{0.74, SeverityMedium},
		{0.75, SeverityHigh},
		{0.89, SeverityHigh},
		{0.90, SeverityCritical},
		{1.0, SeverityCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, s.SeverityFor(tc.score), "score %v", tc.score)
	}
}

func TestBehaviorFeatureVectorOrder(t *testing.T) {
	f := BehaviorFeatures{
		TabSwitches:      1,
		CopyPasteCount:   2,
		ContextMenuCount: 3,
		FullscreenExits:  4,
		FocusLossCount:   5,
		EventRatePerMin:  6.5,
	}
	vec := f.Vector()
	require.Len(t, vec, len(FeatureNames))
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6.5}, vec)
}
