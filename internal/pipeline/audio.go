package pipeline

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/luckygarg1810/exam-platform/internal/audio"
	"github.com/luckygarg1810/exam-platform/internal/broker"
	"github.com/luckygarg1810/exam-platform/internal/metrics"
	"github.com/luckygarg1810/exam-platform/internal/risk"
)

// audioMessage is the inbound audio.analysis payload.
type audioMessage struct {
	SessionID string `json:"sessionId"`
	AudioData string `json:"audioData"`
	Timestamp int64  `json:"timestamp"`
}

// AudioPipeline runs voice activity detection on one audio chunk per message.
type AudioPipeline struct {
	vad       *audio.Analyzer
	publisher Publisher
	logger    zerolog.Logger
}

func NewAudioPipeline(vad *audio.Analyzer, publisher Publisher, logger zerolog.Logger) *AudioPipeline {
	return &AudioPipeline{vad: vad, publisher: publisher, logger: logger}
}

// Handle processes one audio message. Undecodable clips yield the analyzer's
// all-quiet default and are acked without publishing.
func (p *AudioPipeline) Handle(body []byte) error {
	var msg audioMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("parse audio message: %w", err)
	}

	result := p.vad.AnalyzeBase64(msg.AudioData)
	if !result.SpeechDetected {
		return nil
	}

	// Per-clip severity is graded on the speech ratio alone, independent of
	// the global tiers.
	severity := risk.SeverityLow
	switch {
	case result.SpeechRatio > 0.70:
		severity = risk.SeverityHigh
	case result.SpeechRatio > 0.50:
		severity = risk.SeverityMedium
	}

	riskScore := round3(result.SpeechRatio * 0.6)
	metrics.RiskScore.WithLabelValues("audio").Observe(riskScore)

	confidence := round3(result.SpeechRatio)
	p.publisher.Publish(broker.Result{
		SessionID:  msg.SessionID,
		EventType:  risk.EventSuspiciousAudio,
		Severity:   string(severity),
		Confidence: &confidence,
		Description: fmt.Sprintf("Speech detected for %.0fms (%.1f%% of clip)",
			result.SpeechDurationMS, result.SpeechRatio*100),
		RiskScore: riskScore,
		Metadata: map[string]any{
			"speech_ratio":       result.SpeechRatio,
			"speech_duration_ms": result.SpeechDurationMS,
			"total_duration_ms":  result.TotalDurationMS,
		},
	})
	return nil
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
