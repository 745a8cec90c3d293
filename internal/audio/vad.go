// Package audio performs voice activity detection on microphone chunks.
//
// Pipeline: Base64 WAV blob, decode, normalise to 16 kHz mono 16-bit PCM,
// slice into 30 ms frames, classify each frame through the Engine, report
// the speech ratio. Any decode failure falls back to the all-quiet default.
package audio

import (
	"encoding/base64"
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

const (
	sampleRate = 16000 // Hz
	frameMS    = 30
	frameBytes = sampleRate * frameMS / 1000 * 2 // 16-bit PCM, 2 bytes/sample
)

// Engine classifies a single PCM frame as speech or silence. Implementations
// must be safe for concurrent use; the analyzer is shared across consumers.
type Engine interface {
	IsSpeech(frame []byte, sampleRate int) (bool, error)
}

// EnergyEngine classifies a frame as speech when its RMS amplitude crosses a
// fixed threshold. It stands in for heavier VAD backends and is tuned to be
// conservative: quiet room noise stays below it, spoken words land well
// above.
type EnergyEngine struct {
	// Threshold is the RMS cutoff over int16 samples. Zero means the
	// default of 500.
	Threshold float64
}

func (e EnergyEngine) IsSpeech(frame []byte, _ int) (bool, error) {
	if len(frame) == 0 || len(frame)%2 != 0 {
		return false, fmt.Errorf("frame must be a whole number of 16-bit samples, got %d bytes", len(frame))
	}

	threshold := e.Threshold
	if threshold == 0 {
		threshold = 500
	}

	samples := bytesToSamples(frame)
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	return rms >= threshold, nil
}

// Result is the VAD outcome for one audio chunk.
type Result struct {
	SpeechDetected   bool
	SpeechRatio      float64 // fraction of frames with speech, 0.0 - 1.0
	SpeechDurationMS float64
	TotalDurationMS  float64
}

// Analyzer runs the frame classifier over whole audio chunks.
type Analyzer struct {
	engine    Engine
	threshold float64 // speech ratio above this marks the chunk as speech
	logger    zerolog.Logger
}

func NewAnalyzer(engine Engine, speechRatioThreshold float64, logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		engine:    engine,
		threshold: speechRatioThreshold,
		logger:    logger,
	}
}

// AnalyzeBase64 decodes a Base64 WAV blob and analyzes it.
func (a *Analyzer) AnalyzeBase64(encoded string) Result {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Audio base64 decode failed")
		return Result{}
	}
	return a.Analyze(raw)
}

// Analyze runs VAD over raw audio container bytes.
func (a *Analyzer) Analyze(raw []byte) Result {
	pcm, totalMS, err := normalizePCM(raw)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Audio decode failed")
		return Result{}
	}

	speechFrames := 0
	totalFrames := 0
	for start := 0; start+frameBytes <= len(pcm); start += frameBytes {
		isSpeech, err := a.engine.IsSpeech(pcm[start:start+frameBytes], sampleRate)
		if err != nil {
			isSpeech = false
		}
		totalFrames++
		if isSpeech {
			speechFrames++
		}
	}
	if totalFrames == 0 {
		return Result{}
	}

	ratio := float64(speechFrames) / float64(totalFrames)
	return Result{
		SpeechDetected:   ratio > a.threshold,
		SpeechRatio:      round3(ratio),
		SpeechDurationMS: float64(speechFrames * frameMS),
		TotalDurationMS:  totalMS,
	}
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
