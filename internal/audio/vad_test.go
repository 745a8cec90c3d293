package audio

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tone synthesizes a 440 Hz sine wave.
func tone(durationMS, rate int, amplitude float64) []int16 {
	n := rate * durationMS / 1000
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	return samples
}

func buildWAV(t *testing.T, samples []int16, rate, channels int) []byte {
	t.Helper()
	return buildWAVFormat(t, samples, rate, channels, 1)
}

func buildWAVFormat(t *testing.T, samples []int16, rate, channels int, format uint16) []byte {
	t.Helper()
	data := samplesToBytes(samples)

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(36+len(data))))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(16)))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, format))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(channels)))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(rate)))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(rate*channels*2)))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(channels*2)))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(16)))
	buf.WriteString("data")
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(len(data))))
	buf.Write(data)
	return buf.Bytes()
}

func newTestAnalyzer() *Analyzer {
	return NewAnalyzer(EnergyEngine{}, 0.20, zerolog.Nop())
}

func TestAnalyzeSilence(t *testing.T) {
	wav := buildWAV(t, tone(1200, 16000, 50), 16000, 1)
	result := newTestAnalyzer().Analyze(wav)

	assert.False(t, result.SpeechDetected)
	assert.Equal(t, 0.0, result.SpeechRatio)
	assert.Equal(t, 0.0, result.SpeechDurationMS)
	assert.InDelta(t, 1200, result.TotalDurationMS, 1)
}

func TestAnalyzeSpeech(t *testing.T) {
	wav := buildWAV(t, tone(900, 16000, 8000), 16000, 1)
	result := newTestAnalyzer().Analyze(wav)

	assert.True(t, result.SpeechDetected)
	assert.InDelta(t, 1.0, result.SpeechRatio, 1e-9)
	assert.InDelta(t, 900, result.SpeechDurationMS, 1e-9)
	assert.InDelta(t, 900, result.TotalDurationMS, 1)
}

func TestAnalyzeMixedClip(t *testing.T) {
	samples := append(tone(600, 16000, 8000), tone(600, 16000, 50)...)
	wav := buildWAV(t, samples, 16000, 1)
	result := newTestAnalyzer().Analyze(wav)

	assert.True(t, result.SpeechDetected)
	assert.InDelta(t, 0.5, result.SpeechRatio, 1e-9)
	assert.InDelta(t, 600, result.SpeechDurationMS, 1e-9)
	assert.InDelta(t, 1200, result.TotalDurationMS, 1)
}

func TestAnalyzeStereoDownmix(t *testing.T) {
	mono := tone(500, 16000, 8000)
	stereo := make([]int16, 0, len(mono)*2)
	for _, s := range mono {
		stereo = append(stereo, s, s)
	}
	wav := buildWAV(t, stereo, 16000, 2)
	result := newTestAnalyzer().Analyze(wav)

	assert.True(t, result.SpeechDetected)
	assert.InDelta(t, 500, result.TotalDurationMS, 1)
}

func TestAnalyzeResamples48k(t *testing.T) {
	wav := buildWAV(t, tone(1000, 48000, 8000), 48000, 1)
	result := newTestAnalyzer().Analyze(wav)

	assert.True(t, result.SpeechDetected)
	assert.InDelta(t, 1000, result.TotalDurationMS, 1)
}

func TestAnalyzeBase64RoundTrip(t *testing.T) {
	wav := buildWAV(t, tone(600, 16000, 8000), 16000, 1)
	result := newTestAnalyzer().AnalyzeBase64(base64.StdEncoding.EncodeToString(wav))

	assert.True(t, result.SpeechDetected)
}

func TestAnalyzeBadBase64ReturnsDefault(t *testing.T) {
	result := newTestAnalyzer().AnalyzeBase64("!!!not base64!!!")
	assert.Equal(t, Result{}, result)
}

func TestAnalyzeGarbageReturnsDefault(t *testing.T) {
	result := newTestAnalyzer().Analyze([]byte("this is definitely not audio"))
	assert.Equal(t, Result{}, result)
}

func TestAnalyzeClipShorterThanOneFrame(t *testing.T) {
	wav := buildWAV(t, tone(10, 16000, 8000), 16000, 1)
	result := newTestAnalyzer().Analyze(wav)
	assert.Equal(t, Result{}, result)
}

func TestAnalyzeRejectsFloatPCM(t *testing.T) {
	wav := buildWAVFormat(t, tone(500, 16000, 8000), 16000, 1, 3)
	result := newTestAnalyzer().Analyze(wav)
	assert.Equal(t, Result{}, result)
}

type failingEngine struct{}

func (failingEngine) IsSpeech([]byte, int) (bool, error) {
	return false, errors.New("classifier offline")
}

func TestAnalyzeEngineErrorsCountAsSilence(t *testing.T) {
	wav := buildWAV(t, tone(900, 16000, 8000), 16000, 1)
	a := NewAnalyzer(failingEngine{}, 0.20, zerolog.Nop())
	result := a.Analyze(wav)

	assert.False(t, result.SpeechDetected)
	assert.Equal(t, 0.0, result.SpeechRatio)
	assert.InDelta(t, 900, result.TotalDurationMS, 1)
}

func TestParseWAVSkipsUnknownChunks(t *testing.T) {
	samples := tone(600, 16000, 8000)
	data := samplesToBytes(samples)

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(0)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(16)))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(1)))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(1)))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(16000)))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(32000)))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(2)))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(16)))
	// An unrelated chunk between fmt and data.
	buf.WriteString("LIST")
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(4)))
	buf.WriteString("INFO")
	buf.WriteString("data")
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(len(data))))
	buf.Write(data)

	result := newTestAnalyzer().Analyze(buf.Bytes())
	assert.True(t, result.SpeechDetected)
}

func TestEnergyEngineFrameValidation(t *testing.T) {
	engine := EnergyEngine{}

	_, err := engine.IsSpeech(nil, 16000)
	assert.Error(t, err)

	_, err = engine.IsSpeech([]byte{0x01}, 16000)
	assert.Error(t, err)
}

func TestEnergyEngineThreshold(t *testing.T) {
	engine := EnergyEngine{}

	loud := samplesToBytes(tone(30, 16000, 8000))
	speech, err := engine.IsSpeech(loud, 16000)
	require.NoError(t, err)
	assert.True(t, speech)

	quiet := samplesToBytes(tone(30, 16000, 50))
	speech, err = engine.IsSpeech(quiet, 16000)
	require.NoError(t, err)
	assert.False(t, speech)
}
