package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// wavFormat describes the fmt chunk of a RIFF/WAVE container.
type wavFormat struct {
	audioFormat   uint16
	channels      uint16
	sampleRate    uint32
	bitsPerSample uint16
}

// normalizePCM decodes a WAV payload and converts it to the 16 kHz mono
// 16-bit PCM stream the frame classifier expects. It returns the PCM bytes
// and the clip duration in milliseconds.
func normalizePCM(raw []byte) ([]byte, float64, error) {
	format, data, err := parseWAV(raw)
	if err != nil {
		return nil, 0, err
	}
	if format.audioFormat != 1 {
		return nil, 0, fmt.Errorf("unsupported wav encoding %d, want PCM", format.audioFormat)
	}
	if format.bitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported sample width %d bits, want 16", format.bitsPerSample)
	}
	if format.channels == 0 || format.sampleRate == 0 {
		return nil, 0, fmt.Errorf("malformed wav fmt chunk")
	}

	samples := bytesToSamples(data)
	mono := downmix(samples, int(format.channels))
	durationMS := math.Round(float64(len(mono)) / float64(format.sampleRate) * 1000)
	resampled := resample(mono, int(format.sampleRate), sampleRate)
	return samplesToBytes(resampled), durationMS, nil
}

// parseWAV walks the RIFF chunk list and returns the fmt descriptor and the
// raw data chunk.
func parseWAV(raw []byte) (wavFormat, []byte, error) {
	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return wavFormat{}, nil, fmt.Errorf("not a RIFF/WAVE container")
	}

	var format wavFormat
	var data []byte
	haveFmt := false

	offset := 12
	for offset+8 <= len(raw) {
		chunkID := string(raw[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(raw[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkSize > len(raw) {
			return wavFormat{}, nil, fmt.Errorf("truncated %q chunk", chunkID)
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return wavFormat{}, nil, fmt.Errorf("fmt chunk too short")
			}
			format = wavFormat{
				audioFormat:   binary.LittleEndian.Uint16(raw[body : body+2]),
				channels:      binary.LittleEndian.Uint16(raw[body+2 : body+4]),
				sampleRate:    binary.LittleEndian.Uint32(raw[body+4 : body+8]),
				bitsPerSample: binary.LittleEndian.Uint16(raw[body+14 : body+16]),
			}
			haveFmt = true
		case "data":
			data = raw[body : body+chunkSize]
		}

		// Chunks are word aligned.
		offset = body + chunkSize
		if chunkSize%2 == 1 {
			offset++
		}
	}

	if !haveFmt {
		return wavFormat{}, nil, fmt.Errorf("missing fmt chunk")
	}
	if data == nil {
		return wavFormat{}, nil, fmt.Errorf("missing data chunk")
	}
	return format, data, nil
}

func bytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
	}
	return samples
}

func samplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:i*2+2], uint16(s))
	}
	return data
}

// downmix averages interleaved channels into mono.
func downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	mono := make([]int16, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		mono[i] = int16(sum / channels)
	}
	return mono
}

// resample converts between sample rates by nearest-neighbour selection,
// which is adequate for energy-based speech detection.
func resample(samples []int16, from, to int) []int16 {
	if from == to || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(to) / int64(from))
	out := make([]int16, n)
	for i := range out {
		out[i] = samples[int(int64(i)*int64(from)/int64(to))]
	}
	return out
}
