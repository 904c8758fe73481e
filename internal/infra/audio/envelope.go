package audio

import (
	"encoding/binary"
	"math"
	"sort"
)

// EnvelopeSampleRate is the PCM rate requested from the decoder.
const EnvelopeSampleRate = 16000

// ComputeEnvelope converts signed 16-bit little-endian mono PCM into RMS
// amplitudes per chunk on a 0..1 full scale, normalized so the nearest-rank
// 95th percentile maps to 1.0. Values are capped at 1 and rounded to three
// decimals.
func ComputeEnvelope(pcm []byte, sampleRate, chunkMs int) []float64 {
	if sampleRate <= 0 || chunkMs <= 0 {
		return nil
	}

	n := len(pcm) / 2
	if n == 0 {
		return nil
	}
	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		samples[i] = float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	chunk := sampleRate * chunkMs / 1000
	if chunk <= 0 {
		chunk = 1
	}

	rms := make([]float64, 0, n/chunk+1)
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		var sum float64
		for _, s := range samples[start:end] {
			sum += s * s
		}
		rms = append(rms, math.Sqrt(sum/float64(end-start))/fullScale)
	}

	peak := p95(rms)
	if peak <= 0 {
		peak = silenceFloor
	}

	out := make([]float64, len(rms))
	for i, v := range rms {
		out[i] = math.Round(math.Min(v/peak, 1)*1000) / 1000
	}
	return out
}

const (
	fullScale    = 32768.0
	silenceFloor = 0.001
)

// p95 returns the element at index floor(len*0.95) of the sorted values.
func p95(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	i := int(float64(len(sorted)) * 0.95)
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}
