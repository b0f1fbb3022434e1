// SPDX-License-Identifier: MIT
package audio

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const fullScale = float64(math.MaxInt16)

func (m *Microphone) EnableGate() {
	m.gateEnabled.Store(true)
}

func (m *Microphone) DisableGate() {
	m.gateEnabled.Store(false)
}

// SetGateThreshold adjusts the noise gate threshold.
// The value is an RMS level in the range of 0.0-1.0 of full scale where
// 0=always open, 1=always closed.
func (m *Microphone) SetGateThreshold(threshold float64) {
	if threshold < 0.0 {
		threshold = 0.0
	}
	if threshold > 1.0 {
		threshold = 1.0
	}
	m.gateThreshold.Store(math.Float64bits(threshold))
}

// GetGateThreshold returns the current noise gate threshold.
func (m *Microphone) GetGateThreshold() float64 {
	return math.Float64frombits(m.gateThreshold.Load())
}

// gateOpen reports whether frame passes the gate.
func (m *Microphone) gateOpen(frame []int16) bool {
	if !m.gateEnabled.Load() {
		return true
	}
	if len(m.gateScratch) < len(frame) {
		m.gateScratch = make([]float64, len(frame))
	}
	return RMS(frame, m.gateScratch) >= m.GetGateThreshold()
}

// RMS returns the root mean square level of samples as a fraction of full
// scale. scratch must hold at least len(samples) values.
func RMS(samples []int16, scratch []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	x := scratch[:len(samples)]
	for i, s := range samples {
		x[i] = float64(s) / fullScale
	}
	return floats.Norm(x, 2) / math.Sqrt(float64(len(x)))
}
