// SPDX-License-Identifier: MIT

// Package detector wraps the keyword spotting engine. The engine is a black
// box: a frame of 16-bit PCM goes in, a keyword index (or -1) comes out.
package detector

// NoMatch is the index Process returns when no keyword was recognized.
const NoMatch = -1

// Engine is a live keyword spotting instance. It owns native resources and
// must be released with Delete exactly once.
type Engine interface {
	// Process classifies one frame of exactly FrameLength samples and returns
	// the index of the detected keyword, or a negative value.
	Process(pcm []int16) (int, error)
	// FrameLength is the number of samples Process expects.
	FrameLength() int
	// SampleRate is the audio sample rate the engine expects, in Hz.
	SampleRate() int
	// Delete releases the engine.
	Delete() error
}

// Factory creates an Engine for the given credential and ordered keyword
// model paths. Index i reported by the engine refers to keywordPaths[i].
type Factory func(accessKey string, keywordPaths []string) (Engine, error)
