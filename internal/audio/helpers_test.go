// SPDX-License-Identifier: MIT
package audio

import (
	"math"
	"strconv"

	"kwdetect/internal/bus"
	applog "kwdetect/internal/log"
	"kwdetect/internal/params"
)

const (
	testSampleRate = 16000
	testFrameSize  = 512
)

var (
	quietBuffer = sineBuffer(testFrameSize, 0.001)
	testBuffer  = sineBuffer(testFrameSize, 0.2)
	loudBuffer  = sineBuffer(testFrameSize, 0.9)
)

// sineBuffer returns a 440 Hz tone at the given peak amplitude (0-1).
func sineBuffer(n int, amplitude float64) []int16 {
	buf := make([]int16, n)
	for i := range buf {
		v := amplitude * math.Sin(2*math.Pi*440*float64(i)/testSampleRate)
		buf[i] = int16(v * math.MaxInt16)
	}
	return buf
}

func newTestMicrophone() *Microphone {
	return &Microphone{
		opts: Options{
			SampleRate:       testSampleRate,
			FrameLength:      testFrameSize,
			AudioTopic:       "/test/audio",
			FrameLengthParam: "frame_length",
			RecordingParam:   "recording",
		},
		bus:         bus.New(),
		params:      params.NewStore(),
		log:         applog.With("Microphone"),
		inputBuffer: make([]int16, testFrameSize),
		gateScratch: make([]float64, testFrameSize),
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 3, 64)
}

func absFloat(x float64) float64 {
	return math.Abs(x)
}
