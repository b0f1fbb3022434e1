// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const recordingBitDepth = 16

// StartRecording writes the captured stream to a mono 16-bit WAV file.
func (m *Microphone) StartRecording(filename string) error {
	m.recMu.Lock()
	defer m.recMu.Unlock()

	if m.isRecording.Load() {
		return fmt.Errorf("already recording")
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	m.outputFile = file

	sampleRate := int(m.opts.SampleRate)
	m.wavEncoder = wav.NewEncoder(file, sampleRate, recordingBitDepth, 1, 1)
	m.sampleBuf = &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 1,
			SampleRate:  sampleRate,
		},
		Data:           make([]int, m.opts.FrameLength),
		SourceBitDepth: recordingBitDepth,
	}

	m.isRecording.Store(true)
	return nil
}

// record appends frame to the WAV file when recording.
func (m *Microphone) record(frame []int16) {
	if !m.isRecording.Load() {
		return
	}

	m.recMu.Lock()
	defer m.recMu.Unlock()
	if m.wavEncoder == nil {
		return
	}

	if cap(m.sampleBuf.Data) < len(frame) {
		m.sampleBuf.Data = make([]int, len(frame))
	}
	m.sampleBuf.Data = m.sampleBuf.Data[:len(frame)]
	for i, sample := range frame {
		m.sampleBuf.Data[i] = int(sample)
	}

	if err := m.wavEncoder.Write(m.sampleBuf); err != nil {
		m.log.Errorf("Error writing to WAV file: %v", err)
	}
}

func (m *Microphone) StopRecording() error {
	m.recMu.Lock()
	defer m.recMu.Unlock()

	if !m.isRecording.Load() {
		return nil
	}
	m.isRecording.Store(false)

	if m.wavEncoder != nil {
		if err := m.wavEncoder.Close(); err != nil {
			return err
		}
		m.wavEncoder = nil
	}

	if m.outputFile != nil {
		if err := m.outputFile.Close(); err != nil {
			return err
		}
		m.outputFile = nil
	}

	return nil
}
