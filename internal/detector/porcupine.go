// SPDX-License-Identifier: MIT
package detector

import (
	"errors"
	"fmt"

	porcupine "github.com/Picovoice/porcupine/binding/go/v3"
)

// Porcupine is an Engine backed by the Picovoice Porcupine runtime.
type Porcupine struct {
	handle *porcupine.Porcupine
}

// NewPorcupine is a Factory that initializes a Porcupine instance with the
// given keyword model files.
func NewPorcupine(accessKey string, keywordPaths []string) (Engine, error) {
	if accessKey == "" {
		return nil, errors.New("porcupine: access key is empty")
	}
	if len(keywordPaths) == 0 {
		return nil, errors.New("porcupine: no keyword models")
	}

	handle := &porcupine.Porcupine{
		AccessKey:    accessKey,
		KeywordPaths: keywordPaths,
	}
	if err := handle.Init(); err != nil {
		return nil, fmt.Errorf("porcupine: init: %w", err)
	}

	return &Porcupine{handle: handle}, nil
}

func (p *Porcupine) Process(pcm []int16) (int, error) {
	if p.handle == nil {
		return NoMatch, errors.New("porcupine: engine deleted")
	}
	return p.handle.Process(pcm)
}

func (p *Porcupine) FrameLength() int { return porcupine.FrameLength }

func (p *Porcupine) SampleRate() int { return porcupine.SampleRate }

// Delete releases the native instance. Subsequent calls are no-ops.
func (p *Porcupine) Delete() error {
	if p.handle == nil {
		return nil
	}
	err := p.handle.Delete()
	p.handle = nil
	return err
}

var _ Engine = (*Porcupine)(nil)
