// SPDX-License-Identifier: MIT
package detector

import "testing"

func TestNewPorcupineRejectsBadInput(t *testing.T) {
	if _, err := NewPorcupine("", []string{"a.ppn"}); err == nil {
		t.Error("expected error for empty access key")
	}
	if _, err := NewPorcupine("key", nil); err == nil {
		t.Error("expected error for missing keyword models")
	}
}

func TestDeletedPorcupine(t *testing.T) {
	p := &Porcupine{}
	if err := p.Delete(); err != nil {
		t.Errorf("Delete on released engine: %v", err)
	}
	idx, err := p.Process(make([]int16, 512))
	if err == nil || idx != NoMatch {
		t.Errorf("Process after delete = %d, %v", idx, err)
	}
}
