// SPDX-License-Identifier: MIT
package listener

import "context"

// waitForProducer polls for a connected audio producer every
// HandshakeInterval until HandshakeTimeout has elapsed.
func (m *StateMachine) waitForProducer(ctx context.Context) error {
	start := m.clock.Now()
	for m.producers.Publishers(m.opts.AudioTopic) == 0 {
		if m.clock.Now().Sub(start) > m.opts.HandshakeTimeout {
			return ErrNoProducer
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.clock.After(m.opts.HandshakeInterval):
		}
	}
	return nil
}
