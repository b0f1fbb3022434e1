// SPDX-License-Identifier: MIT
package listener

import "context"

// HandleCommand drives the state machine from a command token. Unknown
// tokens are ignored. The returned error is the failed transition, if any.
func (l *Listener) HandleCommand(ctx context.Context, token string) error {
	var err error
	switch token {
	case l.opts.StartCommand:
		err = l.sm.Start(ctx)
	case l.opts.StopCommand:
		err = l.sm.Stop()
	default:
		l.log.Debugf("ignoring command %q", token)
		return nil
	}
	l.log.Debugf("listening: %v", l.sm.State() == Listening)
	return err
}
