// SPDX-License-Identifier: MIT
package transport

// Transport defines a generic interface for sending detection events to
// consumers outside the process. Implementations should be thread-safe and
// must not block the caller for long.
type Transport interface {
	Send(data any) error
	Close() error
}
